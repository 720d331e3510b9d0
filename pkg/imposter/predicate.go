package imposter

// XPathSelector selects values from an XML payload field.
type XPathSelector struct {
	// Selector is the path expression, e.g. "//book/title".
	Selector string `json:"selector" yaml:"selector"`

	// Namespaces maps prefixes used in Selector to namespace URIs.
	Namespaces map[string]string `json:"ns,omitempty" yaml:"ns,omitempty"`
}

// JSONPathSelector selects values from a JSON payload field.
type JSONPathSelector struct {
	// Selector is the JSONPath expression, e.g. "$.items[*].id".
	Selector string `json:"selector" yaml:"selector"`
}

// Predicate is a declarative match condition over request fields. The
// operator maps mirror the shape of the request they test.
type Predicate struct {
	Equals     map[string]interface{} `json:"equals,omitempty" yaml:"equals,omitempty"`
	DeepEquals map[string]interface{} `json:"deepEquals,omitempty" yaml:"deepEquals,omitempty"`
	Contains   map[string]interface{} `json:"contains,omitempty" yaml:"contains,omitempty"`
	Exists     map[string]interface{} `json:"exists,omitempty" yaml:"exists,omitempty"`

	// CaseSensitive disables the default case-insensitive comparison.
	CaseSensitive bool `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`

	// Except is a regular expression stripped from actual values before comparison.
	Except string `json:"except,omitempty" yaml:"except,omitempty"`

	XPath    *XPathSelector    `json:"xpath,omitempty" yaml:"xpath,omitempty"`
	JSONPath *JSONPathSelector `json:"jsonpath,omitempty" yaml:"jsonpath,omitempty"`
}

// Predicate operators accepted by PredicateGenerator.PredicateOperator.
const (
	OperatorEquals     = "equals"
	OperatorDeepEquals = "deepEquals"
	OperatorContains   = "contains"
	OperatorExists     = "exists"
)

// SetOperator stores fields under the named operator.
func (p *Predicate) SetOperator(operator string, fields map[string]interface{}) {
	switch operator {
	case OperatorDeepEquals:
		p.DeepEquals = fields
	case OperatorContains:
		p.Contains = fields
	case OperatorExists:
		p.Exists = fields
	default:
		p.Equals = fields
	}
}

// PredicateGenerator describes how to derive predicates from an observed
// request when recording a proxied exchange.
type PredicateGenerator struct {
	// Matches names the request fields to match. A value of true matches the
	// whole field with deepEquals; nested maps descend into the field.
	Matches map[string]interface{} `json:"matches,omitempty" yaml:"matches,omitempty"`

	CaseSensitive bool              `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`
	Except        string            `json:"except,omitempty" yaml:"except,omitempty"`
	XPath         *XPathSelector    `json:"xpath,omitempty" yaml:"xpath,omitempty"`
	JSONPath      *JSONPathSelector `json:"jsonpath,omitempty" yaml:"jsonpath,omitempty"`

	// PredicateOperator overrides the generated operator (equals, deepEquals,
	// contains or exists).
	PredicateOperator string `json:"predicateOperator,omitempty" yaml:"predicateOperator,omitempty"`

	// Inject is sandboxed logic returning a list of predicates.
	Inject string `json:"inject,omitempty" yaml:"inject,omitempty"`
}
