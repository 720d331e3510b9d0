package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/getmockd/imposter/internal/matching"
	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/go-playground/validator/v10"
)

// ValidationError is the error type returned by Validate.
type ValidationError = imposter.ValidationError

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks struct constraints, port conflicts and every rule.
func (f *File) Validate() error {
	if err := structValidator.Struct(f); err != nil {
		return structError(err)
	}

	admin := f.Engine.AdminPortOrDefault()
	ports := make(map[int]int)
	for i, imp := range f.Imposters {
		field := fmt.Sprintf("imposters[%d].port", i)
		if imp.Port == admin {
			return &ValidationError{Field: field, Message: fmt.Sprintf("port %d conflicts with adminPort", imp.Port)}
		}
		if prev, exists := ports[imp.Port]; exists {
			return &ValidationError{Field: field, Message: fmt.Sprintf("port %d already used by imposters[%d]", imp.Port, prev)}
		}
		ports[imp.Port] = i

		if err := imp.Validate(); err != nil {
			return prefixed(fmt.Sprintf("imposters[%d]", i), err)
		}
	}
	return nil
}

// Validate checks every stub of the imposter.
func (c *ImposterConfig) Validate() error {
	for i, stub := range c.Stubs {
		if stub == nil {
			return &ValidationError{Field: fmt.Sprintf("stubs[%d]", i), Message: "stub cannot be null"}
		}
		if err := ValidateRule(stub); err != nil {
			return prefixed(fmt.Sprintf("stubs[%d]", i), err)
		}
	}
	return nil
}

// ValidateRule checks a rule's predicates and response configurations.
func ValidateRule(rule *imposter.Rule) error {
	for i, p := range rule.Predicates {
		if err := validatePredicate(p); err != nil {
			return prefixed(fmt.Sprintf("predicates[%d]", i), err)
		}
	}
	if len(rule.Responses) == 0 {
		return &ValidationError{Field: "responses", Message: "a stub needs at least one response"}
	}
	for i, rc := range rule.Responses {
		if err := ValidateResponse(rc); err != nil {
			return prefixed(fmt.Sprintf("responses[%d]", i), err)
		}
	}
	return nil
}

// ValidateResponse checks that exactly one response type is set and that a
// proxy response is well formed.
func ValidateResponse(rc *imposter.ResponseConfig) error {
	if rc == nil {
		return &ValidationError{Message: "response cannot be null"}
	}
	kind, err := rc.Type()
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) && ve.Field != "" {
			return &ValidationError{Message: fmt.Sprintf("%s (found %s)", ve.Message, ve.Field)}
		}
		return err
	}
	if rc.Repeat < 0 {
		return &ValidationError{Field: "repeat", Message: "repeat must be >= 0"}
	}
	for i, b := range rc.Behaviors {
		if b.Wait < 0 {
			return &ValidationError{Field: fmt.Sprintf("behaviors[%d].wait", i), Message: "wait must be >= 0"}
		}
	}
	if kind != imposter.ResponseProxy {
		return nil
	}

	p := rc.Proxy
	u, err := url.Parse(p.To)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "proxy.to", Message: fmt.Sprintf("invalid proxy destination %q (expected http or https URL)", p.To)}
	}
	if p.Mode != "" && !p.Mode.Valid() {
		return &ValidationError{
			Field:   "proxy.mode",
			Message: fmt.Sprintf("invalid mode %q (must be one of: proxyOnce, proxyAlways, proxyTransparent)", p.Mode),
		}
	}
	for i, gen := range p.PredicateGenerators {
		field := fmt.Sprintf("proxy.predicateGenerators[%d]", i)
		if gen.Inject == "" && len(gen.Matches) == 0 {
			return &ValidationError{Field: field, Message: "a predicate generator needs matches or inject"}
		}
		switch gen.PredicateOperator {
		case "", imposter.OperatorEquals, imposter.OperatorDeepEquals, imposter.OperatorContains, imposter.OperatorExists:
		default:
			return &ValidationError{Field: field + ".predicateOperator", Message: fmt.Sprintf("unsupported operator %q", gen.PredicateOperator)}
		}
		if gen.JSONPath != nil {
			if err := matching.ValidateJSONPathExpression(gen.JSONPath.Selector); err != nil {
				return &ValidationError{Field: field + ".jsonpath", Message: err.Error()}
			}
		}
	}
	return nil
}

func validatePredicate(p imposter.Predicate) error {
	if p.Equals == nil && p.DeepEquals == nil && p.Contains == nil && p.Exists == nil {
		return &ValidationError{Message: "predicate needs one of equals, deepEquals, contains or exists"}
	}
	if p.JSONPath != nil {
		if err := matching.ValidateJSONPathExpression(p.JSONPath.Selector); err != nil {
			return &ValidationError{Field: "jsonpath", Message: err.Error()}
		}
	}
	return nil
}

// prefixed qualifies a ValidationError's field with its parent path. Other
// errors are wrapped unchanged.
func prefixed(parent string, err error) error {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("%s: %w", parent, err)
	}
	field := parent
	if ve.Field != "" {
		field = parent + "." + ve.Field
	}
	return &ValidationError{Field: field, Message: ve.Message}
}

// structError converts validator output into a ValidationError naming the
// first failing field.
func structError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &ValidationError{
		Field:   strings.TrimPrefix(fe.Namespace(), "File."),
		Message: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
	}
}
