package imposter

import (
	"strings"
	"sync/atomic"
)

// ResponseType identifies which variant of a ResponseConfig is set.
type ResponseType string

const (
	ResponseStatic  ResponseType = "static"
	ResponseDynamic ResponseType = "dynamic"
	ResponseProxy   ResponseType = "proxy"
)

// ProxyMode controls whether and how proxied exchanges are recorded.
type ProxyMode string

const (
	// ProxyOnce records every proxied exchange as a brand-new rule.
	ProxyOnce ProxyMode = "proxyOnce"
	// ProxyAlways appends to an existing rule with identical predicates, or
	// records a new rule when none exists.
	ProxyAlways ProxyMode = "proxyAlways"
	// ProxyTransparent forwards without recording anything.
	ProxyTransparent ProxyMode = "proxyTransparent"
)

// Valid reports whether m is one of the known proxy modes.
func (m ProxyMode) Valid() bool {
	switch m {
	case ProxyOnce, ProxyAlways, ProxyTransparent:
		return true
	default:
		return false
	}
}

// ResponseConfig is one configured way to answer a matched request.
// Exactly one of Is, Inject or Proxy must be set.
type ResponseConfig struct {
	// Is is a static response payload.
	Is Response `json:"is,omitempty" yaml:"is,omitempty"`

	// Inject is sandboxed logic that computes the response.
	Inject string `json:"inject,omitempty" yaml:"inject,omitempty"`

	// Proxy forwards the request to a real downstream system.
	Proxy *ProxyConfig `json:"proxy,omitempty" yaml:"proxy,omitempty"`

	// Behaviors are post-processing transforms applied to the resolved response.
	Behaviors []Behavior `json:"behaviors,omitempty" yaml:"behaviors,omitempty"`

	// Repeat is how many consecutive times this response is served before the
	// rule advances to its next response. Zero means once.
	Repeat int `json:"repeat,omitempty" yaml:"repeat,omitempty"`

	matched atomic.Int64
}

// ProxyConfig describes a proxied response.
type ProxyConfig struct {
	// To is the base URL (or address) of the real system.
	To string `json:"to" yaml:"to"`

	// Mode selects the recording mode. Defaults to proxyOnce.
	Mode ProxyMode `json:"mode,omitempty" yaml:"mode,omitempty"`

	// PredicateGenerators describe how recorded rules recognize similar requests.
	PredicateGenerators []PredicateGenerator `json:"predicateGenerators,omitempty" yaml:"predicateGenerators,omitempty"`

	// AddWaitBehavior attaches the measured latency to recorded responses.
	AddWaitBehavior bool `json:"addWaitBehavior,omitempty" yaml:"addWaitBehavior,omitempty"`

	// AddDecorateBehavior attaches a decorate transform to recorded responses.
	AddDecorateBehavior string `json:"addDecorateBehavior,omitempty" yaml:"addDecorateBehavior,omitempty"`

	// InjectHeaders are added to the forwarded request.
	InjectHeaders map[string]string `json:"injectHeaders,omitempty" yaml:"injectHeaders,omitempty"`
}

// RecordingMode returns the configured mode, defaulting to proxyOnce.
func (p *ProxyConfig) RecordingMode() ProxyMode {
	if p.Mode == "" {
		return ProxyOnce
	}
	return p.Mode
}

// Behavior is one post-processing transform descriptor.
type Behavior struct {
	// Wait delays the response by the given number of milliseconds.
	Wait int `json:"wait,omitempty" yaml:"wait,omitempty"`

	// Decorate is sandboxed logic that may rewrite the response.
	Decorate string `json:"decorate,omitempty" yaml:"decorate,omitempty"`
}

// Type returns the variant set on the config. Zero or several variants are a
// ValidationError.
func (rc *ResponseConfig) Type() (ResponseType, error) {
	var types []string
	if rc.Is != nil {
		types = append(types, "is")
	}
	if rc.Inject != "" {
		types = append(types, "inject")
	}
	if rc.Proxy != nil {
		types = append(types, "proxy")
	}

	switch len(types) {
	case 0:
		return "", &ValidationError{Message: "each response object must have a response type (is, inject or proxy)"}
	case 1:
	default:
		return "", &ValidationError{
			Field:   strings.Join(types, ","),
			Message: "each response object must have only one response type",
		}
	}

	switch types[0] {
	case "is":
		return ResponseStatic, nil
	case "inject":
		return ResponseDynamic, nil
	default:
		return ResponseProxy, nil
	}
}

// Matched returns how many times this response has been served.
func (rc *ResponseConfig) Matched() int64 {
	return rc.matched.Load()
}

// markMatched increments the served counter. The counter only grows.
func (rc *ResponseConfig) markMatched() int64 {
	return rc.matched.Add(1)
}

func (rc *ResponseConfig) repeat() int64 {
	if rc.Repeat <= 0 {
		return 1
	}
	return int64(rc.Repeat)
}

// NewStatic returns a static response config wrapping payload.
func NewStatic(payload Response, behaviors ...Behavior) *ResponseConfig {
	if payload == nil {
		payload = Response{}
	}
	return &ResponseConfig{Is: payload, Behaviors: behaviors}
}
