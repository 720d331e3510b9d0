package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/metrics"
)

const (
	// DefaultMaxBodySize is the default maximum body size to capture (10MB).
	DefaultMaxBodySize = 10 * 1024 * 1024

	// DefaultAttempts is how often a failed connection is tried in total.
	DefaultAttempts = 3

	// DefaultRetryDelay is the base delay between connection attempts.
	DefaultRetryDelay = 100 * time.Millisecond
)

// Transport performs the network call of a proxy response in-process.
type Transport interface {
	Forward(ctx context.Context, cfg *imposter.ProxyConfig, req imposter.Request, details Details) (imposter.Response, error)
}

// HTTPTransport forwards HTTP request payloads with net/http.
//
// Requests are read as {method, path, query, headers, body} and responses
// returned as {statusCode, headers, body}. Header and query values are
// strings, or lists of strings when repeated.
type HTTPTransport struct {
	Client      *http.Client
	Attempts    uint
	RetryDelay  time.Duration
	// MaxBodySize caps the captured upstream body; larger bodies fail the call.
	MaxBodySize int64
	Metrics     *metrics.Metrics
}

// NewHTTPTransport returns a transport with default limits.
func NewHTTPTransport(m *metrics.Metrics) *HTTPTransport {
	return &HTTPTransport{
		Client:      &http.Client{Timeout: 30 * time.Second},
		Attempts:    DefaultAttempts,
		RetryDelay:  DefaultRetryDelay,
		MaxBodySize: DefaultMaxBodySize,
		Metrics:     m,
	}
}

// Forward sends req to cfg.To. Connection failures are retried; any HTTP
// response, including 5xx, is returned as is.
func (t *HTTPTransport) Forward(ctx context.Context, cfg *imposter.ProxyConfig, req imposter.Request, details Details) (imposter.Response, error) {
	start := time.Now()
	resp, err := t.forward(ctx, cfg, req, details)
	t.Metrics.ObserveProxy(err, time.Since(start))
	return resp, err
}

func (t *HTTPTransport) forward(ctx context.Context, cfg *imposter.ProxyConfig, req imposter.Request, details Details) (imposter.Response, error) {
	target, err := targetURL(cfg.To, req)
	if err != nil {
		return nil, err
	}
	body, err := requestBody(req["body"])
	if err != nil {
		return nil, err
	}
	method, _ := req["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var httpResp *http.Response
	err = retry.Do(
		func() error {
			outReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			setHeaders(outReq.Header, req["headers"])
			removeHopByHopHeaders(outReq.Header)
			for name, value := range cfg.InjectHeaders {
				outReq.Header.Set(name, value)
			}
			if details.RemoteAddr != "" {
				outReq.Header.Set("X-Forwarded-For", details.RemoteAddr)
			}
			if details.Host != "" {
				outReq.Header.Set("X-Forwarded-Host", details.Host)
			}
			if host := outReq.Header.Get("Host"); host != "" {
				outReq.Host = host
				outReq.Header.Del("Host")
			}

			httpResp, err = t.client().Do(outReq)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(t.attempts()),
		retry.Delay(t.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", cfg.To, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	limit := t.maxBodySize()
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", cfg.To, err)
	}
	if int64(len(respBody)) > limit {
		return nil, fmt.Errorf("read response from %s: body exceeds %d bytes", cfg.To, limit)
	}

	headers := make(http.Header, len(httpResp.Header))
	copyHeaders(headers, httpResp.Header)
	removeHopByHopHeaders(headers)
	headers.Del("Content-Length")

	return imposter.Response{
		"statusCode": httpResp.StatusCode,
		"headers":    HeaderMap(headers),
		"body":       string(respBody),
	}, nil
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client == nil {
		return http.DefaultClient
	}
	return t.Client
}

func (t *HTTPTransport) attempts() uint {
	if t.Attempts == 0 {
		return 1
	}
	return t.Attempts
}

func (t *HTTPTransport) maxBodySize() int64 {
	if t.MaxBodySize <= 0 {
		return DefaultMaxBodySize
	}
	return t.MaxBodySize
}

// targetURL joins the proxy destination with the request path and query.
func targetURL(to string, req imposter.Request) (string, error) {
	u, err := url.Parse(to)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &imposter.ValidationError{Field: "proxy.to", Message: fmt.Sprintf("invalid proxy destination %q", to)}
	}

	if path, _ := req["path"].(string); path != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	if query := Values(req["query"]); len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// requestBody renders the body field. Non-string bodies are sent as JSON.
func requestBody(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return data, nil
	}
}

// Values flattens a payload map of strings or string lists into url.Values.
func Values(v interface{}) url.Values {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(url.Values, len(m))
	for key, raw := range m {
		switch val := raw.(type) {
		case []interface{}:
			for _, item := range val {
				out.Add(key, fmt.Sprint(item))
			}
		case []string:
			for _, item := range val {
				out.Add(key, item)
			}
		default:
			out.Add(key, fmt.Sprint(val))
		}
	}
	return out
}

func setHeaders(dst http.Header, v interface{}) {
	copyHeaders(dst, http.Header(Values(v)))
}

// HeaderMap renders headers as a payload map. Repeated headers become lists.
func HeaderMap(h http.Header) map[string]interface{} {
	out := make(map[string]interface{}, len(h))
	for k, vals := range h {
		if len(vals) == 1 {
			out[k] = vals[0]
			continue
		}
		list := make([]interface{}, len(vals))
		for i, v := range vals {
			list[i] = v
		}
		out[k] = list
	}
	return out
}

// copyHeaders copies headers from src to dst.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// removeHopByHopHeaders removes headers that should not be forwarded.
func removeHopByHopHeaders(h http.Header) {
	hopByHopHeaders := []string{
		"Connection",
		"Keep-Alive",
		"Proxy-Authenticate",
		"Proxy-Authorization",
		"Proxy-Connection",
		"TE",
		"Trailers",
		"Transfer-Encoding",
		"Upgrade",
	}

	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}
