package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/proxy"
)

// maxBodySize caps request bodies read by imposters and the admin API.
const maxBodySize = 10 << 20

// ErrorResponse is the JSON error body of the admin API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// statusError is implemented by the engine's typed errors.
type statusError interface {
	error
	StatusCode() int
	Hint() string
}

// requestFromHTTP renders an HTTP request as a request payload.
func requestFromHTTP(r *http.Request, limit int64) (imposter.Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}

	return imposter.Request{
		"method":      r.Method,
		"path":        r.URL.Path,
		"query":       proxy.HeaderMap(http.Header(r.URL.Query())),
		"headers":     proxy.HeaderMap(r.Header),
		"body":        string(body),
		"requestFrom": r.RemoteAddr,
	}, nil
}

// writeHTTPResponse writes a response payload and returns the status sent.
func writeHTTPResponse(w http.ResponseWriter, resp imposter.Response) int {
	status := statusCode(resp["statusCode"])

	body, err := responseBody(resp["body"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "invalid_response", err.Error())
		return http.StatusInternalServerError
	}

	for key, vals := range proxy.Values(resp["headers"]) {
		for _, v := range vals {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return status
}

func statusCode(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if code, err := strconv.Atoi(n); err == nil {
			return code
		}
	}
	return http.StatusOK
}

func responseBody(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

// writeFailure maps an engine error to a response and returns the status.
func writeFailure(w http.ResponseWriter, err error, log *slog.Logger) int {
	var se statusError
	if errors.As(err, &se) {
		log.Warn("request failed", "error", err)
		writeJSON(w, se.StatusCode(), ErrorResponse{
			Error:   errorCode(se),
			Message: se.Error(),
			Hint:    se.Hint(),
		})
		return se.StatusCode()
	}

	log.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	switch err.(type) {
	case *imposter.ValidationError:
		return "validation_error"
	case *imposter.InjectionError:
		return "injection_error"
	case *imposter.MissingResourceError:
		return "not_found"
	default:
		return "error"
	}
}
