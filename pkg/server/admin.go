package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/getmockd/imposter/internal/matching"
	"github.com/getmockd/imposter/pkg/imposter"
	"github.com/getmockd/imposter/pkg/metrics"
	"github.com/getmockd/imposter/pkg/proxy"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime int    `json:"uptime"`
}

// ImposterView is the admin rendering of an imposter.
type ImposterView struct {
	Port            int               `json:"port"`
	Protocol        string            `json:"protocol"`
	Name            string            `json:"name,omitempty"`
	RecordMatches   bool              `json:"recordMatches,omitempty"`
	PendingProxies  int               `json:"pendingProxyResolutions"`
	Stubs           []StubView        `json:"stubs"`
	DefaultResponse imposter.Response `json:"defaultResponse,omitempty"`
}

// StubView is a rule with its match history.
type StubView struct {
	Predicates []imposter.Predicate       `json:"predicates,omitempty"`
	Responses  []*imposter.ResponseConfig `json:"responses"`
	Matches    []imposter.Match           `json:"matches,omitempty"`
}

// RequestBody is the body of POST /imposters/{port}/_requests.
type RequestBody struct {
	Request imposter.Request `json:"request"`
	Details proxy.Details    `json:"details"`
}

// NearMissesBody is the body of POST /imposters/{port}/_nearmisses.
type NearMissesBody struct {
	Request imposter.Request `json:"request"`
	Limit   int              `json:"limit,omitempty"`
}

// NearMissesResponse lists the rules closest to matching a request.
type NearMissesResponse struct {
	Matched    bool                `json:"matched"`
	NearMisses []matching.NearMiss `json:"nearMisses"`
}

// ProxyResponseBody is the body of POST /imposters/{port}/_requests/{key}.
type ProxyResponseBody struct {
	ProxyResponse imposter.Response `json:"proxyResponse"`
}

// ResolutionResponse carries either the final response or a proxy
// delegation the caller must perform.
type ResolutionResponse struct {
	Response imposter.Response `json:"response,omitempty"`
	Proxy    *proxy.Delegation `json:"proxy,omitempty"`
}

// Handler returns the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler(s.registry))

	mux.HandleFunc("GET /imposters", s.handleListImposters)
	mux.HandleFunc("GET /imposters/{port}", s.handleGetImposter)

	// Out-of-process transports resolve requests and complete proxy calls.
	mux.HandleFunc("POST /imposters/{port}/_requests", s.handleResolve)
	mux.HandleFunc("POST /imposters/{port}/_requests/{key}", s.handleProxyResponse)
	mux.HandleFunc("DELETE /imposters/{port}/_requests", s.handleClearPending)
	mux.HandleFunc("POST /imposters/{port}/_nearmisses", s.handleNearMisses)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Uptime: s.Uptime()})
}

// handleListImposters handles GET /imposters.
func (s *Server) handleListImposters(w http.ResponseWriter, r *http.Request) {
	imposters := s.Imposters()
	views := make([]ImposterView, len(imposters))
	for i, imp := range imposters {
		views[i] = viewOf(imp)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"imposters": views})
}

// handleGetImposter handles GET /imposters/{port}.
func (s *Server) handleGetImposter(w http.ResponseWriter, r *http.Request) {
	imp, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(imp))
}

// handleResolve handles POST /imposters/{port}/_requests.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	imp, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var body RequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Request == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request is required")
		return
	}

	res, err := imp.Handle(r.Context(), body.Request, body.Details)
	if err != nil {
		writeFailure(w, err, imp.log)
		return
	}
	writeJSON(w, http.StatusOK, ResolutionResponse{Response: res.Response, Proxy: res.Proxy})
}

// handleProxyResponse handles POST /imposters/{port}/_requests/{key}.
func (s *Server) handleProxyResponse(w http.ResponseWriter, r *http.Request) {
	imp, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var body ProxyResponseBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ProxyResponse == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "proxyResponse is required")
		return
	}

	res, err := imp.ResolveProxy(r.Context(), body.ProxyResponse, r.PathValue("key"))
	if err != nil {
		writeFailure(w, err, imp.log)
		return
	}
	writeJSON(w, http.StatusOK, ResolutionResponse{Response: res.Response})
}

// handleClearPending handles DELETE /imposters/{port}/_requests.
func (s *Server) handleClearPending(w http.ResponseWriter, r *http.Request) {
	imp, ok := s.lookup(w, r)
	if !ok {
		return
	}
	imp.Coordinator().Clear()
	w.WriteHeader(http.StatusNoContent)
}

// handleNearMisses handles POST /imposters/{port}/_nearmisses.
func (s *Server) handleNearMisses(w http.ResponseWriter, r *http.Request) {
	imp, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var body NearMissesBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Request == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request is required")
		return
	}

	_, rule := matching.FirstMatch(imp.Repository().Rules(), body.Request, imp.log)
	resp := NearMissesResponse{Matched: rule != nil, NearMisses: []matching.NearMiss{}}
	if rule == nil {
		if misses := imp.NearMisses(body.Request, body.Limit); misses != nil {
			resp.NearMisses = misses
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Imposter, bool) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_port", "port must be a number")
		return nil, false
	}
	imp := s.Imposter(port)
	if imp == nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no imposter on port %d", port))
		return nil, false
	}
	return imp, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON in request body")
		return false
	}
	return true
}

func viewOf(imp *Imposter) ImposterView {
	rules := imp.Repository().Rules()
	stubs := make([]StubView, len(rules))
	for i, rule := range rules {
		snapshot := rule.Copy()
		stubs[i] = StubView{
			Predicates: snapshot.Predicates,
			Responses:  snapshot.Responses,
			Matches:    rule.MatchHistory(),
		}
	}
	return ImposterView{
		Port:            imp.Port(),
		Protocol:        imp.cfg.ProtocolName(),
		Name:            imp.cfg.Name,
		RecordMatches:   imp.cfg.RecordMatches,
		PendingProxies:  imp.Coordinator().Pending(),
		Stubs:           stubs,
		DefaultResponse: imp.cfg.DefaultResponse,
	}
}
