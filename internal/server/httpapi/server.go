// Package httpapi implements the REST API over the session index, search
// engine and destination manager.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sessionhub/sessionhub/internal/config"
	"github.com/sessionhub/sessionhub/internal/destinations"
	"github.com/sessionhub/sessionhub/internal/domain/ports"
	"github.com/sessionhub/sessionhub/internal/index"
	"github.com/sessionhub/sessionhub/internal/ratelimit"
	"github.com/sessionhub/sessionhub/internal/search"
)

// Per-endpoint rate limits.
const (
	searchRate  = 30 // per minute, shared by /api/search and /api/projects
	previewRate = 60 // per minute
	refreshRate = 1  // per minute, single global bucket
)

// Presets map a client profile to a destination surface.
const (
	PresetMobile  = "mobile"  // telegram
	PresetDesktop = "desktop" // slack

	defaultReplayCount = 5
)

// Deps are the collaborators the server projects over HTTP.
type Deps struct {
	Indexer      *index.Indexer
	Engine       *search.Engine
	Destinations *destinations.Manager
	Registry     *config.Registry
	Preview      ports.PreviewProvider
	Tailer       ports.SessionTailer
	Version      string
}

// Server is the HTTP API server.
type Server struct {
	server *http.Server
	router *mux.Router
	addr   string
	deps   Deps

	searchLimiter  *ratelimit.Limiter
	previewLimiter *ratelimit.Limiter
	refreshLimiter *ratelimit.Limiter
}

// New creates the server and registers its routes.
func New(host string, port int, deps Deps) *Server {
	s := &Server{
		addr:           fmt.Sprintf("%s:%d", host, port),
		router:         mux.NewRouter(),
		deps:           deps,
		searchLimiter:  ratelimit.New(searchRate, time.Minute),
		previewLimiter: ratelimit.New(previewRate, time.Minute),
		refreshLimiter: ratelimit.New(refreshRate, time.Minute),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/projects", s.handleProjects).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/preview", s.handlePreview).Methods(http.MethodGet)
	api.HandleFunc("/index/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/search/watch", s.handleWatch).Methods(http.MethodPost)

	return s
}

// Mount registers an extra handler, e.g. a chat webhook. Must be called
// before Start.
func (s *Server) Mount(path string, handler http.Handler) {
	s.router.Handle(path, handler)
}

// Handler returns the full middleware-wrapped handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return requestLoggingMiddleware(s.router)
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", s.addr).Msg("HTTP server starting")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

// requestLoggingMiddleware logs all incoming requests for debugging.
func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	})
}

// clientIP derives the rate-limit principal: first hop of X-Forwarded-For,
// else the transport peer, else "unknown".
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			first = xff[:idx]
		}
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":               "rate_limited",
		"retry_after_seconds": retryAfter,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.deps.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if s.deps.Indexer != nil {
		if age, err := s.deps.Indexer.Age(); err == nil {
			resp["index_age_seconds"] = int64(age.Seconds())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSearch handles GET /api/search. URL parameters override whatever the
// free-text query parsed: project, since, until, sort, limit, offset.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if allowed, retry := s.searchLimiter.Check("api:" + clientIP(r)); !allowed {
		writeRateLimited(w, retry)
		return
	}
	if s.deps.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "search_unavailable")
		return
	}

	params := r.URL.Query()
	q := search.Parse(params.Get("q"))

	if p := params.Get("project"); p != "" {
		q.Filters.Project = p
	}
	if v := params.Get("since"); v != "" {
		if ts, ok := search.ParseTimestamp(v); ok {
			q.Filters.Since = &ts
		}
	}
	if v := params.Get("until"); v != "" {
		if ts, ok := search.ParseTimestamp(v); ok {
			q.Filters.Until = &ts
		}
	}
	switch v := params.Get("sort"); v {
	case search.SortRecent, search.SortOldest, search.SortSize, search.SortDuration:
		q.Sort = v
	}
	if v := params.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	q.Limit = clamp(q.Limit, 1, 10)
	if v := params.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			q.Offset = n
		}
	}

	resp, err := s.deps.Engine.Search(q)
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	if resp.Results == nil {
		resp.Results = []*index.Session{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// projectsResponse is the GET /api/projects payload.
type projectsResponse struct {
	Projects        []*index.Project `json:"projects"`
	TotalProjects   int              `json:"total_projects"`
	TotalSessions   int              `json:"total_sessions"`
	IndexAgeSeconds int64            `json:"index_age_seconds"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if allowed, retry := s.searchLimiter.Check("api:" + clientIP(r)); !allowed {
		writeRateLimited(w, retry)
		return
	}
	if s.deps.Indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "search_unavailable")
		return
	}

	idx, err := s.deps.Indexer.GetIndex()
	if err != nil {
		s.writeSearchError(w, err)
		return
	}

	var since, until *time.Time
	params := r.URL.Query()
	if v := params.Get("since"); v != "" {
		if ts, ok := search.ParseTimestamp(v); ok {
			since = &ts
		}
	}
	if v := params.Get("until"); v != "" {
		if ts, ok := search.ParseTimestamp(v); ok {
			until = &ts
		}
	}

	projects := make([]*index.Project, 0, len(idx.Projects))
	totalSessions := 0
	for _, p := range idx.Projects {
		if since != nil && (p.LatestModifiedAt == nil || p.LatestModifiedAt.Before(*since)) {
			continue
		}
		if until != nil && p.LatestModifiedAt != nil && p.LatestModifiedAt.After(*until) {
			continue
		}
		projects = append(projects, p)
		totalSessions += len(p.SessionIDs)
	}
	sortProjects(projects)

	age := int64(0)
	if d, err := s.deps.Indexer.Age(); err == nil {
		age = int64(d.Seconds())
	}

	writeJSON(w, http.StatusOK, projectsResponse{
		Projects:        projects,
		TotalProjects:   len(projects),
		TotalSessions:   totalSessions,
		IndexAgeSeconds: age,
	})
}

// previewResponse is the GET /api/sessions/{id}/preview payload.
type previewResponse struct {
	SessionID     string               `json:"session_id"`
	ProjectName   string               `json:"project_name"`
	Summary       string               `json:"summary"`
	TotalEvents   int                  `json:"total_events"`
	PreviewEvents []ports.PreviewEvent `json:"preview_events"`
	DurationMS    *int64               `json:"duration_ms"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if allowed, retry := s.previewLimiter.Check("api:" + clientIP(r)); !allowed {
		writeRateLimited(w, retry)
		return
	}
	if s.deps.Indexer == nil || s.deps.Preview == nil {
		writeError(w, http.StatusServiceUnavailable, "search_unavailable")
		return
	}
	if _, err := s.deps.Indexer.GetIndex(); err != nil {
		s.writeSearchError(w, err)
		return
	}

	sess, ok := s.deps.Indexer.GetSession(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}

	limit := defaultReplayCount
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	limit = clamp(limit, 1, 20)

	events, err := s.deps.Preview.Preview(r.Context(), sess, limit)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("preview read failed")
		writeError(w, http.StatusInternalServerError, "preview_failed")
		return
	}
	if events == nil {
		events = []ports.PreviewEvent{}
	}

	var dur *int64
	if ms, ok := sess.Duration(); ok {
		dur = &ms
	}

	writeJSON(w, http.StatusOK, previewResponse{
		SessionID:     sess.SessionID,
		ProjectName:   sess.ProjectDisplayName,
		Summary:       sess.Summary,
		TotalEvents:   sess.LineCount,
		PreviewEvents: events,
		DurationMS:    dur,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if allowed, retry := s.refreshLimiter.Check("global:refresh"); !allowed {
		writeRateLimited(w, retry)
		return
	}
	if s.deps.Indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "search_unavailable")
		return
	}

	go func() {
		if err := s.deps.Indexer.Refresh(true); err != nil {
			log.Warn().Err(err).Msg("background index refresh failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "index refresh running in background",
	})
}

// watchRequest is the POST /api/search/watch body.
type watchRequest struct {
	SessionID   string `json:"session_id"`
	Destination string `json:"destination"`
	Preset      string `json:"preset"`
	ReplayCount int    `json:"replay_count"`
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Indexer == nil || s.deps.Destinations == nil || s.deps.Registry == nil {
		writeError(w, http.StatusServiceUnavailable, "search_unavailable")
		return
	}

	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.SessionID == "" || req.Destination == "" {
		writeError(w, http.StatusBadRequest, "session_id and destination are required")
		return
	}

	var kind destinations.Kind
	switch req.Preset {
	case PresetMobile:
		kind = destinations.KindTelegram
	case PresetDesktop:
		kind = destinations.KindSlack
	default:
		writeError(w, http.StatusBadRequest, "preset must be mobile or desktop")
		return
	}
	if s.deps.Registry.BotConfig(string(kind)) == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s bot is not configured", kind))
		return
	}

	if _, err := s.deps.Indexer.GetIndex(); err != nil {
		s.writeSearchError(w, err)
		return
	}
	sess, ok := s.deps.Indexer.GetSession(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}

	attached, err := s.deps.Destinations.Attach(r.Context(), sess.SessionID, sess.FilePath, kind, req.Destination)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.deps.Tailer != nil {
		replay := req.ReplayCount
		if replay == 0 {
			replay = defaultReplayCount
		}
		replay = clamp(replay, 1, 20)
		if err := s.deps.Tailer.RequestReplay(r.Context(), sess.SessionID, string(kind), req.Destination, replay); err != nil {
			log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("replay request failed")
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"attached":        attached,
		"session_id":      sess.SessionID,
		"preset":          req.Preset,
		"session_summary": sess.Summary,
	})
}

// writeSearchError maps core errors onto the API contract.
func (s *Server) writeSearchError(w http.ResponseWriter, err error) {
	var rl *ratelimit.Error
	switch {
	case errors.Is(err, search.ErrNotInitialised):
		writeError(w, http.StatusServiceUnavailable, "search_unavailable")
	case errors.As(err, &rl):
		writeRateLimited(w, rl.RetryAfterSeconds)
	default:
		log.Error().Err(err).Msg("search request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// sortProjects orders by latest activity, newest first; projects without any
// sessions sort last by name.
func sortProjects(projects []*index.Project) {
	sort.Slice(projects, func(i, j int) bool {
		return projectLess(projects[i], projects[j])
	})
}

func projectLess(a, b *index.Project) bool {
	switch {
	case a.LatestModifiedAt == nil && b.LatestModifiedAt == nil:
		return a.EncodedName < b.EncodedName
	case a.LatestModifiedAt == nil:
		return false
	case b.LatestModifiedAt == nil:
		return true
	case !a.LatestModifiedAt.Equal(*b.LatestModifiedAt):
		return a.LatestModifiedAt.After(*b.LatestModifiedAt)
	default:
		return a.EncodedName < b.EncodedName
	}
}
