package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"caldnd/internal/config"
	appLog "caldnd/internal/log"
	"caldnd/internal/model"
	"caldnd/internal/pipeline"
)

// RefreshFunc runs one pipeline pass and returns what it computed.
type RefreshFunc func(ctx context.Context) (pipeline.Result, error)

// Server exposes the last computed schedule while `watch` is running.
//
//	GET  /health        liveness, never behind auth
//	GET  /api/schedule  last computed weekly profile and presence
//	POST /api/refresh   run the pipeline now
type Server struct {
	cfg     *config.Config
	refresh RefreshFunc
	mux     *http.ServeMux

	mu      sync.RWMutex
	last    *pipeline.Result
	lastErr error
	lastRun time.Time
}

// NewServer constructs a new Server. refresh may be nil, in which case
// /api/refresh answers 503.
func NewServer(cfg *config.Config, refresh RefreshFunc) *Server {
	s := &Server{
		cfg:     cfg,
		refresh: refresh,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Record stores the outcome of a run so /api/schedule can report it. A
// failed run keeps the previous result and only updates the error.
func (s *Server) Record(res pipeline.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Now()
	s.lastErr = err
	if err == nil {
		r := res
		s.last = &r
	}
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="caldnd", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on s.cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/schedule", s.handleSchedule)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// scheduleResponse is the JSON response shape for /api/schedule and
// /api/refresh.
type scheduleResponse struct {
	RunID      string     `json:"run_id"`
	ComputedAt time.Time  `json:"computed_at"`
	WeekStart  time.Time  `json:"week_start"`
	WeekEnd    time.Time  `json:"week_end"`
	EventName  string     `json:"event_name"`
	Events     int        `json:"events_in_week"`
	Days       []dayDTO   `json:"days"`
	Busy       bool       `json:"busy"`
	NextStart  *time.Time `json:"next_start,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// dayDTO is one weekday of the profile. Start and End are empty on
// unrestricted days.
type dayDTO struct {
	Weekday string `json:"weekday"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
}

func (s *Server) toResponse(res pipeline.Result) scheduleResponse {
	resp := scheduleResponse{
		RunID:      res.RunID,
		ComputedAt: res.Now,
		WeekStart:  res.Window.Start,
		WeekEnd:    res.Window.End,
		Events:     res.Events,
		Days:       make([]dayDTO, 0, len(model.Weekdays)),
		Busy:       res.Presence.Busy,
	}
	if s.cfg != nil {
		resp.EventName = s.cfg.EventName
	}
	for _, wd := range model.Weekdays {
		d := dayDTO{Weekday: wd.String()}
		if iv, ok := res.Profile.Day(wd); ok {
			d.Start = iv.Start.String()
			d.End = iv.End.String()
		}
		resp.Days = append(resp.Days, d)
	}
	if next, ok := res.Presence.Next(); ok {
		resp.NextStart = &next
	}
	return resp
}

// handleSchedule returns the most recent successful run. Until the first
// run succeeds it answers 503 with the last error, if any.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.mu.RLock()
	last, lastErr := s.last, s.lastErr
	s.mu.RUnlock()

	if last == nil {
		msg := "no schedule computed yet"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		writeError(w, http.StatusServiceUnavailable, msg)
		return
	}

	resp := s.toResponse(*last)
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh runs the pipeline synchronously and returns its result.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not available")
		return
	}

	appLog.Info("api refresh request")
	res, err := s.refresh(r.Context())
	s.Record(res, err)
	if err != nil {
		appLog.Error("api refresh failed", err, "run_id", res.RunID)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(res))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
