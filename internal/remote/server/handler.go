package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/kilupskalvis/modsync/internal/remote"
	"github.com/kilupskalvis/modsync/internal/remote/metastore"
)

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody    int64  // bytes, for JSON endpoints
	RequestsPerMinute int    // per-token rate limit
	AdminToken        string // for admin endpoints
	Webhooks          *WebhookNotifier
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody:    1 << 20, // 1MB
		RequestsPerMinute: 300,
	}
}

// api bundles the dependencies shared by every module handler.
type api struct {
	store  metastore.ModuleStore
	cfg    *ServerConfig
	logger *slog.Logger
	locks  courseLocks
}

// courseLocks serializes writes that renumber a course.
type courseLocks struct {
	m sync.Map // course id -> *sync.Mutex
}

func (l *courseLocks) lock(course string) func() {
	mu, _ := l.m.LoadOrStore(course, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown.
func Handler(store metastore.ModuleStore, tokens TokenStore, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{store: store, cfg: cfg, logger: logger}

	rl := newRateLimiter(cfg.RequestsPerMinute)
	auth := authMiddleware(tokens, logger)

	// applyMiddleware reverses the list, so the first item runs outermost.
	// Execution order: auth -> requireCourse -> rl -> handler
	withCourse := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, requireCourse, rl.middleware)
	}
	// Execution order: auth -> requireCourse -> requireWrite -> rl -> handler
	withCourseWrite := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, requireCourse, requireWrite, rl.middleware)
	}
	// Module routes carry no course in the path; requireModule derives it.
	// Execution order: auth -> requireModule -> rl -> handler
	withModule := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, a.requireModule, rl.middleware)
	}
	// Execution order: auth -> requireModule -> requireWrite -> rl -> handler
	withModuleWrite := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth, a.requireModule, requireWrite, rl.middleware)
	}

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := tokens.ListTokens(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: token store unavailable"))
			return
		}
		if p, ok := store.(interface{ Ping(context.Context) error }); ok {
			if err := p.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("not ready: module store unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Admin endpoints
	if cfg.AdminToken != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("POST /admin/tokens", makeAdminCreateTokenHandler(tokens, logger))
		adminMux.HandleFunc("DELETE /admin/tokens/{id}", makeAdminDeleteTokenHandler(tokens, logger))
		adminMux.HandleFunc("GET /admin/tokens", makeAdminListTokensHandler(tokens, logger))
		adminMux.HandleFunc("POST /admin/courses/{course}/compact", a.handleCompact)
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	}

	// Course-scoped module collection
	mux.Handle("GET /api/v1/courses/{course}/modules", withCourse(a.handleListModules))
	mux.Handle("POST /api/v1/courses/{course}/modules", withCourseWrite(a.handleCreateModule))
	mux.Handle("PUT /api/v1/courses/{course}/modules/order", withCourseWrite(a.handleReorderModules))

	// Single modules
	mux.Handle("GET /api/v1/modules/{id}", withModule(a.handleGetModule))
	mux.Handle("PATCH /api/v1/modules/{id}", withModuleWrite(a.handleUpdateModule))
	mux.Handle("DELETE /api/v1/modules/{id}", withModuleWrite(a.handleDeleteModule))

	// Apply global middleware
	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
	)

	cleanup := func() {
		rl.Stop()
		cfg.Webhooks.Wait()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// --- Module Handlers ---

func (a *api) handleListModules(w http.ResponseWriter, r *http.Request) {
	mods, err := a.store.ListModules(r.Context(), r.PathValue("course"))
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mods)
}

func (a *api) handleCreateModule(w http.ResponseWriter, r *http.Request) {
	course := r.PathValue("course")

	var req remote.CreateModuleRequest
	if err := readJSON(r, a.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, remote.CodeInvalid, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, remote.CodeInvalid, err.Error())
		return
	}

	m := req.Draft("")
	m.CourseID = course

	unlock := a.locks.lock(course)
	err := a.store.CreateModule(r.Context(), &m)
	unlock()
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	a.cfg.Webhooks.Notify(EventModuleCreated, course, m.ID)
	writeJSON(w, http.StatusCreated, m)
}

func (a *api) handleReorderModules(w http.ResponseWriter, r *http.Request) {
	course := r.PathValue("course")

	var req remote.ReorderRequest
	if err := readJSON(r, a.cfg.MaxRequestBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, remote.CodeInvalid, err.Error())
		return
	}

	unlock := a.locks.lock(course)
	err := a.store.ReorderModules(r.Context(), course, req.Positions)
	unlock()
	if err != nil {
		if errors.Is(err, metastore.ErrConflict) {
			writeError(w, http.StatusConflict, remote.CodeConflict,
				"the module list has changed, reload and try again")
			return
		}
		a.internalError(w, r, err)
		return
	}

	a.cfg.Webhooks.Notify(EventModulesReordered, course, "")
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleGetModule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, moduleFrom(r.Context()))
}

func (a *api) handleUpdateModule(w http.ResponseWriter, r *http.Request) {
	var patch remote.UpdateModuleRequest
	if err := readJSON(r, a.cfg.MaxRequestBody, &patch); err != nil {
		writeError(w, http.StatusBadRequest, remote.CodeInvalid, err.Error())
		return
	}
	if err := patch.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, remote.CodeInvalid, err.Error())
		return
	}

	current := moduleFrom(r.Context())
	updated, err := a.store.UpdateModule(r.Context(), current.ID, patch)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, remote.CodeNotFound, "module not found")
			return
		}
		a.internalError(w, r, err)
		return
	}

	a.cfg.Webhooks.Notify(EventModuleUpdated, updated.CourseID, updated.ID)
	writeJSON(w, http.StatusOK, updated)
}

func (a *api) handleDeleteModule(w http.ResponseWriter, r *http.Request) {
	current := moduleFrom(r.Context())

	unlock := a.locks.lock(current.CourseID)
	_, err := a.store.DeleteModule(r.Context(), current.ID)
	unlock()
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, remote.CodeNotFound, "module not found")
			return
		}
		a.internalError(w, r, err)
		return
	}

	a.cfg.Webhooks.Notify(EventModuleDeleted, current.CourseID, current.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleCompact(w http.ResponseWriter, r *http.Request) {
	course := r.PathValue("course")

	unlock := a.locks.lock(course)
	result, err := Compact(r.Context(), a.store, course, a.logger)
	unlock()
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	if result.Renumbered > 0 {
		a.cfg.Webhooks.Notify(EventCourseCompacted, course, "")
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *api) internalError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := r.Context().Value(contextKeyRequestID).(string)
	a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err, "request_id", reqID)
	writeError(w, http.StatusInternalServerError, remote.CodeInternal, "internal server error")
}

// --- Health Handlers ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Admin Auth ---

func adminAuth(adminToken string, next http.Handler) http.Handler {
	expected := "Bearer " + adminToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			writeError(w, http.StatusUnauthorized, remote.CodeUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, remote.ErrorResponse{Error: code, Message: message})
}

func readJSON(r *http.Request, maxSize int64, v any) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// --- Admin Token Handlers ---

func makeAdminCreateTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Description string   `json:"description"`
			Courses     []string `json:"courses"`
			Permission  string   `json:"permission"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, remote.CodeInvalid, "invalid JSON")
			return
		}
		if req.Permission == "" {
			req.Permission = "ro"
		}
		if req.Permission != "ro" && req.Permission != "rw" {
			writeError(w, http.StatusBadRequest, remote.CodeInvalid, "permission must be 'ro' or 'rw'")
			return
		}
		courses, err := NormalizeCourses(req.Courses)
		if err != nil {
			writeError(w, http.StatusBadRequest, remote.CodeInvalid, err.Error())
			return
		}
		req.Courses = courses

		rawToken, info, err := tokens.CreateToken(req.Description, req.Courses, req.Permission)
		if err != nil {
			logger.Error("create token", "error", err)
			writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, remote.AdminTokenCreateResponse{
			Token:       rawToken,
			ID:          info.ID,
			Description: info.Desc,
			Courses:     info.Courses,
			Permission:  info.Permission,
		})
	}
}

func makeAdminListTokensHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := tokens.ListTokens()
		if err != nil {
			logger.Error("list tokens", "error", err)
			writeError(w, http.StatusInternalServerError, remote.CodeInternal, err.Error())
			return
		}

		// Metadata only, never hashes.
		entries := make([]remote.AdminTokenInfo, len(list))
		for i, t := range list {
			entries[i] = remote.AdminTokenInfo{
				ID:          t.ID,
				Description: t.Desc,
				Courses:     t.Courses,
				Permission:  t.Permission,
			}
		}

		writeJSON(w, http.StatusOK, entries)
	}
}

func makeAdminDeleteTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, http.StatusBadRequest, remote.CodeInvalid, "token ID required")
			return
		}

		if err := tokens.DeleteToken(id); err != nil {
			logger.Error("delete token", "error", err, "token_id", id)
			writeError(w, http.StatusNotFound, remote.CodeNotFound, err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
