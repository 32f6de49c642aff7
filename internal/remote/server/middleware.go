// Package server implements the modsync HTTP API: module handlers backed by a
// metastore.ModuleStore, token auth, rate limiting and webhooks.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/modsync/internal/models"
	"github.com/kilupskalvis/modsync/internal/remote"
	"github.com/kilupskalvis/modsync/internal/remote/metastore"
)

type contextKey string

const (
	contextKeyRequestID  contextKey = "request_id"
	contextKeyTokenID    contextKey = "token_id"
	contextKeyCourses    contextKey = "courses"
	contextKeyPermission contextKey = "permission"
	contextKeyModule     contextKey = "module"
)

// TokenInfo holds the metadata for an authenticated token.
type TokenInfo struct {
	ID         string   `json:"id"`
	TokenHash  string   `json:"token_hash"`
	Desc       string   `json:"description"`
	Courses    []string `json:"courses"`    // "*" grants every course
	Permission string   `json:"permission"` // "ro" or "rw"
}

// TokenStore is the interface for managing authentication tokens.
type TokenStore interface {
	GetByHash(hash string) (*TokenInfo, error)
	UpdateLastUsed(id string) error
	ListTokens() ([]*TokenInfo, error)
	DeleteToken(id string) error
	CreateToken(desc string, courses []string, permission string) (rawToken string, info *TokenInfo, err error)
}

// requestIDMiddleware tags each request with an id, reusing the caller's
// X-Request-ID when it looks like a UUID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), contextKeyRequestID, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs request method, path, status, and latency.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			reqID, _ := r.Context().Value(contextKeyRequestID).(string)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"latency_ms", time.Since(start).Milliseconds(),
				"request_id", reqID,
			)
		})
	}
}

// recoveryMiddleware catches panics and returns 500.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: 0}
			defer func() {
				if rec := recover(); rec != nil {
					reqID, _ := r.Context().Value(contextKeyRequestID).(string)
					logger.Error("panic recovered", "error", rec, "request_id", reqID)
					if rw.statusCode == 0 {
						http.Error(rw, `{"error":"internal_error","message":"internal server error"}`, http.StatusInternalServerError)
					}
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

// authMiddleware validates bearer tokens and sets permissions in context.
func authMiddleware(tokens TokenStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		sem := make(chan struct{}, 20)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, http.StatusUnauthorized, remote.CodeUnauthorized,
					"missing or invalid Authorization header")
				return
			}

			rawToken := strings.TrimPrefix(auth, "Bearer ")
			tokenHash := HashToken(rawToken)

			info, err := tokens.GetByHash(tokenHash)
			if err != nil || info == nil {
				writeError(w, http.StatusUnauthorized, remote.CodeUnauthorized, "invalid token")
				return
			}

			// Async update last_used_at
			select {
			case sem <- struct{}{}:
				go func() {
					defer func() { <-sem }()
					if err := tokens.UpdateLastUsed(info.ID); err != nil {
						logger.Warn("failed to update token last_used_at", "error", err, "token_id", info.ID)
					}
				}()
			default:
				// Drop update if too many in flight
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, contextKeyTokenID, info.ID)
			ctx = context.WithValue(ctx, contextKeyCourses, courseScope(info.Courses))
			ctx = context.WithValue(ctx, contextKeyPermission, info.Permission)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// courseScope is the set of courses a token may touch. "*" grants all.
type courseScope []string

func (s courseScope) allows(course string) bool {
	for _, c := range s {
		if c == "*" || c == course {
			return true
		}
	}
	return false
}

// NormalizeCourses cleans a token's course list. Ids are trimmed and
// deduplicated, an empty list or any "*" collapses to {"*"}, and ids that
// cannot appear in a URL path segment are rejected.
func NormalizeCourses(courses []string) ([]string, error) {
	out := make([]string, 0, len(courses))
	seen := make(map[string]struct{}, len(courses))
	for _, c := range courses {
		c = strings.TrimSpace(c)
		if c == "*" {
			return []string{"*"}, nil
		}
		if c == "" || strings.ContainsAny(c, "/?# \t") {
			return nil, fmt.Errorf("invalid course id %q", c)
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return []string{"*"}, nil
	}
	return out, nil
}

func scopeFrom(ctx context.Context) courseScope {
	s, _ := ctx.Value(contextKeyCourses).(courseScope)
	return s
}

// requireCourse checks that the token has access to the course in the path.
// The course id is the caller's own input, so refusing it reveals nothing.
func requireCourse(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		course := r.PathValue("course")
		if course == "" {
			writeError(w, http.StatusBadRequest, remote.CodeInvalid, "missing course id in path")
			return
		}
		if !scopeFrom(r.Context()).allows(course) {
			writeError(w, http.StatusForbidden, remote.CodeForbidden,
				"token does not have access to course '"+course+"'")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireModule resolves the {id} path value and stores the module in the
// request context. A module whose course is outside the token's scope
// answers 404 like a missing one, so ids of other courses are never confirmed.
func (a *api) requireModule(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := a.store.GetModule(r.Context(), r.PathValue("id"))
		if err != nil && !errors.Is(err, metastore.ErrNotFound) {
			a.internalError(w, r, err)
			return
		}
		if err != nil || !scopeFrom(r.Context()).allows(m.CourseID) {
			writeError(w, http.StatusNotFound, remote.CodeNotFound, "module not found")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyModule, m)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// moduleFrom returns the module resolved by requireModule.
func moduleFrom(ctx context.Context) *models.Module {
	m, _ := ctx.Value(contextKeyModule).(*models.Module)
	return m
}

// requireWrite checks that the token has "rw" permission.
func requireWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perm, _ := r.Context().Value(contextKeyPermission).(string)
		if perm != "rw" {
			writeError(w, http.StatusForbidden, remote.CodeForbidden,
				"read-only token cannot perform write operations")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a per-token fixed window limiter.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	done    chan struct{}
}

type window struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	rl := &rateLimiter{
		windows: make(map[string]*window),
		limit:   requestsPerMinute,
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for k, w := range rl.windows {
				if now.After(w.resetAt) {
					delete(rl.windows, k)
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

func (rl *rateLimiter) Stop() {
	close(rl.done)
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key, _ := r.Context().Value(contextKeyTokenID).(string)
		if key == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			key = host
		}

		rl.mu.Lock()
		win, ok := rl.windows[key]
		now := time.Now()
		if !ok || now.After(win.resetAt) {
			win = &window{count: 0, resetAt: now.Add(time.Minute)}
			rl.windows[key] = win
		}
		win.count++
		count := win.count
		rl.mu.Unlock()

		if count > rl.limit {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, remote.CodeRateLimited, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// HashToken returns the SHA256 hex digest of a raw token string.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
