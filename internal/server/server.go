// Package server exposes the intake engine over HTTP: turn advancement,
// commit, and health. The boundary resolves bearer identity and maps
// error layers to status codes; everything behind it trusts its input.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/engine"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/internal/store"
)

var validate = validator.New()

// Server is the HTTP API over one engine and store.
type Server struct {
	engine    *engine.Engine
	store     store.Store
	authToken string
}

func New(eng *engine.Engine, st store.Store, authToken string) *Server {
	return &Server{engine: eng, store: st, authToken: authToken}
}

// Router assembles the chi handler with middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Post("/v1/projects/{projectID}/cycles/{cycle}/turns", s.handleTurn)
		r.Post("/v1/projects/{projectID}/cycles/{cycle}/commit", s.handleCommit)
	})

	return r
}

// Serve runs the HTTP server until ctx ends, then drains in-flight
// requests before returning.
func (s *Server) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// bearerAuth checks the configured static token. An empty configured
// token disables auth (local development).
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeError(w, resilience.Auth("BAD_TOKEN", "missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// errorBody is the wire shape of every failure response.
type errorBody struct {
	Layer   string   `json:"layer"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Reasons []string `json:"reasons,omitempty"`
}

// writeError maps an error's layer to a status code and emits the
// structured failure body.
func writeError(w http.ResponseWriter, err error) {
	layer := resilience.ClassifyLayer(err)
	body := errorBody{Layer: string(layer), Code: "INTERNAL", Message: "internal error"}

	var le *resilience.LayeredError
	if errors.As(err, &le) {
		body.Code = le.Code
		body.Message = le.Message
		body.Reasons = le.Reasons
	}

	status := http.StatusInternalServerError
	switch layer {
	case resilience.LayerAuth:
		status = http.StatusUnauthorized
	case resilience.LayerAuthorization:
		status = http.StatusForbidden
	case resilience.LayerValidation:
		status = http.StatusUnprocessableEntity
	case resilience.LayerTransient:
		status = http.StatusServiceUnavailable
	case resilience.LayerSchema, resilience.LayerServer:
		// Schema errors mean a deployment mismatch; both stay 5xx and
		// never leak internals to the client.
		zap.L().Error("server: internal failure", zap.String("layer", string(layer)), zap.Error(err))
	}

	writeJSON(w, status, map[string]errorBody{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}
