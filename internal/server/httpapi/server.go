// Package httpapi is the HTTP surface of the server: health and metrics
// for operators, plus a small JSON API for front ends that cannot speak
// gRPC.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdeobf/internal/api"
	"github.com/dmitrijs2005/gophdeobf/internal/common"
	"github.com/dmitrijs2005/gophdeobf/internal/logging"
	"github.com/dmitrijs2005/gophdeobf/internal/server/auth"
	"github.com/dmitrijs2005/gophdeobf/internal/server/models"
	"github.com/dmitrijs2005/gophdeobf/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Pipeline interface {
	Submit(ctx context.Context, req services.SubmitRequest) (*models.TransformResult, error)
}

type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
}

type ctxKey string

const userIDKey ctxKey = "userID"

// Server serves the HTTP routes.
type Server struct {
	address   string
	store     Pinger
	pipeline  Pipeline
	ledger    Ledger
	logger    logging.Logger
	jwtSecret []byte
	maxBytes  int64
}

func NewServer(address string, l logging.Logger, store Pinger, p Pipeline, lg Ledger, secretKey string, maxUploadBytes int64) *Server {
	return &Server{
		address:   address,
		store:     store,
		pipeline:  p,
		ledger:    lg,
		logger:    l.With("module", "http_server"),
		jwtSecret: []byte(secretKey),
		maxBytes:  maxUploadBytes,
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/balance", s.handleBalance)
		r.Post("/deobfuscate", s.handleDeobfuscate)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tok == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := auth.ParseToken(tok, s.jwtSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(userIDKey).(string)
	b, err := s.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.BalanceResponse{Balance: b})
}

// handleDeobfuscate accepts a multipart form with a "file" part, or a
// JSON api.DeobfuscateRequest.
func (s *Server) handleDeobfuscate(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(userIDKey).(string)

	req, err := s.decodeSubmit(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = userID

	res, err := s.pipeline.Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.DeobfuscateResponse{
		RequestID:        res.RequestID,
		OutputName:       res.OutputName,
		Output:           res.Output,
		OriginalSize:     res.OriginalSize,
		OutputSize:       res.OutputSize,
		Diagnostics:      res.Diagnostics,
		Links:            res.Links,
		Digest:           res.Digest,
		DurationMillis:   res.Duration.Milliseconds(),
		RemainingBalance: res.RemainingBalance,
		DownloadURL:      res.DownloadURL,
	})
}

func (s *Server) decodeSubmit(w http.ResponseWriter, r *http.Request) (services.SubmitRequest, error) {
	// a little slack over the file limit for JSON or multipart framing
	body := http.MaxBytesReader(w, r.Body, s.maxBytes*2+common.MiB)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = body
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return services.SubmitRequest{}, err
		}
		defer f.Close()
		src, err := io.ReadAll(io.LimitReader(f, s.maxBytes+1))
		if err != nil {
			return services.SubmitRequest{}, err
		}
		return services.SubmitRequest{Filename: hdr.Filename, Source: src, DeclaredSize: hdr.Size}, nil
	}

	var in api.DeobfuscateRequest
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		return services.SubmitRequest{}, err
	}
	return services.SubmitRequest{
		Filename:     in.Filename,
		Source:       in.Source,
		SourceURL:    in.SourceURL,
		DeclaredSize: in.DeclaredSize,
	}, nil
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrInsufficientBalance):
		if errors.Is(err, common.ErrorInternal) {
			return http.StatusServiceUnavailable
		}
		return http.StatusPaymentRequired
	case errors.Is(err, common.ErrorDownload):
		return http.StatusBadGateway
	case errors.Is(err, common.ErrorExternalTool):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
