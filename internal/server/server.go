// Package server exposes the bill analysis pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/clearhsa/billscan/internal/analysis"
	"github.com/clearhsa/billscan/internal/auth"
	"github.com/clearhsa/billscan/internal/config"
	"github.com/clearhsa/billscan/internal/store"
	"github.com/clearhsa/billscan/pkg/anthropic"
)

// User-facing error strings. Every caught failure maps onto exactly one of
// these (or the underlying message for uncategorized persistence errors), so
// the caller never sees a partial or ambiguous state.
const (
	errUnauthorized   = "Unauthorized"
	errInvalidRequest = "Invalid request"
	errReceiptMissing = "Receipt not found"
	errDownloadFailed = "Failed to download receipt"
	errRateLimited    = "AI rate limit exceeded. Please try again in a few minutes."
	errQuotaExhausted = "AI credits exhausted. Please contact support."
	errUnavailable    = "AI analysis service is unavailable. Please try again later."
	errParseFailed    = "Failed to parse AI analysis"
)

// BillAnalyzer runs the analysis pipeline for one request.
type BillAnalyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Summary, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server handles bill analysis HTTP requests.
type Server struct {
	analyzer BillAnalyzer
	verifier auth.Verifier
	pinger   Pinger
	origin   string
	validate *validator.Validate
}

// New creates a Server. pinger may be nil, in which case /health only
// reports process liveness.
func New(cfg config.ServerConfig, analyzer BillAnalyzer, verifier auth.Verifier, pinger Pinger) *Server {
	return &Server{
		analyzer: analyzer,
		verifier: verifier,
		pinger:   pinger,
		origin:   cfg.AllowedOrigin,
		validate: validator.New(),
	}
}

// Router builds the HTTP handler with middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.origin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/analyze", s.handleAnalyze)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			zap.L().Error("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// analyzeRequest is the POST /analyze body.
type analyzeRequest struct {
	InvoiceID string `json:"invoiceId" validate:"required"`
	ReceiptID string `json:"receiptId" validate:"required"`
}

// analyzeResponse is the success payload.
type analyzeResponse struct {
	Success               bool     `json:"success"`
	BillReviewID          string   `json:"billReviewId"`
	Metadata              any      `json:"metadata"`
	TotalPotentialSavings float64  `json:"totalPotentialSavings"`
	ErrorsFound           int      `json:"errorsFound"`
	ConfidenceScore       float64  `json:"confidenceScore"`
	Warnings              []string `json:"warnings"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := s.verifier.Verify(ctx, bearerToken(r))
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthorized) {
			zap.L().Error("token verification failed", zap.Error(err))
		}
		writeError(w, errUnauthorized)
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalidRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, errInvalidRequest)
		return
	}

	summary, err := s.analyzer.Analyze(ctx, analysis.Request{
		InvoiceID: req.InvoiceID,
		ReceiptID: req.ReceiptID,
		UserID:    userID,
	})
	if err != nil {
		writeError(w, userErrorString(err))
		return
	}

	result := summary.Result
	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, analyzeResponse{
		Success:               true,
		BillReviewID:          summary.BillReviewID,
		Metadata:              result.Metadata,
		TotalPotentialSavings: result.TotalPotentialSavings,
		ErrorsFound:           len(result.Errors),
		ConfidenceScore:       result.ConfidenceScore,
		Warnings:              warnings,
	})
}

// userErrorString maps pipeline failures to the advisory strings the client
// shows. Anything uncategorized (persistence failures) surfaces its own
// message.
func userErrorString(err error) string {
	switch {
	case errors.Is(err, store.ErrReceiptNotFound):
		return errReceiptMissing
	case errors.Is(err, analysis.ErrDownloadFailed):
		return errDownloadFailed
	case errors.Is(err, anthropic.ErrRateLimited):
		return errRateLimited
	case errors.Is(err, anthropic.ErrQuotaExhausted):
		return errQuotaExhausted
	case errors.Is(err, anthropic.ErrUnavailable):
		return errUnavailable
	case errors.Is(err, analysis.ErrParse):
		return errParseFailed
	default:
		return err.Error()
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

// writeError sends the single failure shape used for every caught error.
func writeError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}

// requestLogger logs one line per request with latency and status.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
