package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"corebridge/ack"
	"corebridge/event"
	"corebridge/logging"
	"corebridge/mailbox"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20

// Bridge is the set of operations the HTTP layer exposes.
type Bridge interface {
	Receive(ctx context.Context, credential string, body []byte) (event.Event, error)
	List(ctx context.Context, credential, status string) ([]event.Event, error)
	Poll(ctx context.Context, credential string) ([]mailbox.Message, error)
	Acknowledge(ctx context.Context, credential, eventID string, body []byte) (ack.Result, string, error)
}

// Counter reports a row count for diagnostics.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// StorageInfo describes the storage selection made at startup.
type StorageInfo struct {
	ConfiguredType string
	EffectiveMode  string
	// Durable is nil when no database is connected.
	Durable Counter
	Active  Counter
}

type Server struct {
	bridge       Bridge
	storage      StorageInfo
	adminKeyHash []byte
	logger       *zap.Logger
}

func NewServer(bridge Bridge, storage StorageInfo, adminKeyHash string, logger *zap.Logger) *Server {
	var hash []byte
	if adminKeyHash != "" {
		hash = []byte(adminKeyHash)
	}
	return &Server{
		bridge:       bridge,
		storage:      storage,
		adminKeyHash: hash,
		logger:       logging.OrNop(logger).Named("http"),
	}
}

// Routes wires the HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/events", func(r chi.Router) {
		r.Post("/", s.handleReceive)
		r.Get("/", s.handleList)
		r.Get("/poll", s.handlePoll)
		r.Post("/{id}/ack", s.handleAck)
		r.Put("/{id}/ack", s.handleAck)
	})

	r.Get("/_debug/stats", s.handleStats)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}
