// This file serves memory usage of the local storage processes, along with
// metrics and runtime log level control.

package memagent

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/couchbase/stellar-slotmap/pkg/metrics"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const DefaultPort = 33333

const unknownMemInfo = "unknown"

// MemInfoSource reports the memory usage of the process listening on port.
type MemInfoSource interface {
	MemInfo(port int) (string, error)
}

type ServerOptions struct {
	Logger   *zap.Logger
	LogLevel *zap.AtomicLevel
	Source   MemInfoSource
	Debug    bool
}

type Server struct {
	logger     *zap.Logger
	logLevel   *zap.AtomicLevel
	source     MemInfoSource
	metrics    *metrics.SlotmapMetrics
	httpServer *http.Server
}

func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	source := opts.Source
	if source == nil {
		source = NewProcFS()
	}

	s := &Server{
		logger:   logger,
		logLevel: opts.LogLevel,
		source:   source,
		metrics:  metrics.GetSlotmapMetrics(),
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
		Debug:          opts.Debug,
	})

	s.httpServer = &http.Server{
		Handler:      c.Handler(otelhttp.NewHandler(s.router(), "memagent")),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/store/mem_info", s.handleMemInfo).Methods(http.MethodGet)
	// path used by older cluster tooling
	r.HandleFunc("/ssdb/mem_info", s.handleMemInfo).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	if s.logLevel != nil {
		r.Handle("/log_level", s.logLevel)
	}
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	return r
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type memInfoJson struct {
	MemInfo string `json:"mem_info"`
}

func (s *Server) handleMemInfo(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(r.URL.Query().Get("port"))
	if err != nil || port <= 0 || port > 65535 {
		s.metrics.MemInfoRequests.Add(r.Context(), 1,
			metric.WithAttributes(attribute.String("result", "invalid")))
		http.Error(w, "invalid port", http.StatusBadRequest)
		return
	}

	result := "found"
	memInfo, err := s.source.MemInfo(port)
	if err != nil {
		s.logger.Debug("failed to find process memory",
			zap.Int("port", port),
			zap.Error(err))
		memInfo = unknownMemInfo
		result = "unknown"
	}

	s.metrics.MemInfoRequests.Add(r.Context(), 1,
		metric.WithAttributes(attribute.String("result", result)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err = json.NewEncoder(w).Encode(memInfoJson{MemInfo: memInfo})
	if err != nil {
		s.logger.Debug("failed to write mem info response", zap.Error(err))
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "url not found", http.StatusNotFound)
}

func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("serving memory agent", zap.String("address", l.Addr().String()))

	err := s.httpServer.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
