package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-linop/internal/client"
	"github.com/23skdu/longbow-linop/internal/linop"
	"github.com/23skdu/longbow-linop/internal/vecio"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linop_requests_total",
		Help: "HTTP requests handled, by handler and status code",
	}, []string{"handler", "code"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linop_request_duration_seconds",
		Help:    "Time spent processing apply requests",
		Buckets: prometheus.DefBuckets,
	})
)

const arrowStreamType = "application/vnd.apache.arrow.stream"

// ApplyRequest is the CBOR body of POST /apply. Im may be omitted for real
// input.
type ApplyRequest struct {
	Mode string    `cbor:"mode"`
	Re   []float64 `cbor:"re"`
	Im   []float64 `cbor:"im,omitempty"`
}

// ApplyResponse is the CBOR body returned by /apply. Offsets are the block
// boundaries of the result.
type ApplyResponse struct {
	Re      []float64 `cbor:"re"`
	Im      []float64 `cbor:"im"`
	Offsets []int     `cbor:"offsets"`
}

type Server struct {
	op    *guardedOperator
	alloc memory.Allocator
	sem   *semaphore.Weighted
}

func NewServer(op *guardedOperator, maxConcurrent int) *Server {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Server{
		op:    op,
		alloc: memory.NewGoAllocator(),
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/apply", s.handleApply)
	mux.HandleFunc("/apply/arrow", s.handleApplyArrow)
	mux.HandleFunc("/parallelism", s.handleParallelism)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, op *guardedOperator, maxConcurrent int) {
	srv := NewServer(op, maxConcurrent)

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "linop_blockdiag_parallelism",
			Help: "Current number of workers of the served operator",
		},
		func() float64 { return float64(op.Parallelism()) },
	))

	rows, cols := op.Shape()
	log.Info().Str("addr", addr).Int("rows", rows).Int("cols", cols).Msg("Starting linop HTTP server")
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("linop-server")

func parseMode(mode string) (adjoint bool, err error) {
	switch mode {
	case "", client.ModeForward:
		return false, nil
	case client.ModeAdjoint:
		return true, nil
	}
	return false, fmt.Errorf("%w: %q", client.ErrUnknownMode, mode)
}

func (s *Server) apply(adjoint bool, in []complex128) ([]complex128, error) {
	if adjoint {
		return s.op.Adjoint(in)
	}
	return s.op.Forward(in)
}

// applyStatus maps an apply error to an HTTP status code.
func applyStatus(err error) int {
	switch {
	case errors.Is(err, linop.ErrShapeMismatch), errors.Is(err, client.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, client.ErrCircuitOpen), errors.Is(err, client.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, client.ErrBadExchange):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, handler string, code int, msg string) {
	requestsTotal.WithLabelValues(handler, strconv.Itoa(code)).Inc()
	http.Error(w, msg, code)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleApply")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		s.fail(w, "apply", http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ApplyRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		s.fail(w, "apply", http.StatusBadRequest, fmt.Sprintf("Bad Request (CBOR decode): %v", err))
		return
	}
	adjoint, err := parseMode(req.Mode)
	if err != nil {
		s.fail(w, "apply", http.StatusBadRequest, err.Error())
		return
	}
	if req.Im != nil && len(req.Im) != len(req.Re) {
		s.fail(w, "apply", http.StatusBadRequest, "re and im lengths differ")
		return
	}
	in := make([]complex128, len(req.Re))
	for i, re := range req.Re {
		in[i] = complex(re, 0)
		if req.Im != nil {
			in[i] += complex(0, req.Im[i])
		}
	}
	span.SetAttributes(attribute.Int("input_len", len(in)), attribute.Bool("adjoint", adjoint))

	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		s.fail(w, "apply", http.StatusServiceUnavailable, "Server busy")
		return
	}
	out, err := s.apply(adjoint, in)
	s.sem.Release(1)
	if err != nil {
		span.RecordError(err)
		s.fail(w, "apply", applyStatus(err), err.Error())
		return
	}

	resp := ApplyResponse{
		Re:      make([]float64, len(out)),
		Im:      make([]float64, len(out)),
		Offsets: s.op.offsets(adjoint),
	}
	for i, v := range out {
		resp.Re[i], resp.Im[i] = real(v), imag(v)
	}
	body, err := cbor.Marshal(resp)
	if err != nil {
		s.fail(w, "apply", http.StatusInternalServerError, err.Error())
		return
	}
	requestsTotal.WithLabelValues("apply", "200").Inc()
	w.Header().Set("Content-Type", "application/cbor")
	_, _ = w.Write(body)
}

// handleApplyArrow takes the input vector as an Arrow IPC stream and
// answers with the result in the same format. The mode is a query
// parameter.
func (s *Server) handleApplyArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleApplyArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		s.fail(w, "apply_arrow", http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	adjoint, err := parseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.fail(w, "apply_arrow", http.StatusBadRequest, err.Error())
		return
	}

	in, _, err := vecio.Read(r.Body, s.alloc)
	if err != nil {
		span.RecordError(err)
		s.fail(w, "apply_arrow", http.StatusBadRequest, fmt.Sprintf("Failed to read Arrow stream: %v", err))
		return
	}
	span.SetAttributes(attribute.Int("input_len", len(in)), attribute.Bool("adjoint", adjoint))

	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore for arrow request")
		s.fail(w, "apply_arrow", http.StatusServiceUnavailable, "Server busy")
		return
	}
	out, err := s.apply(adjoint, in)
	s.sem.Release(1)
	if err != nil {
		span.RecordError(err)
		s.fail(w, "apply_arrow", applyStatus(err), err.Error())
		return
	}

	requestsTotal.WithLabelValues("apply_arrow", "200").Inc()
	w.Header().Set("Content-Type", arrowStreamType)
	if err := vecio.Write(w, out, s.op.offsets(adjoint), s.alloc); err != nil {
		log.Error().Err(err).Msg("Failed to write Arrow response")
	}
}

// handleParallelism reports (GET) or changes (POST, CBOR integer) the
// number of workers.
func (s *Server) handleParallelism(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "handleParallelism")
	defer span.End()

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var n int
		if err := cbor.NewDecoder(r.Body).Decode(&n); err != nil {
			s.fail(w, "parallelism", http.StatusBadRequest, fmt.Sprintf("Bad Request (CBOR decode): %v", err))
			return
		}
		span.SetAttributes(attribute.Int("nproc", n))
		if err := s.op.SetParallelism(n); err != nil {
			span.RecordError(err)
			code := http.StatusInternalServerError
			if errors.Is(err, linop.ErrInvalidParallelism) || errors.Is(err, linop.ErrPoolLifecycle) {
				code = http.StatusBadRequest
			}
			s.fail(w, "parallelism", code, err.Error())
			return
		}
		log.Info().Int("nproc", n).Msg("Parallelism changed")
	default:
		s.fail(w, "parallelism", http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := cbor.Marshal(s.op.Parallelism())
	if err != nil {
		s.fail(w, "parallelism", http.StatusInternalServerError, err.Error())
		return
	}
	requestsTotal.WithLabelValues("parallelism", "200").Inc()
	w.Header().Set("Content-Type", "application/cbor")
	_, _ = w.Write(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
