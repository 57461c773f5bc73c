// Package client connects operators across processes over Arrow Flight.
// A FlightService serves a local operator; Operator is a linop.Operator
// whose applications run on such a service, guarded by a circuit breaker.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/23skdu/longbow-linop/internal/linop"
)

var (
	ErrCircuitOpen = errors.New("client: circuit open")
	ErrUnavailable = errors.New("client: remote unavailable")
	ErrUnknownMode = errors.New("client: unknown apply mode")
	ErrBadExchange = errors.New("client: malformed exchange")
)

// Remote is the transport used by Operator. FlightClient implements it.
type Remote interface {
	Describe(ctx context.Context) (Description, error)
	Apply(ctx context.Context, mode string, v []complex128) ([]complex128, error)
}

var _ linop.Operator = (*Operator)(nil)

// Operator is a block whose forward and adjoint run remotely. Shape and
// element type are fetched once at construction.
type Operator struct {
	remote  Remote
	desc    Description
	dtype   linop.DType
	timeout time.Duration
	breaker *CircuitBreaker
}

// OperatorOption configures an Operator.
type OperatorOption func(*Operator)

// WithTimeout bounds each remote application. Defaults to 30s.
func WithTimeout(d time.Duration) OperatorOption {
	return func(o *Operator) { o.timeout = d }
}

// WithBreaker replaces the default breaker (5 failures, 10s).
func WithBreaker(cb *CircuitBreaker) OperatorOption {
	return func(o *Operator) { o.breaker = cb }
}

// NewOperator describes the remote operator and wraps it.
func NewOperator(ctx context.Context, remote Remote, opts ...OperatorOption) (*Operator, error) {
	o := &Operator{
		remote:  remote,
		timeout: 30 * time.Second,
		breaker: NewCircuitBreaker(5, 10*time.Second),
	}
	for _, opt := range opts {
		opt(o)
	}
	desc, err := remote.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe remote operator: %w", err)
	}
	if desc.Rows < 0 || desc.Cols < 0 {
		return nil, fmt.Errorf("%w: remote reports (%d, %d)", linop.ErrInvalidShape, desc.Rows, desc.Cols)
	}
	dtype, err := linop.ParseDType(desc.DType)
	if err != nil {
		return nil, fmt.Errorf("%w: remote dtype: %v", linop.ErrInvalidBlock, err)
	}
	o.desc = desc
	o.dtype = dtype
	return o, nil
}

func (o *Operator) Shape() (int, int)        { return o.desc.Rows, o.desc.Cols }
func (o *Operator) DType() linop.DType       { return o.dtype }
func (o *Operator) Explicit() bool           { return false }
func (o *Operator) ComplexLinear() bool      { return o.desc.ComplexLinear }
func (o *Operator) Breaker() *CircuitBreaker { return o.breaker }

func (o *Operator) Forward(x []complex128) ([]complex128, error) {
	return o.call(ModeForward, x, o.desc.Cols, o.desc.Rows)
}

func (o *Operator) Adjoint(y []complex128) ([]complex128, error) {
	return o.call(ModeAdjoint, y, o.desc.Rows, o.desc.Cols)
}

func (o *Operator) call(mode string, in []complex128, inLen, outLen int) ([]complex128, error) {
	if len(in) != inLen {
		return nil, fmt.Errorf("%w: %s input has length %d, want %d", linop.ErrShapeMismatch, mode, len(in), inLen)
	}
	if !o.breaker.Allow() {
		remoteRequests.WithLabelValues(mode, "rejected").Inc()
		return nil, ErrCircuitOpen
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	start := time.Now()
	out, err := o.remote.Apply(ctx, mode, in)
	remoteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// Caller errors do not count against the breaker.
		if errors.Is(err, linop.ErrShapeMismatch) || errors.Is(err, ErrUnknownMode) {
			o.breaker.Success()
		} else {
			o.breaker.Failure()
		}
		remoteRequests.WithLabelValues(mode, "failed").Inc()
		return nil, fmt.Errorf("remote %s: %w", mode, err)
	}
	o.breaker.Success()
	if len(out) != outLen {
		remoteRequests.WithLabelValues(mode, "failed").Inc()
		return nil, fmt.Errorf("%w: remote %s returned %d values, want %d", linop.ErrShapeMismatch, mode, len(out), outLen)
	}
	remoteRequests.WithLabelValues(mode, "ok").Inc()
	return out, nil
}
