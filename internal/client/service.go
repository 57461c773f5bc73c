package client

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-linop/internal/linop"
	"github.com/23skdu/longbow-linop/internal/vecio"
)

// Rejection reasons sent with InvalidArgument statuses as an ErrorInfo
// detail in the "linop" domain.
const (
	ReasonShapeMismatch = "SHAPE_MISMATCH"
	ReasonUnknownMode   = "UNKNOWN_MODE"
	ReasonMalformed     = "MALFORMED_VECTOR"

	errorDomain = "linop"
)

func rejection(reason, msg string) error {
	st := status.New(codes.InvalidArgument, msg)
	if detailed, err := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: errorDomain}); err == nil {
		st = detailed
	}
	return st.Err()
}

// FlightService serves one operator over Arrow Flight. DoExchange applies
// it to the vector streamed by the client, in the mode named by the flight
// descriptor command; DoAction "describe" reports its shape.
type FlightService struct {
	flight.BaseFlightServer
	op    linop.Operator
	alloc memory.Allocator
}

func NewFlightService(op linop.Operator) *FlightService {
	return &FlightService{
		op:    op,
		alloc: memory.NewGoAllocator(),
	}
}

func (s *FlightService) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	if action.Type != ActionDescribe {
		return status.Errorf(codes.Unimplemented, "unknown action %q", action.Type)
	}
	body, err := cbor.Marshal(Describe(s.op))
	if err != nil {
		return status.Errorf(codes.Internal, "encode description: %v", err)
	}
	return stream.Send(&flight.Result{Body: body})
}

func (s *FlightService) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return rejection(ReasonMalformed, fmt.Sprintf("open stream: %v", err))
	}
	defer reader.Release()

	mode := ""
	if desc := reader.LatestFlightDescriptor(); desc != nil {
		mode = string(desc.Cmd)
	}
	in, _, err := vecio.ReadRecords(reader.Reader)
	if err != nil {
		return rejection(ReasonMalformed, fmt.Sprintf("read vector: %v", err))
	}

	out, err := s.apply(mode, in)
	if err != nil {
		exchangesTotal.WithLabelValues(mode, "failed").Inc()
		log.Error().Err(err).Str("mode", mode).Msg("Flight apply failed")
		switch {
		case errors.Is(err, linop.ErrShapeMismatch):
			return rejection(ReasonShapeMismatch, err.Error())
		case errors.Is(err, ErrUnknownMode):
			return rejection(ReasonUnknownMode, err.Error())
		}
		return status.Error(codes.Internal, err.Error())
	}

	rec, err := vecio.NewRecordBuilder(s.alloc).Build(out, nil)
	if err != nil {
		return status.Errorf(codes.Internal, "build result: %v", err)
	}
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(s.alloc))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	exchangesTotal.WithLabelValues(mode, "ok").Inc()
	return writer.Close()
}

func (s *FlightService) apply(mode string, in []complex128) ([]complex128, error) {
	switch mode {
	case ModeForward:
		return s.op.Forward(in)
	case ModeAdjoint:
		return s.op.Adjoint(in)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// NewFlightServer registers svc on a new Flight server listening on addr.
// The caller runs Serve and Shutdown.
func NewFlightServer(addr string, svc *FlightService) (flight.Server, error) {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(svc)
	if err := server.Init(addr); err != nil {
		return nil, fmt.Errorf("init flight server: %w", err)
	}
	return server, nil
}
