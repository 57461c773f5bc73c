package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-linop/internal/linop"
	"github.com/23skdu/longbow-linop/internal/vecio"
)

// Apply modes carried in the flight descriptor command.
const (
	ModeForward = "forward"
	ModeAdjoint = "adjoint"
)

// ActionDescribe returns the CBOR encoded Description of the served
// operator.
const ActionDescribe = "describe"

// Description is what a remote operator reports about itself.
type Description struct {
	Rows          int    `cbor:"rows"`
	Cols          int    `cbor:"cols"`
	DType         string `cbor:"dtype"`
	ComplexLinear bool   `cbor:"complex_linear"`
}

// Describe builds the Description of op.
func Describe(op linop.Operator) Description {
	r, c := op.Shape()
	return Description{Rows: r, Cols: c, DType: op.DType().String(), ComplexLinear: linop.IsComplexLinear(op)}
}

// FlightClient applies an operator served by a FlightService.
type FlightClient struct {
	client flight.Client
	conn   *grpc.ClientConn
	mem    memory.Allocator
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	client := flight.NewClientFromConn(conn, nil)
	return &FlightClient{
		client: client,
		conn:   conn,
		mem:    memory.NewGoAllocator(),
	}, nil
}

// Describe asks the server for the shape and element type of its operator.
func (c *FlightClient) Describe(ctx context.Context) (Description, error) {
	stream, err := c.client.DoAction(ctx, &flight.Action{Type: ActionDescribe})
	if err != nil {
		return Description{}, fromStatus(err)
	}
	res, err := stream.Recv()
	if err != nil {
		return Description{}, fromStatus(err)
	}
	var d Description
	if err := cbor.Unmarshal(res.Body, &d); err != nil {
		return Description{}, fmt.Errorf("decode description: %w", err)
	}
	// Drain so the server side completes cleanly.
	for {
		if _, err := stream.Recv(); err != nil {
			if !errors.Is(err, io.EOF) {
				return Description{}, fromStatus(err)
			}
			break
		}
	}
	return d, nil
}

// Apply sends v to the server in one DoExchange call and returns the result
// of applying the remote operator in the given mode.
func (c *FlightClient) Apply(ctx context.Context, mode string, v []complex128) ([]complex128, error) {
	rec, err := vecio.NewRecordBuilder(c.mem).Build(v, nil)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	stream, err := c.client.DoExchange(ctx)
	if err != nil {
		return nil, fromStatus(err)
	}

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(c.mem))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorCMD,
		Cmd:  []byte(mode),
	})
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return nil, fromStatus(err)
	}
	if err := writer.Close(); err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, fromStatus(err)
	}
	defer reader.Release()

	out, _, err := vecio.ReadRecords(reader.Reader)
	if err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}

// fromStatus maps gRPC status codes back to the package sentinels. Only
// rejections carrying a known reason become caller errors; any other
// InvalidArgument means the exchange itself was broken.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		switch rejectionReason(st) {
		case ReasonShapeMismatch:
			return fmt.Errorf("%w: remote: %s", linop.ErrShapeMismatch, st.Message())
		case ReasonUnknownMode:
			return fmt.Errorf("%w: remote: %s", ErrUnknownMode, st.Message())
		}
		return fmt.Errorf("%w: %s", ErrBadExchange, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	}
	return err
}

func rejectionReason(st *status.Status) string {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return info.GetReason()
		}
	}
	return ""
}
