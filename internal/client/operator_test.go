package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-linop/internal/linop"
)

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) Describe(ctx context.Context) (Description, error) {
	args := m.Called(ctx)
	return args.Get(0).(Description), args.Error(1)
}

func (m *mockRemote) Apply(ctx context.Context, mode string, v []complex128) ([]complex128, error) {
	args := m.Called(ctx, mode, v)
	out, _ := args.Get(0).([]complex128)
	return out, args.Error(1)
}

func newMockOperator(t *testing.T, opts ...OperatorOption) (*Operator, *mockRemote) {
	t.Helper()
	mr := &mockRemote{}
	mr.On("Describe", mock.Anything).Return(Description{Rows: 2, Cols: 3, DType: "complex64", ComplexLinear: true}, nil).Once()
	op, err := NewOperator(context.Background(), mr, opts...)
	require.NoError(t, err)
	return op, mr
}

func TestOperator_Describe(t *testing.T) {
	op, mr := newMockOperator(t)
	r, c := op.Shape()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, linop.Complex64, op.DType())
	assert.True(t, linop.IsComplexLinear(op))
	assert.False(t, op.Explicit())
	mr.AssertExpectations(t)
}

func TestOperator_DescribeErrors(t *testing.T) {
	mr := &mockRemote{}
	mr.On("Describe", mock.Anything).Return(Description{}, errors.New("dial failed")).Once()
	_, err := NewOperator(context.Background(), mr)
	assert.ErrorContains(t, err, "dial failed")

	mr = &mockRemote{}
	mr.On("Describe", mock.Anything).Return(Description{Rows: 1, Cols: 1, DType: "int8"}, nil).Once()
	_, err = NewOperator(context.Background(), mr)
	assert.ErrorIs(t, err, linop.ErrInvalidBlock)

	mr = &mockRemote{}
	mr.On("Describe", mock.Anything).Return(Description{Rows: -1, Cols: 1, DType: "float64"}, nil).Once()
	_, err = NewOperator(context.Background(), mr)
	assert.ErrorIs(t, err, linop.ErrInvalidShape)
}

func TestOperator_Apply(t *testing.T) {
	op, mr := newMockOperator(t)
	x := []complex128{1, 2, 3}
	mr.On("Apply", mock.Anything, ModeForward, x).Return([]complex128{6, 0}, nil).Once()
	mr.On("Apply", mock.Anything, ModeAdjoint, []complex128{1, 1}).Return([]complex128{1, 1, 1}, nil).Once()

	y, err := op.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []complex128{6, 0}, y)

	back, err := op.Adjoint([]complex128{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []complex128{1, 1, 1}, back)

	// Checked locally, never sent.
	_, err = op.Forward([]complex128{1})
	assert.ErrorIs(t, err, linop.ErrShapeMismatch)
	mr.AssertExpectations(t)
}

func TestOperator_WrongResultLength(t *testing.T) {
	op, mr := newMockOperator(t)
	mr.On("Apply", mock.Anything, ModeForward, mock.Anything).Return([]complex128{1, 2, 3}, nil).Once()

	_, err := op.Forward([]complex128{1, 2, 3})
	assert.ErrorIs(t, err, linop.ErrShapeMismatch)
}

func TestOperator_BreakerOpens(t *testing.T) {
	op, mr := newMockOperator(t, WithBreaker(NewCircuitBreaker(2, time.Hour)), WithTimeout(time.Second))
	mr.On("Apply", mock.Anything, ModeForward, mock.Anything).Return(nil, ErrUnavailable).Twice()

	x := []complex128{1, 2, 3}
	for i := 0; i < 2; i++ {
		_, err := op.Forward(x)
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, StateOpen, op.Breaker().State())

	_, err := op.Forward(x)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	mr.AssertExpectations(t)
}

func TestOperator_ShapeRejectionKeepsBreakerClosed(t *testing.T) {
	op, mr := newMockOperator(t, WithBreaker(NewCircuitBreaker(1, time.Hour)))
	mr.On("Apply", mock.Anything, ModeAdjoint, mock.Anything).Return(nil, linop.ErrShapeMismatch).Once()

	_, err := op.Adjoint([]complex128{1, 2})
	assert.ErrorIs(t, err, linop.ErrShapeMismatch)
	assert.Equal(t, StateClosed, op.Breaker().State())
}

func TestOperator_BadExchangeCountsAgainstBreaker(t *testing.T) {
	op, mr := newMockOperator(t, WithBreaker(NewCircuitBreaker(1, time.Hour)))
	mr.On("Apply", mock.Anything, ModeForward, mock.Anything).Return(nil, ErrBadExchange).Once()

	_, err := op.Forward([]complex128{1, 2, 3})
	assert.ErrorIs(t, err, ErrBadExchange)
	assert.NotErrorIs(t, err, linop.ErrShapeMismatch)
	assert.Equal(t, StateOpen, op.Breaker().State())
	mr.AssertExpectations(t)
}

func TestOperator_UnknownModeKeepsBreakerClosed(t *testing.T) {
	op, mr := newMockOperator(t, WithBreaker(NewCircuitBreaker(1, time.Hour)))
	mr.On("Apply", mock.Anything, ModeForward, mock.Anything).Return(nil, ErrUnknownMode).Once()

	_, err := op.Forward([]complex128{1, 2, 3})
	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.Equal(t, StateClosed, op.Breaker().State())
}
