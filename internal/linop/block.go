package linop

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-linop/internal/device"
)

type blockKind int

const (
	blockNone blockKind = iota
	blockOperator
	blockMatrix
	blockCMatrix
)

// Block is one diagonal entry of a BlockDiag: either an Operator or a raw
// matrix that is wrapped into a MatrixMult when the composite is built.
type Block struct {
	kind blockKind
	op   Operator
	m    mat.Matrix
	cm   mat.CMatrix
}

// Op uses an existing operator as a block.
func Op(op Operator) Block {
	return Block{kind: blockOperator, op: op}
}

// Matrix uses a real matrix as a block; it becomes a Float64 MatrixMult.
func Matrix(m mat.Matrix) Block {
	return Block{kind: blockMatrix, m: m}
}

// CMatrix uses a complex matrix as a block; it becomes a Complex128
// MatrixMult.
func CMatrix(m mat.CMatrix) Block {
	return Block{kind: blockCMatrix, cm: m}
}

// Ops turns a list of operators into blocks.
func Ops(ops ...Operator) []Block {
	blocks := make([]Block, len(ops))
	for i, op := range ops {
		blocks[i] = Op(op)
	}
	return blocks
}

func (b Block) adapt(backend device.Backend) (Operator, error) {
	switch b.kind {
	case blockOperator:
		if b.op == nil {
			return nil, fmt.Errorf("%w: nil operator", ErrInvalidBlock)
		}
		r, c := b.op.Shape()
		if err := checkShape(r, c); err != nil {
			return nil, err
		}
		return b.op, nil
	case blockMatrix:
		return NewMatrixMult(b.m, Float64, backend)
	case blockCMatrix:
		return NewCMatrixMult(b.cm, Complex128, backend)
	}
	return nil, fmt.Errorf("%w: empty block", ErrInvalidBlock)
}
