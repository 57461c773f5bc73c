package device

// Backend supplies vector storage and the elementwise and BLAS-level
// arithmetic used by operators. Operators receive a Backend at construction
// so the same operator code can run over different array implementations.
//
// All vectors are dense []complex128 with unit stride. Real-valued data is
// carried with a zero imaginary part.
type Backend interface {
	Name() string

	// Zeros allocates a zeroed vector of length n.
	Zeros(n int) []complex128

	// GetVector gets a zeroed scratch vector from the pool or allocates one.
	GetVector(n int) []complex128

	// PutVector returns a scratch vector to the pool.
	PutVector(v []complex128)

	// Slice copies x[lo:hi] into a new vector.
	Slice(x []complex128, lo, hi int) []complex128

	// Concat joins the segments, in order, into a new vector.
	Concat(segs ...[]complex128) []complex128

	// Scale performs: x = alpha * x
	Scale(alpha complex128, x []complex128)

	// Axpy performs: y = y + alpha * x
	Axpy(alpha complex128, x, y []complex128)

	// Dotc returns the conjugated inner product sum(conj(x[i]) * y[i]).
	Dotc(x, y []complex128) complex128

	// Nrm2 returns the Euclidean norm of x.
	Nrm2(x []complex128) float64

	// Gemv performs y = op(A) * x where A is a row-major rows x cols matrix
	// and op is the identity or, when conjTrans is set, the conjugate
	// transpose. y is overwritten.
	Gemv(conjTrans bool, rows, cols int, a, x, y []complex128)
}

// Default returns the backend used when an operator is not given one.
func Default() Backend {
	return defaultBackend
}

var defaultBackend Backend = NewCPUBackend()
