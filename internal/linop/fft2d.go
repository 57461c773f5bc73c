package linop

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/23skdu/longbow-linop/internal/device"
)

var _ Operator = (*FFT2D)(nil)

// FFT2D applies an orthonormal two-dimensional discrete Fourier transform
// along a pair of axes of a row-major N-dimensional array. The adjoint is
// the inverse transform followed by cropping of any zero padding.
//
// In real mode the model is real: the last transformed axis uses a real
// transform that keeps the nfft/2+1 non-negative frequencies, and bins
// 1 .. (nfft-1)/2 are scaled by √2 on the way out and 1/√2 on the way in so
// the adjoint identity holds for the real part of the inner product. The
// Nyquist bin of an even-length transform appears once in the full
// spectrum and is not scaled.
type FFT2D struct {
	dims     []int
	dirs     [2]int
	nffts    [2]int
	sampling [2]float64
	real     bool

	padDims []int // dims with the transformed axes grown to nffts
	fftDims []int // padDims with the real axis cut to nfft/2+1

	rows, cols     int
	rdtype, cdtype DType
	backend        device.Backend

	plans sync.Pool
}

// fftPlans holds transform state that must not be shared between
// concurrent calls.
type fftPlans struct {
	c0    *fourier.CmplxFFT
	c1    *fourier.CmplxFFT
	r1    *fourier.FFT
	line0 []complex128
	line1 []complex128
	half  []complex128
	rline []float64
}

// FFTOption configures an FFT2D.
type FFTOption func(*fftConfig)

type fftConfig struct {
	dirs     [2]int
	nffts    [2]int
	sampling [2]float64
	real     bool
	dtype    DType
	backend  device.Backend
}

// WithDirs selects the pair of axes to transform. Defaults to (0, 1).
func WithDirs(d0, d1 int) FFTOption {
	return func(c *fftConfig) { c.dirs = [2]int{d0, d1} }
}

// WithNFFT sets the transform lengths along the two axes. A value of 0
// keeps the axis length. Lengths shorter than the axis are rejected.
func WithNFFT(n0, n1 int) FFTOption {
	return func(c *fftConfig) { c.nffts = [2]int{n0, n1} }
}

// WithFFTSampling sets the sampling steps along the two axes.
func WithFFTSampling(d0, d1 float64) FFTOption {
	return func(c *fftConfig) { c.sampling = [2]float64{d0, d1} }
}

// WithReal treats the model as real-valued.
func WithReal(real bool) FFTOption {
	return func(c *fftConfig) { c.real = real }
}

// WithFFTDType sets the model element type. The operator type is always the
// complex type of the same precision. Defaults to Complex128.
func WithFFTDType(dtype DType) FFTOption {
	return func(c *fftConfig) { c.dtype = dtype }
}

// WithFFTBackend sets the array backend.
func WithFFTBackend(b device.Backend) FFTOption {
	return func(c *fftConfig) { c.backend = b }
}

// NewFFT2D creates a 2-D Fourier transform over an array with the given
// dimensions (at least two).
func NewFFT2D(dims []int, opts ...FFTOption) (*FFT2D, error) {
	cfg := fftConfig{
		dirs:     [2]int{0, 1},
		sampling: [2]float64{1, 1},
		dtype:    Complex128,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(dims) < 2 {
		return nil, fmt.Errorf("%w: provide at least two dimensions, got %v", ErrInvalidShape, dims)
	}
	for _, v := range dims {
		if v < 1 {
			return nil, fmt.Errorf("%w: dimensions must be positive, got %v", ErrInvalidShape, dims)
		}
	}
	for i := range cfg.dirs {
		if cfg.dirs[i] < 0 {
			cfg.dirs[i] += len(dims)
		}
		if cfg.dirs[i] < 0 || cfg.dirs[i] >= len(dims) {
			return nil, fmt.Errorf("%w: dirs %v out of range for dims %v", ErrInvalidShape, cfg.dirs, dims)
		}
	}
	if cfg.dirs[0] == cfg.dirs[1] {
		return nil, fmt.Errorf("%w: dirs must be distinct, got %v", ErrInvalidShape, cfg.dirs)
	}
	for i, d := range cfg.dirs {
		if cfg.nffts[i] == 0 {
			cfg.nffts[i] = dims[d]
		}
		if cfg.nffts[i] < dims[d] {
			return nil, fmt.Errorf("%w: nfft %d shorter than axis %d of length %d", ErrInvalidShape, cfg.nffts[i], d, dims[d])
		}
		if cfg.sampling[i] == 0 {
			return nil, fmt.Errorf("%w: zero sampling along axis %d", ErrInvalidShape, d)
		}
	}
	if !cfg.dtype.valid() {
		return nil, fmt.Errorf("%w: unknown dtype %v", ErrInvalidShape, cfg.dtype)
	}
	if cfg.backend == nil {
		cfg.backend = device.Default()
	}

	f := &FFT2D{
		dims:     append([]int(nil), dims...),
		dirs:     cfg.dirs,
		nffts:    cfg.nffts,
		sampling: cfg.sampling,
		real:     cfg.real,
		cdtype:   cfg.dtype.Complex(),
		rdtype:   cfg.dtype,
		backend:  cfg.backend,
	}
	if f.real {
		f.rdtype = cfg.dtype.Real()
	}
	f.padDims = append([]int(nil), dims...)
	f.padDims[f.dirs[0]] = f.nffts[0]
	f.padDims[f.dirs[1]] = f.nffts[1]
	f.fftDims = append([]int(nil), f.padDims...)
	if f.real {
		f.fftDims[f.dirs[1]] = f.nffts[1]/2 + 1
	}
	f.rows, f.cols = numel(f.fftDims), numel(f.dims)

	n0, n1 := f.nffts[0], f.nffts[1]
	f.plans.New = func() interface{} {
		p := &fftPlans{
			c0:    fourier.NewCmplxFFT(n0),
			line0: make([]complex128, n0),
		}
		if f.real {
			p.r1 = fourier.NewFFT(n1)
			p.half = make([]complex128, n1/2+1)
			p.rline = make([]float64, n1)
		} else {
			p.c1 = fourier.NewCmplxFFT(n1)
			p.line1 = make([]complex128, n1)
		}
		return p
	}
	return f, nil
}

func (f *FFT2D) Shape() (int, int) { return f.rows, f.cols }
func (f *FFT2D) DType() DType      { return f.cdtype }
func (f *FFT2D) Explicit() bool    { return false }

// ComplexLinear is false in real mode, where the operator is only linear
// over the reals.
func (f *FFT2D) ComplexLinear() bool { return !f.real }

// Real reports whether the operator runs in real mode.
func (f *FFT2D) Real() bool { return f.real }

// Frequencies returns the sample frequencies along the two transformed
// axes, in the order produced by the full transform.
func (f *FFT2D) Frequencies() (f0, f1 []float64) {
	return fftFreq(f.nffts[0], f.sampling[0]), fftFreq(f.nffts[1], f.sampling[1])
}

func fftFreq(n int, d float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		k := i
		if i >= (n+1)/2 {
			k = i - n
		}
		out[i] = float64(k)
	}
	floats.Scale(1/(float64(n)*d), out)
	return out
}

func (f *FFT2D) scale() complex128 {
	return complex(1/math.Sqrt(float64(f.nffts[0]*f.nffts[1])), 0)
}

// scaleHalfSpectrum multiplies bins 1 .. (nfft-1)/2 along the real axis.
func (f *FFT2D) scaleHalfSpectrum(y []complex128, by complex128) {
	last := (f.nffts[1] - 1) / 2
	forEachLine(f.fftDims, f.dirs[1], func(start, stride int) {
		for k := 1; k <= last; k++ {
			y[start+k*stride] *= by
		}
	})
}

// transformAxis runs fn in place over every line of data along axis.
func transformAxis(data []complex128, dims []int, axis int, line []complex128, fn func(line []complex128)) {
	n := dims[axis]
	forEachLine(dims, axis, func(start, stride int) {
		for i := 0; i < n; i++ {
			line[i] = data[start+i*stride]
		}
		fn(line)
		for i := 0; i < n; i++ {
			data[start+i*stride] = line[i]
		}
	})
}

func (f *FFT2D) Forward(x []complex128) ([]complex128, error) {
	if err := checkLen("forward", len(x), f.cols); err != nil {
		return nil, err
	}
	p := f.plans.Get().(*fftPlans)
	defer f.plans.Put(p)

	// In real mode the padded input is scratch; otherwise it is transformed
	// in place and returned.
	var pad []complex128
	if f.real {
		pad = f.backend.GetVector(numel(f.padDims))
		defer f.backend.PutVector(pad)
	} else {
		pad = f.backend.Zeros(numel(f.padDims))
	}
	embedIndex(f.dims, f.padDims, func(si, bi int) { pad[bi] = x[si] })

	var y []complex128
	if f.real {
		y = f.backend.Zeros(f.rows)
		n1, h := f.nffts[1], len(p.half)
		_, _, outStride := axisLines(f.fftDims, f.dirs[1])
		outStarts := make([]int, 0)
		forEachLine(f.fftDims, f.dirs[1], func(start, _ int) { outStarts = append(outStarts, start) })
		line := 0
		forEachLine(f.padDims, f.dirs[1], func(start, stride int) {
			for i := 0; i < n1; i++ {
				p.rline[i] = real(pad[start+i*stride])
			}
			p.r1.Coefficients(p.half, p.rline)
			out := outStarts[line]
			for k := 0; k < h; k++ {
				y[out+k*outStride] = p.half[k]
			}
			line++
		})
	} else {
		y = pad
		transformAxis(y, f.padDims, f.dirs[1], p.line1, func(l []complex128) { p.c1.Coefficients(l, l) })
	}
	transformAxis(y, f.fftDims, f.dirs[0], p.line0, func(l []complex128) { p.c0.Coefficients(l, l) })

	f.backend.Scale(f.scale(), y)
	if f.real {
		f.scaleHalfSpectrum(y, math.Sqrt2)
	}
	f.cdtype.Cast(y)
	return y, nil
}

func (f *FFT2D) Adjoint(y []complex128) ([]complex128, error) {
	if err := checkLen("adjoint", len(y), f.rows); err != nil {
		return nil, err
	}
	p := f.plans.Get().(*fftPlans)
	defer f.plans.Put(p)

	spec := f.backend.GetVector(len(y))
	defer f.backend.PutVector(spec)
	copy(spec, y)
	if f.real {
		f.scaleHalfSpectrum(spec, 1/math.Sqrt2)
	}
	transformAxis(spec, f.fftDims, f.dirs[0], p.line0, func(l []complex128) { p.c0.Sequence(l, l) })

	var pad []complex128
	if f.real {
		pad = f.backend.GetVector(numel(f.padDims))
		defer f.backend.PutVector(pad)
		n1, h := f.nffts[1], len(p.half)
		_, _, padStride := axisLines(f.padDims, f.dirs[1])
		padStarts := make([]int, 0)
		forEachLine(f.padDims, f.dirs[1], func(start, _ int) { padStarts = append(padStarts, start) })
		line := 0
		forEachLine(f.fftDims, f.dirs[1], func(start, stride int) {
			for k := 0; k < h; k++ {
				p.half[k] = spec[start+k*stride]
			}
			p.r1.Sequence(p.rline, p.half)
			out := padStarts[line]
			for i := 0; i < n1; i++ {
				pad[out+i*padStride] = complex(p.rline[i], 0)
			}
			line++
		})
	} else {
		pad = spec
		transformAxis(pad, f.padDims, f.dirs[1], p.line1, func(l []complex128) { p.c1.Sequence(l, l) })
	}

	x := f.backend.Zeros(f.cols)
	embedIndex(f.dims, f.padDims, func(si, bi int) { x[si] = pad[bi] })
	f.backend.Scale(f.scale(), x)
	f.rdtype.Cast(x)
	return x, nil
}
