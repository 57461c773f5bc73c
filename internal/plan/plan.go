// Package plan builds block lists for a BlockDiag from a compact text form.
//
// A plan is a comma separated list of blocks. Each block is a kind, a shape
// and optional colon separated settings:
//
//	dense:3x2                     random real 3x2 matrix
//	cdense:4x4                    random complex 4x4 matrix
//	deriv2:16:edge                second derivative of length 16
//	deriv2:4x5:dir=-1:dx=0.5      second derivative along the last of 4x5
//	fft2d:8x8:real:nfft=8x16      2-D Fourier transform of an 8x8 array
//	fft2d:2x4x6:dirs=0x2          2-D transform over axes 0 and 2
//
// deriv2 and fft2d accept dtype=<name> to set their element type.
package plan

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-linop/internal/device"
	"github.com/23skdu/longbow-linop/internal/linop"
)

var ErrSyntax = errors.New("plan: syntax error")

// MaxElements bounds the number of entries of a single block: matrix
// entries for dense blocks, array samples for deriv2 and fft2d (padded
// samples when nfft is set).
const MaxElements = 1 << 24

// Parse builds the blocks described by s. Matrix entries are drawn from r
// as standard normal values, so a fixed seed gives a reproducible operator.
func Parse(s string, r *rand.Rand, backend device.Backend) ([]linop.Block, error) {
	if r == nil {
		r = rand.New(rand.NewPCG(0, 0))
	}
	if backend == nil {
		backend = device.Default()
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty plan", ErrSyntax)
	}

	var blocks []linop.Block
	for i, item := range strings.Split(s, ",") {
		b, err := parseBlock(strings.TrimSpace(item), r, backend)
		if err != nil {
			return nil, fmt.Errorf("block %d (%q): %w", i, item, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func parseBlock(item string, r *rand.Rand, backend device.Backend) (linop.Block, error) {
	parts := strings.Split(item, ":")
	if len(parts) < 2 {
		return linop.Block{}, fmt.Errorf("%w: want kind:shape", ErrSyntax)
	}
	kind := strings.ToLower(parts[0])
	dims, err := parseInts(parts[1])
	if err != nil {
		return linop.Block{}, err
	}
	settings, err := parseSettings(parts[2:])
	if err != nil {
		return linop.Block{}, err
	}

	switch kind {
	case "dense", "cdense":
		if len(dims) != 2 {
			return linop.Block{}, fmt.Errorf("%w: %s needs RxC", ErrSyntax, kind)
		}
		if err := settings.only(); err != nil {
			return linop.Block{}, err
		}
		if dims[0] < 1 || dims[1] < 1 {
			return linop.Block{}, fmt.Errorf("%w: %s shape must be positive", ErrSyntax, kind)
		}
		if err := checkElements(dims...); err != nil {
			return linop.Block{}, err
		}
		if kind == "dense" {
			return linop.Matrix(randomDense(r, dims[0], dims[1])), nil
		}
		return linop.CMatrix(randomCDense(r, dims[0], dims[1])), nil

	case "deriv2":
		return deriv2(dims, settings, backend)

	case "fft2d":
		return fft2d(dims, settings, backend)
	}
	return linop.Block{}, fmt.Errorf("%w: unknown block kind %q", ErrSyntax, kind)
}

func deriv2(dims []int, s settings, backend device.Backend) (linop.Block, error) {
	if err := s.only("edge", "dir", "dx", "dtype"); err != nil {
		return linop.Block{}, err
	}
	if err := checkElements(dims...); err != nil {
		return linop.Block{}, err
	}
	n := 1
	for _, v := range dims {
		n *= v
	}
	opts := []linop.DerivativeOption{
		linop.WithDims(dims...),
		linop.WithDerivativeBackend(backend),
	}
	if s.flag("edge") {
		opts = append(opts, linop.WithEdge(true))
	}
	if v, ok := s["dir"]; ok {
		dir, err := strconv.Atoi(v)
		if err != nil {
			return linop.Block{}, fmt.Errorf("%w: dir: %v", ErrSyntax, err)
		}
		opts = append(opts, linop.WithDir(dir))
	}
	if v, ok := s["dx"]; ok {
		dx, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return linop.Block{}, fmt.Errorf("%w: dx: %v", ErrSyntax, err)
		}
		opts = append(opts, linop.WithSampling(dx))
	}
	if v, ok := s["dtype"]; ok {
		d, err := linop.ParseDType(v)
		if err != nil {
			return linop.Block{}, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		opts = append(opts, linop.WithDerivativeDType(d))
	}
	op, err := linop.NewSecondDerivative(n, opts...)
	if err != nil {
		return linop.Block{}, err
	}
	return linop.Op(op), nil
}

func fft2d(dims []int, s settings, backend device.Backend) (linop.Block, error) {
	if err := s.only("real", "nfft", "dirs", "dx", "dtype"); err != nil {
		return linop.Block{}, err
	}
	if err := checkElements(dims...); err != nil {
		return linop.Block{}, err
	}
	opts := []linop.FFTOption{
		linop.WithFFTBackend(backend),
		linop.WithReal(s.flag("real")),
	}
	dirs := [2]int{0, 1}
	if v, ok := s["dirs"]; ok {
		d, err := parsePair(v)
		if err != nil {
			return linop.Block{}, err
		}
		dirs = d
		opts = append(opts, linop.WithDirs(d[0], d[1]))
	}
	if v, ok := s["nfft"]; ok {
		n, err := parsePair(v)
		if err != nil {
			return linop.Block{}, err
		}
		if err := checkElements(paddedDims(dims, dirs, n)...); err != nil {
			return linop.Block{}, err
		}
		opts = append(opts, linop.WithNFFT(n[0], n[1]))
	}
	if v, ok := s["dx"]; ok {
		dx, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return linop.Block{}, fmt.Errorf("%w: dx: %v", ErrSyntax, err)
		}
		opts = append(opts, linop.WithFFTSampling(dx, dx))
	}
	if v, ok := s["dtype"]; ok {
		d, err := linop.ParseDType(v)
		if err != nil {
			return linop.Block{}, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		opts = append(opts, linop.WithFFTDType(d))
	}
	op, err := linop.NewFFT2D(dims, opts...)
	if err != nil {
		return linop.Block{}, err
	}
	return linop.Op(op), nil
}

// checkElements rejects shapes whose element count exceeds MaxElements.
func checkElements(dims ...int) error {
	n := 1
	for _, v := range dims {
		if v > 0 && n > MaxElements/v {
			return fmt.Errorf("%w: shape %v exceeds %d elements", ErrSyntax, dims, MaxElements)
		}
		n *= v
	}
	return nil
}

// paddedDims returns dims with the transformed axes replaced by their
// nfft lengths. Axes out of range are left for NewFFT2D to reject.
func paddedDims(dims []int, dirs, nfft [2]int) []int {
	out := append([]int(nil), dims...)
	for i, d := range dirs {
		if d < 0 {
			d += len(out)
		}
		if d >= 0 && d < len(out) && nfft[i] > out[d] {
			out[d] = nfft[i]
		}
	}
	return out
}

// settings maps setting names to values; bare flags map to "".
type settings map[string]string

func parseSettings(parts []string) (settings, error) {
	s := make(settings, len(parts))
	for _, p := range parts {
		k, v, _ := strings.Cut(p, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			return nil, fmt.Errorf("%w: empty setting", ErrSyntax)
		}
		if _, dup := s[k]; dup {
			return nil, fmt.Errorf("%w: duplicate setting %q", ErrSyntax, k)
		}
		s[k] = strings.TrimSpace(v)
	}
	return s, nil
}

func (s settings) flag(name string) bool {
	_, ok := s[name]
	return ok
}

// only rejects settings that are not in allowed.
func (s settings) only(allowed ...string) error {
	for k := range s {
		found := false
		for _, a := range allowed {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: unknown setting %q", ErrSyntax, k)
		}
	}
	return nil
}

// parseInts parses an "AxBxC" list.
func parseInts(s string) ([]int, error) {
	fields := strings.Split(strings.ToLower(s), "x")
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("%w: bad size %q", ErrSyntax, s)
		}
		out[i] = v
	}
	return out, nil
}

func parsePair(s string) ([2]int, error) {
	v, err := parseInts(s)
	if err != nil {
		return [2]int{}, err
	}
	if len(v) != 2 {
		return [2]int{}, fmt.Errorf("%w: want two values, got %q", ErrSyntax, s)
	}
	return [2]int{v[0], v[1]}, nil
}

func randomDense(r *rand.Rand, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = r.NormFloat64()
	}
	return mat.NewDense(rows, cols, data)
}

func randomCDense(r *rand.Rand, rows, cols int) *mat.CDense {
	data := make([]complex128, rows*cols)
	for i := range data {
		data[i] = complex(r.NormFloat64(), r.NormFloat64())
	}
	return mat.NewCDense(rows, cols, data)
}
