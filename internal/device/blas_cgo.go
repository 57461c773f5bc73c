//go:build cgo && netlib

package device

// This file registers the netlib BLAS implementation which uses system BLAS
// (Accelerate on macOS, OpenBLAS on Linux). Build with -tags netlib.

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	// Register netlib BLAS for complex128 operations (zgemv, zdotc, ...)
	cblas128.Use(netlib.Implementation{})
	log.Debug().Msg("CGO/BLAS acceleration enabled (netlib)")
}
