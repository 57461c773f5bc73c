//go:build ignore

// verify_flight connects to a running `linop -flight` server and checks that
// the served operator passes the dot test over the wire.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-linop/internal/client"
	"github.com/23skdu/longbow-linop/internal/linop"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to linop Flight server")

	fc, err := client.NewFlightClient(addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client")
	}
	defer fc.Close()

	// Retry describe loop
	var op *client.Operator
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		op, err = client.NewOperator(ctx, fc)
		cancel()
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Describe failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to describe after retries")
	}

	rows, cols := op.Shape()
	log.Info().Int("rows", rows).Int("cols", cols).Str("dtype", op.DType().String()).Msg("Remote operator")

	start := time.Now()
	res, err := linop.DotTest(op, linop.DotTestConfig{Complex: linop.ComplexBoth})
	if err != nil {
		log.Fatal().Err(err).Float64("error", res.Err).Float64("tolerance", res.Tol).Msg("Dot test failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Float64("error", res.Err).Msg("Dot test passed")

	fmt.Println("VERIFICATION PASSED")
}
