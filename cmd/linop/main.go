package main

import (
	"context"
	"flag"
	"io"
	"math/rand/v2"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-linop/internal/client"
	"github.com/23skdu/longbow-linop/internal/linop"
	"github.com/23skdu/longbow-linop/internal/plan"
	"github.com/23skdu/longbow-linop/internal/vecio"
)

var (
	blocksPlan    = flag.String("blocks", "dense:3x2,dense:2x3,deriv2:16:edge,fft2d:8x8:real", "Comma separated block plan (see internal/plan)")
	nproc         = flag.Int("nproc", 1, "Number of workers evaluating blocks (1 = serial)")
	dtypeName     = flag.String("dtype", "", "Override the composite element type (float32, float64, complex64, complex128)")
	seed          = flag.Uint64("seed", 1, "Seed for random matrices and vectors")
	mode          = flag.String("mode", "forward", "Apply mode: forward or adjoint")
	dotTest       = flag.Bool("dottest", false, "Run the dot test on the composite and exit")
	complexTest   = flag.Bool("dottest-complex", false, "Use complex vectors in the dot test")
	outPath       = flag.String("out", "", "Write the result as an Arrow IPC stream to this file ('-' for stdout)")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address to serve the composite over Arrow Flight (e.g. :9090)")
	remoteAddrs   = flag.String("remote", "", "Comma separated Flight addresses appended as remote blocks")
	maxConcurrent = flag.Int("max-concurrent", 64, "Maximum number of concurrent apply requests")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", *logLevel).Msg("Unknown log level, using info")
	}

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	bd, err := buildComposite(rng)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build operator")
	}
	defer bd.Close()

	rows, cols := bd.Shape()
	log.Info().
		Int("blocks", len(bd.Blocks())).
		Int("rows", rows).
		Int("cols", cols).
		Str("dtype", bd.DType().String()).
		Int("nproc", bd.Parallelism()).
		Msg("Built block-diagonal operator")

	if *dotTest {
		if err := runDotTest(bd, rng); err != nil {
			bd.Close()
			log.Fatal().Err(err).Msg("Dot test failed")
		}
		return
	}

	// Server Mode
	if *listenAddr != "" || *flightAddr != "" {
		op := newGuardedOperator(bd)
		if *listenAddr != "" {
			go startServer(*listenAddr, op, *maxConcurrent)
		}
		if *flightAddr != "" {
			go StartFlightServer(*flightAddr, op)
		}
		select {}
	}

	adjoint, err := parseMode(*mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid mode")
	}
	inLen, offsets := cols, bd.RowOffsets()
	if adjoint {
		inLen, offsets = rows, bd.ColOffsets()
	}
	in := make([]complex128, inLen)
	for i := range in {
		in[i] = complex(rng.NormFloat64(), 0)
	}

	start := time.Now()
	var out []complex128
	if adjoint {
		out, err = bd.Adjoint(in)
	} else {
		out, err = bd.Forward(in)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Apply failed")
	}
	log.Info().
		Str("mode", *mode).
		Int("len", len(out)).
		Dur("elapsed", time.Since(start)).
		Msg("Applied operator")

	if *outPath != "" {
		var w io.Writer = os.Stdout
		if *outPath != "-" {
			f, err := os.Create(*outPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create output file")
			}
			defer f.Close()
			w = f
		}
		if err := vecio.Write(w, out, offsets, nil); err != nil {
			log.Warn().Err(err).Msg("Failed to write arrow stream")
		}
	}
}

func buildComposite(rng *rand.Rand) (*linop.BlockDiag, error) {
	blocks, err := plan.Parse(*blocksPlan, rng, nil)
	if err != nil {
		return nil, err
	}

	if *remoteAddrs != "" {
		for _, addr := range strings.Split(*remoteAddrs, ",") {
			addr = strings.TrimSpace(addr)
			fc, err := client.NewFlightClient(addr)
			if err != nil {
				return nil, err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			op, err := client.NewOperator(ctx, fc)
			cancel()
			if err != nil {
				_ = fc.Close()
				return nil, err
			}
			r, c := op.Shape()
			log.Info().Str("addr", addr).Int("rows", r).Int("cols", c).Msg("Connected to remote block")
			blocks = append(blocks, linop.Op(op))
		}
	}

	opts := []linop.Option{linop.WithParallelism(*nproc)}
	if *dtypeName != "" {
		d, err := linop.ParseDType(*dtypeName)
		if err != nil {
			return nil, err
		}
		opts = append(opts, linop.WithDType(d))
	}
	return linop.NewBlockDiag(blocks, opts...)
}

func runDotTest(bd *linop.BlockDiag, rng *rand.Rand) error {
	_, span := otel.Tracer("linop").Start(context.Background(), "dottest")
	defer span.End()

	cflag := linop.ComplexNone
	if *complexTest {
		cflag = linop.ComplexBoth
	}
	start := time.Now()
	res, err := linop.DotTest(bd, linop.DotTestConfig{Complex: cflag, Rand: rng})
	span.SetAttributes(
		attribute.Float64("error", res.Err),
		attribute.Float64("tolerance", res.Tol),
	)
	if err != nil {
		span.RecordError(err)
		return err
	}
	log.Info().
		Float64("error", res.Err).
		Float64("tolerance", res.Tol).
		Str("forward_dot", strconv.FormatComplex(res.ForwardDot, 'g', 8, 128)).
		Str("adjoint_dot", strconv.FormatComplex(res.AdjointDot, 'g', 8, 128)).
		Dur("elapsed", time.Since(start)).
		Msg("Dot test passed")
	return nil
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("linop"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
