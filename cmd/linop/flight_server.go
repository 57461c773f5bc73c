package main

import (
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-linop/internal/client"
	"github.com/23skdu/longbow-linop/internal/linop"
)

// StartFlightServer serves op over Arrow Flight so other processes can use
// it as a remote block.
func StartFlightServer(addr string, op linop.Operator) {
	server, err := client.NewFlightServer(addr, client.NewFlightService(op))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", server.Addr().String()).Msg("Starting linop Flight server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
