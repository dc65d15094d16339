package main

import (
	"context"
	"errors"
	"io/fs"

	"github.com/SanteonNL/orca/smarthost/cmd"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Environment variables take precedence over .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal().Err(err).Msg("Failed to load .env file")
	}
	config, err := cmd.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if config.FHIR.BaseURL != "" {
		log.Info().Msgf("Using FHIR server on %s", config.FHIR.BaseURL)
	}
	if err := cmd.Start(context.Background(), *config); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
	log.Info().Msg("Goodbye!")
}
