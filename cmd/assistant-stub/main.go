// assistant-stub runs the canned assistant service locally so the
// session core can be exercised without the production backend.
package main

import (
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"bc-assistant/core/internal/logging"
	"bc-assistant/core/internal/stubserver"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logging.New(*logLevel, "console")

	srv := stubserver.New(log, stubserver.Options{})
	server := &http.Server{
		Addr:              *addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 20 * time.Second,
		WriteTimeout:      0, // streaming endpoints hold connections open
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", *addr).Msg("starting stub assistant service")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}
