package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "halfpipe"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Real-time crypto options and futures analytics engine",
		Version: version,
		Long: `halfpipe tracks one underlying across a derivatives venue: the options
chain with greeks and open interest, the futures order book, liquidations
and trade flow. From those it derives gamma exposure profiles, the flip
level and walls, volatility anomalies, iceberg and escape detections,
max pain, sentiment and strategy fits, and serves everything over HTTP.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analytics engine and HTTP API",
		Long:  "Connects to the venue, runs the detector loops and serves the query API until interrupted.",
		RunE:  runServe,
	}
	registerServeFlags(serveCmd.Flags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func registerServeFlags(fs *pflag.FlagSet) {
	fs.String("config", "config.yaml", "Path to the YAML config file")
	fs.String("underlying", "", "Underlying asset override, e.g. BTC")
	fs.String("http-addr", "", "HTTP listen address override, e.g. :8080")
	fs.String("log-level", "", "Log level override (trace|debug|info|warn|error)")
}
