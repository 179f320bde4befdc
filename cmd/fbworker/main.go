package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kreid-dev/fbroker/internal/brokerage"
	"github.com/kreid-dev/fbroker/internal/brokerage/server"
	"github.com/kreid-dev/fbroker/internal/config"
	"github.com/kreid-dev/fbroker/internal/protocol"
)

var version = "v0.0.0-dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "fbworker",
		Short: "fbroker worker availability announcer",
		Long: `fbworker announces this host's availability to a coordinator or a
brokerage filesystem root on a fixed heartbeat cadence, so that build
clients can discover it via the brokerage protocol.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to fbroker config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fbworker %s\n", version)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Announce this worker's availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			configureLogging(cfg.Log)

			coordAddr, _ := cmd.Flags().GetString("coordinator")
			brokerageRoots, _ := cmd.Flags().GetString("brokerage")
			preferHostname, _ := cmd.Flags().GetBool("prefer-hostname")

			flags := brokerage.Flags{
				CoordinatorAddress: coordAddr,
				BrokerageRoots:     brokerageRoots,
				ProtocolVersion:    brokerage.DefaultProtocolVersion,
				Platform:           brokerage.CurrentPlatform(),
				PreferHostname:     preferHostname || cfg.Worker.PreferHostname,
			}

			srv, err := server.New(flags, infoProvider)
			if err != nil {
				return fmt.Errorf("fbworker: %w", err)
			}

			hostname, _ := os.Hostname()
			log.Info().Str("hostname", hostname).Str("version", version).Msg("fbworker: announcing availability")

			ctx, cancel := context.WithCancel(context.Background())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				log.Info().Str("signal", sig.String()).Msg("fbworker: shutting down")
				cancel()
			}()

			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().String("coordinator", "", "coordinator address (or FASTBUILD_COORDINATOR)")
	serveCmd.Flags().String("brokerage", "", "semicolon-separated brokerage roots (or FASTBUILD_BROKERAGE_PATH)")
	serveCmd.Flags().Bool("prefer-hostname", false, "announce under this host's hostname instead of its IPv4 address")

	rootCmd.AddCommand(versionCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// infoProvider reports this host's descriptive fields for
// UpdateWorkerInfo/the rendezvous announce file. CPU/memory figures
// come from the standard library rather than a platform-specific
// sampler: runtime.NumCPU reports logical CPUs, and "used" is left at
// zero since fbroker does not track per-process job occupancy.
func infoProvider() protocol.UpdateWorkerInfo {
	hostname, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}

	return protocol.UpdateWorkerInfo{
		Version:      version,
		User:         user,
		Hostname:     hostname,
		Mode:         "idle",
		NumCPUsUsed:  0,
		NumCPUsTotal: uint32(runtime.NumCPU()),
		MemoryMiB:    0,
	}
}

func configureLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "json" {
		log.Logger = log.Output(os.Stderr)
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
