package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kreid-dev/fbroker/internal/config"
	"github.com/kreid-dev/fbroker/internal/coordinator"
	"github.com/kreid-dev/fbroker/internal/observability/dashboard"
	"github.com/kreid-dev/fbroker/internal/observability/metrics"
)

var version = "v0.0.0-dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "fbcoord",
		Short: "fbroker worker registry coordinator",
		Long: `fbcoord is the coordinator component of fbroker: it accepts
worker availability announcements over the binary brokerage protocol,
sweeps workers that stop heartbeating, and answers RequestWorkerList
queries from build clients.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to fbroker config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fbcoord %s\n", version)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			configureLogging(cfg.Log)

			port, _ := cmd.Flags().GetInt("port")
			noMDNS, _ := cmd.Flags().GetBool("no-mdns")

			coordCfg := coordinator.DefaultConfig()
			if port != 0 {
				coordCfg.Port = port
			} else {
				coordCfg.Port = cfg.Coordinator.Port
			}
			coordCfg.SweepInterval = cfg.Coordinator.SweepInterval
			coordCfg.HeartbeatTimeout = cfg.Coordinator.HeartbeatTimeout
			coordCfg.AnnounceMDNS = !noMDNS

			coord := coordinator.New(coordCfg)
			if err := coord.Serve(); err != nil {
				return fmt.Errorf("coordinator: %w", err)
			}
			defer coord.Shutdown()

			log.Info().Int("port", coordCfg.Port).Str("version", version).Msg("fbcoord: coordinator started")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 2)

			var dashSrv *dashboard.Server
			if cfg.Dashboard.Enable {
				dashCfg := dashboard.DefaultConfig()
				dashCfg.Port = cfg.Dashboard.Port
				dashSrv = dashboard.New(dashCfg, coordinator.NewDashboardAdapter(coord))
				coord.SetDashboardNotifier(dashSrv.NewRegistryEventNotifier())

				go func() {
					if err := dashSrv.Start(); err != nil {
						errCh <- fmt.Errorf("dashboard server: %w", err)
					}
				}()
				log.Info().Int("port", dashCfg.Port).Msg("fbcoord: dashboard started")
			} else {
				metricsMux := http.NewServeMux()
				metricsMux.Handle("/metrics", metrics.Handler())
				metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Dashboard.Port), Handler: metricsMux}
				go func() {
					if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						errCh <- fmt.Errorf("metrics server: %w", err)
					}
				}()
				log.Info().Int("port", cfg.Dashboard.Port).Msg("fbcoord: metrics-only endpoint started (dashboard disabled)")
			}

			select {
			case sig := <-sigCh:
				log.Info().Str("signal", sig.String()).Msg("fbcoord: shutting down")
				if dashSrv != nil {
					dashSrv.Stop()
				}
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
	serveCmd.Flags().Int("port", 0, "coordinator listen port (overrides config)")
	serveCmd.Flags().Bool("no-mdns", false, "disable mDNS advertisement")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default fbroker config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = "fbroker.yaml"
			}
			if err := config.WriteExample(path); err != nil {
				return err
			}
			fmt.Printf("Config file written: %s\n", path)
			return nil
		},
	}
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(versionCmd, serveCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
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
