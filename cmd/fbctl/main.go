package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kreid-dev/fbroker/internal/brokerage"
	"github.com/kreid-dev/fbroker/internal/brokerage/client"
	"github.com/kreid-dev/fbroker/internal/cliout"
)

var version = "v0.0.0-dev"

func main() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		coordAddr      string
		brokerageRoots string
		staticWorkers  string
		timeout        time.Duration
	)

	rootCmd := &cobra.Command{
		Use:   "fbctl",
		Short: "fbroker worker discovery CLI",
		Long: `fbctl exercises the brokerage client directly: it resolves the same
static/coordinator/filesystem precedence a real build client would,
and prints the discovered worker addresses. It is a thin stand-in for
the build-client responsibility fbroker leaves to an external
collaborator.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&coordAddr, "coordinator", "C", "", "coordinator address (or FASTBUILD_COORDINATOR)")
	rootCmd.PersistentFlags().StringVarP(&brokerageRoots, "brokerage", "b", "", "semicolon-separated brokerage roots (or FASTBUILD_BROKERAGE_PATH)")
	rootCmd.PersistentFlags().StringVarP(&staticWorkers, "workers", "w", "", "semicolon-separated static worker list (or FASTBUILD_WORKERS)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "discovery timeout")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fbctl %s\n", version)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Resolve and print the discovered worker set once",
		RunE: func(cmd *cobra.Command, args []string) error {
			workers, mode, err := discover(cmd.Context(), coordAddr, brokerageRoots, staticWorkers, timeout)
			if err != nil {
				return err
			}
			printWorkerList(workers, mode)
			return nil
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-resolve the worker set on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				workers, mode, err := discover(cmd.Context(), coordAddr, brokerageRoots, staticWorkers, timeout)
				if err != nil {
					fmt.Fprintln(os.Stderr, cliout.Error(err.Error()))
				} else {
					printWorkerList(workers, mode)
				}
				fmt.Println()
				select {
				case <-ticker.C:
					continue
				case <-cmd.Context().Done():
					return nil
				}
			}
		},
	}
	watchCmd.Flags().Duration("interval", 5*time.Second, "re-resolution interval")

	rootCmd.AddCommand(versionCmd, listCmd, watchCmd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func discover(ctx context.Context, coordAddr, brokerageRoots, staticWorkers string, timeout time.Duration) ([]string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := client.New(brokerage.Flags{
		StaticWorkers:      staticWorkers,
		CoordinatorAddress: coordAddr,
		BrokerageRoots:     brokerageRoots,
		ProtocolVersion:    brokerage.DefaultProtocolVersion,
		Platform:           brokerage.CurrentPlatform(),
	})
	c.DialTimeout = timeout

	cfg := brokerage.ResolveClient(c.Flags)
	workers, err := c.FindWorkers(ctx)
	if err != nil {
		return nil, cfg.Mode.String(), fmt.Errorf("fbctl: %w", err)
	}
	return workers, cfg.Mode.String(), nil
}

func printWorkerList(workers []string, mode string) {
	if len(workers) == 0 {
		fmt.Printf("%s No workers found (discovery mode: %s)\n", cliout.Warning("!"), mode)
		return
	}

	fmt.Printf("Workers: %s found via %s\n\n", cliout.Bold(fmt.Sprintf("%d", len(workers))), cliout.Info(mode))

	table := cliout.NewTable([]string{"ADDRESS"})
	for _, w := range workers {
		table.Append([]string{w})
	}
	table.Render()
}
