// Command lynxhost runs the tick host.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Spaxterr/lynxlib/internal/app"
	"github.com/Spaxterr/lynxlib/internal/task/clock"
)

// Set by ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lynxhost",
		Short:         "Tick-synchronized task host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "./config.json", "path to config file (.json, .yaml)")
	root.AddCommand(runCmd(), checkCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lynxhost %s\n", version)
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the host loop and serve until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			stopTimeout, _ := cmd.Flags().GetDuration("stop-timeout")

			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			if err := a.Start(context.Background()); err != nil {
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopUnknown
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				} else {
					reason = app.StopSIGINT
				}
			case <-a.Done():
				reason = app.StopFatalError
			}

			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = a.Stop(ctx, reason)
			return a.Err()
		},
	}
	cmd.Flags().Duration("stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := app.Check(cfgPath)
			if err != nil {
				return err
			}
			tps := cfg.Host.TicksPerSecond
			if tps == 0 {
				tps = clock.DefaultTicksPerSecond
			}
			driver := "none"
			if cfg.Storage != nil && cfg.Storage.Driver != "" {
				driver = cfg.Storage.Driver
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (%s)\n  ticks_per_second: %d\n  storage: %s\n  metrics: %v\n",
				cfgPath, tps, driver, cfg.Metrics.Enabled)
			return nil
		},
	}
}
