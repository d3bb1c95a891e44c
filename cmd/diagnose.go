// File: cmd/diagnose.go
package cmd

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/buglens/internal/browser"
	"github.com/xkilldash9x/buglens/internal/diagnostics"
	"github.com/xkilldash9x/buglens/internal/observability"
)

// newDiagnoseCmd creates the `diagnose` command: load a page, observe its
// console and network activity for a while and print the diagnostics
// snapshot that would ride along with a report.
func newDiagnoseCmd() *cobra.Command {
	var (
		pageURL     string
		watchPeriod time.Duration
	)

	diagnoseCmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Print the diagnostics snapshot for a page without filing a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			manager, err := browser.NewManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				_ = manager.Shutdown(shutdownCtx)
			}()

			session, err := manager.NewSession()
			if err != nil {
				return err
			}
			defer session.Close()

			// Diagnose always observes, regardless of the report feature
			// flags.
			console := diagnostics.NewConsoleBuffer(cfg.Diagnostics.ConsoleBufferSize, logger)
			network := diagnostics.NewNetworkBuffer(cfg.Diagnostics.RequestBufferSize, logger)
			console.Install(session.Context())
			network.Install(session.Context())
			defer console.Uninstall()
			defer network.Uninstall()

			if err := session.Navigate(ctx, pageURL); err != nil {
				return err
			}

			select {
			case <-time.After(watchPeriod):
			case <-ctx.Done():
				return ctx.Err()
			}

			snapshot, err := diagnostics.Collect(ctx, session, cfg, console.Snapshot(), network.Snapshot())
			if err != nil {
				return err
			}

			encoded, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(snapshot, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode snapshot: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}

	diagnoseCmd.Flags().StringVarP(&pageURL, "url", "u", "", "URL of the page to observe (required)")
	diagnoseCmd.Flags().DurationVar(&watchPeriod, "watch", 5*time.Second, "how long to observe the page after load")
	_ = diagnoseCmd.MarkFlagRequired("url")

	return diagnoseCmd
}
