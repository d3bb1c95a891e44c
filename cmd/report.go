// File: cmd/report.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/buglens/api/schemas"
	"github.com/xkilldash9x/buglens/internal/browser"
	"github.com/xkilldash9x/buglens/internal/capture"
	"github.com/xkilldash9x/buglens/internal/observability"
	"github.com/xkilldash9x/buglens/internal/recording"
	"github.com/xkilldash9x/buglens/internal/report"
)

// newReportCmd creates the `report` command: open a page, capture evidence
// and file a bug report against the configured backend.
func newReportCmd() *cobra.Command {
	var (
		pageURL        string
		title          string
		description    string
		steps          string
		expected       string
		actual         string
		takeScreenshot bool
		recordSeconds  int
		attributes     map[string]string
	)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Capture evidence from a live page and file a bug report",
		Long: `Opens the target page in a browser, optionally captures a screenshot
region and a short screen recording, collects page diagnostics and submits
everything as one bug report.`,
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

			if err := session.Navigate(ctx, pageURL); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rs := report.NewSession(cfg, session, report.Hooks{
				OnSuccess: func(resp schemas.BugReportResponse) {
					if resp.ID != "" {
						fmt.Fprintf(out, "Report filed: %s\n", resp.ID)
					} else {
						fmt.Fprintln(out, "Report filed.")
					}
				},
			}, logger)
			rs.Open(session.Context())
			defer rs.Teardown()

			rs.UpdateDraft(schemas.ReportDraft{
				Title:            title,
				Description:      description,
				StepsToReproduce: steps,
				ExpectedBehavior: expected,
				ActualBehavior:   actual,
			})
			if len(attributes) > 0 {
				for k, v := range attributes {
					rs.UpdateAttribute(k, v)
				}
			}
			promptDraft(cmd.InOrStdin(), out, rs)

			if takeScreenshot && cfg.Features.Screenshot {
				rs.SetStep(schemas.StepScreenshot)
				fmt.Fprintln(out, "Drag a rectangle over the page to capture it (Escape to skip).")
				asset, err := capture.Screenshot(ctx, session, capture.Options{
					MaskSelectors:      cfg.Privacy.MaskSelectors,
					RedactTextPatterns: cfg.Privacy.RedactTextPatterns,
					MaxBytes:           cfg.Storage.Limits.MaxScreenshotBytes,
					Logger:             logger,
				})
				switch {
				case err == nil:
					rs.SetScreenshot(asset)
					fmt.Fprintln(out, "Screenshot captured.")
				case schemas.IsAborted(err):
					fmt.Fprintln(out, "Screenshot skipped.")
				default:
					return err
				}
			}

			if recordSeconds > 0 && cfg.Features.Recording {
				rs.SetStep(schemas.StepRecording)
				if err := recordPage(ctx, out, session, rs, cfg.Storage.Limits.MaxVideoSeconds, cfg.Storage.Limits.MaxVideoBytes, recordSeconds, logger); err != nil {
					return err
				}
			}

			rs.SetStep(schemas.StepReview)
			printPreview(out, rs.DiagnosticsPreview())

			if err := rs.Submit(ctx); err != nil {
				return err
			}
			return nil
		},
	}

	reportCmd.Flags().StringVarP(&pageURL, "url", "u", "", "URL of the page to report against (required)")
	reportCmd.Flags().StringVarP(&title, "title", "t", "", "report title (prompted for when omitted)")
	reportCmd.Flags().StringVarP(&description, "description", "d", "", "what went wrong")
	reportCmd.Flags().StringVar(&steps, "steps", "", "steps to reproduce")
	reportCmd.Flags().StringVar(&expected, "expected", "", "expected behavior")
	reportCmd.Flags().StringVar(&actual, "actual", "", "actual behavior")
	reportCmd.Flags().BoolVar(&takeScreenshot, "screenshot", false, "interactively capture a screenshot region")
	reportCmd.Flags().IntVar(&recordSeconds, "record-seconds", 0, "record the page for this many seconds")
	reportCmd.Flags().StringToStringVar(&attributes, "attr", nil, "extra report attributes (key=value)")
	_ = reportCmd.MarkFlagRequired("url")

	return reportCmd
}

// promptDraft asks for the title (and, on first entry, a description) when
// the flags left them empty.
func promptDraft(in io.Reader, out io.Writer, rs *report.Session) {
	state := rs.State()
	if state.Draft.Title != "" {
		return
	}

	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "Title: ")
	if scanner.Scan() {
		rs.UpdateDraft(schemas.ReportDraft{Title: strings.TrimSpace(scanner.Text())})
	}
	if state.Draft.Description == "" {
		fmt.Fprint(out, "Description (optional): ")
		if scanner.Scan() {
			rs.UpdateDraft(schemas.ReportDraft{Description: strings.TrimSpace(scanner.Text())})
		}
	}
}

// recordPage runs a bounded screen recording and attaches the result.
func recordPage(
	ctx context.Context,
	out io.Writer,
	session *browser.Session,
	rs *report.Session,
	maxSeconds int,
	maxBytes int64,
	wantSeconds int,
	logger *zap.Logger,
) error {
	if maxSeconds > 0 && wantSeconds > maxSeconds {
		wantSeconds = maxSeconds
	}
	fmt.Fprintf(out, "Recording for up to %d seconds...\n", wantSeconds)

	active, err := recording.Start(ctx, session, recording.Options{
		MaxSeconds: wantSeconds,
		MaxBytes:   maxBytes,
		OnTick: func(elapsed int) {
			fmt.Fprintf(out, "\r  recording: %ds", elapsed)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	result, err := active.Wait(ctx)
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	if err := rs.SetRecording(recording.Asset(result)); err != nil {
		return err
	}
	fmt.Fprintf(out, "Recording captured (%.1fs, %d bytes).\n", result.Duration.Seconds(), len(result.Data))
	return nil
}

func printPreview(out io.Writer, preview schemas.DiagnosticsPreview) {
	if len(preview.ErrorLogs) == 0 && len(preview.FailedRequests) == 0 {
		return
	}
	fmt.Fprintf(out, "Attaching diagnostics: %d error log(s), %d failed request(s).\n",
		len(preview.ErrorLogs), len(preview.FailedRequests))
}
