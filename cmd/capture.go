package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authtap/internal/config"
	"github.com/xkilldash9x/authtap/internal/observability"
	"github.com/xkilldash9x/authtap/internal/runner"
)

// workflow is the part of runner.Runner the commands use.
type workflow interface {
	Capture(ctx context.Context) (*runner.Result, error)
	Cookies(ctx context.Context) (*runner.CookieResult, error)
}

// newWorkflow is replaced in tests to avoid launching Chrome.
var newWorkflow = func(cfg config.Interface, logger *zap.Logger) (workflow, error) {
	return runner.New(cfg, logger)
}

func newCaptureCmd() *cobra.Command {
	captureCmd := &cobra.Command{
		Use:   "capture [url]",
		Short: "Open the target and wait for an outgoing Authorization header",
		Long: `Opens the target URL in Chrome, observes the requests the page makes and
saves the first Authorization header value (without its "Bearer " prefix).

Sign in once with --headless=false and a persistent browser.user_data_dir;
later runs reuse the profile.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.SetCaptureTargetURL(args[0])
			}

			logger := observability.GetLogger()
			wf, err := newWorkflow(cfg, logger)
			if err != nil {
				return err
			}

			res, err := wf.Capture(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Captured %s from %s (%s, %d checks)\n",
				observability.MaskSecret(res.Observation.Token), res.Observation.URL,
				res.Observation.Source, res.Checks)
			if res.TokenFile != "" {
				fmt.Fprintf(out, "Token saved to %s\n", res.TokenFile)
			}
			if res.CookieFile != "" {
				fmt.Fprintf(out, "%d cookies saved to %s\n", res.CookieCount, res.CookieFile)
			}
			if res.RequestsLog != "" {
				fmt.Fprintf(out, "Request log saved to %s\n", res.RequestsLog)
			}
			if verifyURL := cfg.Capture().VerifyURL; verifyURL != "" {
				if res.VerifyStatus == 0 {
					fmt.Fprintf(out, "Verification request to %s failed\n", verifyURL)
				} else {
					fmt.Fprintf(out, "Verification %s: HTTP %d\n", verifyURL, res.VerifyStatus)
				}
			}
			return nil
		},
	}

	flags := captureCmd.Flags()
	flags.Duration("interval", time.Second, "wait between checks")
	flags.Int("max-attempts", 40, "number of checks before giving up")
	flags.String("policy", config.PolicyFirst, "which header to keep: first or latest")
	flags.String("mode", config.ModeNetwork, "request observer: network, hook or both")
	flags.String("url-filter", "", "only accept headers on request URLs containing this")
	flags.StringP("out", "o", "bearer_token.txt", "token output file")
	flags.String("cookies-out", "", "also export cookies to this file")
	flags.Bool("headless", true, "run Chrome without a window")
	flags.String("verify-url", "", "request this URL with the captured token afterwards")
	flags.String("requests-log", "", "write every observed request to this JSON file")

	bindFlag(captureCmd, "interval", "capture.poll_interval")
	bindFlag(captureCmd, "max-attempts", "capture.max_attempts")
	bindFlag(captureCmd, "policy", "capture.policy")
	bindFlag(captureCmd, "mode", "capture.mode")
	bindFlag(captureCmd, "url-filter", "capture.url_filter")
	bindFlag(captureCmd, "out", "artifacts.token_file")
	bindFlag(captureCmd, "cookies-out", "artifacts.cookie_file")
	bindFlag(captureCmd, "headless", "browser.headless")
	bindFlag(captureCmd, "verify-url", "capture.verify_url")
	bindFlag(captureCmd, "requests-log", "artifacts.requests_log")

	return captureCmd
}
