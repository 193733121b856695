package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/authtap/internal/observability"
)

func newCookiesCmd() *cobra.Command {
	cookiesCmd := &cobra.Command{
		Use:   "cookies [url]",
		Short: "Open the target and export its cookies in browser-extension format",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.SetCaptureTargetURL(args[0])
			}
			if cfg.Artifacts().CookieFile == "" {
				out, _ := cmd.Flags().GetString("out")
				cfg.SetArtifactsCookieFile(out)
			}

			wf, err := newWorkflow(cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			res, err := wf.Cookies(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d cookies saved to %s\n", res.Count, res.File)
			return nil
		},
	}

	cookiesCmd.Flags().StringP("out", "o", "cookies.json", "cookie output file")
	cookiesCmd.Flags().String("domain", "", "keep only cookies whose domain contains this")
	cookiesCmd.Flags().Bool("headless", true, "run Chrome without a window")

	bindFlag(cookiesCmd, "out", "artifacts.cookie_file")
	bindFlag(cookiesCmd, "domain", "artifacts.cookie_domain")
	bindFlag(cookiesCmd, "headless", "browser.headless")

	return cookiesCmd
}
