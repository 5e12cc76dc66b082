package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-research-crawler/internal/pipeline"
)

func newAnalyzeCmd() *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "analyze <domain>",
		Short: "Analyzes one domain and prints the report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Run(cmd.Context(), pipeline.Request{Domain: args[0], Profile: profile})
			if err != nil {
				return fmt.Errorf("analyze %s: %w", args[0], err)
			}
			appInstance.Logger().Info("analysis complete",
				zap.String("run_id", report.RunID),
				zap.String("provider", report.Provider),
				zap.String("model", report.Model),
				zap.Int("pages", report.PagesAnalyzed),
			)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "crawl profile (default from config)")
	return cmd
}
