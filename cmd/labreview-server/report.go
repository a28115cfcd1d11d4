package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/labreview/labreview/internal/config"
	"github.com/labreview/labreview/internal/domain/review"
	"github.com/labreview/labreview/internal/platform/db"
	"github.com/labreview/labreview/internal/platform/reporting"
	"github.com/labreview/labreview/pkg/labmodels"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export review data",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write review decisions to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			gateResult, _ := cmd.Flags().GetString("gate-result")
			userID, _ := cmd.Flags().GetString("user-id")

			filter := review.DecisionFilter{GateResult: labmodels.GateResult(gateResult), UserID: userID}
			switch filter.GateResult {
			case "", labmodels.GateAutoDeliver, labmodels.GateHoldForReview:
			default:
				return fmt.Errorf("--gate-result must be auto_deliver or hold_for_review")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			decisions, err := reporting.CollectDecisions(ctx, review.NewRepoPG(pool), filter)
			if err != nil {
				return fmt.Errorf("list decisions: %w", err)
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := reporting.WriteDecisions(f, decisions); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d decision(s) to %s\n", len(decisions), out)
			return nil
		},
	}
	exportCmd.Flags().String("out", "review-decisions.xlsx", "Output workbook path")
	exportCmd.Flags().String("gate-result", "", "Only export auto_deliver or hold_for_review")
	exportCmd.Flags().String("user-id", "", "Only export decisions for this user")
	cmd.AddCommand(exportCmd)

	return cmd
}
