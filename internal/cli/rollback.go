package cli

import (
	"context"
	"fmt"

	"wisefido-patient-record/internal/service"

	"github.com/spf13/cobra"
)

// NewRollbackDHPCommand creates the rollback-dhp command
func NewRollbackDHPCommand() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "rollback-dhp <patient>",
		Short: "Roll the patient's DHP back by N versions, discarding the newer ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientName := args[0]

			return withService(func(ctx context.Context, svc *service.RecordService) error {
				if err := svc.RollbackDHP(ctx, patientName, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back DHP for patient %q by %d step(s).\n", patientName, steps)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "number of versions to roll back")

	return cmd
}

// NewRollbackPlanCommand creates the rollback-plan command
func NewRollbackPlanCommand() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "rollback-plan <patient>",
		Short: "Roll the patient's plan back by N versions, discarding the newer ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientName := args[0]

			return withService(func(ctx context.Context, svc *service.RecordService) error {
				if err := svc.RollbackPlan(ctx, patientName, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back plan for patient %q by %d step(s).\n", patientName, steps)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "number of versions to roll back")

	return cmd
}
