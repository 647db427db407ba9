package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-patient-record/internal/service"

	"github.com/spf13/cobra"
)

// NewGetDHPCommand creates the get-dhp command
func NewGetDHPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-dhp <patient>",
		Short: "Print the patient's current DHP document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientName := args[0]

			return withService(func(ctx context.Context, svc *service.RecordService) error {
				doc, err := svc.GetDHP(ctx, patientName)
				if err != nil {
					return err
				}
				if doc == nil {
					return fmt.Errorf("patient %q not found", patientName)
				}
				return printJSON(cmd, doc)
			})
		},
	}
}

// NewGetPlanCommand creates the get-plan command
func NewGetPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-plan <patient>",
		Short: "Print the patient's current treatment-plan document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientName := args[0]

			return withService(func(ctx context.Context, svc *service.RecordService) error {
				plan, err := svc.GetPlanStatus(ctx, patientName)
				if err != nil {
					return err
				}
				if plan == nil {
					return fmt.Errorf("patient %q not found or has no plan", patientName)
				}
				return printJSON(cmd, plan)
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
