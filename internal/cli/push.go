package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-patient-record/internal/models"
	"wisefido-patient-record/internal/service"

	"github.com/spf13/cobra"
)

// NewPushDHPCommand creates the push-dhp command
func NewPushDHPCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "push-dhp",
		Short: "Push a new DHP document, becoming the patient's current state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readDocument(file)
			if err != nil {
				return fmt.Errorf("failed to read dhp document: %w", err)
			}

			var doc models.DHPDocument
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("failed to parse dhp document: %w", err)
			}

			return withService(func(ctx context.Context, svc *service.RecordService) error {
				patientName, err := svc.PushDHP(ctx, &doc)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pushed DHP for patient %q.\n", patientName)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "DHP document file (- for stdin)")

	return cmd
}

// NewPushPlanCommand creates the push-plan command
func NewPushPlanCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "push-plan <patient>",
		Short: "Push a new treatment-plan document for an existing patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientName := args[0]

			raw, err := readDocument(file)
			if err != nil {
				return fmt.Errorf("failed to read plan document: %w", err)
			}

			var plan models.PlanDocument
			if err := json.Unmarshal(raw, &plan); err != nil {
				return fmt.Errorf("failed to parse plan document: %w", err)
			}

			return withService(func(ctx context.Context, svc *service.RecordService) error {
				if err := svc.PushPlanStatus(ctx, patientName, plan); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pushed plan status for patient %q.\n", patientName)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "plan document file (- for stdin)")

	return cmd
}
