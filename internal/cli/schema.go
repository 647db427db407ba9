package cli

import (
	"context"
	"fmt"

	"wisefido-patient-record/internal/service"

	"github.com/spf13/cobra"
)

// NewInitSchemaCommand creates the init-schema command
func NewInitSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-schema",
		Short: "Create the patients and history tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *service.RecordService) error {
				if err := svc.EnsureSchema(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
				return nil
			})
		},
	}
}
