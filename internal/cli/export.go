package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"wisefido-patient-record/internal/service"

	"github.com/spf13/cobra"
)

// NewExportDHPCommand creates the export-dhp command
func NewExportDHPCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export-dhp <patient>",
		Short: "Export the patient's current DHP document to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientName := args[0]

			return withService(func(ctx context.Context, svc *service.RecordService) error {
				err := exportToFile(out, func(w io.Writer) error {
					return svc.ExportDHP(ctx, patientName, w)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported DHP for patient %q to %q.\n", patientName, out)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "destination file path")
	cmd.MarkFlagRequired("out")

	return cmd
}

// NewExportPlanCommand creates the export-plan command
func NewExportPlanCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export-plan <patient>",
		Short: "Export the patient's current treatment plan to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientName := args[0]

			return withService(func(ctx context.Context, svc *service.RecordService) error {
				err := exportToFile(out, func(w io.Writer) error {
					return svc.ExportPlanStatus(ctx, patientName, w)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported plan status for patient %q to %q.\n", patientName, out)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "destination file path")
	cmd.MarkFlagRequired("out")

	return cmd
}

// exportToFile renders the document into memory first and only creates
// the destination file once the export succeeded, so a failed export
// never leaves an empty file behind.
func exportToFile(path string, export func(w io.Writer) error) error {
	var buf bytes.Buffer
	if err := export(&buf); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}
