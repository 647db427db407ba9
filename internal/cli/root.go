package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"wisefido-patient-record/internal/config"
	"wisefido-patient-record/internal/logger"
	"wisefido-patient-record/internal/service"

	"github.com/spf13/cobra"
)

// Execute runs the CLI
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wisefido-patient-record",
		Short: "Versioned patient DHP and treatment-plan records",
		Long: "Maintains per-patient DHP and treatment-plan snapshots in PostgreSQL\n" +
			"with a bounded, rollback-capable history per record kind.",
		SilenceUsage: true,
	}

	cmd.AddCommand(NewInitSchemaCommand())
	cmd.AddCommand(NewPushDHPCommand())
	cmd.AddCommand(NewPushPlanCommand())
	cmd.AddCommand(NewRollbackDHPCommand())
	cmd.AddCommand(NewRollbackPlanCommand())
	cmd.AddCommand(NewGetDHPCommand())
	cmd.AddCommand(NewGetPlanCommand())
	cmd.AddCommand(NewExportDHPCommand())
	cmd.AddCommand(NewExportPlanCommand())

	return cmd
}

// withService loads config, initializes logging, connects the service
// and guarantees teardown around the command body.
func withService(fn func(ctx context.Context, svc *service.RecordService) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "wisefido-patient-record")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	svc, err := service.NewRecordService(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	return fn(context.Background(), svc)
}

// readDocument reads a JSON document from a file, or stdin when the
// path is "-" or empty.
func readDocument(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
