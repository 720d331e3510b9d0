package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/imposter/pkg/config"
	"github.com/getmockd/imposter/pkg/logging"
	"github.com/getmockd/imposter/pkg/server"
)

// dryRunTimeout bounds the dry run of a whole configuration.
const dryRunTimeout = 30 * time.Second

// ValidateOutput is the JSON output of the validate command.
type ValidateOutput struct {
	Valid     bool   `json:"valid"`
	Imposters int    `json:"imposters"`
	Stubs     int    `json:"stubs"`
	Error     string `json:"error,omitempty"`
}

var validateConfigPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration without starting any listeners",
	Long: `Validate a configuration file or directory without starting any listeners.

This command checks:
  - JSON/YAML syntax
  - Schema validation (required fields, valid values)
  - Port conflicts between imposters and the admin API
  - Every response resolves in a dry run`,
	Example: `  imposter validate --config imposters.yaml
  imposter validate -c ./imposters --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), dryRunTimeout)
		defer cancel()
		return runValidate(ctx, validateConfigPath, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateConfigPath, "config", "c", "", "Path to a configuration file or directory")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(ctx context.Context, path string, out io.Writer) error {
	result, err := validate(ctx, path)

	if jsonOutput {
		if werr := writeJSON(out, result); werr != nil {
			return werr
		}
		return err
	}

	if err != nil {
		fmt.Fprintln(out, "Validation failed:")
		fmt.Fprintf(out, "  - %s\n", err)
		return err
	}
	fmt.Fprintf(out, "Configuration is valid (%d imposters, %d stubs).\n", result.Imposters, result.Stubs)
	return nil
}

func validate(ctx context.Context, path string) (ValidateOutput, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return ValidateOutput{Error: err.Error()}, err
	}

	result := ValidateOutput{Imposters: len(cfg.Imposters)}
	for _, imp := range cfg.Imposters {
		result.Stubs += len(imp.Stubs)
	}

	// Dry runs never reach the sandbox, so injection can stay disabled.
	srv := server.New(cfg, server.Options{Logger: logging.Nop()})
	if err := srv.DryRun(ctx); err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("dry run failed: %w", err)
	}

	result.Valid = true
	return result, nil
}
