package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getmockd/gqlws/pkg/cli/internal/output"
	"github.com/getmockd/gqlws/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect gqlws configuration files",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.LoadFromFile(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration: the defaults, overlaid with the given
file if any.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		if len(args) == 1 {
			loaded, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if cfg.Auth.JWTSecret != "" {
			cfg.Auth.JWTSecret = redacted
		}

		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), cfg)
		}
		data, err := config.ToYAML(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema configuration files are checked against",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := cmd.OutOrStdout().Write(config.Schema())
		return err
	},
}

const redacted = "********"

func init() {
	configCmd.AddCommand(configValidateCmd, configShowCmd, configSchemaCmd)
	rootCmd.AddCommand(configCmd)
}
