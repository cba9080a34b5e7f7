package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/framecast/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage framecast configuration",
	Long: `Manage framecast configuration files and settings.

Examples:
  framecast config init                # Write .framecast.yml with defaults
  framecast config validate            # Validate current configuration
  framecast config show --format json  # Show resolved configuration`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a framecast configuration file.

This command checks for:
- Valid render defaults (size, frame rate, format, quality)
- Backend paths that exist
- A usable preview host, port and cache
- Known log levels and formats

Examples:
  framecast config validate                      # Validate the resolved configuration
  framecast config validate --file other.yml     # Validate a specific file
  framecast config validate --strict             # Treat warnings as errors`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the configuration after the config file, FRAMECAST_ environment
variables, defaults and command-line flags have been applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var (
	configInitOutput string
	configForce      bool
	configFile       string
	configStrict     bool
	configShowOutput *OutputFlags
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", config.FileName+".yml", "Configuration file to write")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")

	configValidateCmd.Flags().StringVarP(&configFile, "file", "f", "", "Configuration file to validate (default: the resolved config file)")
	configValidateCmd.Flags().BoolVar(&configStrict, "strict", false, "Treat warnings as errors")

	configShowOutput = AddOutputFlags(configShowCmd, "yaml", "json")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to build default configuration: %w", err)
	}

	if err := config.WriteFile(&cfg, configInitOutput, configForce); err != nil {
		if !configForce {
			return fmt.Errorf("%w (use --force to overwrite)", err)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Decode without the validation Load applies so every problem is listed.
	v := viper.New()
	file := configFile
	if file == "" {
		file = cfgFile
	}
	config.Configure(v, file)
	if err := config.Read(v); err != nil {
		return err
	}
	config.SetDefaults(v)

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "🔍 Validating configuration file: %s\n", used)
	} else {
		fmt.Fprintln(out, "🔍 No configuration file found, validating defaults and environment")
	}

	validation := config.ValidateConfigWithDetails(&cfg)

	if !validation.HasErrors() && !validation.HasWarnings() {
		fmt.Fprintln(out, "✅ Configuration is valid!")
		return nil
	}

	fmt.Fprint(out, validation.String())

	if validation.HasErrors() {
		return fmt.Errorf("configuration validation failed with %d errors", len(validation.Errors))
	}

	if configStrict {
		return fmt.Errorf("configuration validation failed in strict mode with %d warnings", len(validation.Warnings))
	}

	fmt.Fprintf(out, "✅ Configuration is valid with %d warnings. Use --strict to treat warnings as errors.\n",
		len(validation.Warnings))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if configShowOutput.Format == "json" {
		return outputJSON(out, cfg)
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
