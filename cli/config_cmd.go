package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/smallnest/tracker/config"
	"github.com/spf13/cobra"
)

// ConfigCommand returns the config command group.
func ConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize tracker configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file populated with defaults",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := filepath.Join(".tracker", "config.json")
			if len(args) == 1 {
				path = config.ExpandUserPath(args[0])
			}
			if err := initConfigFile(path, force); err != nil {
				failf("%v", err)
			}
			fmt.Printf("Config written to %s\n", path)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				failf("Failed to load config: %v", err)
			}
			printJSON(cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func initConfigFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	cfg := config.Defaults()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("default config is invalid: %w", err)
	}
	return config.Save(cfg, path)
}
