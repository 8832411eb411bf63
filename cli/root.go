package cli

import (
	"fmt"
	"os"

	"github.com/smallnest/tracker/config"
	"github.com/smallnest/tracker/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "tracker",
	Short:         "Task and roadmap tracker",
	Long:          `Track tasks, evidence-backed completion reports and file attachments over HTTP, JSON-RPC and the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./.tracker/config.json, ./config.json, ~/.tracker/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug|info|warn|error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(TaskCommand())
	rootCmd.AddCommand(ReportCommand())
	rootCmd.AddCommand(AttachmentCommand())
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(ConfigCommand())
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig 读取并校验配置，同时初始化日志
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := logger.Init(logger.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        config.ExpandUserPath(cfg.Log.File),
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func failf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
