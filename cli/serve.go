package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smallnest/tracker/config"
	"github.com/smallnest/tracker/gateway"
	"github.com/smallnest/tracker/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveHost string
	servePort int
	serveSeed bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP / WebSocket gateway",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "", "Bind address (overrides gateway.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port (overrides gateway.port)")
	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "Import roadmap.seed_file before serving when the tracker is empty")
}

func runServe(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()
	defer logger.Sync() // nolint:errcheck

	cfg := a.cfg
	if serveHost != "" {
		cfg.Gateway.Host = serveHost
	}
	if servePort != 0 {
		cfg.Gateway.Port = servePort
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if serveSeed && cfg.Roadmap.SeedFile != "" {
		if n, err := seedFromFile(ctx, a, config.ExpandUserPath(cfg.Roadmap.SeedFile)); err != nil {
			logger.Warn("Roadmap seed failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("Roadmap imported", zap.Int("tasks", n))
		}
	}

	// 配置文件变更时热更新日志级别
	watching, err := config.Watch(configPath, func(next *config.Config) {
		if logLevel != "" {
			return
		}
		logger.SetLevel(next.Log.Level)
		logger.Info("Config reloaded", zap.String("log_level", next.Log.Level))
	})
	if err != nil {
		logger.Warn("Config watch disabled", zap.Error(err))
	} else if !watching {
		logger.Debug("No config file found, hot reload disabled")
	}

	server := gateway.NewServer(&cfg.Gateway, a.svc, a.files)
	if err := server.Start(ctx); err != nil {
		failf("Failed to start gateway: %v", err)
	}

	logger.Info("Tracker started",
		zap.String("addr", server.Addr()),
		zap.String("db", config.DBPath(cfg)),
		zap.String("attachments", config.AttachmentsDir(cfg)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nShutting down tracker...")

	if err := server.Stop(); err != nil {
		logger.Error("Gateway shutdown error", zap.Error(err))
	}
}
