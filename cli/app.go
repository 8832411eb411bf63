package cli

import (
	"fmt"

	"github.com/smallnest/tracker/config"
	"github.com/smallnest/tracker/tracker"
)

// app 持有一次命令执行所需的存储与服务
type app struct {
	cfg   *config.Config
	store *tracker.SQLiteStore
	files *tracker.FileStore
	svc   *tracker.Service
}

func openApp(cfg *config.Config) (*app, error) {
	store, err := tracker.NewSQLiteStore(config.DBPath(cfg))
	if err != nil {
		return nil, err
	}

	files, err := tracker.NewFileStore(
		config.AttachmentsDir(cfg),
		cfg.Storage.PublicPrefix,
		cfg.Storage.MaxUploadBytes,
		store,
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open attachment store: %w", err)
	}

	return &app{
		cfg:   cfg,
		store: store,
		files: files,
		svc:   tracker.NewService(store, store, files),
	}, nil
}

// mustOpenApp 加载配置并打开存储，失败时退出
func mustOpenApp() *app {
	cfg, err := loadConfig()
	if err != nil {
		failf("Failed to load config: %v", err)
	}
	a, err := openApp(cfg)
	if err != nil {
		failf("Failed to open tracker store: %v", err)
	}
	return a
}

func (a *app) Close() error {
	return a.store.Close()
}
