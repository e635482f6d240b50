package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"donation-core/pkg/config"
	"donation-core/pkg/logger"
)

func main() {
	var command string
	var version int
	var dir string
	flag.StringVar(&command, "cmd", "up", "Command to run: up, down, force, version")
	flag.IntVar(&version, "v", -1, "Version for force command")
	flag.StringVar(&dir, "dir", "migrations", "Migrations directory")
	flag.Parse()

	// 加载配置
	config.Init()
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		config.Global.DB.User,
		config.Global.DB.Password,
		config.Global.DB.Host,
		config.Global.DB.Port,
		config.Global.DB.Name,
	)

	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		logger.Fatal("Migration init failed", zap.Error(err))
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Migration up failed", zap.Error(err))
		}
		logger.Info("Migration up done")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Migration down failed", zap.Error(err))
		}
		logger.Info("Migration down done")
	case "force":
		if version == -1 {
			logger.Fatal("Version (-v) is required for force command")
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("Migration force failed", zap.Error(err))
		}
		logger.Info("Migration forced", zap.Int("version", version))
	case "version":
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			logger.Fatal("Read migration version failed", zap.Error(err))
		}
		logger.Info("Migration version", zap.Uint("version", v), zap.Bool("dirty", dirty))
	default:
		logger.Fatal("Unknown command", zap.String("cmd", command))
	}
}
