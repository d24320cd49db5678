package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/app"
	"github.com/kbchat/backend/pkg/config"
	appLogger "github.com/kbchat/backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting knowledge base chat server")

	server, err := app.NewChat(context.Background(), cfg)
	if err != nil {
		appLogger.Fatal("Failed to build server", zap.Error(err))
	}

	if err := server.Run(); err != nil {
		appLogger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
}
