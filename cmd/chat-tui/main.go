package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/kbchat/backend/internal/app"
	"github.com/kbchat/backend/internal/tui"
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

	// The terminal is taken by the UI, so logs go to a file unless
	// configured otherwise.
	output := cfg.Logging.OutputPath
	if output == "" || output == "stdout" || output == "stderr" {
		output = "kbchat-tui.log"
	}
	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, output); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, closeSession, err := app.NewTerminalSession(ctx, cfg)
	if err != nil {
		fmt.Printf("Failed to start chat: %v\n", err)
		os.Exit(1)
	}
	defer closeSession()

	p := tea.NewProgram(tui.New(ctx, session), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Chat exited with error: %v\n", err)
		os.Exit(1)
	}
}
