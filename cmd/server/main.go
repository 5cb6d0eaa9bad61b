package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server"
	"github.com/dmitrijs2005/notesync/internal/server/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	if cfg.IssueToken != "" {
		token, err := server.IssueToken(cfg, cfg.IssueToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			return 1
		}
		fmt.Println(token)
		return 0
	}

	ctx := context.Background()
	logger := logging.NewStdoutLogger(logging.ParseLevel(cfg.LogLevel))

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, err.Error())
		return 1
	}

	if err := app.Run(ctx); err != nil {
		return 1
	}
	return 0
}
