// Package server initializes and runs the document service: it opens the
// configured storage, starts the gRPC endpoint and handles graceful
// shutdown.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server/auth"
	"github.com/dmitrijs2005/notesync/internal/server/config"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/notesync/internal/server/services"

	gs "github.com/dmitrijs2005/notesync/internal/server/grpc"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	storage   repomanager.Storage
	documents *services.DocumentService
}

// openPostgres is a seam for tests.
var openPostgres = func(ctx context.Context, dsn string) (repomanager.Storage, error) {
	return repomanager.OpenPostgres(ctx, dsn)
}

func openStorage(ctx context.Context, c *config.Config) (repomanager.Storage, error) {
	switch c.Storage {
	case config.StorageMemory:
		return repomanager.NewMemoryStorage(), nil
	case config.StoragePostgres:
		return openPostgres(ctx, c.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unknown storage %q", c.Storage)
	}
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	storage, err := openStorage(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	ds := services.NewDocumentService(storage, services.NewHub(), logger)

	return &App{config: c, logger: logger, storage: storage, documents: ds}, nil
}

// IssueToken signs an access token for userID with the configured secret
// and validity.
func IssueToken(c *config.Config, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("empty user id")
	}
	return auth.GenerateToken(userID, []byte(c.SecretKey), c.AccessTokenValidityDuration)
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) error {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.documents, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return err
	}
	return nil
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// closes the storage.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "storage", app.config.Storage)

	app.initSignalHandler(ctx, cancelFunc)

	var (
		wg     sync.WaitGroup
		runErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.storage.Close(); err != nil {
		app.logger.Error(ctx, "closing storage", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
	return runErr
}
