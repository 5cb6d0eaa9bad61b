package cli

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/notesync/internal/client/auth"
	"github.com/dmitrijs2005/notesync/internal/client/blobstore"
	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/config"
	"github.com/dmitrijs2005/notesync/internal/client/connectivity"
	"github.com/dmitrijs2005/notesync/internal/client/schema"
	"github.com/dmitrijs2005/notesync/internal/client/services"
	"github.com/dmitrijs2005/notesync/internal/client/session"
	"github.com/dmitrijs2005/notesync/internal/client/syncengine"
	"github.com/dmitrijs2005/notesync/internal/client/uploader"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

type App struct {
	config  *config.Config
	in      *bufio.Reader
	out     io.Writer
	styles  styles
	logger  logging.Logger
	tokens  *auth.TokenAuthenticator
	remote  client.Client
	monitor *connectivity.Monitor
	schema  *schema.Registry
	auth    services.AuthService
}

// NewApp connects the client to the configured document service and loads
// the stored credential. The connection is lazy: nothing is dialled until
// the first call.
func NewApp(c *config.Config, in io.Reader, out io.Writer, logger logging.Logger) (*App, error) {
	tokens := auth.NewTokenAuthenticator()
	if err := tokens.LoadFile(c.TokenPath()); err != nil {
		logger.Warn(context.Background(), "stored token ignored", "path", c.TokenPath(), "error", err)
	}

	remote, err := client.NewDocumentClient(c.ServerEndpointAddr, tokens)
	if err != nil {
		return nil, err
	}
	return newApp(c, remote, tokens, in, out, logger), nil
}

func newApp(c *config.Config, remote client.Client, tokens *auth.TokenAuthenticator, in io.Reader, out io.Writer, logger logging.Logger) *App {
	return &App{
		config:  c,
		in:      bufio.NewReader(in),
		out:     out,
		styles:  newStyles(lipgloss.NewRenderer(out)),
		logger:  logger,
		tokens:  tokens,
		remote:  remote,
		monitor: connectivity.NewMonitor(remote, c.OnlineCheckInterval, c.CallTimeout, logger),
		schema:  schema.NewRegistry(),
		auth:    services.NewAuthService(tokens, remote, c.TokenPath()),
	}
}

func (a *App) Close() error {
	return a.remote.Close()
}

func (a *App) sessionOptions() session.Options {
	c := a.config
	opts := session.Options{
		DataDir: c.DataDir,
		Sync: syncengine.Config{
			BatchSize:   c.SyncBatchSize,
			Concurrency: c.SyncConcurrency,
			CallTimeout: c.CallTimeout,
		},
		Uploads: uploader.Config{
			Workers:     c.UploadWorkers,
			RetryBudget: c.UploadRetryBudget,
			BaseDelay:   c.UploadBaseDelay,
			MaxDelay:    c.UploadMaxDelay,
		},
		OpenBlob: session.MemoryBlobs,
	}
	if c.S3Bucket != "" {
		opts.OpenBlob = session.S3Blobs(blobstore.S3Config{
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3Endpoint,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
		})
	}
	return opts
}

func (a *App) sessionDeps() session.Deps {
	return session.Deps{
		Remote:       a.remote,
		Auth:         a.tokens,
		Connectivity: a.monitor,
		Schema:       a.schema,
		Logger:       a.logger,
	}
}

// withSession opens the signed-in user's session, runs it together with
// the connectivity monitor while fn executes and shuts both down after.
func (a *App) withSession(ctx context.Context, fn func(ctx context.Context, s *session.Session) error) error {
	userID, ok := a.tokens.CurrentIdentity()
	if !ok {
		return auth.ErrNoCredentials
	}

	s, err := session.Open(ctx, userID, a.sessionOptions(), a.sessionDeps())
	if err != nil {
		return err
	}
	defer s.Close()

	rctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(rctx)
	g.Go(func() error {
		a.monitor.Run(gctx)
		return nil
	})
	g.Go(func() error { return s.Run(gctx) })

	ferr := fn(ctx, s)
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Join(ferr, err)
	}
	return ferr
}
