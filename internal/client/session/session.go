// Package session owns the per-user context of the sync client. A Session
// bundles everything that belongs to one signed-in user: the user's own
// database file, mutation queue, sync engine, upload coordinator and edit
// model. The Manager swaps sessions when the credential changes identity.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/notesync/internal/client/auth"
	"github.com/dmitrijs2005/notesync/internal/client/blobstore"
	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/queue"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/schema"
	"github.com/dmitrijs2005/notesync/internal/client/services"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/client/syncengine"
	"github.com/dmitrijs2005/notesync/internal/client/uploader"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/filex"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// ErrWrongUser is returned when a database file belongs to another user.
var ErrWrongUser = errors.New("database belongs to another user")

// Connectivity is the shared online/offline signal.
type Connectivity interface {
	Subscribe() (<-chan bool, func())
}

// BlobStoreFactory opens the blob store for a user.
type BlobStoreFactory func(ctx context.Context, userID string) (blobstore.Store, error)

// MemoryBlobs keeps attachments in process memory.
func MemoryBlobs(ctx context.Context, userID string) (blobstore.Store, error) {
	return blobstore.NewMemoryStore(userID), nil
}

// S3Blobs opens an S3 bucket per cfg.
func S3Blobs(cfg blobstore.S3Config) BlobStoreFactory {
	return func(ctx context.Context, userID string) (blobstore.Store, error) {
		return blobstore.NewS3Store(ctx, cfg, userID)
	}
}

// Options configure every session a Manager opens.
type Options struct {
	DataDir  string
	Sync     syncengine.Config
	Uploads  uploader.Config
	OpenBlob BlobStoreFactory
}

// Deps are shared by all sessions of a process.
type Deps struct {
	Remote       client.Client
	Auth         auth.Authenticator
	Connectivity Connectivity
	Schema       *schema.Registry
	Logger       logging.Logger
}

type linkerFunc func(ctx context.Context, entityID, field, remoteKey string) error

func (f linkerFunc) LinkBlob(ctx context.Context, entityID, field, remoteKey string) error {
	return f(ctx, entityID, field, remoteKey)
}

type Session struct {
	UserID   string
	UserPath string

	Store    *store.Store
	Queue    *queue.Queue
	Engine   *syncengine.Engine
	Uploads  *uploader.Coordinator
	Entries  services.EntryService
	logger   logging.Logger
}

// DBPath is the database file of userID inside dataDir.
func DBPath(dataDir, userID string) string {
	return filepath.Join(dataDir, userID+".db")
}

// Open opens or creates the user's database and assembles the session.
// Nothing runs until Run is called.
func Open(ctx context.Context, userID string, opts Options, d Deps) (*Session, error) {
	userPath := common.UserPath(userID)
	if _, err := common.UserFromPath(userPath); err != nil {
		return nil, fmt.Errorf("open session %q: %w", userID, err)
	}
	if _, err := filex.EnsureDir(opts.DataDir); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logger := d.Logger.With("user", userID)
	st, err := store.Open(ctx, DBPath(opts.DataDir, userID), logger)
	if err != nil {
		return nil, err
	}
	if err := bindUser(ctx, st, userID); err != nil {
		_ = st.Close()
		return nil, err
	}

	openBlob := opts.OpenBlob
	if openBlob == nil {
		openBlob = MemoryBlobs
	}
	blobs, err := openBlob(ctx, userID)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	clock := timex.NewClock()
	q := queue.New(st, logger)

	s := &Session{
		UserID:   userID,
		UserPath: userPath,
		Store:    st,
		Queue:    q,
		logger:   logger,
	}
	s.Engine = syncengine.New(syncengine.Deps{
		Store:        st,
		Queue:        q,
		Remote:       d.Remote,
		Auth:         d.Auth,
		Connectivity: d.Connectivity,
		Clock:        clock,
		Logger:       logger,
	}, userPath, opts.Sync)

	link := linkerFunc(func(ctx context.Context, entityID, field, remoteKey string) error {
		return s.Entries.LinkBlob(ctx, entityID, field, remoteKey)
	})
	s.Uploads = uploader.New(st, blobs, link, d.Connectivity, opts.Uploads, logger)
	s.Entries = services.NewEntryService(userPath, services.Deps{
		Store:  st,
		Queue:  q,
		Schema: d.Schema,
		Clock:  clock,
		Blobs:  s.Uploads,
		Remote: d.Remote,
		Logger: logger,
	})
	return s, nil
}

// bindUser records the owner in a fresh database and refuses a database
// that carries somebody else's id.
func bindUser(ctx context.Context, st *store.Store, userID string) error {
	if st.Corrupted() {
		return nil
	}
	return st.Update(ctx, func(ctx context.Context, r store.Repos) error {
		owner, err := r.Metadata.Get(ctx, metadata.KeyUserID)
		if err != nil {
			return err
		}
		switch string(owner) {
		case userID:
			return nil
		case "":
			return r.Metadata.Set(ctx, metadata.KeyUserID, []byte(userID))
		default:
			return fmt.Errorf("%w: %s", ErrWrongUser, owner)
		}
	})
}

// Run drives the edit actor, sync engine and uploader until ctx ends or
// one of them fails.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Entries.Run(ctx) })
	g.Go(func() error { return s.Engine.Run(ctx) })
	g.Go(func() error { return s.Uploads.Run(ctx) })

	s.logger.Info(ctx, "session started")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (s *Session) Close() error {
	return s.Store.Close()
}

// Status is a snapshot for status displays.
type Status struct {
	UserID   string
	State    syncengine.State
	LastErr  error
	Queued   int
	Problems services.Problems
}

func (s *Session) Status(ctx context.Context) (Status, error) {
	st := Status{UserID: s.UserID, State: s.Engine.State(), LastErr: s.Engine.LastError()}

	var err error
	if st.Queued, err = s.Queue.Len(ctx); err != nil {
		return st, err
	}
	st.Problems, err = s.Entries.Problems(ctx)
	return st, err
}

// Flush waits until attachments have left the upload queue and everything
// written so far, blob links included, has been pushed. It does not return
// while offline unless ctx ends.
func (s *Session) Flush(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		busy, err := s.Uploads.Busy(ctx)
		if err != nil {
			return err
		}
		if !busy {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return s.Engine.WaitIdle(ctx)
}
