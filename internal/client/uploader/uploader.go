// Package uploader moves captured media to the blob store. A fixed pool of
// workers uploads queued PendingBlobs while the device is online; each
// upload retries with capped exponential backoff up to a budget and then
// waits in the failed state for the user.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/notesync/internal/client/blobstore"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/models"
)

var ErrNotFailed = errors.New("blob is not in the failed state")

// Linker writes the remote key into the owning entity through the regular
// edit path, producing an update mutation.
type Linker interface {
	LinkBlob(ctx context.Context, entityID, field, remoteKey string) error
}

// Connectivity is the online/offline signal shared with the sync engine.
type Connectivity interface {
	Subscribe() (<-chan bool, func())
}

type Config struct {
	Workers     int
	RetryBudget int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Minute
	}
	return c
}

type job struct {
	ctx context.Context
	key string
}

type Coordinator struct {
	store  *store.Store
	blobs  blobstore.Store
	linker Linker
	conn   Connectivity
	logger logging.Logger
	cfg    Config
	now    func() time.Time

	wake chan struct{}

	mu       sync.Mutex
	inflight map[string]bool
}

func New(s *store.Store, blobs blobstore.Store, linker Linker, conn Connectivity, cfg Config, logger logging.Logger) *Coordinator {
	return &Coordinator{
		store:    s,
		blobs:    blobs,
		linker:   linker,
		conn:     conn,
		logger:   logger.Module("uploader"),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		inflight: map[string]bool{},
	}
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Enqueue stores b as queued. Enqueueing the same local key again replaces
// the row, so a blob is never pending twice.
func (c *Coordinator) Enqueue(ctx context.Context, b models.PendingBlob) error {
	if b.LocalKey == "" || b.OwnerEntityID == "" || b.Field == "" {
		return fmt.Errorf("enqueue blob: local key, owner and field are required")
	}
	b.State = models.UploadQueued
	b.RemoteKey = ""
	b.Attempts = 0
	b.LastError = ""
	b.UpdatedAt = c.now().UnixNano()

	err := c.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
		return r.Blobs.Upsert(ctx, b)
	})
	if err != nil {
		return fmt.Errorf("enqueue blob %s: %w", b.LocalKey, err)
	}
	c.signal()
	return nil
}

// Failures lists blobs that exhausted their retry budget.
func (c *Coordinator) Failures(ctx context.Context) ([]models.PendingBlob, error) {
	var out []models.PendingBlob
	err := c.store.View(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		out, err = r.Blobs.ListByState(ctx, models.UploadFailed)
		return err
	})
	return out, err
}

// Get returns the blob row for a local key.
func (c *Coordinator) Get(ctx context.Context, localKey string) (models.PendingBlob, error) {
	var b models.PendingBlob
	err := c.store.View(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		b, err = r.Blobs.Get(ctx, localKey)
		return err
	})
	return b, err
}

// Retry puts a failed blob back in the queue with a fresh budget.
func (c *Coordinator) Retry(ctx context.Context, localKey string) error {
	err := c.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
		b, err := r.Blobs.Get(ctx, localKey)
		if err != nil {
			return err
		}
		if b.State != models.UploadFailed {
			return fmt.Errorf("%w: %s is %s", ErrNotFailed, localKey, b.State)
		}
		b.State = models.UploadQueued
		b.Attempts = 0
		b.LastError = ""
		b.UpdatedAt = c.now().UnixNano()
		return r.Blobs.Upsert(ctx, b)
	})
	if err != nil {
		return err
	}
	c.signal()
	return nil
}

// Run dispatches queued blobs to the worker pool while online. Uploads in
// flight when connectivity drops are cancelled and stay queued.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.requeueInterrupted(ctx); err != nil {
		c.logger.Warn(ctx, "could not requeue interrupted uploads", "error", err)
	}

	jobs := make(chan job, c.cfg.Workers)
	g, gctx := errgroup.WithContext(ctx)
	for range c.cfg.Workers {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case j := <-jobs:
					c.process(j.ctx, j.key)
					c.done(j.key)
				}
			}
		})
	}

	g.Go(func() error {
		return c.dispatch(gctx, jobs)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Coordinator) dispatch(ctx context.Context, jobs chan<- job) error {
	online, stop := c.conn.Subscribe()
	defer stop()

	var (
		onlineCtx    context.Context
		cancelOnline context.CancelFunc = func() {}
	)
	defer func() { cancelOnline() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v := <-online:
			cancelOnline()
			onlineCtx = nil
			if v {
				onlineCtx, cancelOnline = context.WithCancel(ctx)
			}
		case <-c.wake:
		}

		if onlineCtx == nil {
			continue
		}

		queued, err := c.queued(ctx)
		if err != nil {
			c.logger.Error(ctx, "list queued blobs", "error", err)
			continue
		}
		for _, b := range queued {
			if !c.claim(b.LocalKey) {
				continue
			}
			select {
			case jobs <- job{ctx: onlineCtx, key: b.LocalKey}:
			default:
				// pool busy; a finishing worker wakes us again
				c.release(b.LocalKey)
			}
		}
	}
}

// Busy reports whether any blob is queued or uploading.
func (c *Coordinator) Busy(ctx context.Context) (bool, error) {
	var busy bool
	err := c.store.View(ctx, func(ctx context.Context, r store.Repos) error {
		pending, err := r.Blobs.ListByState(ctx, models.UploadQueued, models.UploadUploading)
		busy = len(pending) > 0
		return err
	})
	return busy, err
}

func (c *Coordinator) queued(ctx context.Context) ([]models.PendingBlob, error) {
	var out []models.PendingBlob
	err := c.store.View(ctx, func(ctx context.Context, r store.Repos) error {
		var err error
		out, err = r.Blobs.ListByState(ctx, models.UploadQueued)
		return err
	})
	return out, err
}

func (c *Coordinator) claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[key] {
		return false
	}
	c.inflight[key] = true
	return true
}

func (c *Coordinator) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, key)
}

func (c *Coordinator) done(key string) {
	c.release(key)
	c.signal()
}

// requeueInterrupted resets rows left uploading by a previous run.
func (c *Coordinator) requeueInterrupted(ctx context.Context) error {
	return c.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
		stuck, err := r.Blobs.ListByState(ctx, models.UploadUploading)
		if err != nil {
			return err
		}
		for _, b := range stuck {
			b.State = models.UploadQueued
			if err := r.Blobs.Upsert(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Coordinator) save(ctx context.Context, b models.PendingBlob) error {
	b.UpdatedAt = c.now().UnixNano()
	return c.store.Update(ctx, func(ctx context.Context, r store.Repos) error {
		return r.Blobs.Upsert(ctx, b)
	})
}

func (c *Coordinator) backoff() retry.Backoff {
	b := retry.NewExponential(c.cfg.BaseDelay)
	b = retry.WithCappedDuration(c.cfg.MaxDelay, b)
	return retry.WithMaxRetries(uint64(c.cfg.RetryBudget-1), b)
}

// process uploads one blob and links the key into its owner.
func (c *Coordinator) process(ctx context.Context, key string) {
	// state writes outlive a cancelled upload
	bg := context.WithoutCancel(ctx)

	b, err := c.Get(bg, key)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			c.logger.Error(bg, "load blob", "local_key", key, "error", err)
		}
		return
	}
	if b.State != models.UploadQueued {
		return
	}

	b.State = models.UploadUploading
	if err := c.save(bg, b); err != nil {
		c.logger.Error(bg, "mark uploading", "local_key", key, "error", err)
		return
	}

	var remoteKey string
	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		b.Attempts++
		k, err := c.upload(ctx, b.PayloadRef)
		if err != nil {
			b.LastError = err.Error()
			c.logger.Debug(ctx, "upload attempt failed", "local_key", key, "attempt", b.Attempts, "error", err)
			if errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return retry.RetryableError(err)
		}
		remoteKey = k
		return nil
	})

	switch {
	case err == nil:
	case ctx.Err() != nil:
		b.State = models.UploadQueued
		if serr := c.save(bg, b); serr != nil {
			c.logger.Error(bg, "requeue interrupted upload", "local_key", key, "error", serr)
		}
		return
	default:
		b.State = models.UploadFailed
		b.LastError = err.Error()
		if serr := c.save(bg, b); serr != nil {
			c.logger.Error(bg, "mark failed", "local_key", key, "error", serr)
		}
		c.logger.Warn(bg, "upload failed", "local_key", key, "attempts", b.Attempts, "error", err)
		return
	}

	// the owner is linked before the row says done
	if err := c.linker.LinkBlob(bg, b.OwnerEntityID, b.Field, remoteKey); err != nil {
		b.State = models.UploadFailed
		b.LastError = fmt.Sprintf("link into %s: %v", b.OwnerEntityID, err)
		if serr := c.save(bg, b); serr != nil {
			c.logger.Error(bg, "mark failed", "local_key", key, "error", serr)
		}
		c.logger.Error(bg, "link uploaded blob", "local_key", key, "entity", b.OwnerEntityID, "error", err)
		return
	}

	b.State = models.UploadDone
	b.RemoteKey = remoteKey
	b.LastError = ""
	if err := c.save(bg, b); err != nil {
		c.logger.Error(bg, "mark done", "local_key", key, "error", err)
		return
	}
	c.logger.Info(bg, "blob uploaded", "local_key", key, "remote_key", remoteKey, "attempts", b.Attempts)
}

func (c *Coordinator) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return c.blobs.Upload(ctx, f)
}
