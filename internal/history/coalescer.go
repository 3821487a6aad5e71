package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/P2Wdisabled/Notus-sub000/internal/documents"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet interval a burst of edits must observe before
// its coalesced commit fires.
const DefaultDebounce = 10 * time.Second

var errMissingCommitter = errors.New("committer is required")

const (
	opCoalescerNew = "history.coalescer.new"
	opRecord       = "history.record_update"
)

// Schedule runs task after delay and returns a cancel function. The default
// implementation wraps time.AfterFunc; tests inject a manual scheduler.
type Schedule func(delay time.Duration, task func()) (cancel func())

func afterFuncSchedule(delay time.Duration, task func()) func() {
	timer := time.AfterFunc(delay, task)
	return func() { timer.Stop() }
}

// DocumentReader is the slice of the document store used to seed the diff
// baseline for a new pending entry.
type DocumentReader interface {
	GetDocumentByID(ctx context.Context, documentID string) (documents.Document, error)
}

// Key identifies one pending coalesced update. At most one pending entry
// exists per key at any time.
type Key struct {
	DocumentID string
	UserID     string
	UserEmail  string
}

// Update is one content-bearing edit handed off by the relay. Snapshot is
// nil for ephemeral updates, which are broadcast-only and never persisted.
type Update struct {
	DocumentID string
	UserID     string
	UserEmail  string
	Title      string
	Tags       []string
	Snapshot   *string
}

func (u Update) key() Key {
	return Key{DocumentID: u.DocumentID, UserID: u.UserID, UserEmail: u.UserEmail}
}

type pendingUpdate struct {
	previousContent string
	nextContent     string
	title           string
	tags            []string
	cancel          func()
	updatedAt       time.Time
}

// CoalescerConfig describes the dependencies of a Coalescer.
type CoalescerConfig struct {
	Committer *Committer
	Documents DocumentReader
	Debounce  time.Duration
	Clock     func() time.Time
	Schedule  Schedule
	Logger    *zap.Logger
}

// Coalescer batches bursts of edits per key into at most one commit per
// quiet interval. Pending state is owned by the coalescer and independent of
// connection lifecycle: a disconnecting editor's last burst still commits
// once the interval elapses.
type Coalescer struct {
	committer *Committer
	documents DocumentReader
	debounce  time.Duration
	clock     func() time.Time
	schedule  Schedule
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[Key]*pendingUpdate
}

// NewCoalescer validates the configuration and returns a Coalescer.
func NewCoalescer(cfg CoalescerConfig) (*Coalescer, error) {
	if cfg.Committer == nil {
		return nil, newCommitError(opCoalescerNew, "missing_committer", errMissingCommitter)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	schedule := cfg.Schedule
	if schedule == nil {
		schedule = afterFuncSchedule
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Coalescer{
		committer: cfg.Committer,
		documents: cfg.Documents,
		debounce:  debounce,
		clock:     clock,
		schedule:  schedule,
		logger:    logger,
		pending:   make(map[Key]*pendingUpdate),
	}, nil
}

// Record absorbs one live edit. Updates without a snapshot are dropped.
// The first update for a key seeds its baseline (and title/tags) from the
// store's current view of the document (best effort; lookup failure
// degrades the baseline to empty), later updates in the same burst only
// overwrite the pending state and push the scheduled commit out by the
// quiet interval.
func (c *Coalescer) Record(ctx context.Context, update Update) {
	if update.Snapshot == nil || update.DocumentID == "" {
		return
	}
	key := update.key()

	// The baseline lookup runs under the lock: pending mutations apply
	// strictly in arrival order, so a stalled lookup for an older update
	// cannot overwrite a newer update's content.
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.pending[key]
	if !exists {
		document := c.lookupBaseline(ctx, update.DocumentID)
		entry = &pendingUpdate{
			previousContent: document.Content,
			title:           document.Title,
			tags:            document.TagList(),
		}
		c.pending[key] = entry
	}

	if entry.cancel != nil {
		entry.cancel()
	}
	entry.nextContent = *update.Snapshot
	if update.Title != "" {
		entry.title = update.Title
	}
	if update.Tags != nil {
		entry.tags = update.Tags
	}
	stamp := c.clock()
	entry.updatedAt = stamp
	entry.cancel = c.schedule(c.debounce, func() {
		c.commitPending(key, stamp)
	})
}

// FlushRequest carries the explicitly saved document state.
type FlushRequest struct {
	NextContent string
	Title       string
	Tags        []string
}

// Flush commits the pending state for key synchronously, using the request
// content as the committed content. When a pending entry exists its
// baseline is adopted so that an explicit save after a burst of uncommitted
// edits still captures the entire accumulated change; its timer is
// cancelled so no duplicate commit follows. Without a pending entry the
// baseline is the store's current view. Unlike the timer path, commit
// failures surface.
func (c *Coalescer) Flush(ctx context.Context, key Key, request FlushRequest) error {
	c.mu.Lock()
	entry, exists := c.pending[key]
	var baseline, title string
	var tags []string
	if exists {
		if entry.cancel != nil {
			entry.cancel()
		}
		baseline = entry.previousContent
		title = entry.title
		tags = entry.tags
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !exists {
		document := c.lookupBaseline(ctx, key.DocumentID)
		baseline = document.Content
		title = document.Title
		tags = document.TagList()
	}
	if request.Title != "" {
		title = request.Title
	}
	if request.Tags != nil {
		tags = request.Tags
	}

	return c.committer.Commit(ctx, CommitRequest{
		DocumentID:      key.DocumentID,
		UserID:          key.UserID,
		UserEmail:       key.UserEmail,
		Title:           title,
		Tags:            tags,
		PreviousContent: baseline,
		NextContent:     request.NextContent,
	})
}

// PendingCount reports the number of live pending entries.
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coalescer) commitPending(key Key, stamp time.Time) {
	c.mu.Lock()
	entry, exists := c.pending[key]
	if !exists || !entry.updatedAt.Equal(stamp) {
		// Stale timer: the entry was superseded or flushed after this
		// commit was scheduled.
		c.mu.Unlock()
		return
	}
	previous, next := entry.previousContent, entry.nextContent
	title, tags := entry.title, entry.tags
	delete(c.pending, key)
	c.mu.Unlock()

	// The triggering broadcast was acknowledged long ago; a failure here is
	// recorded by the committer's log and goes no further.
	_ = c.committer.Commit(context.Background(), CommitRequest{
		DocumentID:      key.DocumentID,
		UserID:          key.UserID,
		UserEmail:       key.UserEmail,
		Title:           title,
		Tags:            tags,
		PreviousContent: previous,
		NextContent:     next,
	})
}

func (c *Coalescer) lookupBaseline(ctx context.Context, documentID string) documents.Document {
	if c.documents == nil {
		return documents.Document{}
	}
	document, err := c.documents.GetDocumentByID(ctx, documentID)
	if err != nil {
		if !errors.Is(err, documents.ErrDocumentNotFound) {
			c.logger.Warn("baseline lookup failed, degrading to empty",
				zap.String("operation", opRecord),
				zap.String("document_id", documentID),
				zap.Error(err))
		}
		return documents.Document{}
	}
	return document
}
