package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/P2Wdisabled/Notus-sub000/internal/documents"
	"github.com/P2Wdisabled/Notus-sub000/internal/textdiff"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("history store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingDocumentID = errors.New("document identifier is required")
	noOpLogger           = zap.NewNop()
)

const (
	opCommitterNew = "history.committer.new"
	opCommit       = "history.commit"
)

// CommitError wraps commit failures with an operation code.
type CommitError struct {
	code string
	err  error
}

func (e *CommitError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *CommitError) Unwrap() error {
	return e.err
}

func newCommitError(operation, reason string, cause error) error {
	return &CommitError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// SnapshotStore is the slice of the document store the committer writes to.
type SnapshotStore interface {
	CreateOrUpdateDocumentByID(ctx context.Context, upsert documents.DocumentUpsert) error
	AppendHistoryRecord(ctx context.Context, record documents.HistoryRecord) error
}

// CommitRequest describes one content transition to make durable.
type CommitRequest struct {
	DocumentID      string
	UserID          string
	UserEmail       string
	Title           string
	Tags            []string
	PreviousContent string
	NextContent     string
}

// CommitterConfig describes the dependencies of a Committer.
type CommitterConfig struct {
	Store      SnapshotStore
	Clock      func() time.Time
	IDProvider documents.IDProvider
	Logger     *zap.Logger
}

// Committer makes one content transition durable: the document row is
// upserted to the next content, and a history record is appended when the
// normalized contents differ.
type Committer struct {
	store      SnapshotStore
	clock      func() time.Time
	idProvider documents.IDProvider
	logger     *zap.Logger
}

// NewCommitter validates the configuration and returns a Committer.
func NewCommitter(cfg CommitterConfig) (*Committer, error) {
	if cfg.Store == nil {
		return nil, newCommitError(opCommitterNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newCommitError(opCommitterNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Committer{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Commit upserts the durable document snapshot to the next content, then
// appends a history record when the normalized contents differ. Equal
// contents still refresh the snapshot but leave the history untouched.
// Storage failures are logged here and returned; asynchronous callers
// discard the error, the immediate-flush path surfaces it.
func (c *Committer) Commit(ctx context.Context, request CommitRequest) error {
	if request.DocumentID == "" {
		c.logError(opCommit, "missing_document_id", errMissingDocumentID)
		return newCommitError(opCommit, "missing_document_id", errMissingDocumentID)
	}

	upsert := documents.DocumentUpsert{
		DocumentID: request.DocumentID,
		UserID:     request.UserID,
		UserEmail:  request.UserEmail,
		Title:      request.Title,
		Content:    request.NextContent,
		Tags:       request.Tags,
	}
	if err := c.store.CreateOrUpdateDocumentByID(ctx, upsert); err != nil {
		c.logError(opCommit, "upsert_failed", err, zap.String("document_id", request.DocumentID))
		return newCommitError(opCommit, "upsert_failed", err)
	}

	normalizedPrevious := textdiff.NormalizeContent(request.PreviousContent)
	normalizedNext := textdiff.NormalizeContent(request.NextContent)
	if normalizedPrevious == normalizedNext {
		return nil
	}

	diff := textdiff.Compute(normalizedPrevious, normalizedNext)

	historyID, err := c.idProvider.NewID()
	if err != nil {
		c.logError(opCommit, "id_generation_failed", err, zap.String("document_id", request.DocumentID))
		return newCommitError(opCommit, "id_generation_failed", err)
	}

	record := documents.HistoryRecord{
		HistoryID:         historyID,
		DocumentID:        request.DocumentID,
		UserID:            optionalString(request.UserID),
		UserEmail:         optionalString(request.UserEmail),
		SnapshotBefore:    request.PreviousContent,
		SnapshotAfter:     request.NextContent,
		DiffAdded:         diff.Added,
		DiffRemoved:       diff.Removed,
		RecordedAtSeconds: c.clock().UTC().Unix(),
	}

	if err := c.store.AppendHistoryRecord(ctx, record); err != nil {
		c.logError(opCommit, "append_failed", err,
			zap.String("document_id", request.DocumentID),
			zap.String("history_id", historyID))
		return newCommitError(opCommit, "append_failed", err)
	}

	return nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func (c *Committer) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Error("history committer error", attrs...)
}
