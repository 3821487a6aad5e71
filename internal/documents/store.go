package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opStoreNew      = "documents.store.new"
	opGetDocument   = "documents.get_document"
	opUpsert        = "documents.upsert_document"
	opAppendHistory = "documents.append_history"
	opListHistory   = "documents.list_history"
)

// StoreError wraps storage failures with an operation code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable operation code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Store is the persistence boundary consumed by the realtime core.
type Store interface {
	GetDocumentByID(ctx context.Context, documentID string) (Document, error)
	CreateOrUpdateDocumentByID(ctx context.Context, upsert DocumentUpsert) error
	AppendHistoryRecord(ctx context.Context, record HistoryRecord) error
}

// StoreConfig describes the dependencies of the GORM-backed store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// GormStore persists documents and history records through GORM.
type GormStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewGormStore validates the configuration and returns a GormStore.
func NewGormStore(cfg StoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &GormStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// GetDocumentByID returns the current durable snapshot of a document.
// A missing row is reported as ErrDocumentNotFound.
func (s *GormStore) GetDocumentByID(ctx context.Context, documentID string) (Document, error) {
	id, err := NewDocumentID(documentID)
	if err != nil {
		return Document{}, newStoreError(opGetDocument, "invalid_document_id", err)
	}

	var document Document
	err = s.db.WithContext(ctx).
		Where("document_id = ?", id.String()).
		Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id.String())
	}
	if err != nil {
		s.logError(opGetDocument, "query_failed", err, zap.String("document_id", id.String()))
		return Document{}, newStoreError(opGetDocument, "query_failed", err)
	}

	return document, nil
}

// CreateOrUpdateDocumentByID upserts the durable snapshot for a document.
func (s *GormStore) CreateOrUpdateDocumentByID(ctx context.Context, upsert DocumentUpsert) error {
	id, err := NewDocumentID(upsert.DocumentID)
	if err != nil {
		return newStoreError(opUpsert, "invalid_document_id", err)
	}

	tagsJSON, err := encodeTags(upsert.Tags)
	if err != nil {
		return newStoreError(opUpsert, "invalid_tags", err)
	}

	now := s.clock().UTC().Unix()
	document := Document{
		DocumentID:       id.String(),
		UserID:           upsert.UserID,
		UserEmail:        upsert.UserEmail,
		Title:            upsert.Title,
		Content:          upsert.Content,
		TagsJSON:         tagsJSON,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "document_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id", "user_email", "title", "content", "tags_json", "updated_at_s",
			}),
		}).
		Create(&document).Error
	if err != nil {
		s.logError(opUpsert, "upsert_failed", err, zap.String("document_id", id.String()))
		return newStoreError(opUpsert, "upsert_failed", err)
	}

	return nil
}

// AppendHistoryRecord persists one append-only history row.
func (s *GormStore) AppendHistoryRecord(ctx context.Context, record HistoryRecord) error {
	if record.HistoryID == "" {
		return newStoreError(opAppendHistory, "missing_history_id", nil)
	}
	if _, err := NewDocumentID(record.DocumentID); err != nil {
		return newStoreError(opAppendHistory, "invalid_document_id", err)
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opAppendHistory, "insert_failed", err,
			zap.String("document_id", record.DocumentID),
			zap.String("history_id", record.HistoryID))
		return newStoreError(opAppendHistory, "insert_failed", err)
	}

	return nil
}

// ListHistory returns the history rows for a document, most recent first.
func (s *GormStore) ListHistory(ctx context.Context, documentID string) ([]HistoryRecord, error) {
	id, err := NewDocumentID(documentID)
	if err != nil {
		return nil, newStoreError(opListHistory, "invalid_document_id", err)
	}

	var records []HistoryRecord
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", id.String()).
		Order("recorded_at_s DESC").
		Find(&records).Error; err != nil {
		return nil, newStoreError(opListHistory, "query_failed", err)
	}

	return records, nil
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func (s *GormStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("document store error", attrs...)
}
