package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrInvalidUserID indicates that a user identifier exceeds storage bounds.
	ErrInvalidUserID = errors.New("documents: invalid user id")
	// ErrDocumentNotFound indicates that no document exists for the requested identifier.
	ErrDocumentNotFound = errors.New("documents: document not found")
)

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// Document models the durable snapshot of one collaboratively-edited document.
type Document struct {
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;default:'';index:idx_documents_user,priority:1"`
	UserEmail        string `gorm:"column:user_email;size:190;not null;default:''"`
	Title            string `gorm:"column:title;type:text;not null;default:''"`
	Content          string `gorm:"column:content;type:text;not null;default:''"`
	TagsJSON         string `gorm:"column:tags_json;type:text;not null;default:'[]'"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_documents_user,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// TagList decodes the stored tags column. Empty or malformed values decode
// to nil.
func (d Document) TagList() []string {
	if d.TagsJSON == "" || d.TagsJSON == "[]" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(d.TagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}

// HistoryRecord captures one committed content transition. Rows are
// append-only and never mutated.
type HistoryRecord struct {
	HistoryID         string  `gorm:"column:history_id;primaryKey;size:190;not null"`
	DocumentID        string  `gorm:"column:document_id;size:190;not null;index:idx_history_document_time,priority:1"`
	UserID            *string `gorm:"column:user_id;size:190"`
	UserEmail         *string `gorm:"column:user_email;size:190"`
	SnapshotBefore    string  `gorm:"column:snapshot_before;type:text;not null;default:''"`
	SnapshotAfter     string  `gorm:"column:snapshot_after;type:text;not null;default:''"`
	DiffAdded         string  `gorm:"column:diff_added;type:text;not null;default:''"`
	DiffRemoved       string  `gorm:"column:diff_removed;type:text;not null;default:''"`
	RecordedAtSeconds int64   `gorm:"column:recorded_at_s;not null;index:idx_history_document_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (HistoryRecord) TableName() string {
	return "document_history"
}

// DocumentUpsert describes the inputs for a create-or-update of the durable
// snapshot.
type DocumentUpsert struct {
	DocumentID string
	UserID     string
	UserEmail  string
	Title      string
	Content    string
	Tags       []string
}
