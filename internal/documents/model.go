package documents

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CollectionName names a per-user sub-collection.
type CollectionName string

const (
	// CollectionIntention holds daily intentions.
	CollectionIntention CollectionName = "intention"
	// CollectionExercise holds exercise log entries.
	CollectionExercise CollectionName = "exercise"
	// CollectionSleep holds sleep log entries.
	CollectionSleep CollectionName = "sleep"
	// CollectionGoals holds yearly goals.
	CollectionGoals CollectionName = "goals"
	// CollectionDebrief holds one debrief per day.
	CollectionDebrief CollectionName = "debrief"
)

var knownCollections = map[CollectionName]struct{}{
	CollectionIntention: {},
	CollectionExercise:  {},
	CollectionSleep:     {},
	CollectionGoals:     {},
	CollectionDebrief:   {},
}

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("documents: invalid user id")
	// ErrUnknownCollection indicates a collection name outside the known set.
	ErrUnknownCollection = errors.New("documents: unknown collection")
	// ErrDocumentNotFound indicates that no document exists at the requested identifier.
	ErrDocumentNotFound = errors.New("documents: document not found")
)

// ParseCollectionName validates raw input against the known collections.
func ParseCollectionName(rawInput string) (CollectionName, error) {
	name := CollectionName(strings.TrimSpace(rawInput))
	if _, ok := knownCollections[name]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, rawInput)
	}
	return name, nil
}

// String returns the underlying collection name.
func (c CollectionName) String() string {
	return string(c)
}

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

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Fields is a flat field/value map. Nested lists are embedded arrays of maps.
type Fields map[string]any

// Document is a stored document together with store-maintained metadata.
type Document struct {
	ID        DocumentID
	Fields    Fields
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Record models the persisted document row.
type Record struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_documents_user_collection,priority:1"`
	Collection       string `gorm:"column:collection;primaryKey;size:64;not null;index:idx_documents_user_collection,priority:2"`
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_documents_user_collection,priority:3"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "user_documents"
}

// Operation enumerates the kinds of change reported to listeners.
type Operation string

const (
	// OperationPut reports a full overwrite or creation.
	OperationPut Operation = "put"
	// OperationMerge reports a partial field merge.
	OperationMerge Operation = "merge"
	// OperationDelete reports a removal.
	OperationDelete Operation = "delete"
)

// Change describes one acknowledged write.
type Change struct {
	UserID     UserID
	Collection CollectionName
	DocumentID DocumentID
	Operation  Operation
}

// ChangeListener observes acknowledged writes.
type ChangeListener interface {
	DocumentChanged(change Change)
}
