package debrief

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/documents"
	"github.com/MarcoPoloResearchLab/intentions/internal/validation"
	"go.uber.org/zap"
)

const (
	// DateLayout renders the calendar day a debrief belongs to.
	DateLayout = "2006-01-02"
	// UntitledTitle names a debrief without words.
	UntitledTitle = "Untitled"

	titleWordLimit = 5
	dateField      = "date"
)

// Record is the persisted debrief document.
type Record struct {
	ID        string    `json:"-"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"`
	WordCount int       `json:"wordCount"`
}

// Store persists one debrief per (user, day).
type Store interface {
	FindByDate(ctx context.Context, day string) (Record, bool, error)
	Create(ctx context.Context, record Record) (string, error)
	Merge(ctx context.Context, id string, record Record) error
}

// DeriveTitle joins the first five words of plain with single spaces.
func DeriveTitle(plain string) string {
	words := strings.Fields(plain)
	if len(words) == 0 {
		return UntitledTitle
	}
	if len(words) > titleWordLimit {
		words = words[:titleWordLimit]
	}
	return strings.Join(words, " ")
}

// DayKey renders the calendar day containing instant in location.
func DayKey(instant time.Time, location *time.Location) string {
	if location == nil {
		location = time.UTC
	}
	return instant.In(location).Format(DateLayout)
}

// ParseDay validates a YYYY-MM-DD day in location.
func ParseDay(raw string, location *time.Location) (time.Time, error) {
	if location == nil {
		location = time.UTC
	}
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), location)
	if err != nil {
		return time.Time{}, validation.NewError("date", fmt.Sprintf("date must use %s", DateLayout))
	}
	return day, nil
}

// DocumentStore keeps debriefs in the user's debrief collection.
type DocumentStore struct {
	service *documents.Service
	userID  documents.UserID
	logger  *zap.Logger
}

// NewDocumentStore binds the debrief collection of userID.
func NewDocumentStore(service *documents.Service, userID documents.UserID, logger *zap.Logger) *DocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentStore{service: service, userID: userID, logger: logger}
}

// FindByDate returns the oldest debrief stored for day.
func (s *DocumentStore) FindByDate(ctx context.Context, day string) (Record, bool, error) {
	found, err := s.service.FindByField(ctx, s.userID, documents.CollectionDebrief, dateField, day)
	if err != nil {
		return Record{}, false, err
	}
	if len(found) == 0 {
		return Record{}, false, nil
	}
	if len(found) > 1 {
		s.logger.Warn("multiple debriefs stored for one day",
			zap.String("user_id", s.userID.String()),
			zap.String("date", day),
			zap.Int("count", len(found)))
	}
	record, err := recordFromFields(found[0].Fields)
	if err != nil {
		return Record{}, false, fmt.Errorf("debrief: decode stored record: %w", err)
	}
	record.ID = found[0].ID.String()
	return record, true, nil
}

// Create stores record as a new document.
func (s *DocumentStore) Create(ctx context.Context, record Record) (string, error) {
	fields, err := fieldsFromRecord(record)
	if err != nil {
		return "", err
	}
	documentID, err := s.service.Create(ctx, s.userID, documents.CollectionDebrief, fields)
	if err != nil {
		return "", err
	}
	return documentID.String(), nil
}

// Merge updates the fields of the document with id.
func (s *DocumentStore) Merge(ctx context.Context, id string, record Record) error {
	documentID, err := documents.NewDocumentID(id)
	if err != nil {
		return err
	}
	fields, err := fieldsFromRecord(record)
	if err != nil {
		return err
	}
	return s.service.Merge(ctx, s.userID, documents.CollectionDebrief, documentID, fields)
}

func fieldsFromRecord(record Record) (documents.Fields, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("debrief: encode record: %w", err)
	}
	fields := documents.Fields{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("debrief: encode record: %w", err)
	}
	return fields, nil
}

func recordFromFields(fields documents.Fields) (Record, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}
