package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errInvalidFieldName  = errors.New("field name must be alphanumeric")
	noOpLogger           = zap.NewNop()
	fieldNamePattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// ServiceError carries a dotted operation.reason code and the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "documents.service.new"
	opPut          = "documents.put"
	opMerge        = "documents.merge"
	opCreate       = "documents.create"
	opGet          = "documents.get"
	opList         = "documents.list"
	opFindByField  = "documents.find_by_field"
	opDelete       = "documents.delete"
	logMessageFail = "documents service error"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig wires the store's collaborators.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Listener   ChangeListener
}

// Service is the per-user document store. Every call is scoped to one user's partition.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	listener   ChangeListener
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		listener:   cfg.Listener,
	}, nil
}

// Put overwrites the document at documentID with fields, creating it when absent.
func (s *Service) Put(ctx context.Context, userID UserID, collection CollectionName, documentID DocumentID, fields Fields) error {
	payload, err := encodeFields(fields)
	if err != nil {
		s.logError(opPut, "encode_failed", err, documentFields(userID, collection, documentID)...)
		return newServiceError(opPut, "encode_failed", err)
	}

	now := s.clock().UTC().Unix()
	record := Record{
		UserID:           userID.String(),
		Collection:       collection.String(),
		DocumentID:       documentID.String(),
		PayloadJSON:      payload,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "collection"}, {Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload_json", "updated_at_s"}),
	}).Create(&record).Error
	if err != nil {
		s.logError(opPut, "write_failed", err, documentFields(userID, collection, documentID)...)
		return newServiceError(opPut, "write_failed", err)
	}

	s.notify(Change{UserID: userID, Collection: collection, DocumentID: documentID, Operation: OperationPut})
	return nil
}

// Merge overlays fields onto the stored document's top-level fields. Absent documents are created.
func (s *Service) Merge(ctx context.Context, userID UserID, collection CollectionName, documentID DocumentID, fields Fields) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock().UTC().Unix()
		var existing Record
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND collection = ? AND document_id = ?", userID.String(), collection.String(), documentID.String()).
			Take(&existing).Error
		merged := Fields{}
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			existing = Record{
				UserID:           userID.String(),
				Collection:       collection.String(),
				DocumentID:       documentID.String(),
				CreatedAtSeconds: now,
			}
		case err != nil:
			s.logError(opMerge, "read_failed", err, documentFields(userID, collection, documentID)...)
			return newServiceError(opMerge, "read_failed", err)
		default:
			stored, decodeErr := decodeFields(existing.PayloadJSON)
			if decodeErr != nil {
				s.logError(opMerge, "decode_failed", decodeErr, documentFields(userID, collection, documentID)...)
				return newServiceError(opMerge, "decode_failed", decodeErr)
			}
			merged = stored
		}

		for key, value := range fields {
			merged[key] = value
		}
		payload, err := encodeFields(merged)
		if err != nil {
			s.logError(opMerge, "encode_failed", err, documentFields(userID, collection, documentID)...)
			return newServiceError(opMerge, "encode_failed", err)
		}
		existing.PayloadJSON = payload
		existing.UpdatedAtSeconds = now
		if err := tx.Save(&existing).Error; err != nil {
			s.logError(opMerge, "write_failed", err, documentFields(userID, collection, documentID)...)
			return newServiceError(opMerge, "write_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	s.notify(Change{UserID: userID, Collection: collection, DocumentID: documentID, Operation: OperationMerge})
	return nil
}

// Create stores fields under a freshly issued identifier and returns it.
func (s *Service) Create(ctx context.Context, userID UserID, collection CollectionName, fields Fields) (DocumentID, error) {
	rawID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", userID.String()))
		return "", newServiceError(opCreate, "id_generation_failed", err)
	}
	documentID, err := NewDocumentID(rawID)
	if err != nil {
		s.logError(opCreate, "invalid_document_id", err, zap.String("user_id", userID.String()))
		return "", newServiceError(opCreate, "invalid_document_id", err)
	}
	if err := s.Put(ctx, userID, collection, documentID, fields); err != nil {
		return "", err
	}
	return documentID, nil
}

// Get loads one document. A missing document yields an error matching ErrDocumentNotFound.
func (s *Service) Get(ctx context.Context, userID UserID, collection CollectionName, documentID DocumentID) (Document, error) {
	var record Record
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND collection = ? AND document_id = ?", userID.String(), collection.String(), documentID.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, newServiceError(opGet, "not_found", ErrDocumentNotFound)
	}
	if err != nil {
		s.logError(opGet, "read_failed", err, documentFields(userID, collection, documentID)...)
		return Document{}, newServiceError(opGet, "read_failed", err)
	}
	document, err := record.document()
	if err != nil {
		s.logError(opGet, "decode_failed", err, documentFields(userID, collection, documentID)...)
		return Document{}, newServiceError(opGet, "decode_failed", err)
	}
	return document, nil
}

// List returns every document of the collection in creation order.
func (s *Service) List(ctx context.Context, userID UserID, collection CollectionName) ([]Document, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND collection = ?", userID.String(), collection.String()).
		Order("created_at_s ASC").
		Order("document_id ASC").
		Find(&records).Error; err != nil {
		s.logError(opList, "read_failed", err, zap.String("user_id", userID.String()), zap.String("collection", collection.String()))
		return nil, newServiceError(opList, "read_failed", err)
	}
	return s.decodeRecords(opList, records), nil
}

// FindByField returns documents whose top-level field equals value.
func (s *Service) FindByField(ctx context.Context, userID UserID, collection CollectionName, field string, value any) ([]Document, error) {
	if !fieldNamePattern.MatchString(field) {
		return nil, newServiceError(opFindByField, "invalid_field", fmt.Errorf("%w: %q", errInvalidFieldName, field))
	}
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND collection = ?", userID.String(), collection.String()).
		Where("json_extract(payload_json, ?) = ?", "$."+field, value).
		Order("created_at_s ASC").
		Order("document_id ASC").
		Find(&records).Error; err != nil {
		s.logError(opFindByField, "read_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("collection", collection.String()),
			zap.String("field", field))
		return nil, newServiceError(opFindByField, "read_failed", err)
	}
	return s.decodeRecords(opFindByField, records), nil
}

// Delete removes a document. Deleting an absent document succeeds.
func (s *Service) Delete(ctx context.Context, userID UserID, collection CollectionName, documentID DocumentID) error {
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND collection = ? AND document_id = ?", userID.String(), collection.String(), documentID.String()).
		Delete(&Record{}).Error; err != nil {
		s.logError(opDelete, "write_failed", err, documentFields(userID, collection, documentID)...)
		return newServiceError(opDelete, "write_failed", err)
	}
	s.notify(Change{UserID: userID, Collection: collection, DocumentID: documentID, Operation: OperationDelete})
	return nil
}

func (s *Service) decodeRecords(operation string, records []Record) []Document {
	documents := make([]Document, 0, len(records))
	for _, record := range records {
		document, err := record.document()
		if err != nil {
			s.loggerOrDefault().Warn("skipping undecodable document",
				zap.String("operation", operation),
				zap.String("user_id", record.UserID),
				zap.String("collection", record.Collection),
				zap.String("document_id", record.DocumentID),
				zap.Error(err))
			continue
		}
		documents = append(documents, document)
	}
	return documents
}

func (s *Service) notify(change Change) {
	if s.listener == nil {
		return
	}
	s.listener.DocumentChanged(change)
}

func (r Record) document() (Document, error) {
	fields, err := decodeFields(r.PayloadJSON)
	if err != nil {
		return Document{}, err
	}
	return Document{
		ID:        DocumentID(r.DocumentID),
		Fields:    fields,
		CreatedAt: time.Unix(r.CreatedAtSeconds, 0).UTC(),
		UpdatedAt: time.Unix(r.UpdatedAtSeconds, 0).UTC(),
	}, nil
}

func encodeFields(fields Fields) (string, error) {
	if fields == nil {
		fields = Fields{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeFields(payload string) (Fields, error) {
	fields := Fields{}
	if payload == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func documentFields(userID UserID, collection CollectionName, documentID DocumentID) []zap.Field {
	return []zap.Field{
		zap.String("user_id", userID.String()),
		zap.String("collection", collection.String()),
		zap.String("document_id", documentID.String()),
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error(logMessageFail, attrs...)
}
