package documents

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

const idField = "id"

// Identified is implemented by items stored one per document.
type Identified interface {
	ItemID() string
}

// Repository adapts one user's collection to a typed item list. Items are stored as their JSON
// field map under their own identifier.
type Repository[T Identified] struct {
	service    *Service
	userID     UserID
	collection CollectionName
}

// NewRepository binds a typed view over collection for userID.
func NewRepository[T Identified](service *Service, userID UserID, collection CollectionName) *Repository[T] {
	return &Repository[T]{service: service, userID: userID, collection: collection}
}

// List loads and decodes every item. Documents that do not decode into T are skipped.
func (r *Repository[T]) List(ctx context.Context) ([]T, error) {
	documents, err := r.service.List(ctx, r.userID, r.collection)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, len(documents))
	for _, document := range documents {
		item, err := decodeItem[T](document)
		if err != nil {
			r.service.loggerOrDefault().Warn("skipping malformed item",
				zap.String("user_id", r.userID.String()),
				zap.String("collection", r.collection.String()),
				zap.String("document_id", document.ID.String()),
				zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Put overwrites the item's document.
func (r *Repository[T]) Put(ctx context.Context, item T) error {
	documentID, err := NewDocumentID(item.ItemID())
	if err != nil {
		return newServiceError(opPut, "invalid_document_id", err)
	}
	fields, err := encodeItem(item)
	if err != nil {
		return newServiceError(opPut, "encode_failed", err)
	}
	return r.service.Put(ctx, r.userID, r.collection, documentID, fields)
}

// Delete removes the item with id.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	documentID, err := NewDocumentID(id)
	if err != nil {
		return newServiceError(opDelete, "invalid_document_id", err)
	}
	return r.service.Delete(ctx, r.userID, r.collection, documentID)
}

func encodeItem[T any](item T) (Fields, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	fields := Fields{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("item is not a JSON object: %w", err)
	}
	return fields, nil
}

func decodeItem[T any](document Document) (T, error) {
	var item T
	fields := make(Fields, len(document.Fields)+1)
	for key, value := range document.Fields {
		fields[key] = value
	}
	fields[idField] = document.ID.String()
	raw, err := json.Marshal(fields)
	if err != nil {
		return item, err
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return item, err
	}
	return item, nil
}
