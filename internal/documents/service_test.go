package documents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type recordingListener struct {
	mu      sync.Mutex
	changes []Change
}

func (l *recordingListener) DocumentChanged(change Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, change)
}

func (l *recordingListener) snapshot() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Change(nil), l.changes...)
}

type testItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"isDone"`
}

func (i testItem) ItemID() string {
	return i.ID
}

func TestServicePutOverwritesWholeDocument(t *testing.T) {
	service, _, listener := newTestService(t, nil)
	ctx := context.Background()
	userID := mustUserID(t, "user-1")
	documentID := mustDocumentID(t, "doc-1")

	if err := service.Put(ctx, userID, CollectionIntention, documentID, Fields{"title": "first", "priority": "High"}); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if err := service.Put(ctx, userID, CollectionIntention, documentID, Fields{"title": "second"}); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}

	document, err := service.Get(ctx, userID, CollectionIntention, documentID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if document.Fields["title"] != "second" {
		t.Fatalf("expected overwritten title, got %v", document.Fields["title"])
	}
	if _, exists := document.Fields["priority"]; exists {
		t.Fatalf("expected full overwrite to drop priority, got %v", document.Fields)
	}
	if len(listener.snapshot()) != 2 {
		t.Fatalf("expected two change notifications, got %d", len(listener.snapshot()))
	}
}

func TestServiceMergeKeepsUntouchedFields(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()
	userID := mustUserID(t, "user-1")
	documentID := mustDocumentID(t, "doc-1")

	if err := service.Put(ctx, userID, CollectionDebrief, documentID, Fields{"title": "old", "date": "2026-10-17"}); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if err := service.Merge(ctx, userID, CollectionDebrief, documentID, Fields{"title": "new", "wordCount": 2}); err != nil {
		t.Fatalf("unexpected merge error: %v", err)
	}

	document, err := service.Get(ctx, userID, CollectionDebrief, documentID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if document.Fields["title"] != "new" || document.Fields["date"] != "2026-10-17" {
		t.Fatalf("unexpected merged fields: %v", document.Fields)
	}
	if document.Fields["wordCount"] != float64(2) {
		t.Fatalf("expected merged word count, got %v", document.Fields["wordCount"])
	}
}

func TestServiceMergeCreatesMissingDocument(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()
	userID := mustUserID(t, "user-1")
	documentID := mustDocumentID(t, "profile")

	if err := service.Merge(ctx, userID, CollectionDebrief, documentID, Fields{"title": "fresh"}); err != nil {
		t.Fatalf("unexpected merge error: %v", err)
	}
	document, err := service.Get(ctx, userID, CollectionDebrief, documentID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if document.Fields["title"] != "fresh" {
		t.Fatalf("unexpected fields: %v", document.Fields)
	}
}

func TestServiceCreateIssuesIdentifier(t *testing.T) {
	service, _, _ := newTestService(t, []string{"generated-1"})
	ctx := context.Background()
	userID := mustUserID(t, "user-1")

	documentID, err := service.Create(ctx, userID, CollectionDebrief, Fields{"date": "2026-10-17"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if documentID != "generated-1" {
		t.Fatalf("unexpected document id %s", documentID)
	}

	_, err = service.Create(ctx, userID, CollectionDebrief, Fields{})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "documents.create.id_generation_failed" {
		t.Fatalf("expected id generation failure, got %v", err)
	}
}

func TestServiceFindByFieldScopesToUserAndCollection(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()
	owner := mustUserID(t, "user-1")
	other := mustUserID(t, "user-2")

	seed := []struct {
		userID     UserID
		collection CollectionName
		documentID string
		date       string
	}{
		{userID: owner, collection: CollectionDebrief, documentID: "a", date: "2026-10-17"},
		{userID: owner, collection: CollectionDebrief, documentID: "b", date: "2026-10-18"},
		{userID: other, collection: CollectionDebrief, documentID: "c", date: "2026-10-17"},
		{userID: owner, collection: CollectionSleep, documentID: "d", date: "2026-10-17"},
	}
	for _, entry := range seed {
		if err := service.Put(ctx, entry.userID, entry.collection, mustDocumentID(t, entry.documentID), Fields{"date": entry.date}); err != nil {
			t.Fatalf("failed to seed %s: %v", entry.documentID, err)
		}
	}

	found, err := service.FindByField(ctx, owner, CollectionDebrief, "date", "2026-10-17")
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(found) != 1 || found[0].ID != "a" {
		t.Fatalf("expected only document a, got %+v", found)
	}

	if _, err := service.FindByField(ctx, owner, CollectionDebrief, "date') OR 1=1 --", "x"); err == nil {
		t.Fatalf("expected invalid field name to be rejected")
	}
}

func TestServiceDeleteIsIdempotent(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()
	userID := mustUserID(t, "user-1")
	documentID := mustDocumentID(t, "doc-1")

	if err := service.Put(ctx, userID, CollectionExercise, documentID, Fields{"title": "run"}); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		if err := service.Delete(ctx, userID, CollectionExercise, documentID); err != nil {
			t.Fatalf("delete attempt %d failed: %v", attempt, err)
		}
	}

	_, err := service.Get(ctx, userID, CollectionExercise, documentID)
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestServiceListSkipsUndecodableRows(t *testing.T) {
	service, db, _ := newTestService(t, nil)
	ctx := context.Background()
	userID := mustUserID(t, "user-1")

	if err := service.Put(ctx, userID, CollectionSleep, mustDocumentID(t, "good"), Fields{"hours": "8"}); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	corrupt := Record{UserID: "user-1", Collection: "sleep", DocumentID: "bad", PayloadJSON: "{", CreatedAtSeconds: 1, UpdatedAtSeconds: 1}
	if err := db.Create(&corrupt).Error; err != nil {
		t.Fatalf("failed to seed corrupt row: %v", err)
	}

	documents, err := service.List(ctx, userID, CollectionSleep)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(documents) != 1 || documents[0].ID != "good" {
		t.Fatalf("expected only the decodable document, got %+v", documents)
	}
}

func TestRepositoryRoundTripsItems(t *testing.T) {
	service, _, _ := newTestService(t, nil)
	ctx := context.Background()
	repository := NewRepository[testItem](service, mustUserID(t, "user-1"), CollectionIntention)

	items := []testItem{{ID: "i-1", Title: "walk"}, {ID: "i-2", Title: "read", Done: true}}
	for _, item := range items {
		if err := repository.Put(ctx, item); err != nil {
			t.Fatalf("unexpected put error: %v", err)
		}
	}

	loaded, err := repository.List(ctx)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected two items, got %d", len(loaded))
	}
	for index := range items {
		if loaded[index] != items[index] {
			t.Fatalf("item %d mismatch: want %+v got %+v", index, items[index], loaded[index])
		}
	}

	if err := repository.Delete(ctx, "i-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := repository.Put(ctx, testItem{}); err == nil {
		t.Fatalf("expected empty identifier to be rejected")
	}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected missing database error")
	}
	_, db, _ := newTestService(t, nil)
	_, err := NewService(ServiceConfig{Database: db})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "documents.service.new.missing_id_provider" {
		t.Fatalf("expected missing id provider error, got %v", err)
	}
}

func TestParseCollectionName(t *testing.T) {
	if name, err := ParseCollectionName("goals"); err != nil || name != CollectionGoals {
		t.Fatalf("expected goals, got %q %v", name, err)
	}
	if _, err := ParseCollectionName("notes"); !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("expected unknown collection error, got %v", err)
	}
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB, *recordingListener) {
	t.Helper()

	dsn := fmt.Sprintf("file:documents_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	listener := &recordingListener{}
	current := time.Unix(1700000000, 0).UTC()
	clock := func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &staticIDGenerator{ids: ids},
		Listener:   listener,
	})
	if err != nil {
		t.Fatalf("failed to construct documents service: %v", err)
	}
	return service, db, listener
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustDocumentID(t *testing.T, value string) DocumentID {
	t.Helper()
	id, err := NewDocumentID(value)
	if err != nil {
		t.Fatalf("unexpected document id error: %v", err)
	}
	return id
}
