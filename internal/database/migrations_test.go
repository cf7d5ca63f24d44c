package database

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/intentions/internal/documents"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func loadPayload(testContext *testing.T, database *gorm.DB, collection documents.CollectionName, documentID string) map[string]any {
	testContext.Helper()
	var stored documents.Record
	err := database.
		Where("user_id = ? AND collection = ? AND document_id = ?", "user-1", collection.String(), documentID).
		Take(&stored).Error
	if err != nil {
		testContext.Fatalf("failed to reload document %s: %v", documentID, err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(stored.PayloadJSON), &payload); err != nil {
		testContext.Fatalf("failed to decode payload: %v", err)
	}
	return payload
}

func TestApplyMigrationsRepairsLegacyDocuments(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&documents.Record{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := []documents.Record{
		{UserID: "user-1", Collection: "intention", DocumentID: "legacy", PayloadJSON: `{"title":"Call mum","exerciseType":"Family"}`},
		{UserID: "user-1", Collection: "intention", DocumentID: "current", PayloadJSON: `{"title":"Walk","intentionType":"Health","priority":"High"}`},
		{UserID: "user-1", Collection: "goals", DocumentID: "goal", PayloadJSON: `{"title":"Read","targetValue":0}`},
		{UserID: "user-1", Collection: "exercise", DocumentID: "run", PayloadJSON: `{"title":"Run","exerciseType":"Cardio"}`},
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert documents: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	renamed := loadPayload(testContext, database, documents.CollectionIntention, "legacy")
	if renamed["intentionType"] != "Family" {
		testContext.Fatalf("expected intentionType to be carried over, got %#v", renamed)
	}
	if _, present := renamed["exerciseType"]; present {
		testContext.Fatalf("expected exerciseType to be removed, got %#v", renamed)
	}
	if renamed["priority"] != "Medium" {
		testContext.Fatalf("expected default priority, got %#v", renamed["priority"])
	}

	current := loadPayload(testContext, database, documents.CollectionIntention, "current")
	if current["priority"] != "High" || current["intentionType"] != "Health" {
		testContext.Fatalf("expected current intention untouched, got %#v", current)
	}

	goal := loadPayload(testContext, database, documents.CollectionGoals, "goal")
	if goal["targetValue"] != float64(100) {
		testContext.Fatalf("expected default target value, got %#v", goal["targetValue"])
	}

	exercise := loadPayload(testContext, database, documents.CollectionExercise, "run")
	if exercise["exerciseType"] != "Cardio" {
		testContext.Fatalf("expected exercise documents untouched, got %#v", exercise)
	}

	var applied int64
	if err := database.Model(&migrationRecord{}).Count(&applied).Error; err != nil {
		testContext.Fatalf("failed to count migrations: %v", err)
	}
	if applied != 3 {
		testContext.Fatalf("expected three migration records, got %d", applied)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected re-run to be a no-op: %v", err)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "open.db")
	database, err := OpenSQLite(databasePath, nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"user_documents", "accounts", "user_identities", "subscription_entitlements", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
