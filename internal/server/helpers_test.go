package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/auth"
	"github.com/MarcoPoloResearchLab/intentions/internal/database"
	"github.com/MarcoPoloResearchLab/intentions/internal/documents"
	"github.com/MarcoPoloResearchLab/intentions/internal/events"
	"github.com/MarcoPoloResearchLab/intentions/internal/session"
	"github.com/MarcoPoloResearchLab/intentions/internal/subscriptions"
	"github.com/MarcoPoloResearchLab/intentions/internal/users"
	githubsqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

type testServer struct {
	handler    http.Handler
	db         *gorm.DB
	issuer     *auth.TokenIssuer
	mailer     *recordingMailer
	dispatcher *events.Dispatcher
}

func newTestServer(t *testing.T, options ...func(*Dependencies)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := database.Migrate(db, nil); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	clock := func() time.Time { return testNow }
	dispatcher := events.NewDispatcher()
	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: documents.NewUUIDProvider(),
		Listener:   dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build document service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "intentions-test",
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(issuer, "")
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	mailer := &recordingMailer{}
	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Hasher:   auth.NewBcryptPasswordHasher(4),
		Tokens:   issuer,
		Mailer:   mailer,
		Events:   dispatcher,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceConfig{
		Database: db,
		Statuses: userService,
		Events:   dispatcher,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("failed to build subscription service: %v", err)
	}
	registry, err := session.NewRegistry(session.Config{
		Documents:     documentService,
		Tiers:         subscriptionService,
		Events:        dispatcher,
		AutosaveDelay: time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to build workspace registry: %v", err)
	}
	t.Cleanup(func() {
		_ = registry.Shutdown(context.Background())
	})

	deps := Dependencies{
		Users:             userService,
		Subscriptions:     subscriptionService,
		Workspaces:        registry,
		Sessions:          validator,
		Nonces:            auth.NewNonceRegistry(nil, 0, clock),
		Events:            dispatcher,
		HeartbeatInterval: time.Hour,
		Clock:             clock,
	}
	for _, option := range options {
		option(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testServer{handler: handler, db: db, issuer: issuer, mailer: mailer, dispatcher: dispatcher}
}

// signedInAccount stores a verified basic account and returns a session token for it.
func (s *testServer) signedInAccount(t *testing.T, userID string) string {
	t.Helper()
	account := users.Account{
		ID:                 userID,
		Email:              userID + "@example.com",
		EmailVerified:      true,
		SubscriptionStatus: string(users.StatusBasic),
		FavouritesJSON:     "[]",
		JoinedAt:           testNow,
	}
	if err := s.db.Create(&account).Error; err != nil {
		t.Fatalf("failed to insert account: %v", err)
	}
	token, err := s.issuer.Issue(userID, auth.PurposeSession)
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}
	return token.Value
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("unexpected status: got %d, want %d, body %s", recorder.Code, want, recorder.Body.String())
	}
}

type errorPayload struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Upgrade bool   `json:"upgrade"`
	Fields  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"fields"`
}

type recordingMailer struct {
	mu            sync.Mutex
	verifications []string
	resets        []string
}

func (m *recordingMailer) SendVerificationEmail(_ context.Context, _ string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, token)
	return nil
}

func (m *recordingMailer) SendPasswordResetEmail(_ context.Context, _ string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, token)
	return nil
}

func (m *recordingMailer) lastVerification(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verifications) == 0 {
		t.Fatalf("expected a verification mail")
	}
	return m.verifications[len(m.verifications)-1]
}

func (m *recordingMailer) lastReset(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resets) == 0 {
		t.Fatalf("expected a password reset mail")
	}
	return m.resets[len(m.resets)-1]
}
