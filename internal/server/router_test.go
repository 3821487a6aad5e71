package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/P2Wdisabled/Notus-sub000/internal/auth"
	"github.com/P2Wdisabled/Notus-sub000/internal/documents"
	"github.com/P2Wdisabled/Notus-sub000/internal/history"
	"github.com/P2Wdisabled/Notus-sub000/internal/realtime"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticSessions struct {
	claims auth.SessionClaims
	err    error
}

func (s *staticSessions) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type memoryStore struct {
	mu        sync.Mutex
	docs      map[string]documents.Document
	records   []documents.HistoryRecord
	appendErr error
	upsertErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[string]documents.Document)}
}

func (s *memoryStore) GetDocumentByID(ctx context.Context, documentID string) (documents.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	document, ok := s.docs[documentID]
	if !ok {
		return documents.Document{}, fmt.Errorf("%w: %s", documents.ErrDocumentNotFound, documentID)
	}
	return document, nil
}

func (s *memoryStore) CreateOrUpdateDocumentByID(ctx context.Context, upsert documents.DocumentUpsert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.docs[upsert.DocumentID] = documents.Document{
		DocumentID: upsert.DocumentID,
		UserID:     upsert.UserID,
		UserEmail:  upsert.UserEmail,
		Title:      upsert.Title,
		Content:    upsert.Content,
	}
	return nil
}

func (s *memoryStore) AppendHistoryRecord(ctx context.Context, record documents.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memoryStore) appendedRecords() []documents.HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]documents.HistoryRecord, len(s.records))
	copy(out, s.records)
	return out
}

type counterIDs struct {
	mu   sync.Mutex
	next int
}

func (p *counterIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("history-%d", p.next), nil
}

type testHarness struct {
	handler   http.Handler
	store     *memoryStore
	coalescer *history.Coalescer
	registry  *realtime.Registry
}

func newTestHarness(t *testing.T, sessions SessionAuthenticator) *testHarness {
	t.Helper()
	store := newMemoryStore()
	committer, err := history.NewCommitter(history.CommitterConfig{
		Store:      store,
		IDProvider: &counterIDs{},
	})
	if err != nil {
		t.Fatalf("unexpected committer error: %v", err)
	}
	coalescer, err := history.NewCoalescer(history.CoalescerConfig{
		Committer: committer,
		Documents: store,
		Debounce:  50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected coalescer error: %v", err)
	}
	registry := realtime.NewRegistry(realtime.RegistryConfig{})
	relay, err := realtime.NewRelay(realtime.RelayConfig{Registry: registry, Recorder: coalescer})
	if err != nil {
		t.Fatalf("unexpected relay error: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		Sessions:  sessions,
		Registry:  registry,
		Relay:     relay,
		Coalescer: coalescer,
	})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	return &testHarness{handler: handler, store: store, coalescer: coalescer, registry: registry}
}

func validSessions() *staticSessions {
	return &staticSessions{claims: auth.SessionClaims{UserID: "user-1", UserEmail: "user-1@example.com"}}
}

func TestHealthEndpoint(t *testing.T) {
	harness := newTestHarness(t, validSessions())

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestSaveRejectsMissingSession(t *testing.T) {
	harness := newTestHarness(t, &staticSessions{err: auth.ErrMissingSessionToken})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/documents/doc-1/save", bytes.NewBufferString(`{"content":"x"}`))
	request.Header.Set("Content-Type", "application/json")
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestSaveUpsertsDocumentAndRecordsHistory(t *testing.T) {
	harness := newTestHarness(t, validSessions())
	harness.store.docs["doc-1"] = documents.Document{DocumentID: "doc-1", Content: "old content"}

	body := `{"title":"My Doc","content":"new content","tags":["a","b"]}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/documents/doc-1/save", bytes.NewBufferString(body))
	request.Header.Set("Content-Type", "application/json")
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	records := harness.store.appendedRecords()
	if len(records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(records))
	}
	if records[0].SnapshotBefore != "old content" || records[0].SnapshotAfter != "new content" {
		t.Fatalf("unexpected transition %q -> %q", records[0].SnapshotBefore, records[0].SnapshotAfter)
	}
	if records[0].UserID == nil || *records[0].UserID != "user-1" {
		t.Fatalf("expected session user on record, got %#v", records[0].UserID)
	}

	saved, err := harness.store.GetDocumentByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if saved.Content != "new content" || saved.Title != "My Doc" {
		t.Fatalf("unexpected saved document %#v", saved)
	}
}

func TestSaveAdoptsPendingBurstBaseline(t *testing.T) {
	harness := newTestHarness(t, validSessions())
	harness.store.docs["doc-1"] = documents.Document{DocumentID: "doc-1", Content: "A"}

	// A live burst is pending; the explicit save must capture the whole
	// accumulated change A -> C, not just the caller-supplied value.
	pendingContent := "B"
	harness.coalescer.Record(context.Background(), history.Update{
		DocumentID: "doc-1",
		UserID:     "user-1",
		UserEmail:  "user-1@example.com",
		Snapshot:   &pendingContent,
	})

	body := `{"user_email":"user-1@example.com","content":"C"}`
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/documents/doc-1/save", bytes.NewBufferString(body))
	request.Header.Set("Content-Type", "application/json")
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	records := harness.store.appendedRecords()
	if len(records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(records))
	}
	if records[0].SnapshotBefore != "A" || records[0].SnapshotAfter != "C" {
		t.Fatalf("expected A -> C, got %q -> %q", records[0].SnapshotBefore, records[0].SnapshotAfter)
	}

	// No duplicate record once the debounce interval would have elapsed.
	time.Sleep(120 * time.Millisecond)
	if len(harness.store.appendedRecords()) != 1 {
		t.Fatalf("pending timer must have been cancelled by the save")
	}
}

func TestSaveSurfacesFlushFailure(t *testing.T) {
	harness := newTestHarness(t, validSessions())
	harness.store.docs["doc-1"] = documents.Document{DocumentID: "doc-1", Content: "old"}
	harness.store.appendErr = errors.New("history storage offline")

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/documents/doc-1/save", bytes.NewBufferString(`{"content":"new"}`))
	request.Header.Set("Content-Type", "application/json")
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	var response map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("unexpected response decode error: %v", err)
	}
	if response["error"] == "" {
		t.Fatalf("expected error message in response")
	}
}

func TestSaveRejectsMalformedBody(t *testing.T) {
	harness := newTestHarness(t, validSessions())

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/documents/doc-1/save", bytes.NewBufferString(`not json`))
	request.Header.Set("Content-Type", "application/json")
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestRealtimeRejectsMissingSession(t *testing.T) {
	harness := newTestHarness(t, &staticSessions{err: auth.ErrMissingSessionToken})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/realtime", http.NoBody)
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestNewHTTPHandlerValidatesDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}
