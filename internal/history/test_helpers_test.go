package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/P2Wdisabled/Notus-sub000/internal/documents"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []documents.HistoryRecord
	docs      map[string]documents.Document
	appendErr error
	upsertErr error
	lookupErr error
	lookups   int

	// When set, GetDocumentByID signals lookupEntered and then blocks until
	// lookupGate is closed, to exercise lookups that stall mid-burst.
	lookupEntered chan struct{}
	lookupGate    chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]documents.Document)}
}

func (s *fakeStore) AppendHistoryRecord(ctx context.Context, record documents.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.records = append(s.records, record)
	return nil
}

func (s *fakeStore) CreateOrUpdateDocumentByID(ctx context.Context, upsert documents.DocumentUpsert) error {
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
		TagsJSON:   encodeTagsJSON(upsert.Tags),
	}
	return nil
}

func (s *fakeStore) GetDocumentByID(ctx context.Context, documentID string) (documents.Document, error) {
	s.mu.Lock()
	s.lookups++
	lookupErr := s.lookupErr
	document, ok := s.docs[documentID]
	entered, gate := s.lookupEntered, s.lookupGate
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	if lookupErr != nil {
		return documents.Document{}, lookupErr
	}
	if !ok {
		return documents.Document{}, fmt.Errorf("%w: %s", documents.ErrDocumentNotFound, documentID)
	}
	return document, nil
}

func (s *fakeStore) appended() []documents.HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]documents.HistoryRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *fakeStore) document(documentID string) documents.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[documentID]
}

func encodeTagsJSON(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("history-%d", p.next), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) {
	return "", errors.New("id generation unavailable")
}

// manualScheduler records scheduled tasks and fires them only on demand, so
// debounce tests never sleep.
type manualScheduler struct {
	mu        sync.Mutex
	tasks     []*manualTask
	scheduled int
}

type manualTask struct {
	mu        sync.Mutex
	delay     time.Duration
	run       func()
	cancelled bool
}

func (s *manualScheduler) schedule(delay time.Duration, task func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &manualTask{delay: delay, run: task}
	s.tasks = append(s.tasks, entry)
	s.scheduled++
	return func() {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		entry.cancelled = true
	}
}

// fireLatest runs the most recently scheduled task unless it was cancelled.
func (s *manualScheduler) fireLatest() {
	s.mu.Lock()
	if len(s.tasks) == 0 {
		s.mu.Unlock()
		return
	}
	entry := s.tasks[len(s.tasks)-1]
	s.mu.Unlock()
	if !entry.isCancelled() {
		entry.run()
	}
}

// fireAll runs every non-cancelled task in scheduling order.
func (s *manualScheduler) fireAll() {
	s.mu.Lock()
	pending := make([]*manualTask, len(s.tasks))
	copy(pending, s.tasks)
	s.mu.Unlock()
	for _, entry := range pending {
		if !entry.isCancelled() {
			entry.run()
		}
	}
}

func (s *manualScheduler) cancelledCount() int {
	s.mu.Lock()
	tasks := make([]*manualTask, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()
	count := 0
	for _, entry := range tasks {
		if entry.isCancelled() {
			count++
		}
	}
	return count
}

func (t *manualTask) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustCommitter(t *testing.T, store *fakeStore, clock *fakeClock) *Committer {
	t.Helper()
	committer, err := NewCommitter(CommitterConfig{
		Store:      store,
		Clock:      clock.Now,
		IDProvider: &sequenceIDs{},
	})
	if err != nil {
		t.Fatalf("unexpected committer error: %v", err)
	}
	return committer
}

func mustCoalescer(t *testing.T, store *fakeStore, clock *fakeClock, scheduler *manualScheduler) *Coalescer {
	t.Helper()
	coalescer, err := NewCoalescer(CoalescerConfig{
		Committer: mustCommitter(t, store, clock),
		Documents: store,
		Clock:     clock.Now,
		Schedule:  scheduler.schedule,
	})
	if err != nil {
		t.Fatalf("unexpected coalescer error: %v", err)
	}
	return coalescer
}

func snapshot(value string) *string {
	return &value
}
