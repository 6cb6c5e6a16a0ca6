package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/ports"
	"github.com/stretchr/testify/mock"
)

type fakeSession struct {
	mu        sync.Mutex
	payloads  map[string]string
	failures  map[string]error
	histories map[string]string
	delays    map[string]time.Duration
	calls     []string
	closed    bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		payloads:  map[string]string{},
		failures:  map[string]error{},
		histories: map[string]string{},
		delays:    map[string]time.Duration{},
	}
}

func (s *fakeSession) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, method)
	s.mu.Unlock()

	if method == methodChatHistory {
		p, _ := params.(map[string]any)
		key, _ := p["sessionKey"].(string)
		s.mu.Lock()
		delay := s.delays[key]
		payload, ok := s.histories[key]
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if !ok {
			return nil, fmt.Errorf("%s: %w", method, domain.ErrCallTimeout)
		}
		return json.RawMessage(payload), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failures[method]; ok {
		return nil, err
	}
	payload, ok := s.payloads[method]
	if !ok {
		return nil, &domain.CallError{Method: method, Message: "unknown method"}
	}
	return json.RawMessage(payload), nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, call := range s.calls {
		if call == method {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	session *fakeSession
	err     error
}

func (d fakeDialer) Dial(context.Context) (ports.GatewaySession, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

type memoryStore struct {
	mu      sync.Mutex
	saved   []domain.Snapshot
	saveErr error
}

func (s *memoryStore) Save(_ context.Context, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, snapshot)
	return nil
}

func (s *memoryStore) Load(context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return domain.Snapshot{}, domain.ErrNoSnapshot
	}
	return s.saved[len(s.saved)-1], nil
}

func (s *memoryStore) Path() string {
	return "/tmp/clawstat-test/status.json"
}

type memoryLogSource struct {
	files map[string]string
	errs  map[string]error
}

func (m memoryLogSource) Open(_ context.Context, day time.Time) (io.ReadCloser, error) {
	key := day.UTC().Format(time.DateOnly)
	if err, ok := m.errs[key]; ok {
		return nil, err
	}
	content, ok := m.files[key]
	if !ok {
		return nil, fmt.Errorf("open openclaw-%s.log: %w", key, fs.ErrNotExist)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, artifactPath string) (string, error) {
	args := m.Called(ctx, artifactPath)
	return args.String(0), args.Error(1)
}

type mockRunHistory struct {
	mock.Mock
}

func (m *mockRunHistory) Record(ctx context.Context, run domain.RunRecord) (int64, error) {
	args := m.Called(ctx, run)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRunHistory) Recent(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]domain.RunRecord)
	return runs, args.Error(1)
}

var errBoom = errors.New("boom")
