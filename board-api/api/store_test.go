package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// memStore is an in-memory domain.BoardStorage.
type memStore struct {
	mu     sync.Mutex
	boards map[string]domain.Board
	etags  map[string]int
	users  map[string]domain.Identity
}

func newMemStore() *memStore {
	return &memStore{boards: map[string]domain.Board{}, etags: map[string]int{}, users: map[string]domain.Identity{}}
}

func (m *memStore) LoadBoard(ctx context.Context, id string) (domain.Board, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[id]
	if !ok {
		return domain.Board{}, "", domain.ErrNotFound
	}
	return b, strconv.Itoa(m.etags[id]), nil
}

func (m *memStore) CreateBoard(ctx context.Context, b domain.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[b.ID] = b
	m.etags[b.ID] = 1
	return nil
}

func (m *memStore) SaveBoard(ctx context.Context, prev, next domain.Board, etag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strconv.Itoa(m.etags[next.ID]) != etag {
		return domain.ErrConcurrencyConflict
	}
	m.boards[next.ID] = next
	m.etags[next.ID]++
	return nil
}

func (m *memStore) DeleteBoard(ctx context.Context, b domain.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boards, b.ID)
	return nil
}

func (m *memStore) ListBoardIDs(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, b := range m.boards {
		if b.IsMember(userID) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) ResolveBoard(ctx context.Context, kind domain.EntityKind, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for boardID, b := range m.boards {
		found := false
		switch kind {
		case domain.KindColumn:
			_, found = b.FindColumn(id)
		case domain.KindCard:
			_, found = b.Card(id)
		case domain.KindMember:
			_, found = b.FindMember(id)
		}
		if found {
			return boardID, nil
		}
	}
	return "", domain.ErrNotFound
}

func (m *memStore) FindUserByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpsertUser(ctx context.Context, id domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id.UserID] = id
	return nil
}

// stubAuth accepts "Bearer <user>" for the users it knows.
type stubAuth map[string]domain.Identity

func (s stubAuth) IdentityFromAuthHeader(h string) (domain.Identity, error) {
	id, ok := s[strings.TrimPrefix(h, "Bearer ")]
	if !ok {
		return domain.Identity{}, errors.New("unknown token")
	}
	return id, nil
}

var (
	ann = domain.Identity{UserID: "u-ann", Name: "Ann", Email: "ann@example.com"}
	bo  = domain.Identity{UserID: "u-bo", Name: "Bo", Email: "bo@example.com"}
)

type testServer struct {
	e     *echo.Echo
	store *memStore
	hook  *test.Hook
}

func newTestServer(t *testing.T, deduper Deduper) *testServer {
	t.Helper()
	store := newMemStore()
	boards := domain.NewBoardService(store, nil, nil)
	dash := domain.NewDashboardService(boards, emptyFeed{})
	logger, hook := test.NewNullLogger()
	logger.SetFormatter(&log.JSONFormatter{})
	e := echo.New()
	e.JSONSerializer = SonicSerializer{}
	Register(e, boards, dash, stubAuth{"ann": ann, "bo": bo}, deduper, logger)
	return &testServer{e: e, store: store, hook: hook}
}

func (s *testServer) do(method, path, user, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+user)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

type emptyFeed struct{}

func (emptyFeed) RecentActivities(ctx context.Context, userID string, limit, offset int) ([]domain.Activity, error) {
	return nil, nil
}
