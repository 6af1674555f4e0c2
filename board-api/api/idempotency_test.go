package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/molly1022/TMS-Dashboard/client"
	"github.com/molly1022/TMS-Dashboard/domain"
)

func newDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisDeduper(client, time.Minute), m
}

func TestRedisDeduperAddRemove(t *testing.T) {
	d, m := newDeduper(t)
	ctx := context.Background()
	added, err := d.Add(ctx, "user", "k1")
	if err != nil || !added {
		t.Fatalf("first add: %v %v", added, err)
	}
	added, err = d.Add(ctx, "user", "k1")
	if err != nil || added {
		t.Fatalf("second add should be a duplicate: %v %v", added, err)
	}
	if added, _ := d.Add(ctx, "other", "k1"); !added {
		t.Fatalf("keys are scoped per user")
	}
	if ttl := m.TTL("idem:user:k1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	if err := d.Remove(ctx, "user", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if added, _ := d.Add(ctx, "user", "k1"); !added {
		t.Fatalf("expected key to be reusable after remove")
	}
}

func TestReplayedMutationReturnsCurrentBoard(t *testing.T) {
	d, _ := newDeduper(t)
	s := newTestServer(t, d)
	rec := s.do(http.MethodPost, "/api/boards", "ann", `{"title":"T"}`)
	board := decode[domain.Board](t, rec.Body.String())

	path := "/api/boards/" + board.ID + "/columns"
	first := s.do(http.MethodPost, path, "ann", `{"title":"Col"}`, HeaderIdempotencyKey, "key-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first: %d %s", first.Code, first.Body)
	}
	replay := s.do(http.MethodPost, path, "ann", `{"title":"Col"}`, HeaderIdempotencyKey, "key-1")
	if replay.Code != http.StatusConflict {
		t.Fatalf("replay: expected 409, got %d %s", replay.Code, replay.Body)
	}
	resp := decode[duplicateResponse](t, replay.Body.String())
	if resp.Board == nil || len(resp.Board.Columns) != 1 {
		t.Fatalf("expected current board with one column, got %+v", resp.Board)
	}
	stored, _, _ := s.store.LoadBoard(context.Background(), board.ID)
	if len(stored.Columns) != 1 {
		t.Fatalf("replay must not apply twice, got %d columns", len(stored.Columns))
	}
}

func TestFailedMutationReleasesKey(t *testing.T) {
	d, _ := newDeduper(t)
	s := newTestServer(t, d)
	rec := s.do(http.MethodPost, "/api/boards", "ann", `{"title":"T"}`)
	board := decode[domain.Board](t, rec.Body.String())

	path := "/api/boards/" + board.ID + "/columns"
	if rec := s.do(http.MethodPost, path, "ann", `{"title":" "}`, HeaderIdempotencyKey, "key-2"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected validation failure, got %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, path, "ann", `{"title":"Col"}`, HeaderIdempotencyKey, "key-2"); rec.Code != http.StatusCreated {
		t.Fatalf("retry with the same key: expected 201, got %d %s", rec.Code, rec.Body)
	}
}

func TestReplayOnCardRouteResolvesBoard(t *testing.T) {
	d, _ := newDeduper(t)
	s := newTestServer(t, d)
	rec := s.do(http.MethodPost, "/api/boards", "ann", `{"title":"T"}`)
	board := decode[domain.Board](t, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/boards/"+board.ID+"/columns", "ann", `{"title":"Col"}`)
	board = decode[domain.Board](t, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/columns/"+board.Columns[0].ID+"/cards", "ann", `{"title":"Card"}`)
	board = decode[domain.Board](t, rec.Body.String())
	cardID := board.Columns[0].Cards[0].ID

	s.do(http.MethodPost, "/api/cards/"+cardID+"/complete", "ann", "", HeaderIdempotencyKey, "key-3")
	replay := s.do(http.MethodPost, "/api/cards/"+cardID+"/complete", "ann", "", HeaderIdempotencyKey, "key-3")
	resp := decode[duplicateResponse](t, replay.Body.String())
	if replay.Code != http.StatusConflict || resp.Board == nil || resp.Board.ID != board.ID {
		t.Fatalf("unexpected replay response %d %s", replay.Code, replay.Body)
	}
}

func TestRedisDeduperRemembersBoard(t *testing.T) {
	d, m := newDeduper(t)
	ctx := context.Background()
	if id, err := d.Lookup(ctx, "user", "missing"); err != nil || id != "" {
		t.Fatalf("missing key: %q %v", id, err)
	}
	if _, err := d.Add(ctx, "user", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if id, err := d.Lookup(ctx, "user", "k1"); err != nil || id != "" {
		t.Fatalf("in-flight key should have no board: %q %v", id, err)
	}
	if err := d.Complete(ctx, "user", "k1", "b1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if id, err := d.Lookup(ctx, "user", "k1"); err != nil || id != "b1" {
		t.Fatalf("lookup: %q %v", id, err)
	}
	if ttl := m.TTL("idem:user:k1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	if added, _ := d.Add(ctx, "user", "k1"); added {
		t.Fatalf("completed key must stay a duplicate")
	}
}

func TestReplayNeverRevealsForeignBoard(t *testing.T) {
	d, _ := newDeduper(t)
	s := newTestServer(t, d)
	rec := s.do(http.MethodPost, "/api/boards", "ann", `{"title":"Ann Secret Roadmap"}`)
	secret := decode[domain.Board](t, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/boards", "bo", `{"title":"Bo Board"}`, HeaderIdempotencyKey, "k")
	own := decode[domain.Board](t, rec.Body.String())

	for _, memberID := range []string{secret.Members[0].ID, ann.UserID} {
		replay := s.do(http.MethodPost, "/api/invitations/"+memberID+"/accept", "bo", "", HeaderIdempotencyKey, "k")
		if replay.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d %s", replay.Code, replay.Body)
		}
		if strings.Contains(replay.Body.String(), "Secret") {
			t.Fatalf("replay leaked another user's board: %s", replay.Body)
		}
		resp := decode[duplicateResponse](t, replay.Body.String())
		if resp.Board == nil || resp.Board.ID != own.ID {
			t.Fatalf("replay should return the board the key changed, got %+v", resp.Board)
		}
	}
}

func TestReplayAfterLosingAccessOmitsBoard(t *testing.T) {
	d, _ := newDeduper(t)
	s := newTestServer(t, d)
	rec := s.do(http.MethodPost, "/api/boards", "ann", `{"title":"Shared"}`)
	board := decode[domain.Board](t, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/boards/"+board.ID+"/members", "ann", `{"email":"bo@example.com"}`)
	board = decode[domain.Board](t, rec.Body.String())
	memberID := board.Members[1].ID

	path := "/api/invitations/" + memberID + "/accept"
	if rec := s.do(http.MethodPost, path, "bo", "", HeaderIdempotencyKey, "k"); rec.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rec.Code, rec.Body)
	}
	if rec := s.do(http.MethodDelete, "/api/boards/"+board.ID+"/members/"+memberID, "ann", ""); rec.Code != http.StatusOK {
		t.Fatalf("remove: %d %s", rec.Code, rec.Body)
	}
	replay := s.do(http.MethodPost, path, "bo", "", HeaderIdempotencyKey, "k")
	resp := decode[duplicateResponse](t, replay.Body.String())
	if replay.Code != http.StatusConflict || resp.Board != nil {
		t.Fatalf("expected 409 without board, got %d %s", replay.Code, replay.Body)
	}
}

func seedCard(t *testing.T, s *testServer) (domain.Board, string) {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/boards", "ann", `{"title":"T"}`)
	board := decode[domain.Board](t, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/boards/"+board.ID+"/columns", "ann", `{"title":"Col"}`)
	board = decode[domain.Board](t, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/columns/"+board.Columns[0].ID+"/cards", "ann", `{"title":"Card"}`)
	board = decode[domain.Board](t, rec.Body.String())
	return board, board.Columns[0].Cards[0].ID
}

func TestReplayedDeleteReturnsBoard(t *testing.T) {
	d, _ := newDeduper(t)
	s := newTestServer(t, d)
	board, cardID := seedCard(t, s)

	if rec := s.do(http.MethodDelete, "/api/cards/"+cardID, "ann", "", HeaderIdempotencyKey, "del"); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}
	replay := s.do(http.MethodDelete, "/api/cards/"+cardID, "ann", "", HeaderIdempotencyKey, "del")
	resp := decode[duplicateResponse](t, replay.Body.String())
	if replay.Code != http.StatusConflict || resp.Board == nil || resp.Board.ID != board.ID {
		t.Fatalf("unexpected replay response %d %s", replay.Code, replay.Body)
	}
	if n := resp.Board.CardCount(); n != 0 {
		t.Fatalf("replayed board should not hold the deleted card, got %d cards", n)
	}

	colID := board.Columns[0].ID
	s.do(http.MethodDelete, "/api/columns/"+colID, "ann", "", HeaderIdempotencyKey, "del-col")
	replay = s.do(http.MethodDelete, "/api/columns/"+colID, "ann", "", HeaderIdempotencyKey, "del-col")
	resp = decode[duplicateResponse](t, replay.Body.String())
	if resp.Board == nil || len(resp.Board.Columns) != 0 {
		t.Fatalf("unexpected column replay %d %s", replay.Code, replay.Body)
	}
}

// lostResponse lets the first mutation reach the server and then fails it
// as if the connection dropped before the response arrived.
type lostResponse struct {
	base    http.RoundTripper
	mu      sync.Mutex
	dropped bool
}

func (l *lostResponse) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := l.base.RoundTrip(req)
	l.mu.Lock()
	drop := err == nil && !l.dropped && req.Method != http.MethodGet
	if drop {
		l.dropped = true
	}
	l.mu.Unlock()
	if !drop {
		return resp, err
	}
	_ = resp.Body.Close()
	return nil, errors.New("connection reset by peer")
}

func TestCoordinatorKeepsDeleteWhenResponseIsLost(t *testing.T) {
	d, _ := newDeduper(t)
	s := newTestServer(t, d)
	board, cardID := seedCard(t, s)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	lost := &lostResponse{base: srv.Client().Transport}
	gw := client.NewHTTPGateway(srv.URL, "ann", &http.Client{Transport: lost})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	coord, err := client.Load(ctx, gw, board.ID, client.Config{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer coord.Close()

	m, err := coord.RemoveCard(cardID)
	if err != nil {
		t.Fatalf("remove card: %v", err)
	}
	if _, err := m.Wait(ctx); err != nil {
		t.Fatalf("delete should be confirmed after the retry, got %v", err)
	}
	lost.mu.Lock()
	dropped := lost.dropped
	lost.mu.Unlock()
	if !dropped {
		t.Fatalf("the first response was never dropped")
	}
	stored, _, _ := s.store.LoadBoard(context.Background(), board.ID)
	if got, want := coord.Board().Board.CardCount(), stored.CardCount(); got != want || want != 0 {
		t.Fatalf("client shows %d cards, server has %d", got, want)
	}
}
