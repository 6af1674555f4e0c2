package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"

	"github.com/molly1022/TMS-Dashboard/domain"
)

var t0 = time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)

func sampleBoard(t *testing.T) domain.Board {
	t.Helper()
	b, err := domain.NewBoard("b1", "m1", domain.Identity{UserID: "u1", Name: "Ann"}, domain.BoardInput{Title: "Launch"}, t0)
	require.NoError(t, err)
	b, err = b.AddColumn("todo", "To Do", t0)
	require.NoError(t, err)
	due := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	card := domain.NewCard("c1", domain.CardInput{Title: "Write copy", DueDate: &due}, t0)
	b, err = b.AddCard("todo", card)
	require.NoError(t, err)
	return b
}

// fakeAPI serves one board and appends columns on request.
type fakeAPI struct {
	mu    sync.Mutex
	board domain.Board
	auth  []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/boards/b1":
	case r.Method == http.MethodPost && r.URL.Path == "/api/boards/b1/columns":
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Title string `json:"title"`
		}
		if err := sonic.Unmarshal(body, &req); err != nil {
			http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
			return
		}
		next, err := f.board.AddColumn("col-srv", req.Title, t0)
		if err != nil {
			http.Error(w, `{"error":"bad title"}`, http.StatusBadRequest)
			return
		}
		f.board = next
	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	data, _ := sonic.Marshal(f.board)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestBoardShow(t *testing.T) {
	api := &fakeAPI{board: sampleBoard(t)}
	srv := httptest.NewServer(api)
	defer srv.Close()

	out, err := run(t, "--api", srv.URL, "--token", "tok", "board", "show", "b1")
	require.NoError(t, err)
	require.Contains(t, out, "Launch (b1)")
	require.Contains(t, out, "[0] To Do (todo)")
	require.Contains(t, out, "0. Write copy (c1) due 2025-02-10")
	require.Equal(t, []string{"Bearer tok"}, api.auth)
}

func TestColumnAddGoesThroughCoordinator(t *testing.T) {
	api := &fakeAPI{board: sampleBoard(t)}
	srv := httptest.NewServer(api)
	defer srv.Close()

	out, err := run(t, "--api", srv.URL, "--token", "tok", "column", "add", "b1", "Done")
	require.NoError(t, err)
	require.Contains(t, out, "[1] Done (col-srv)")
	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.board.Columns, 2)
}

func TestCommandErrors(t *testing.T) {
	_, err := run(t, "--api", "http://127.0.0.1:1", "column", "move", "b1", "x", "1")
	require.Error(t, err)

	_, err = run(t, "--api", "http://127.0.0.1:1", "boards")
	require.ErrorContains(t, err, "no token configured")

	api := &fakeAPI{board: sampleBoard(t)}
	srv := httptest.NewServer(api)
	defer srv.Close()
	_, err = run(t, "--api", srv.URL, "--token", "tok", "column", "add", "b1", " ")
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	require.Len(t, api.board.Columns, 1)
}

func TestPrintBoardMarksCompletedCards(t *testing.T) {
	b := sampleBoard(t)
	b, _, err := b.CompleteCard("c1", t0)
	require.NoError(t, err)
	var out strings.Builder
	printBoard(&out, b)
	require.Contains(t, out.String(), "[done]")
}
