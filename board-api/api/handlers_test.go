package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/molly1022/TMS-Dashboard/domain"
)

func decode[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	if err := sonic.UnmarshalString(body, &v); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return v
}

func TestBoardFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/boards", "ann", `{"title":"Launch"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create board: %d %s", rec.Code, rec.Body)
	}
	board := decode[domain.Board](t, rec.Body.String())

	for _, title := range []string{"To Do", "Done"} {
		rec = s.do(http.MethodPost, "/api/boards/"+board.ID+"/columns", "ann", `{"title":"`+title+`"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create column: %d %s", rec.Code, rec.Body)
		}
	}
	board = decode[domain.Board](t, rec.Body.String())
	todo, done := board.Columns[0].ID, board.Columns[1].ID

	for _, title := range []string{"A", "B", "C"} {
		rec = s.do(http.MethodPost, "/api/columns/"+todo+"/cards", "ann", `{"title":"`+title+`","dueDate":"2030-01-02"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create card: %d %s", rec.Code, rec.Body)
		}
	}

	rec = s.do(http.MethodPost, "/api/boards/"+board.ID+"/cards/move", "ann",
		`{"source":{"columnId":"`+todo+`","index":0},"destination":{"columnId":"`+todo+`","index":2}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("move card: %d %s", rec.Code, rec.Body)
	}
	board = decode[domain.Board](t, rec.Body.String())
	var titles []string
	for _, c := range board.Columns[0].Cards {
		titles = append(titles, c.Title)
	}
	if strings.Join(titles, ",") != "B,C,A" {
		t.Fatalf("unexpected order %v", titles)
	}

	rec = s.do(http.MethodPost, "/api/boards/"+board.ID+"/cards/move", "ann",
		`{"source":{"columnId":"`+todo+`","index":2},"destination":{"columnId":"`+done+`","index":0}}`)
	board = decode[domain.Board](t, rec.Body.String())
	moved := board.Columns[1].Cards[0]
	if moved.Title != "A" || moved.ColumnID != done {
		t.Fatalf("unexpected moved card %+v", moved)
	}

	rec = s.do(http.MethodPatch, "/api/cards/"+moved.ID, "ann", `{"description":"ship it","dueDate":""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update card: %d %s", rec.Code, rec.Body)
	}
	card := decode[domain.Card](t, rec.Body.String())
	if card.Description != "ship it" || card.DueDate != nil {
		t.Fatalf("unexpected card %+v", card)
	}

	rec = s.do(http.MethodPost, "/api/boards/"+board.ID+"/columns/move", "ann", `{"sourceIndex":1,"destinationIndex":0}`)
	board = decode[domain.Board](t, rec.Body.String())
	if board.Columns[0].ID != done || board.Columns[0].Order != 0 {
		t.Fatalf("unexpected column order %+v", board.Columns)
	}

	rec = s.do(http.MethodGet, "/api/dashboard/stats", "ann", "")
	stats := decode[domain.TaskStats](t, rec.Body.String())
	if stats != (domain.TaskStats{Total: 3, Todo: 2, Completed: 1}) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rec = s.do(http.MethodGet, "/api/search?q=b", "ann", "")
	results := decode[[]domain.SearchResult](t, rec.Body.String())
	if len(results) != 1 || results[0].Title != "B" {
		t.Fatalf("unexpected search results %+v", results)
	}

	if rec = s.do(http.MethodDelete, "/api/boards/"+board.ID, "ann", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete board: %d %s", rec.Code, rec.Body)
	}
	rec = s.do(http.MethodGet, "/api/boards", "ann", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", rec.Body)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodPost, "/api/boards", "ann", `{"title":"Private"}`)
	board := decode[domain.Board](t, rec.Body.String())

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		want   int
	}{
		{"no token", http.MethodGet, "/api/boards", "", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/boards", "mallory", "", http.StatusUnauthorized},
		{"not a member", http.MethodGet, "/api/boards/" + board.ID, "bo", "", http.StatusForbidden},
		{"missing board", http.MethodGet, "/api/boards/nope", "ann", "", http.StatusNotFound},
		{"missing column", http.MethodPost, "/api/columns/nope/cards", "ann", `{"title":"x"}`, http.StatusNotFound},
		{"blank title", http.MethodPost, "/api/boards", "ann", `{"title":"   "}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/boards", "ann", `{"title":"x","colour":"red"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/boards/" + board.ID + "/columns", "ann", `{"title":`, http.StatusBadRequest},
		{"bad index", http.MethodPost, "/api/boards/" + board.ID + "/columns/move", "ann", `{"sourceIndex":4,"destinationIndex":0}`, http.StatusNotFound},
		{"bad days", http.MethodGet, "/api/dashboard/deadlines?days=soon", "ann", "", http.StatusBadRequest},
		{"empty search", http.MethodGet, "/api/search?q=", "ann", "", http.StatusBadRequest},
		{"invite as non admin", http.MethodPost, "/api/boards/" + board.ID + "/members", "bo", `{"email":"x@example.com"}`, http.StatusForbidden},
		{"invalid email", http.MethodPost, "/api/boards/" + board.ID + "/members", "ann", `{"email":"nope"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(tc.method, tc.path, tc.user, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body)
			}
			resp := decode[errorResponse](t, rec.Body.String())
			if resp.Error == "" {
				t.Fatalf("expected error message in %s", rec.Body)
			}
		})
	}
}

func TestInvitationOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := s.do(http.MethodPut, "/api/users/me", "bo", ""); rec.Code != http.StatusOK {
		t.Fatalf("sync user: %d %s", rec.Code, rec.Body)
	}
	rec := s.do(http.MethodPost, "/api/boards", "ann", `{"title":"Shared"}`)
	board := decode[domain.Board](t, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/boards/"+board.ID+"/members", "ann", `{"email":"bo@example.com"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("invite: %d %s", rec.Code, rec.Body)
	}
	board = decode[domain.Board](t, rec.Body.String())
	memberID := board.Members[1].ID

	if rec = s.do(http.MethodPost, "/api/invitations/"+memberID+"/accept", "bo", ""); rec.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rec.Code, rec.Body)
	}
	rec = s.do(http.MethodGet, "/api/boards/"+board.ID+"/members", "bo", "")
	members := decode[[]domain.Member](t, rec.Body.String())
	if len(members) != 2 || members[1].Status != domain.StatusAccepted || members[1].UserID != bo.UserID {
		t.Fatalf("unexpected members %+v", members)
	}

	if rec = s.do(http.MethodDelete, "/api/boards/"+board.ID+"/members/"+memberID, "ann", ""); rec.Code != http.StatusOK {
		t.Fatalf("remove: %d %s", rec.Code, rec.Body)
	}
	if rec = s.do(http.MethodGet, "/api/boards/"+board.ID, "bo", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected removed member to be refused, got %d", rec.Code)
	}
}

func TestHealthzNeedsNoToken(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := s.do(http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
