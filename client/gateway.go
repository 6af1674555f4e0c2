package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// Gateway persists board mutations remotely. Every mutation returns the
// authoritative server shape.
type Gateway interface {
	GetBoard(ctx context.Context, boardID string) (domain.Board, error)
	CreateColumn(ctx context.Context, boardID, title string) (domain.Board, error)
	CreateCard(ctx context.Context, columnID string, in domain.CardInput) (domain.Board, error)
	MoveColumn(ctx context.Context, boardID string, from, to int) (domain.Board, error)
	MoveCard(ctx context.Context, boardID string, src, dst domain.Position) (domain.Board, error)
	UpdateCard(ctx context.Context, cardID string, upd domain.CardUpdate) (domain.Card, error)
	DeleteCard(ctx context.Context, cardID string) (domain.Board, error)
	DeleteColumn(ctx context.Context, columnID string) (domain.Board, error)
}

const headerIdempotencyKey = "Idempotency-Key"

// StatusError is a non-2xx response from board-api.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("board-api %d: %s", e.Code, e.Message)
}

// Unwrap maps the status code onto the domain error taxonomy.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusBadRequest:
		return domain.ErrValidationFailed
	case http.StatusConflict:
		return domain.ErrConcurrencyConflict
	}
	return nil
}

type errorBody struct {
	Error string        `json:"error"`
	Board *domain.Board `json:"board,omitempty"`
}

// replayedError carries the board returned for a request whose idempotency
// key the server had already seen.
type replayedError struct {
	board domain.Board
}

func (e *replayedError) Error() string { return "request already applied" }

// HTTPGateway talks to board-api over HTTP.
type HTTPGateway struct {
	base     string
	token    string
	client   *http.Client
	attempts int
}

// NewHTTPGateway returns a gateway for the board-api at baseURL. A nil client
// selects one with a 30s timeout.
func NewHTTPGateway(baseURL, token string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPGateway{base: strings.TrimRight(baseURL, "/"), token: token, client: client, attempts: 2}
}

// do sends one request. Mutations carry an idempotency key that is reused
// when a transport error forces a resend.
func (g *HTTPGateway) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = sonic.Marshal(body); err != nil {
			return err
		}
	}
	key := ""
	if method != http.MethodGet {
		key = uuid.NewString()
	}
	var err error
	for attempt := 0; attempt < g.attempts; attempt++ {
		var resp *http.Response
		resp, err = g.send(ctx, method, path, payload, key)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.WithError(err).WithFields(log.Fields{"method": method, "path": path, "attempt": attempt + 1}).Debug("board-api request failed")
			continue
		}
		return decodeResponse(resp, out)
	}
	return err
}

func (g *HTTPGateway) send(ctx context.Context, method, path string, payload []byte, key string) (*http.Response, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.base+path, rd)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if key != "" {
		req.Header.Set(headerIdempotencyKey, key)
	}
	return g.client.Do(req)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var eb errorBody
		_ = sonic.Unmarshal(data, &eb)
		if resp.StatusCode == http.StatusConflict && eb.Board != nil {
			return &replayedError{board: *eb.Board}
		}
		if eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Code: resp.StatusCode, Message: eb.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return sonic.Unmarshal(data, out)
}

func (g *HTTPGateway) board(ctx context.Context, method, path string, body any) (domain.Board, error) {
	var b domain.Board
	err := g.do(ctx, method, path, body, &b)
	var replayed *replayedError
	if errors.As(err, &replayed) {
		return replayed.board, nil
	}
	return b, err
}

func (g *HTTPGateway) ListBoards(ctx context.Context) ([]domain.Board, error) {
	var boards []domain.Board
	err := g.do(ctx, http.MethodGet, "/api/boards", nil, &boards)
	return boards, err
}

func (g *HTTPGateway) CreateBoard(ctx context.Context, in domain.BoardInput) (domain.Board, error) {
	return g.board(ctx, http.MethodPost, "/api/boards", in)
}

func (g *HTTPGateway) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	return g.board(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID), nil)
}

func (g *HTTPGateway) CreateColumn(ctx context.Context, boardID, title string) (domain.Board, error) {
	return g.board(ctx, http.MethodPost, "/api/boards/"+url.PathEscape(boardID)+"/columns", map[string]string{"title": title})
}

func (g *HTTPGateway) CreateCard(ctx context.Context, columnID string, in domain.CardInput) (domain.Board, error) {
	return g.board(ctx, http.MethodPost, "/api/columns/"+url.PathEscape(columnID)+"/cards", in)
}

func (g *HTTPGateway) MoveColumn(ctx context.Context, boardID string, from, to int) (domain.Board, error) {
	body := map[string]int{"sourceIndex": from, "destinationIndex": to}
	return g.board(ctx, http.MethodPost, "/api/boards/"+url.PathEscape(boardID)+"/columns/move", body)
}

func (g *HTTPGateway) MoveCard(ctx context.Context, boardID string, src, dst domain.Position) (domain.Board, error) {
	body := map[string]domain.Position{"source": src, "destination": dst}
	return g.board(ctx, http.MethodPost, "/api/boards/"+url.PathEscape(boardID)+"/cards/move", body)
}

// UpdateCard returns the updated card. A replayed request resolves the card
// from the returned board.
func (g *HTTPGateway) UpdateCard(ctx context.Context, cardID string, upd domain.CardUpdate) (domain.Card, error) {
	var card domain.Card
	err := g.do(ctx, http.MethodPatch, "/api/cards/"+url.PathEscape(cardID), upd, &card)
	var replayed *replayedError
	if errors.As(err, &replayed) {
		if c, ok := replayed.board.Card(cardID); ok {
			return c, nil
		}
		return domain.Card{}, fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
	}
	return card, err
}

func (g *HTTPGateway) DeleteCard(ctx context.Context, cardID string) (domain.Board, error) {
	return g.board(ctx, http.MethodDelete, "/api/cards/"+url.PathEscape(cardID), nil)
}

func (g *HTTPGateway) DeleteColumn(ctx context.Context, columnID string) (domain.Board, error) {
	return g.board(ctx, http.MethodDelete, "/api/columns/"+url.PathEscape(columnID), nil)
}
