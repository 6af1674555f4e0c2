package domain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

type storedBoard struct {
	board Board
	etag  int
}

type fakeStore struct {
	mu        sync.Mutex
	boards    map[string]storedBoard
	users     map[string]Identity
	conflicts int
	saves     int
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{boards: map[string]storedBoard{}, users: map[string]Identity{}}
}

func (f *fakeStore) LoadBoard(ctx context.Context, boardID string) (Board, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.boards[boardID]
	if !ok {
		return Board{}, "", fmt.Errorf("board %s: %w", boardID, ErrNotFound)
	}
	return sb.board, strconv.Itoa(sb.etag), nil
}

func (f *fakeStore) CreateBoard(ctx context.Context, b Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.boards[b.ID]; ok {
		return ErrConcurrencyConflict
	}
	f.boards[b.ID] = storedBoard{board: b, etag: 1}
	return nil
}

func (f *fakeStore) SaveBoard(ctx context.Context, prev, next Board, etag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	sb, ok := f.boards[next.ID]
	if !ok {
		return ErrNotFound
	}
	if f.conflicts > 0 {
		f.conflicts--
		// Simulate a concurrent writer bumping the version.
		sb.etag++
		f.boards[next.ID] = sb
		return fmt.Errorf("etag mismatch: %w", ErrConcurrencyConflict)
	}
	if strconv.Itoa(sb.etag) != etag {
		return fmt.Errorf("etag mismatch: %w", ErrConcurrencyConflict)
	}
	f.saves++
	f.boards[next.ID] = storedBoard{board: next, etag: sb.etag + 1}
	return nil
}

func (f *fakeStore) DeleteBoard(ctx context.Context, b Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.boards, b.ID)
	return nil
}

func (f *fakeStore) ListBoardIDs(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, sb := range f.boards {
		if sb.board.IsMember(userID) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) ResolveBoard(ctx context.Context, kind EntityKind, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for boardID, sb := range f.boards {
		b := sb.board
		switch kind {
		case KindColumn:
			if _, ok := b.FindColumn(id); ok {
				return boardID, nil
			}
		case KindCard:
			if _, _, ok := b.FindCard(id); ok {
				return boardID, nil
			}
		case KindMember:
			if _, ok := b.FindMember(id); ok {
				return boardID, nil
			}
		}
	}
	return "", ErrNotFound
}

func (f *fakeStore) FindUserByEmail(ctx context.Context, email string) (*Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpsertUser(ctx context.Context, id Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id.UserID] = id
	return nil
}

type recorder struct {
	mu   sync.Mutex
	acts []Activity
	err  error
}

func (r *recorder) Record(ctx context.Context, a Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acts = append(r.acts, a)
	return r.err
}

func (r *recorder) types() []ActivityType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActivityType, len(r.acts))
	for i, a := range r.acts {
		out[i] = a.Type
	}
	return out
}

type mailer struct {
	sent []Invitation
	err  error
}

func (m *mailer) SendInvitation(ctx context.Context, inv Invitation) error {
	m.sent = append(m.sent, inv)
	return m.err
}

var errBoom = errors.New("boom")
