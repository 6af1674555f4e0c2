package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// EntityKind identifies what a lookup id refers to.
type EntityKind string

const (
	KindColumn EntityKind = "column"
	KindCard   EntityKind = "card"
	KindMember EntityKind = "member"
)

// BoardStorage defines the persistence required by BoardService.
type BoardStorage interface {
	// LoadBoard returns the board and its ETag, or ErrNotFound.
	LoadBoard(ctx context.Context, boardID string) (Board, string, error)
	CreateBoard(ctx context.Context, b Board) error
	// SaveBoard persists the changes from prev to next provided the board
	// still carries etag. A mismatch yields ErrConcurrencyConflict.
	SaveBoard(ctx context.Context, prev, next Board, etag string) error
	DeleteBoard(ctx context.Context, b Board) error
	ListBoardIDs(ctx context.Context, userID string) ([]string, error)
	// ResolveBoard maps a column, card or member id to its board id.
	ResolveBoard(ctx context.Context, kind EntityKind, id string) (string, error)
	FindUserByEmail(ctx context.Context, email string) (*Identity, error)
	UpsertUser(ctx context.Context, id Identity) error
}

type access int

const (
	accessMember access = iota
	accessAdmin
	accessOwner
	accessAny
)

const (
	defaultSaveRetries = 5
	loadConcurrency    = 8
)

// BoardService implements board operations on behalf of an acting identity.
type BoardService struct {
	st       BoardStorage
	activity ActivityRecorder
	mailer   InvitationMailer
	now      func() time.Time
	newID    func() string
	retries  int
}

// NewBoardService wires the service. activity and mailer may be nil.
func NewBoardService(st BoardStorage, activity ActivityRecorder, mailer InvitationMailer) *BoardService {
	if activity == nil {
		activity = discardRecorder{}
	}
	if mailer == nil {
		mailer = discardMailer{}
	}
	return &BoardService{
		st:       st,
		activity: activity,
		mailer:   mailer,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		retries:  defaultSaveRetries,
	}
}

func checkAccess(b Board, actor Identity, level access) error {
	switch level {
	case accessAny:
		return nil
	case accessOwner:
		if b.OwnerID != actor.UserID {
			return unauthorized("only the owner may do this on board %s", b.ID)
		}
	case accessAdmin:
		if !b.IsAdmin(actor.UserID) {
			return unauthorized("user %s is not an admin of board %s", actor.UserID, b.ID)
		}
	default:
		if !b.IsMember(actor.UserID) {
			return unauthorized("user %s is not a member of board %s", actor.UserID, b.ID)
		}
	}
	return nil
}

// mutate loads the board, applies fn and saves the result, reapplying fn on
// ETag conflicts.
func (s *BoardService) mutate(ctx context.Context, actor Identity, boardID string, level access, fn func(Board) (Board, error)) (Board, Board, error) {
	for attempt := 0; ; attempt++ {
		prev, etag, err := s.st.LoadBoard(ctx, boardID)
		if err != nil {
			return Board{}, Board{}, err
		}
		if err := checkAccess(prev, actor, level); err != nil {
			return Board{}, Board{}, err
		}
		next, err := fn(prev)
		if err != nil {
			return Board{}, Board{}, err
		}
		err = s.st.SaveBoard(ctx, prev, next, etag)
		if err == nil {
			return prev, next, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) || attempt+1 >= s.retries {
			return Board{}, Board{}, err
		}
		log.WithFields(log.Fields{"board": boardID, "attempt": attempt + 1}).Warn("board changed concurrently, retrying")
	}
}

func (s *BoardService) resolve(ctx context.Context, kind EntityKind, id string) (string, error) {
	boardID, err := s.st.ResolveBoard(ctx, kind, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", notFound(string(kind), id)
		}
		return "", err
	}
	return boardID, nil
}

func (s *BoardService) record(ctx context.Context, actor Identity, b Board, typ ActivityType, recipients []string, format string, args ...any) {
	a := Activity{
		ID:          s.newID(),
		Type:        typ,
		UserID:      actor.UserID,
		UserName:    actor.DisplayName(),
		BoardID:     b.ID,
		BoardTitle:  b.Title,
		Description: fmt.Sprintf(format, args...),
		Timestamp:   s.now(),
		Recipients:  recipients,
	}
	if a.Recipients == nil {
		a.Recipients = b.MemberUserIDs()
	}
	if err := s.activity.Record(ctx, a); err != nil {
		log.WithError(err).WithFields(log.Fields{"board": b.ID, "type": typ}).Error("failed to record activity")
	}
}

// ListBoards returns the boards the actor is an accepted member of, most
// recently updated first.
func (s *BoardService) ListBoards(ctx context.Context, actor Identity) ([]Board, error) {
	ids, err := s.st.ListBoardIDs(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	boards := make([]Board, len(ids))
	found := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			b, _, err := s.st.LoadBoard(gctx, id)
			if errors.Is(err, ErrNotFound) {
				log.WithFields(log.Fields{"board": id, "user": actor.UserID}).Warn("membership points at missing board")
				return nil
			}
			if err != nil {
				return err
			}
			if b.IsMember(actor.UserID) {
				boards[i] = b
				found[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]Board, 0, len(boards))
	for i, b := range boards {
		if found[i] {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// GetBoard returns a board the actor is a member of.
func (s *BoardService) GetBoard(ctx context.Context, actor Identity, boardID string) (Board, error) {
	b, _, err := s.st.LoadBoard(ctx, boardID)
	if err != nil {
		return Board{}, err
	}
	if err := checkAccess(b, actor, accessMember); err != nil {
		return Board{}, err
	}
	return b, nil
}

// BoardIDOf returns the id of the board holding the column, card or member
// id. It reveals nothing about the board itself.
func (s *BoardService) BoardIDOf(ctx context.Context, kind EntityKind, id string) (string, error) {
	return s.resolve(ctx, kind, id)
}

// BoardFor returns the board holding the column, card or member id. The actor
// must be a member of it.
func (s *BoardService) BoardFor(ctx context.Context, actor Identity, kind EntityKind, id string) (Board, error) {
	boardID, err := s.resolve(ctx, kind, id)
	if err != nil {
		return Board{}, err
	}
	return s.GetBoard(ctx, actor, boardID)
}

// CreateBoard creates a board owned by the actor.
func (s *BoardService) CreateBoard(ctx context.Context, actor Identity, in BoardInput) (Board, error) {
	if err := Validate(in); err != nil {
		return Board{}, err
	}
	b, err := NewBoard(s.newID(), s.newID(), actor, in, s.now())
	if err != nil {
		return Board{}, err
	}
	if err := s.st.CreateBoard(ctx, b); err != nil {
		return Board{}, err
	}
	s.record(ctx, actor, b, BoardCreated, nil, "created board %q", b.Title)
	return b, nil
}

// UpdateBoard changes board details. Admin only.
func (s *BoardService) UpdateBoard(ctx context.Context, actor Identity, boardID string, upd BoardUpdate) (Board, error) {
	if err := Validate(upd); err != nil {
		return Board{}, err
	}
	_, next, err := s.mutate(ctx, actor, boardID, accessAdmin, func(b Board) (Board, error) {
		return b.UpdateDetails(upd, s.now())
	})
	if err != nil {
		return Board{}, err
	}
	s.record(ctx, actor, next, BoardUpdated, nil, "updated board %q", next.Title)
	return next, nil
}

// DeleteBoard removes a board. Owner only.
func (s *BoardService) DeleteBoard(ctx context.Context, actor Identity, boardID string) error {
	b, _, err := s.st.LoadBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if err := checkAccess(b, actor, accessOwner); err != nil {
		return err
	}
	if err := s.st.DeleteBoard(ctx, b); err != nil {
		return err
	}
	s.record(ctx, actor, b, BoardDeleted, nil, "deleted board %q", b.Title)
	return nil
}

// CreateColumn appends a column to a board.
func (s *BoardService) CreateColumn(ctx context.Context, actor Identity, boardID, title string) (Board, error) {
	id := s.newID()
	_, next, err := s.mutate(ctx, actor, boardID, accessMember, func(b Board) (Board, error) {
		return b.AddColumn(id, title, s.now())
	})
	if err != nil {
		return Board{}, err
	}
	s.record(ctx, actor, next, ColumnCreated, nil, "added column %q", strings.TrimSpace(title))
	return next, nil
}

// UpdateColumn renames a column.
func (s *BoardService) UpdateColumn(ctx context.Context, actor Identity, columnID, title string) (Column, error) {
	boardID, err := s.resolve(ctx, KindColumn, columnID)
	if err != nil {
		return Column{}, err
	}
	_, next, err := s.mutate(ctx, actor, boardID, accessMember, func(b Board) (Board, error) {
		return b.RenameColumn(columnID, title, s.now())
	})
	if err != nil {
		return Column{}, err
	}
	idx, _ := next.FindColumn(columnID)
	col := next.Columns[idx]
	s.record(ctx, actor, next, ColumnUpdated, nil, "renamed column to %q", col.Title)
	return col, nil
}

// DeleteColumn removes a column and its cards.
func (s *BoardService) DeleteColumn(ctx context.Context, actor Identity, columnID string) (Board, error) {
	boardID, err := s.resolve(ctx, KindColumn, columnID)
	if err != nil {
		return Board{}, err
	}
	var title string
	_, next, err := s.mutate(ctx, actor, boardID, accessMember, func(b Board) (Board, error) {
		if idx, ok := b.FindColumn(columnID); ok {
			title = b.Columns[idx].Title
		}
		return b.RemoveColumn(columnID)
	})
	if err != nil {
		return Board{}, err
	}
	s.record(ctx, actor, next, ColumnDeleted, nil, "deleted column %q", title)
	return next, nil
}

// MoveColumn reorders the columns of a board.
func (s *BoardService) MoveColumn(ctx context.Context, actor Identity, boardID string, from, to int) (Board, error) {
	prev, next, err := s.mutate(ctx, actor, boardID, accessMember, func(b Board) (Board, error) {
		return b.MoveColumn(from, to)
	})
	if err != nil {
		return Board{}, err
	}
	if from != to {
		s.record(ctx, actor, next, ColumnMoved, nil, "moved column %q", prev.Columns[from].Title)
	}
	return next, nil
}

// CreateCard appends a card to a column.
func (s *BoardService) CreateCard(ctx context.Context, actor Identity, columnID string, in CardInput) (Board, error) {
	if err := Validate(in); err != nil {
		return Board{}, err
	}
	boardID, err := s.resolve(ctx, KindColumn, columnID)
	if err != nil {
		return Board{}, err
	}
	card := NewCard(s.newID(), in, s.now())
	_, next, err := s.mutate(ctx, actor, boardID, accessMember, func(b Board) (Board, error) {
		return b.AddCard(columnID, card)
	})
	if err != nil {
		return Board{}, err
	}
	s.record(ctx, actor, next, CardCreated, nil, "added card %q", card.Title)
	return next, nil
}

// UpdateCard changes card fields and returns the updated card.
func (s *BoardService) UpdateCard(ctx context.Context, actor Identity, cardID string, upd CardUpdate) (Card, error) {
	if err := Validate(upd); err != nil {
		return Card{}, err
	}
	return s.cardChange(ctx, actor, cardID, CardUpdated, "updated card %q", func(b Board) (Board, Card, error) {
		return b.UpdateCard(cardID, upd, s.now())
	})
}

// CompleteCard marks a card completed.
func (s *BoardService) CompleteCard(ctx context.Context, actor Identity, cardID string) (Card, error) {
	return s.cardChange(ctx, actor, cardID, CardCompleted, "completed card %q", func(b Board) (Board, Card, error) {
		return b.CompleteCard(cardID, s.now())
	})
}

func (s *BoardService) cardChange(ctx context.Context, actor Identity, cardID string, typ ActivityType, format string, fn func(Board) (Board, Card, error)) (Card, error) {
	boardID, err := s.resolve(ctx, KindCard, cardID)
	if err != nil {
		return Card{}, err
	}
	var card Card
	_, next, err := s.mutate(ctx, actor, boardID, accessMember, func(b Board) (Board, error) {
		var (
			nb  Board
			err error
		)
		nb, card, err = fn(b)
		return nb, err
	})
	if err != nil {
		return Card{}, err
	}
	s.record(ctx, actor, next, typ, nil, format, card.Title)
	return card, nil
}

// DeleteCard removes a card.
func (s *BoardService) DeleteCard(ctx context.Context, actor Identity, cardID string) (Board, error) {
	boardID, err := s.resolve(ctx, KindCard, cardID)
	if err != nil {
		return Board{}, err
	}
	var title string
	_, next, err := s.mutate(ctx, actor, boardID, accessMember, func(b Board) (Board, error) {
		if c, ok := b.Card(cardID); ok {
			title = c.Title
		}
		return b.RemoveCard(cardID)
	})
	if err != nil {
		return Board{}, err
	}
	s.record(ctx, actor, next, CardDeleted, nil, "deleted card %q", title)
	return next, nil
}

// MoveCard moves a card between positions of the same board.
func (s *BoardService) MoveCard(ctx context.Context, actor Identity, boardID string, src, dst Position) (Board, error) {
	if err := Validate(src); err != nil {
		return Board{}, err
	}
	if err := Validate(dst); err != nil {
		return Board{}, err
	}
	var title string
	_, next, err := s.mutate(ctx, actor, boardID, accessMember, func(b Board) (Board, error) {
		nb, err := b.MoveCard(src.ColumnID, src.Index, dst.ColumnID, dst.Index)
		if err != nil {
			return nb, err
		}
		ci, _ := b.FindColumn(src.ColumnID)
		title = b.Columns[ci].Cards[src.Index].Title
		return nb, nil
	})
	if err != nil {
		return Board{}, err
	}
	if src != dst {
		s.record(ctx, actor, next, CardMoved, nil, "moved card %q", title)
	}
	return next, nil
}

// ListMembers returns the membership records of a board.
func (s *BoardService) ListMembers(ctx context.Context, actor Identity, boardID string) ([]Member, error) {
	b, err := s.GetBoard(ctx, actor, boardID)
	if err != nil {
		return nil, err
	}
	return b.Members, nil
}

// InviteMember adds a pending member and sends the invitation email. Email
// failures are logged and do not undo the invitation.
func (s *BoardService) InviteMember(ctx context.Context, actor Identity, boardID string, in InviteInput) (Board, error) {
	if err := Validate(in); err != nil {
		return Board{}, err
	}
	invitee, err := s.st.FindUserByEmail(ctx, in.Email)
	if err != nil {
		return Board{}, err
	}
	id := s.newID()
	var m Member
	_, next, err := s.mutate(ctx, actor, boardID, accessAdmin, func(b Board) (Board, error) {
		var (
			nb  Board
			err error
		)
		nb, m, err = b.InviteMember(id, in.Email, in.Role, invitee, s.now())
		return nb, err
	})
	if err != nil {
		return Board{}, err
	}
	inv := Invitation{
		MemberID:    m.ID,
		Email:       m.Email,
		Role:        m.Role,
		BoardID:     next.ID,
		BoardTitle:  next.Title,
		InviterName: actor.DisplayName(),
	}
	if err := s.mailer.SendInvitation(ctx, inv); err != nil {
		log.WithError(err).WithFields(log.Fields{"board": next.ID, "member": m.ID}).Error("failed to send invitation email")
	}
	s.record(ctx, actor, next, MemberInvited, nil, "invited %s", m.Email)
	return next, nil
}

// RemoveMember drops a membership record. Admin only; the owner stays.
func (s *BoardService) RemoveMember(ctx context.Context, actor Identity, boardID, memberID string) (Board, error) {
	var removed Member
	prev, next, err := s.mutate(ctx, actor, boardID, accessAdmin, func(b Board) (Board, error) {
		if idx, ok := b.FindMember(memberID); ok {
			removed = b.Members[idx]
		}
		return b.RemoveMember(memberID)
	})
	if err != nil {
		return Board{}, err
	}
	s.record(ctx, actor, next, MemberRemoved, prev.MemberUserIDs(), "removed %s", removed.Email)
	return next, nil
}

// AcceptInvitation joins the actor to the board the invitation belongs to.
func (s *BoardService) AcceptInvitation(ctx context.Context, actor Identity, memberID string) (Board, error) {
	boardID, err := s.resolve(ctx, KindMember, memberID)
	if err != nil {
		return Board{}, err
	}
	_, next, err := s.mutate(ctx, actor, boardID, accessAny, func(b Board) (Board, error) {
		return b.AcceptInvitation(memberID, actor, s.now())
	})
	if err != nil {
		return Board{}, err
	}
	s.record(ctx, actor, next, MemberJoined, nil, "%s joined the board", actor.DisplayName())
	return next, nil
}

// DeclineInvitation drops an invitation addressed to the actor.
func (s *BoardService) DeclineInvitation(ctx context.Context, actor Identity, memberID string) error {
	boardID, err := s.resolve(ctx, KindMember, memberID)
	if err != nil {
		return err
	}
	_, next, err := s.mutate(ctx, actor, boardID, accessAny, func(b Board) (Board, error) {
		return b.DeclineInvitation(memberID, actor)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, next, MemberDeclined, nil, "%s declined the invitation", actor.DisplayName())
	return nil
}

// SyncUser stores the actor's display attributes so invitations can find them.
func (s *BoardService) SyncUser(ctx context.Context, actor Identity) (Identity, error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return Identity{}, invalid("user id is required")
	}
	actor.Email = strings.TrimSpace(actor.Email)
	if err := s.st.UpsertUser(ctx, actor); err != nil {
		return Identity{}, err
	}
	return actor, nil
}
