package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// DefaultTimeout bounds a single gateway call.
const DefaultTimeout = 30 * time.Second

// TempIDPrefix marks ids assigned locally before the server confirms a create.
const TempIDPrefix = "tmp-"

// ErrClosed is returned for mutations submitted after Close.
var ErrClosed = errors.New("coordinator closed")

// RemoteWriteError reports a mutation the gateway rejected or never
// confirmed. It matches domain.ErrRemoteWriteFailed and unwraps to the cause.
type RemoteWriteError struct {
	Op  string
	Err error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, domain.ErrRemoteWriteFailed, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

func (e *RemoteWriteError) Is(target error) bool { return target == domain.ErrRemoteWriteFailed }

// Snapshot is a published board state. Versions increase monotonically.
type Snapshot struct {
	Version uint64
	Board   domain.Board
}

// Mutation is the handle of a submitted operation.
type Mutation struct {
	done  chan struct{}
	board domain.Board
	err   error
}

func newMutation() *Mutation { return &Mutation{done: make(chan struct{})} }

func (m *Mutation) finish(b domain.Board, err error) {
	m.board, m.err = b, err
	close(m.done)
}

// Done is closed once the gateway outcome is known.
func (m *Mutation) Done() <-chan struct{} { return m.done }

// Wait blocks until the mutation settles and returns the confirmed board.
func (m *Mutation) Wait(ctx context.Context) (domain.Board, error) {
	select {
	case <-m.done:
		return m.board, m.err
	case <-ctx.Done():
		return domain.Board{}, ctx.Err()
	}
}

type resolver func(id string) string

type operation struct {
	name string
	// apply computes the optimistic board. Ids are resolved at every replay
	// so ops queued behind a create keep working once the create settles.
	apply func(b domain.Board, r resolver) (domain.Board, error)
	// send performs the gateway call and returns how to fold the result into
	// the confirmed board.
	send func(ctx context.Context, gw Gateway, r resolver) (func(confirmed domain.Board) domain.Board, error)
	// tempID is set for creates.
	tempID string
	// identify tells whether id in the server board carries the created
	// entity's title and whether it is the last of its siblings, where the
	// server appends creates.
	identify func(after domain.Board, id string, r resolver) (titled, last bool)
	handle   *Mutation
}

// Config tunes a Coordinator.
type Config struct {
	Timeout time.Duration
	Now     func() time.Time
}

// Coordinator applies board mutations optimistically and reconciles them
// with the gateway. Operations are sent one at a time in submission order;
// the visible board is the confirmed board with pending operations replayed
// on top.
type Coordinator struct {
	gw      Gateway
	timeout time.Duration
	now     func() time.Time

	mu        sync.Mutex
	confirmed domain.Board
	visible   domain.Board
	pending   []*operation
	ids       map[string]string
	version   uint64
	subs      map[int]chan Snapshot
	nextSub   int
	closed    bool

	wake    chan struct{}
	stopped chan struct{}
}

// New starts a coordinator owning board.
func New(gw Gateway, board domain.Board, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Coordinator{
		gw:        gw,
		timeout:   cfg.Timeout,
		now:       cfg.Now,
		confirmed: board,
		visible:   board,
		ids:       map[string]string{},
		subs:      map[int]chan Snapshot{},
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	go c.run()
	return c
}

// Load fetches boardID through gw and starts a coordinator for it.
func Load(ctx context.Context, gw Gateway, boardID string, cfg Config) (*Coordinator, error) {
	b, err := gw.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return New(gw, b, cfg), nil
}

// Board returns the visible board.
func (c *Coordinator) Board() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Version: c.version, Board: c.visible}
}

// Confirmed returns the last board acknowledged by the gateway.
func (c *Coordinator) Confirmed() domain.Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed
}

// ResolveID maps a temporary id to its server id once known.
func (c *Coordinator) ResolveID(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolve(id)
}

func (c *Coordinator) resolve(id string) string {
	if real, ok := c.ids[id]; ok {
		return real
	}
	return id
}

// Subscribe delivers the current snapshot and every later one. A slow
// subscriber only misses intermediate snapshots, never receives an older one
// after a newer one.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan Snapshot, 1)
	ch <- Snapshot{Version: c.version, Board: c.visible}
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

// publish must be called with mu held.
func (c *Coordinator) publish() {
	c.version++
	snap := Snapshot{Version: c.version, Board: c.visible}
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (c *Coordinator) submit(op *operation) (*Mutation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	next, err := op.apply(c.visible, c.resolve)
	if err != nil {
		return nil, err
	}
	op.handle = newMutation()
	c.pending = append(c.pending, op)
	c.visible = next
	c.publish()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return op.handle, nil
}

func (c *Coordinator) run() {
	defer close(c.stopped)
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			<-c.wake
			continue
		}
		op := c.pending[0]
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		fold, err := op.send(ctx, c.gw, c.ResolveID)
		cancel()
		c.settle(op, fold, err)
	}
}

func (c *Coordinator) settle(op *operation, fold func(domain.Board) domain.Board, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = c.pending[1:]
	if err != nil {
		log.WithError(err).WithField("op", op.name).Warn("remote write failed; reverting")
		op.handle.finish(c.confirmed, &RemoteWriteError{Op: op.name, Err: err})
	} else {
		prev := c.confirmed
		c.confirmed = fold(prev)
		if op.tempID != "" {
			if real, ok := createdID(prev, c.confirmed, op, c.resolve); ok {
				c.ids[op.tempID] = real
			}
		}
		op.handle.finish(c.confirmed, nil)
	}

	visible := c.confirmed
	kept := c.pending[:0]
	for _, p := range c.pending {
		next, aerr := p.apply(visible, c.resolve)
		if aerr != nil {
			p.handle.finish(c.confirmed, fmt.Errorf("%s no longer applies: %w", p.name, aerr))
			continue
		}
		visible = next
		kept = append(kept, p)
	}
	c.pending = kept
	c.visible = visible
	c.publish()
}

// createdID finds the id the server assigned to the entity op created by
// comparing ids before and after it. When other writers added entities too,
// the candidate with the same title that was appended last wins.
func createdID(before, after domain.Board, op *operation, r resolver) (string, bool) {
	known := map[string]bool{}
	for _, col := range before.Columns {
		known[col.ID] = true
		for _, card := range col.Cards {
			known[card.ID] = true
		}
	}
	var added []string
	for _, col := range after.Columns {
		if !known[col.ID] {
			added = append(added, col.ID)
		}
		for _, card := range col.Cards {
			if !known[card.ID] {
				added = append(added, card.ID)
			}
		}
	}
	if len(added) == 1 {
		return added[0], true
	}
	var titled, placed []string
	for _, id := range added {
		if op.identify == nil {
			break
		}
		same, last := op.identify(after, id, r)
		if !same {
			continue
		}
		titled = append(titled, id)
		if last {
			placed = append(placed, id)
		}
	}
	switch {
	case len(placed) == 1:
		return placed[0], true
	case len(titled) == 1:
		return titled[0], true
	}
	log.WithFields(log.Fields{"tempId": op.tempID, "candidates": len(added)}).Warn("cannot map temporary id")
	return "", false
}

// Close stops accepting mutations, waits for pending ones to settle and
// closes all subscriptions.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
	c.mu.Unlock()
	<-c.stopped

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

func newTempID() string { return TempIDPrefix + uuid.NewString() }

// IsTempID reports whether id was assigned locally.
func IsTempID(id string) bool { return strings.HasPrefix(id, TempIDPrefix) }

func boardResult(b domain.Board, err error) (func(domain.Board) domain.Board, error) {
	if err != nil {
		return nil, err
	}
	return func(domain.Board) domain.Board { return b }, nil
}

// AddColumn appends a column titled title.
func (c *Coordinator) AddColumn(title string) (*Mutation, error) {
	tmp := newTempID()
	now := c.now()
	return c.submit(&operation{
		name:   "createColumn",
		tempID: tmp,
		apply: func(b domain.Board, _ resolver) (domain.Board, error) {
			return b.AddColumn(tmp, title, now)
		},
		send: func(ctx context.Context, gw Gateway, r resolver) (func(domain.Board) domain.Board, error) {
			return boardResult(gw.CreateColumn(ctx, c.boardID(), title))
		},
		identify: func(after domain.Board, id string, _ resolver) (bool, bool) {
			i, ok := after.FindColumn(id)
			if !ok {
				return false, false
			}
			return after.Columns[i].Title == strings.TrimSpace(title), i == len(after.Columns)-1
		},
	})
}

// AddCard appends a card to columnID.
func (c *Coordinator) AddCard(columnID string, in domain.CardInput) (*Mutation, error) {
	if err := domain.Validate(in); err != nil {
		return nil, err
	}
	tmp := newTempID()
	card := domain.NewCard(tmp, in, c.now())
	return c.submit(&operation{
		name:   "createCard",
		tempID: tmp,
		apply: func(b domain.Board, r resolver) (domain.Board, error) {
			return b.AddCard(r(columnID), card)
		},
		send: func(ctx context.Context, gw Gateway, r resolver) (func(domain.Board) domain.Board, error) {
			return boardResult(gw.CreateCard(ctx, r(columnID), in))
		},
		identify: func(after domain.Board, id string, r resolver) (bool, bool) {
			ci, i, ok := after.FindCard(id)
			if !ok || after.Columns[ci].ID != r(columnID) {
				return false, false
			}
			cards := after.Columns[ci].Cards
			return cards[i].Title == card.Title, i == len(cards)-1
		},
	})
}

// MoveColumn moves the column at from to index to.
func (c *Coordinator) MoveColumn(from, to int) (*Mutation, error) {
	return c.submit(&operation{
		name: "moveColumn",
		apply: func(b domain.Board, _ resolver) (domain.Board, error) {
			return b.MoveColumn(from, to)
		},
		send: func(ctx context.Context, gw Gateway, _ resolver) (func(domain.Board) domain.Board, error) {
			return boardResult(gw.MoveColumn(ctx, c.boardID(), from, to))
		},
	})
}

// MoveCard moves a card between positions.
func (c *Coordinator) MoveCard(src, dst domain.Position) (*Mutation, error) {
	return c.submit(&operation{
		name: "moveCard",
		apply: func(b domain.Board, r resolver) (domain.Board, error) {
			return b.MoveCard(r(src.ColumnID), src.Index, r(dst.ColumnID), dst.Index)
		},
		send: func(ctx context.Context, gw Gateway, r resolver) (func(domain.Board) domain.Board, error) {
			s, d := src, dst
			s.ColumnID, d.ColumnID = r(src.ColumnID), r(dst.ColumnID)
			return boardResult(gw.MoveCard(ctx, c.boardID(), s, d))
		},
	})
}

// UpdateCard changes card fields.
func (c *Coordinator) UpdateCard(cardID string, upd domain.CardUpdate) (*Mutation, error) {
	if err := domain.Validate(upd); err != nil {
		return nil, err
	}
	now := c.now()
	return c.submit(&operation{
		name: "updateCard",
		apply: func(b domain.Board, r resolver) (domain.Board, error) {
			next, _, err := b.UpdateCard(r(cardID), upd, now)
			return next, err
		},
		send: func(ctx context.Context, gw Gateway, r resolver) (func(domain.Board) domain.Board, error) {
			card, err := gw.UpdateCard(ctx, r(cardID), upd)
			if err != nil {
				return nil, err
			}
			return func(b domain.Board) domain.Board { return withCard(b, card) }, nil
		},
	})
}

// RemoveCard deletes a card.
func (c *Coordinator) RemoveCard(cardID string) (*Mutation, error) {
	return c.submit(&operation{
		name: "deleteCard",
		apply: func(b domain.Board, r resolver) (domain.Board, error) {
			return b.RemoveCard(r(cardID))
		},
		send: func(ctx context.Context, gw Gateway, r resolver) (func(domain.Board) domain.Board, error) {
			return boardResult(gw.DeleteCard(ctx, r(cardID)))
		},
	})
}

// RemoveColumn deletes a column with its cards.
func (c *Coordinator) RemoveColumn(columnID string) (*Mutation, error) {
	return c.submit(&operation{
		name: "deleteColumn",
		apply: func(b domain.Board, r resolver) (domain.Board, error) {
			return b.RemoveColumn(r(columnID))
		},
		send: func(ctx context.Context, gw Gateway, r resolver) (func(domain.Board) domain.Board, error) {
			return boardResult(gw.DeleteColumn(ctx, r(columnID)))
		},
	})
}

func (c *Coordinator) boardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed.ID
}

// withCard replaces the card with the same id, keeping its position.
func withCard(b domain.Board, card domain.Card) domain.Board {
	ci, i, ok := b.FindCard(card.ID)
	if !ok {
		return b
	}
	cols := append([]domain.Column(nil), b.Columns...)
	cards := append([]domain.Card(nil), cols[ci].Cards...)
	card.Order = cards[i].Order
	card.ColumnID = cols[ci].ID
	cards[i] = card
	cols[ci].Cards = cards
	b.Columns = cols
	return b
}
