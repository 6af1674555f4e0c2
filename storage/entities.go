package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/molly1022/TMS-Dashboard/domain"
)

const (
	EdmDateTime = "Edm.DateTime"
	EdmInt32    = "Edm.Int32"
	EdmBoolean  = "Edm.Boolean"
)

const (
	kindBoard  = "board"
	kindColumn = "column"
	kindCard   = "card"
	kindMember = "member"

	boardRowKey = "board"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// boardEntity is the root row of a board partition. Its ETag guards every
// write to the partition.
type boardEntity struct {
	Entity
	Kind          string           `json:"Kind"`
	Title         string           `json:"Title"`
	Description   string           `json:"Description"`
	Background    string           `json:"Background"`
	IsStarred     bool             `json:"IsStarred"`
	OwnerID       string           `json:"OwnerID"`
	CreatedAt     domain.Timestamp `json:"CreatedAt"`
	CreatedAtType string           `json:"CreatedAt@odata.type"`
	UpdatedAt     domain.Timestamp `json:"UpdatedAt"`
	UpdatedAtType string           `json:"UpdatedAt@odata.type"`
}

type columnEntity struct {
	Entity
	Kind          string           `json:"Kind"`
	ColumnID      string           `json:"ColumnID"`
	Title         string           `json:"Title"`
	Order         int              `json:"Order"`
	OrderType     string           `json:"Order@odata.type"`
	CreatedAt     domain.Timestamp `json:"CreatedAt"`
	CreatedAtType string           `json:"CreatedAt@odata.type"`
	UpdatedAt     domain.Timestamp `json:"UpdatedAt"`
	UpdatedAtType string           `json:"UpdatedAt@odata.type"`
}

type cardEntity struct {
	Entity
	Kind          string            `json:"Kind"`
	CardID        string            `json:"CardID"`
	ColumnID      string            `json:"ColumnID"`
	Title         string            `json:"Title"`
	Description   string            `json:"Description"`
	Order         int               `json:"Order"`
	OrderType     string            `json:"Order@odata.type"`
	DueDate       *domain.Timestamp `json:"DueDate,omitempty"`
	DueDateType   *string           `json:"DueDate@odata.type,omitempty"`
	Labels        string            `json:"Labels"`
	AssignedTo    string            `json:"AssignedTo"`
	Status        string            `json:"Status"`
	CreatedAt     domain.Timestamp  `json:"CreatedAt"`
	CreatedAtType string            `json:"CreatedAt@odata.type"`
	UpdatedAt     domain.Timestamp  `json:"UpdatedAt"`
	UpdatedAtType string            `json:"UpdatedAt@odata.type"`
}

type memberEntity struct {
	Entity
	Kind         string           `json:"Kind"`
	MemberID     string           `json:"MemberID"`
	UserID       string           `json:"UserID"`
	Name         string           `json:"Name"`
	Email        string           `json:"Email"`
	Role         string           `json:"Role"`
	Status       string           `json:"Status"`
	JoinedAt     domain.Timestamp `json:"JoinedAt"`
	JoinedAtType string           `json:"JoinedAt@odata.type"`
}

// lookupEntity maps a column, card or member id to its board.
type lookupEntity struct {
	Entity
	BoardID string `json:"BoardID"`
}

// membershipEntity indexes the boards of a user.
type membershipEntity struct {
	Entity
	Role   string `json:"Role"`
	Status string `json:"Status"`
}

type userEntity struct {
	Entity
	Name       string `json:"Name,omitempty"`
	Email      string `json:"Email,omitempty"`
	EmailLower string `json:"EmailLower,omitempty"`
}

type activityEntity struct {
	Entity
	ActivityID    string           `json:"ActivityID"`
	Type          string           `json:"Type"`
	ActorID       string           `json:"ActorID"`
	ActorName     string           `json:"ActorName"`
	BoardID       string           `json:"BoardID"`
	BoardTitle    string           `json:"BoardTitle"`
	Description   string           `json:"Description"`
	Timestamp     domain.Timestamp `json:"OccurredAt"`
	TimestampType string           `json:"OccurredAt@odata.type"`
}

func columnRowKey(id string) string { return kindColumn + ":" + id }
func cardRowKey(id string) string   { return kindCard + ":" + id }
func memberRowKey(id string) string { return kindMember + ":" + id }

func stamp(t time.Time) domain.Timestamp { return domain.Timestamp{Time: t.UTC()} }

func newBoardEntity(b domain.Board) boardEntity {
	return boardEntity{
		Entity:        Entity{PartitionKey: b.ID, RowKey: boardRowKey},
		Kind:          kindBoard,
		Title:         b.Title,
		Description:   b.Description,
		Background:    b.Background,
		IsStarred:     b.IsStarred,
		OwnerID:       b.OwnerID,
		CreatedAt:     stamp(b.CreatedAt),
		CreatedAtType: EdmDateTime,
		UpdatedAt:     stamp(b.UpdatedAt),
		UpdatedAtType: EdmDateTime,
	}
}

func newColumnEntity(boardID string, c domain.Column) columnEntity {
	return columnEntity{
		Entity:        Entity{PartitionKey: boardID, RowKey: columnRowKey(c.ID)},
		Kind:          kindColumn,
		ColumnID:      c.ID,
		Title:         c.Title,
		Order:         c.Order,
		OrderType:     EdmInt32,
		CreatedAt:     stamp(c.CreatedAt),
		CreatedAtType: EdmDateTime,
		UpdatedAt:     stamp(c.UpdatedAt),
		UpdatedAtType: EdmDateTime,
	}
}

func newCardEntity(boardID string, c domain.Card) (cardEntity, error) {
	ent := cardEntity{
		Entity:        Entity{PartitionKey: boardID, RowKey: cardRowKey(c.ID)},
		Kind:          kindCard,
		CardID:        c.ID,
		ColumnID:      c.ColumnID,
		Title:         c.Title,
		Description:   c.Description,
		Order:         c.Order,
		OrderType:     EdmInt32,
		AssignedTo:    c.AssignedTo,
		Status:        c.Status,
		CreatedAt:     stamp(c.CreatedAt),
		CreatedAtType: EdmDateTime,
		UpdatedAt:     stamp(c.UpdatedAt),
		UpdatedAtType: EdmDateTime,
	}
	if c.DueDate != nil && !c.DueDate.IsZero() {
		due := stamp(*c.DueDate)
		typ := EdmDateTime
		ent.DueDate = &due
		ent.DueDateType = &typ
	}
	if len(c.Labels) > 0 {
		labels, err := json.Marshal(c.Labels)
		if err != nil {
			return cardEntity{}, err
		}
		ent.Labels = string(labels)
	}
	return ent, nil
}

func newMemberEntity(boardID string, m domain.Member) memberEntity {
	return memberEntity{
		Entity:       Entity{PartitionKey: boardID, RowKey: memberRowKey(m.ID)},
		Kind:         kindMember,
		MemberID:     m.ID,
		UserID:       m.UserID,
		Name:         m.Name,
		Email:        m.Email,
		Role:         string(m.Role),
		Status:       string(m.Status),
		JoinedAt:     stamp(m.JoinedAt),
		JoinedAtType: EdmDateTime,
	}
}

// rowHeader is decoded first to route a partition row to its entity type.
type rowHeader struct {
	RowKey string `json:"RowKey"`
	Kind   string `json:"Kind"`
	ETag   string `json:"odata.etag"`
}

// assembleBoard rebuilds a board from the rows of its partition and returns
// the ETag of the board row. Rows of unknown kind are skipped.
func assembleBoard(boardID string, rows [][]byte) (domain.Board, string, error) {
	var (
		b       domain.Board
		etag    string
		haveRow bool
		columns []domain.Column
		cards   = map[string][]domain.Card{}
	)
	for _, raw := range rows {
		var hdr rowHeader
		if err := json.Unmarshal(raw, &hdr); err != nil {
			return domain.Board{}, "", err
		}
		switch hdr.Kind {
		case kindBoard:
			var ent boardEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return domain.Board{}, "", fmt.Errorf("board %s: %w", boardID, err)
			}
			b.ID = boardID
			b.Title = ent.Title
			b.Description = ent.Description
			b.Background = ent.Background
			b.IsStarred = ent.IsStarred
			b.OwnerID = ent.OwnerID
			b.CreatedAt = ent.CreatedAt.Time
			b.UpdatedAt = ent.UpdatedAt.Time
			etag = hdr.ETag
			haveRow = true
		case kindColumn:
			var ent columnEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return domain.Board{}, "", fmt.Errorf("board %s row %s: %w", boardID, hdr.RowKey, err)
			}
			columns = append(columns, domain.Column{
				ID:        ent.ColumnID,
				Title:     ent.Title,
				Order:     ent.Order,
				CreatedAt: ent.CreatedAt.Time,
				UpdatedAt: ent.UpdatedAt.Time,
			})
		case kindCard:
			var ent cardEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return domain.Board{}, "", fmt.Errorf("board %s row %s: %w", boardID, hdr.RowKey, err)
			}
			card := domain.Card{
				ID:          ent.CardID,
				Title:       ent.Title,
				Description: ent.Description,
				Order:       ent.Order,
				ColumnID:    ent.ColumnID,
				AssignedTo:  ent.AssignedTo,
				Status:      ent.Status,
				CreatedAt:   ent.CreatedAt.Time,
				UpdatedAt:   ent.UpdatedAt.Time,
			}
			if ent.DueDate != nil && !ent.DueDate.IsZero() {
				due := ent.DueDate.Time
				card.DueDate = &due
			}
			if ent.Labels != "" {
				if err := json.Unmarshal([]byte(ent.Labels), &card.Labels); err != nil {
					return domain.Board{}, "", fmt.Errorf("card %s labels: %w", ent.CardID, err)
				}
			}
			cards[card.ColumnID] = append(cards[card.ColumnID], card)
		case kindMember:
			var ent memberEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return domain.Board{}, "", fmt.Errorf("board %s row %s: %w", boardID, hdr.RowKey, err)
			}
			b.Members = append(b.Members, domain.Member{
				ID:       ent.MemberID,
				UserID:   ent.UserID,
				Name:     ent.Name,
				Email:    ent.Email,
				Role:     domain.Role(ent.Role),
				Status:   domain.MemberStatus(ent.Status),
				JoinedAt: ent.JoinedAt.Time,
			})
		}
	}
	if !haveRow {
		return domain.Board{}, "", fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
	}

	sort.SliceStable(columns, func(i, j int) bool { return columns[i].Order < columns[j].Order })
	for i := range columns {
		cs := cards[columns[i].ID]
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].Order < cs[j].Order })
		if cs == nil {
			cs = []domain.Card{}
		}
		columns[i].Cards = cs
		delete(cards, columns[i].ID)
	}
	for colID, orphans := range cards {
		log.WithFields(log.Fields{"board": boardID, "column": colID, "cards": len(orphans)}).Warn("dropping cards of missing column")
	}
	if columns == nil {
		columns = []domain.Column{}
	}
	b.Columns = columns
	sort.SliceStable(b.Members, func(i, j int) bool { return b.Members[i].JoinedAt.Before(b.Members[j].JoinedAt) })
	if b.Members == nil {
		b.Members = []domain.Member{}
	}
	if err := b.Validate(); err != nil {
		log.WithError(err).WithField("board", boardID).Warn("renumbering board with gaps in stored order")
		b = renumber(b)
	}
	return b, etag, nil
}

// renumber restores contiguous order values after a partially applied write.
func renumber(b domain.Board) domain.Board {
	cols := make([]domain.Column, len(b.Columns))
	for i, c := range b.Columns {
		c.Order = i
		cards := make([]domain.Card, len(c.Cards))
		for j, card := range c.Cards {
			card.Order = j
			card.ColumnID = c.ID
			cards[j] = card
		}
		c.Cards = cards
		cols[i] = c
	}
	b.Columns = cols
	return b
}

func decodeActivity(raw []byte) (domain.Activity, error) {
	var ent activityEntity
	if err := json.Unmarshal(raw, &ent); err != nil {
		return domain.Activity{}, err
	}
	return domain.Activity{
		ID:          ent.ActivityID,
		Type:        domain.ActivityType(ent.Type),
		UserID:      ent.ActorID,
		UserName:    ent.ActorName,
		BoardID:     ent.BoardID,
		BoardTitle:  ent.BoardTitle,
		Description: ent.Description,
		Timestamp:   ent.Timestamp.Time,
	}, nil
}

// odataQuote escapes a string literal for an OData filter.
func odataQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
