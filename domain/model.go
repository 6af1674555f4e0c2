package domain

import (
	"encoding/json"
	"time"
)

// Role of a board member.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// MemberStatus tracks whether an invitation has been accepted.
type MemberStatus string

const (
	StatusAccepted MemberStatus = "ACCEPTED"
	StatusPending  MemberStatus = "PENDING"
)

// CardStatusCompleted marks a card completed from the dashboard.
const CardStatusCompleted = "completed"

// Board is the aggregate root: an ordered list of columns plus its members.
type Board struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Background  string    `json:"background,omitempty"`
	IsStarred   bool      `json:"isStarred"`
	OwnerID     string    `json:"ownerId"`
	Columns     []Column  `json:"columns"`
	Members     []Member  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Column is a named ordered bucket of cards.
type Column struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Order     int       `json:"order"`
	Cards     []Card    `json:"cards"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Card is a single work item. ColumnID refers back to the owning column.
type Card struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Order       int        `json:"order"`
	ColumnID    string     `json:"columnId"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	Status      string     `json:"status,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Member is a user (or pending invitee) with access to a board.
type Member struct {
	ID       string       `json:"id"`
	UserID   string       `json:"userId,omitempty"`
	Name     string       `json:"name"`
	Email    string       `json:"email"`
	Role     Role         `json:"role"`
	Status   MemberStatus `json:"status"`
	JoinedAt time.Time    `json:"joinedAt"`
}

// Identity is the acting user as asserted by the identity provider.
type Identity struct {
	UserID string `json:"id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

// DisplayName falls back through name, email and a fixed label.
func (id Identity) DisplayName() string {
	switch {
	case id.Name != "":
		return id.Name
	case id.Email != "":
		return id.Email
	default:
		return "Admin"
	}
}

// SeqID implements Sequenced.
func (c Column) SeqID() string { return c.ID }

// WithOrder implements Sequenced.
func (c Column) WithOrder(order int) Column {
	c.Order = order
	return c
}

// SeqID implements Sequenced.
func (c Card) SeqID() string { return c.ID }

// WithOrder implements Sequenced.
func (c Card) WithOrder(order int) Card {
	c.Order = order
	return c
}

// Decoding goes through Timestamp so that any remote time shape lands as time.Time.

type boardAlias Board

func (b *Board) UnmarshalJSON(data []byte) error {
	var raw struct {
		boardAlias
		CreatedAt Timestamp `json:"createdAt"`
		UpdatedAt Timestamp `json:"updatedAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Board(raw.boardAlias)
	b.CreatedAt = raw.CreatedAt.Time
	b.UpdatedAt = raw.UpdatedAt.Time
	return nil
}

type columnAlias Column

func (c *Column) UnmarshalJSON(data []byte) error {
	var raw struct {
		columnAlias
		CreatedAt Timestamp `json:"createdAt"`
		UpdatedAt Timestamp `json:"updatedAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Column(raw.columnAlias)
	c.CreatedAt = raw.CreatedAt.Time
	c.UpdatedAt = raw.UpdatedAt.Time
	return nil
}

type cardAlias Card

func (c *Card) UnmarshalJSON(data []byte) error {
	var raw struct {
		cardAlias
		DueDate   Timestamp `json:"dueDate"`
		CreatedAt Timestamp `json:"createdAt"`
		UpdatedAt Timestamp `json:"updatedAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Card(raw.cardAlias)
	c.DueDate = timePtr(raw.DueDate)
	c.CreatedAt = raw.CreatedAt.Time
	c.UpdatedAt = raw.UpdatedAt.Time
	return nil
}

type memberAlias Member

func (m *Member) UnmarshalJSON(data []byte) error {
	var raw struct {
		memberAlias
		JoinedAt Timestamp `json:"joinedAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Member(raw.memberAlias)
	m.JoinedAt = raw.JoinedAt.Time
	return nil
}
