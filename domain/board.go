package domain

import (
	"fmt"
	"strings"
	"time"
)

// NewBoard builds an empty board owned by the given identity, who becomes its
// first admin member under memberID.
func NewBoard(id, memberID string, owner Identity, in BoardInput, now time.Time) (Board, error) {
	title, err := requireTitle(in.Title)
	if err != nil {
		return Board{}, err
	}
	return Board{
		ID:          id,
		Title:       title,
		Description: in.Description,
		Background:  in.Background,
		OwnerID:     owner.UserID,
		Columns:     []Column{},
		Members: []Member{{
			ID:       memberID,
			UserID:   owner.UserID,
			Name:     owner.DisplayName(),
			Email:    owner.Email,
			Role:     RoleAdmin,
			Status:   StatusAccepted,
			JoinedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// FindColumn returns the index of the column with the given id.
func (b Board) FindColumn(columnID string) (int, bool) {
	for i, c := range b.Columns {
		if c.ID == columnID {
			return i, true
		}
	}
	return -1, false
}

// FindCard returns the column and card indexes of the card with the given id.
func (b Board) FindCard(cardID string) (int, int, bool) {
	for ci, c := range b.Columns {
		for i, card := range c.Cards {
			if card.ID == cardID {
				return ci, i, true
			}
		}
	}
	return -1, -1, false
}

// Card returns the card with the given id.
func (b Board) Card(cardID string) (Card, bool) {
	ci, i, ok := b.FindCard(cardID)
	if !ok {
		return Card{}, false
	}
	return b.Columns[ci].Cards[i], true
}

// CardCount returns the number of cards over all columns.
func (b Board) CardCount() int {
	n := 0
	for _, c := range b.Columns {
		n += len(c.Cards)
	}
	return n
}

// AddColumn appends a column with Order equal to the current column count.
func (b Board) AddColumn(id, title string, now time.Time) (Board, error) {
	title, err := requireTitle(title)
	if err != nil {
		return b, err
	}
	col := Column{ID: id, Title: title, Cards: []Card{}, CreatedAt: now, UpdatedAt: now}
	b.Columns = InsertAt(b.Columns, col, len(b.Columns))
	return b, nil
}

// RenameColumn changes a column title.
func (b Board) RenameColumn(columnID, title string, now time.Time) (Board, error) {
	idx, ok := b.FindColumn(columnID)
	if !ok {
		return b, notFound("column", columnID)
	}
	title, err := requireTitle(title)
	if err != nil {
		return b, err
	}
	col := b.Columns[idx]
	col.Title = title
	col.UpdatedAt = now
	b.Columns = replaceAt(b.Columns, idx, col)
	return b, nil
}

// RemoveColumn drops a column together with its cards and renumbers the rest.
func (b Board) RemoveColumn(columnID string) (Board, error) {
	cols, _, _, err := RemoveByID(b.Columns, columnID)
	if err != nil {
		return b, notFound("column", columnID)
	}
	b.Columns = cols
	return b, nil
}

// MoveColumn relocates the column at from to position to.
func (b Board) MoveColumn(from, to int) (Board, error) {
	cols, err := MoveWithin(b.Columns, from, to)
	if err != nil {
		return b, fmt.Errorf("column at %w", err)
	}
	b.Columns = cols
	return b, nil
}

// AddCard appends card to the column, assigning its Order and ColumnID.
func (b Board) AddCard(columnID string, card Card) (Board, error) {
	idx, ok := b.FindColumn(columnID)
	if !ok {
		return b, notFound("column", columnID)
	}
	title, err := requireTitle(card.Title)
	if err != nil {
		return b, err
	}
	card.Title = title
	card.ColumnID = columnID
	col := b.Columns[idx]
	col.Cards = InsertAt(col.Cards, card, len(col.Cards))
	b.Columns = replaceAt(b.Columns, idx, col)
	return b, nil
}

// NewCard builds a card from creation input.
func NewCard(id string, in CardInput, now time.Time) Card {
	var labels []string
	if len(in.Labels) > 0 {
		labels = append([]string(nil), in.Labels...)
	}
	return Card{
		ID:          id,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		DueDate:     in.DueDate,
		Labels:      labels,
		AssignedTo:  in.AssignedTo,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// UpdateCard applies field changes and returns the updated card as well.
func (b Board) UpdateCard(cardID string, upd CardUpdate, now time.Time) (Board, Card, error) {
	ci, i, ok := b.FindCard(cardID)
	if !ok {
		return b, Card{}, notFound("card", cardID)
	}
	card := b.Columns[ci].Cards[i]
	if upd.Title != nil {
		title, err := requireTitle(*upd.Title)
		if err != nil {
			return b, Card{}, err
		}
		card.Title = title
	}
	if upd.Description != nil {
		card.Description = *upd.Description
	}
	if upd.DueDate != nil {
		if upd.DueDate.IsZero() {
			card.DueDate = nil
		} else {
			due := *upd.DueDate
			card.DueDate = &due
		}
	}
	if upd.Labels != nil {
		card.Labels = append([]string(nil), (*upd.Labels)...)
	}
	if upd.AssignedTo != nil {
		card.AssignedTo = *upd.AssignedTo
	}
	card.UpdatedAt = now
	return b.replaceCard(ci, i, card), card, nil
}

// CompleteCard marks a card completed.
func (b Board) CompleteCard(cardID string, now time.Time) (Board, Card, error) {
	ci, i, ok := b.FindCard(cardID)
	if !ok {
		return b, Card{}, notFound("card", cardID)
	}
	card := b.Columns[ci].Cards[i]
	card.Status = CardStatusCompleted
	card.UpdatedAt = now
	return b.replaceCard(ci, i, card), card, nil
}

// RemoveCard drops a card and renumbers its former siblings.
func (b Board) RemoveCard(cardID string) (Board, error) {
	ci, _, ok := b.FindCard(cardID)
	if !ok {
		return b, notFound("card", cardID)
	}
	col := b.Columns[ci]
	cards, _, _, err := RemoveByID(col.Cards, cardID)
	if err != nil {
		return b, err
	}
	col.Cards = cards
	b.Columns = replaceAt(b.Columns, ci, col)
	return b, nil
}

// MoveCard moves the card at srcIndex of srcColumnID to dstIndex of
// dstColumnID. Moving across columns rewrites the card's ColumnID.
func (b Board) MoveCard(srcColumnID string, srcIndex int, dstColumnID string, dstIndex int) (Board, error) {
	si, ok := b.FindColumn(srcColumnID)
	if !ok {
		return b, notFound("column", srcColumnID)
	}
	di, ok := b.FindColumn(dstColumnID)
	if !ok {
		return b, notFound("column", dstColumnID)
	}
	src := b.Columns[si]
	if si == di {
		cards, err := MoveWithin(src.Cards, srcIndex, dstIndex)
		if err != nil {
			return b, fmt.Errorf("card in column %s at %w", srcColumnID, err)
		}
		if srcIndex == dstIndex {
			return b, nil
		}
		src.Cards = cards
		b.Columns = replaceAt(b.Columns, si, src)
		return b, nil
	}
	dst := b.Columns[di]
	srcCards, dstCards, err := MoveAcross(src.Cards, dst.Cards, srcIndex, dstIndex, func(c Card) Card {
		c.ColumnID = dstColumnID
		return c
	})
	if err != nil {
		return b, fmt.Errorf("card in column %s at %w", srcColumnID, err)
	}
	src.Cards = srcCards
	dst.Cards = dstCards
	cols := make([]Column, len(b.Columns))
	copy(cols, b.Columns)
	cols[si] = src
	cols[di] = dst
	b.Columns = cols
	return b, nil
}

// UpdateDetails applies board-level field changes.
func (b Board) UpdateDetails(upd BoardUpdate, now time.Time) (Board, error) {
	if upd.Title != nil {
		title, err := requireTitle(*upd.Title)
		if err != nil {
			return b, err
		}
		b.Title = title
	}
	if upd.Description != nil {
		b.Description = *upd.Description
	}
	if upd.Background != nil {
		b.Background = *upd.Background
	}
	if upd.IsStarred != nil {
		b.IsStarred = *upd.IsStarred
	}
	b.UpdatedAt = now
	return b, nil
}

// Validate checks the ordering invariants: column and card Order values are
// contiguous from zero in list order and each card points at its column.
func (b Board) Validate() error {
	for i, c := range b.Columns {
		if c.Order != i {
			return fmt.Errorf("column %s has order %d at index %d", c.ID, c.Order, i)
		}
		for j, card := range c.Cards {
			if card.Order != j {
				return fmt.Errorf("card %s has order %d at index %d", card.ID, card.Order, j)
			}
			if card.ColumnID != c.ID {
				return fmt.Errorf("card %s references column %s but lives in %s", card.ID, card.ColumnID, c.ID)
			}
		}
	}
	return nil
}

func (b Board) replaceCard(ci, i int, card Card) Board {
	col := b.Columns[ci]
	col.Cards = replaceAt(col.Cards, i, card)
	b.Columns = replaceAt(b.Columns, ci, col)
	return b
}

func replaceAt[T any](items []T, idx int, v T) []T {
	out := make([]T, len(items))
	copy(out, items)
	out[idx] = v
	return out
}
