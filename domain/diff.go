package domain

import "slices"

// BoardDiff lists the row-level changes between two versions of a board.
// Column rows never include their cards; those are listed separately.
type BoardDiff struct {
	Details       bool
	PutColumns    []Column
	DeleteColumns []string
	PutCards      []Card
	DeleteCards   []string
	PutMembers    []Member
	DeleteMembers []Member
}

// Empty reports whether the diff carries no changes.
func (d BoardDiff) Empty() bool {
	return !d.Details && len(d.PutColumns) == 0 && len(d.DeleteColumns) == 0 &&
		len(d.PutCards) == 0 && len(d.DeleteCards) == 0 &&
		len(d.PutMembers) == 0 && len(d.DeleteMembers) == 0
}

// Diff computes the changes turning prev into next.
func Diff(prev, next Board) BoardDiff {
	var d BoardDiff
	d.Details = prev.Title != next.Title || prev.Description != next.Description ||
		prev.Background != next.Background || prev.IsStarred != next.IsStarred ||
		prev.OwnerID != next.OwnerID || !prev.UpdatedAt.Equal(next.UpdatedAt)

	oldCols := make(map[string]Column, len(prev.Columns))
	oldCards := make(map[string]Card)
	for _, c := range prev.Columns {
		oldCols[c.ID] = c
		for _, card := range c.Cards {
			oldCards[card.ID] = card
		}
	}
	for _, c := range next.Columns {
		old, ok := oldCols[c.ID]
		if !ok || !columnRowEqual(old, c) {
			d.PutColumns = append(d.PutColumns, c)
		}
		delete(oldCols, c.ID)
		for _, card := range c.Cards {
			old, ok := oldCards[card.ID]
			if !ok || !cardEqual(old, card) {
				d.PutCards = append(d.PutCards, card)
			}
			delete(oldCards, card.ID)
		}
	}
	for _, c := range prev.Columns {
		if _, gone := oldCols[c.ID]; gone {
			d.DeleteColumns = append(d.DeleteColumns, c.ID)
		}
		for _, card := range c.Cards {
			if _, gone := oldCards[card.ID]; gone {
				d.DeleteCards = append(d.DeleteCards, card.ID)
			}
		}
	}

	oldMembers := make(map[string]Member, len(prev.Members))
	for _, m := range prev.Members {
		oldMembers[m.ID] = m
	}
	for _, m := range next.Members {
		if old, ok := oldMembers[m.ID]; !ok || !memberEqual(old, m) {
			d.PutMembers = append(d.PutMembers, m)
		}
		delete(oldMembers, m.ID)
	}
	for _, m := range prev.Members {
		if _, gone := oldMembers[m.ID]; gone {
			d.DeleteMembers = append(d.DeleteMembers, m)
		}
	}
	return d
}

func columnRowEqual(a, b Column) bool {
	return a.Title == b.Title && a.Order == b.Order &&
		a.CreatedAt.Equal(b.CreatedAt) && a.UpdatedAt.Equal(b.UpdatedAt)
}

func cardEqual(a, b Card) bool {
	if a.Title != b.Title || a.Description != b.Description || a.Order != b.Order ||
		a.ColumnID != b.ColumnID || a.AssignedTo != b.AssignedTo || a.Status != b.Status ||
		!a.CreatedAt.Equal(b.CreatedAt) || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if (a.DueDate == nil) != (b.DueDate == nil) {
		return false
	}
	if a.DueDate != nil && !a.DueDate.Equal(*b.DueDate) {
		return false
	}
	return slices.Equal(a.Labels, b.Labels)
}

func memberEqual(a, b Member) bool {
	return a.UserID == b.UserID && a.Name == b.Name && a.Email == b.Email &&
		a.Role == b.Role && a.Status == b.Status && a.JoinedAt.Equal(b.JoinedAt)
}
