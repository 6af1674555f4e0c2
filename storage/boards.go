package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// maxBatch is the entity group transaction limit of Azure Tables.
const maxBatch = 100

// savePlan is the set of writes needed to persist a board change. Index rows
// that make new entities reachable are written before the board partition;
// index rows of removed entities are dropped after it.
type savePlan struct {
	batches           [][]aztables.TransactionAction
	putLookups        []lookupEntity
	deleteLookups     []Entity
	putMemberships    []membershipEntity
	deleteMemberships []Entity
}

func marshalAction(typ aztables.TransactionType, v any) (aztables.TransactionAction, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	return aztables.TransactionAction{ActionType: typ, Entity: payload}, nil
}

func chunk(actions []aztables.TransactionAction) [][]aztables.TransactionAction {
	var out [][]aztables.TransactionAction
	for len(actions) > maxBatch {
		out = append(out, actions[:maxBatch])
		actions = actions[maxBatch:]
	}
	if len(actions) > 0 {
		out = append(out, actions)
	}
	return out
}

func membership(userID, boardID string, m domain.Member) membershipEntity {
	return membershipEntity{
		Entity: Entity{PartitionKey: userID, RowKey: boardID},
		Role:   string(m.Role),
		Status: string(m.Status),
	}
}

// planSave turns the diff between prev and next into table writes. The first
// batch always starts with a merge of the board row conditioned on etag.
func planSave(prev, next domain.Board, etag string) (savePlan, error) {
	var plan savePlan
	d := domain.Diff(prev, next)
	if d.Empty() {
		return plan, nil
	}
	root, err := marshalAction(aztables.TransactionTypeUpdateMerge, newBoardEntity(next))
	if err != nil {
		return plan, err
	}
	et := azcore.ETag(etag)
	root.IfMatch = &et
	actions := []aztables.TransactionAction{root}

	for _, c := range d.PutColumns {
		a, err := marshalAction(aztables.TransactionTypeInsertReplace, newColumnEntity(next.ID, c))
		if err != nil {
			return plan, err
		}
		actions = append(actions, a)
		plan.putLookups = append(plan.putLookups, lookupEntity{Entity: Entity{PartitionKey: kindColumn, RowKey: c.ID}, BoardID: next.ID})
	}
	for _, id := range d.DeleteColumns {
		a, err := marshalAction(aztables.TransactionTypeDelete, Entity{PartitionKey: next.ID, RowKey: columnRowKey(id)})
		if err != nil {
			return plan, err
		}
		actions = append(actions, a)
		plan.deleteLookups = append(plan.deleteLookups, Entity{PartitionKey: kindColumn, RowKey: id})
	}
	for _, c := range d.PutCards {
		ent, err := newCardEntity(next.ID, c)
		if err != nil {
			return plan, err
		}
		a, err := marshalAction(aztables.TransactionTypeInsertReplace, ent)
		if err != nil {
			return plan, err
		}
		actions = append(actions, a)
		plan.putLookups = append(plan.putLookups, lookupEntity{Entity: Entity{PartitionKey: kindCard, RowKey: c.ID}, BoardID: next.ID})
	}
	for _, id := range d.DeleteCards {
		a, err := marshalAction(aztables.TransactionTypeDelete, Entity{PartitionKey: next.ID, RowKey: cardRowKey(id)})
		if err != nil {
			return plan, err
		}
		actions = append(actions, a)
		plan.deleteLookups = append(plan.deleteLookups, Entity{PartitionKey: kindCard, RowKey: id})
	}
	for _, m := range d.PutMembers {
		a, err := marshalAction(aztables.TransactionTypeInsertReplace, newMemberEntity(next.ID, m))
		if err != nil {
			return plan, err
		}
		actions = append(actions, a)
		plan.putLookups = append(plan.putLookups, lookupEntity{Entity: Entity{PartitionKey: kindMember, RowKey: m.ID}, BoardID: next.ID})
		if m.UserID != "" {
			plan.putMemberships = append(plan.putMemberships, membership(m.UserID, next.ID, m))
		}
	}
	for _, m := range d.DeleteMembers {
		a, err := marshalAction(aztables.TransactionTypeDelete, Entity{PartitionKey: next.ID, RowKey: memberRowKey(m.ID)})
		if err != nil {
			return plan, err
		}
		actions = append(actions, a)
		plan.deleteLookups = append(plan.deleteLookups, Entity{PartitionKey: kindMember, RowKey: m.ID})
		if m.UserID != "" {
			plan.deleteMemberships = append(plan.deleteMemberships, Entity{PartitionKey: m.UserID, RowKey: next.ID})
		}
	}
	plan.batches = chunk(actions)
	return plan, nil
}

// LoadBoard reads the whole board partition.
func (s *Storage) LoadBoard(ctx context.Context, boardID string) (domain.Board, string, error) {
	rows, err := listAll(ctx, s.boards, "PartitionKey eq "+odataQuote(boardID))
	if err != nil {
		return domain.Board{}, "", err
	}
	return assembleBoard(boardID, rows)
}

// CreateBoard inserts a new board partition and its index rows.
func (s *Storage) CreateBoard(ctx context.Context, b domain.Board) error {
	plan, err := planSave(domain.Board{ID: b.ID}, b, "")
	if err != nil {
		return err
	}
	if err := s.writeIndexes(ctx, plan); err != nil {
		return err
	}
	for i, batch := range plan.batches {
		for j := range batch {
			if batch[j].ActionType == aztables.TransactionTypeUpdateMerge {
				batch[j].ActionType = aztables.TransactionTypeAdd
				batch[j].IfMatch = nil
			}
		}
		if _, err := s.boards.SubmitTransaction(ctx, batch, nil); err != nil {
			return fmt.Errorf("create board %s batch %d: %w", b.ID, i, mapError(err))
		}
	}
	return nil
}

// SaveBoard persists the change from prev to next. Only the first batch is
// guarded by etag; a board change beyond one batch is not atomic.
func (s *Storage) SaveBoard(ctx context.Context, prev, next domain.Board, etag string) error {
	plan, err := planSave(prev, next, etag)
	if err != nil {
		return err
	}
	if len(plan.batches) == 0 {
		return nil
	}
	if err := s.writeIndexes(ctx, plan); err != nil {
		return err
	}
	for i, batch := range plan.batches {
		if _, err := s.boards.SubmitTransaction(ctx, batch, nil); err != nil {
			return fmt.Errorf("save board %s batch %d: %w", next.ID, i, mapError(err))
		}
	}
	s.dropIndexes(ctx, plan)
	return nil
}

func (s *Storage) writeIndexes(ctx context.Context, plan savePlan) error {
	for _, l := range plan.putLookups {
		payload, err := json.Marshal(l)
		if err == nil {
			_, err = s.lookups.UpsertEntity(ctx, payload, nil)
		}
		if err != nil {
			return fmt.Errorf("lookup %s/%s: %w", l.PartitionKey, l.RowKey, mapError(err))
		}
	}
	for _, m := range plan.putMemberships {
		payload, err := json.Marshal(m)
		if err == nil {
			_, err = s.memberships.UpsertEntity(ctx, payload, nil)
		}
		if err != nil {
			return fmt.Errorf("membership %s/%s: %w", m.PartitionKey, m.RowKey, mapError(err))
		}
	}
	return nil
}

// dropIndexes removes stale index rows. Failures only leave dangling index
// rows behind, which readers tolerate.
func (s *Storage) dropIndexes(ctx context.Context, plan savePlan) {
	for _, e := range plan.deleteLookups {
		if _, err := s.lookups.DeleteEntity(ctx, e.PartitionKey, e.RowKey, nil); err != nil && !isNotFound(err) {
			log.WithError(err).WithFields(log.Fields{"kind": e.PartitionKey, "id": e.RowKey}).Warn("failed to delete lookup")
		}
	}
	for _, e := range plan.deleteMemberships {
		if _, err := s.memberships.DeleteEntity(ctx, e.PartitionKey, e.RowKey, nil); err != nil && !isNotFound(err) {
			log.WithError(err).WithFields(log.Fields{"user": e.PartitionKey, "board": e.RowKey}).Warn("failed to delete membership")
		}
	}
}

// DeleteBoard removes the board partition and its index rows.
func (s *Storage) DeleteBoard(ctx context.Context, b domain.Board) error {
	plan, err := planSave(b, domain.Board{ID: b.ID}, "")
	if err != nil {
		return err
	}
	var deletes []aztables.TransactionAction
	for _, batch := range plan.batches {
		for _, a := range batch {
			if a.ActionType == aztables.TransactionTypeDelete {
				deletes = append(deletes, a)
			}
		}
	}
	for _, batch := range chunk(deletes) {
		if _, err := s.boards.SubmitTransaction(ctx, batch, nil); err != nil {
			return fmt.Errorf("delete board %s: %w", b.ID, mapError(err))
		}
	}
	et := azcore.ETagAny
	if _, err := s.boards.DeleteEntity(ctx, b.ID, boardRowKey, &aztables.DeleteEntityOptions{IfMatch: &et}); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete board %s: %w", b.ID, mapError(err))
	}
	s.dropIndexes(ctx, plan)
	return nil
}

// ListBoardIDs returns the ids of boards the user has accepted.
func (s *Storage) ListBoardIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := listAll(ctx, s.memberships, "PartitionKey eq "+odataQuote(userID))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, raw := range rows {
		var ent membershipEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return nil, err
		}
		if ent.Status == string(domain.StatusAccepted) {
			ids = append(ids, ent.RowKey)
		}
	}
	return ids, nil
}

// ResolveBoard maps a column, card or member id to its board id.
func (s *Storage) ResolveBoard(ctx context.Context, kind domain.EntityKind, id string) (string, error) {
	resp, err := s.lookups.GetEntity(ctx, string(kind), id, nil)
	if err != nil {
		return "", mapError(err)
	}
	var ent lookupEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return "", err
	}
	return ent.BoardID, nil
}
