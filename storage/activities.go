package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"github.com/molly1022/TMS-Dashboard/domain"
)

// EnqueueActivity publishes an activity for fan-out.
func (s *Storage) EnqueueActivity(ctx context.Context, a domain.Activity) error {
	data, err := sonic.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// DecodeActivity parses a queued activity message.
func DecodeActivity(text string) (domain.Activity, error) {
	var a domain.Activity
	if err := sonic.UnmarshalString(text, &a); err != nil {
		return domain.Activity{}, err
	}
	if a.ID == "" || a.BoardID == "" {
		return domain.Activity{}, fmt.Errorf("activity message without id or board")
	}
	return a, nil
}

// Dequeue retrieves a single message from the activity queue.
func (s *Storage) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.queue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// Delete removes a processed message from the queue.
func (s *Storage) Delete(ctx context.Context, id, receipt string) error {
	_, err := s.queue.DeleteMessage(ctx, id, receipt, nil)
	return err
}

// activityRowKey sorts newest first within a user partition and stays stable
// for a redelivered message.
func activityRowKey(a domain.Activity) string {
	return fmt.Sprintf("%019d_%s", math.MaxInt64-a.Timestamp.UnixNano(), a.ID)
}

// AppendActivity writes a into the feed of userID.
func (s *Storage) AppendActivity(ctx context.Context, userID string, a domain.Activity) error {
	ent := activityEntity{
		Entity:        Entity{PartitionKey: userID, RowKey: activityRowKey(a)},
		ActivityID:    a.ID,
		Type:          string(a.Type),
		ActorID:       a.UserID,
		ActorName:     a.UserName,
		BoardID:       a.BoardID,
		BoardTitle:    a.BoardTitle,
		Description:   a.Description,
		Timestamp:     stamp(a.Timestamp),
		TimestampType: EdmDateTime,
	}
	payload, err := json.Marshal(ent)
	if err == nil {
		_, err = s.activities.UpsertEntity(ctx, payload, nil)
	}
	return mapError(err)
}

// RecentActivities reads a page of the feed of userID, newest first.
func (s *Storage) RecentActivities(ctx context.Context, userID string, limit, offset int) ([]domain.Activity, error) {
	filter := "PartitionKey eq " + odataQuote(userID)
	top := int32(limit + offset)
	pager := s.activities.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	out := make([]domain.Activity, 0, limit)
	seen := 0
	for pager.More() && len(out) < limit {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, raw := range resp.Entities {
			if seen < offset {
				seen++
				continue
			}
			a, err := decodeActivity(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
