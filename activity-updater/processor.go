package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/molly1022/TMS-Dashboard/domain"
	"github.com/molly1022/TMS-Dashboard/storage"
)

var errPoison = errors.New("poison message")

type feedWriter interface {
	AppendActivity(ctx context.Context, userID string, a domain.Activity) error
}

type feedRefresher interface {
	Refresh(ctx context.Context, userID string) ([]domain.Activity, error)
}

type processor struct {
	feed    feedWriter
	cache   feedRefresher
	redis   *redis.Client
	channel string
}

// recipients of a, falling back to the actor for activities recorded
// without an explicit audience.
func recipients(a domain.Activity) []string {
	seen := make(map[string]bool, len(a.Recipients))
	out := make([]string, 0, len(a.Recipients))
	for _, id := range a.Recipients {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 && a.UserID != "" {
		out = append(out, a.UserID)
	}
	return out
}

// process writes the activity into every recipient feed. A message that
// cannot be decoded yields errPoison; any other error leaves the message on
// the queue for redelivery. Rows are keyed by activity id so a redelivered
// message overwrites instead of duplicating.
func (p *processor) process(ctx context.Context, text string) error {
	a, err := storage.DecodeActivity(text)
	if err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	users := recipients(a)
	for _, userID := range users {
		if err := p.feed.AppendActivity(ctx, userID, a); err != nil {
			return fmt.Errorf("append activity %s for %s: %w", a.ID, userID, err)
		}
	}
	if p.cache != nil {
		for _, userID := range users {
			if _, err := p.cache.Refresh(ctx, userID); err != nil {
				log.WithError(err).WithField("user", userID).Warn("feed cache refresh failed")
			}
		}
	}
	if p.redis != nil && p.channel != "" {
		if err := p.redis.Publish(ctx, p.channel, text).Err(); err != nil {
			log.WithError(err).Errorf("Unable to publish activity %s to %s", a.ID, p.channel)
		}
	}
	log.WithFields(log.Fields{"activity": a.ID, "type": a.Type, "board": a.BoardID, "recipients": len(users)}).Debug("activity applied")
	return nil
}
