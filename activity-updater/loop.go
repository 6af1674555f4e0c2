package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

type activityQueue interface {
	Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error)
	Delete(ctx context.Context, id, receipt string) error
}

// backoff doubles the idle delay up to max and resets once work arrives.
type backoff struct {
	min, max time.Duration
	cur      time.Duration
}

func (b *backoff) next() time.Duration {
	switch {
	case b.cur == 0:
		b.cur = b.min
	case b.cur < b.max:
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	return b.cur
}

func (b *backoff) reset() { b.cur = 0 }

type consumer struct {
	queue      activityQueue
	proc       *processor
	backoff    backoff
	maxDequeue int64
	sleep      func(ctx context.Context, d time.Duration)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// run consumes the queue until ctx is cancelled.
func (c *consumer) run(ctx context.Context) {
	for ctx.Err() == nil {
		if !c.step(ctx) {
			c.sleep(ctx, c.backoff.next())
			continue
		}
		c.backoff.reset()
	}
}

// step handles at most one message and reports whether one was received.
func (c *consumer) step(ctx context.Context) bool {
	msg, err := c.queue.Dequeue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Error("receive")
		}
		return false
	}
	if msg == nil || msg.MessageID == nil || msg.PopReceipt == nil {
		return false
	}
	text := ""
	if msg.MessageText != nil {
		text = *msg.MessageText
	}
	fields := log.Fields{"message": *msg.MessageID}
	err = c.proc.process(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, errPoison):
		log.WithError(err).WithFields(fields).Error("dropping undecodable activity message")
	case msg.DequeueCount != nil && c.maxDequeue > 0 && *msg.DequeueCount >= c.maxDequeue:
		fields["dequeueCount"] = *msg.DequeueCount
		log.WithError(err).WithFields(fields).Error("dropping activity message after repeated failures")
	default:
		log.WithError(err).WithFields(fields).Warn("activity processing failed; leaving message for redelivery")
		return true
	}
	if err := c.queue.Delete(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
		log.WithError(err).WithFields(fields).Error("delete message")
	}
	return true
}
