package domain

import (
	"context"
	"time"
)

// ActivityType names a recorded board change.
type ActivityType string

const (
	BoardCreated   ActivityType = "board_created"
	BoardUpdated   ActivityType = "board_updated"
	BoardDeleted   ActivityType = "board_deleted"
	ColumnCreated  ActivityType = "column_created"
	ColumnUpdated  ActivityType = "column_updated"
	ColumnMoved    ActivityType = "column_moved"
	ColumnDeleted  ActivityType = "column_deleted"
	CardCreated    ActivityType = "card_created"
	CardUpdated    ActivityType = "card_updated"
	CardMoved      ActivityType = "card_moved"
	CardCompleted  ActivityType = "card_completed"
	CardDeleted    ActivityType = "card_deleted"
	MemberInvited  ActivityType = "member_invited"
	MemberJoined   ActivityType = "member_joined"
	MemberDeclined ActivityType = "member_declined"
	MemberRemoved  ActivityType = "member_removed"
)

const (
	activityDefault = 10
	activityMax     = 100
)

// Activity is one entry of the per-user activity feed.
type Activity struct {
	ID          string       `json:"id"`
	Type        ActivityType `json:"type"`
	UserID      string       `json:"userId"`
	UserName    string       `json:"userName,omitempty"`
	BoardID     string       `json:"boardId"`
	BoardTitle  string       `json:"boardTitle"`
	Description string       `json:"description,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Recipients  []string     `json:"recipients,omitempty"`
}

// ActivityRecorder accepts activities for asynchronous fan-out.
type ActivityRecorder interface {
	Record(ctx context.Context, a Activity) error
}

// ActivityFeed reads a user's feed, newest first.
type ActivityFeed interface {
	RecentActivities(ctx context.Context, userID string, limit, offset int) ([]Activity, error)
}

// Invitation describes an invitation email.
type Invitation struct {
	MemberID    string
	Email       string
	Role        Role
	BoardID     string
	BoardTitle  string
	InviterName string
}

// InvitationMailer delivers invitation emails.
type InvitationMailer interface {
	SendInvitation(ctx context.Context, inv Invitation) error
}

// ClampActivityPage applies the default and maximum page size.
func ClampActivityPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = activityDefault
	}
	if limit > activityMax {
		limit = activityMax
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type discardRecorder struct{}

func (discardRecorder) Record(context.Context, Activity) error { return nil }

type discardMailer struct{}

func (discardMailer) SendInvitation(context.Context, Invitation) error { return nil }
