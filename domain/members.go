package domain

import (
	"strings"
	"time"
)

// IsMember reports whether userID holds an accepted membership.
func (b Board) IsMember(userID string) bool {
	_, ok := b.acceptedMember(userID)
	return ok
}

// IsAdmin reports whether userID is an accepted admin of the board.
func (b Board) IsAdmin(userID string) bool {
	m, ok := b.acceptedMember(userID)
	return ok && m.Role == RoleAdmin
}

// MemberUserIDs lists the user ids of accepted members.
func (b Board) MemberUserIDs() []string {
	ids := make([]string, 0, len(b.Members))
	for _, m := range b.Members {
		if m.Status == StatusAccepted && m.UserID != "" {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// FindMember returns the index of the membership record with the given id.
func (b Board) FindMember(memberID string) (int, bool) {
	for i, m := range b.Members {
		if m.ID == memberID {
			return i, true
		}
	}
	return -1, false
}

func (b Board) acceptedMember(userID string) (Member, bool) {
	if userID == "" {
		return Member{}, false
	}
	for _, m := range b.Members {
		if m.UserID == userID && m.Status == StatusAccepted {
			return m, true
		}
	}
	return Member{}, false
}

// InviteMember adds a pending membership for email. Known users are linked
// through invitee so the invitation can show their name.
func (b Board) InviteMember(memberID, email string, role Role, invitee *Identity, now time.Time) (Board, Member, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return b, Member{}, invalid("email is required")
	}
	for _, m := range b.Members {
		if strings.EqualFold(m.Email, email) {
			return b, Member{}, invalid("%s is already a member or invited", email)
		}
	}
	if role == "" {
		role = RoleMember
	}
	m := Member{
		ID:       memberID,
		Name:     email,
		Email:    email,
		Role:     role,
		Status:   StatusPending,
		JoinedAt: now,
	}
	if invitee != nil {
		m.UserID = invitee.UserID
		m.Name = invitee.DisplayName()
	}
	members := make([]Member, len(b.Members), len(b.Members)+1)
	copy(members, b.Members)
	b.Members = append(members, m)
	return b, m, nil
}

// AcceptInvitation turns a pending membership into an accepted one for the
// acting identity, whose email must match the invitation.
func (b Board) AcceptInvitation(memberID string, actor Identity, now time.Time) (Board, error) {
	idx, ok := b.FindMember(memberID)
	if !ok || b.Members[idx].Status != StatusPending {
		return b, notFound("invitation", memberID)
	}
	m := b.Members[idx]
	if !strings.EqualFold(m.Email, actor.Email) {
		return b, unauthorized("invitation %s was sent to a different address", memberID)
	}
	m.UserID = actor.UserID
	m.Name = actor.DisplayName()
	m.Status = StatusAccepted
	m.JoinedAt = now
	b.Members = replaceAt(b.Members, idx, m)
	return b, nil
}

// DeclineInvitation drops a pending membership addressed to actor.
func (b Board) DeclineInvitation(memberID string, actor Identity) (Board, error) {
	idx, ok := b.FindMember(memberID)
	if !ok || b.Members[idx].Status != StatusPending {
		return b, notFound("invitation", memberID)
	}
	if !strings.EqualFold(b.Members[idx].Email, actor.Email) {
		return b, unauthorized("invitation %s was sent to a different address", memberID)
	}
	b.Members = deleteAt(b.Members, idx)
	return b, nil
}

// RemoveMember drops any membership record except the owner's.
func (b Board) RemoveMember(memberID string) (Board, error) {
	idx, ok := b.FindMember(memberID)
	if !ok {
		return b, notFound("member", memberID)
	}
	if b.Members[idx].UserID != "" && b.Members[idx].UserID == b.OwnerID {
		return b, invalid("the board owner cannot be removed")
	}
	b.Members = deleteAt(b.Members, idx)
	return b, nil
}

func deleteAt[T any](items []T, idx int) []T {
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...)
}
