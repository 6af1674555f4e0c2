package domain

import (
	"errors"
	"testing"
)

func TestInviteAcceptFlow(t *testing.T) {
	b := board()
	invited, m, err := b.InviteMember("m1", "Bo@Example.com", "", nil, now)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if m.Status != StatusPending || m.Role != RoleMember || m.UserID != "" {
		t.Fatalf("unexpected invitation: %+v", m)
	}
	if invited.IsMember("u2") {
		t.Fatalf("pending invitees are not members")
	}
	if _, _, err := invited.InviteMember("m2", "bo@example.com", RoleAdmin, nil, now); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected duplicate invite to fail, got %v", err)
	}

	if _, err := invited.AcceptInvitation("m1", Identity{UserID: "u3", Email: "eve@example.com"}, now); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected other address to be rejected, got %v", err)
	}
	joined, err := invited.AcceptInvitation("m1", Identity{UserID: "u2", Name: "Bo", Email: "bo@example.com"}, now)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !joined.IsMember("u2") || joined.IsAdmin("u2") {
		t.Fatalf("expected plain membership")
	}
	if got := joined.MemberUserIDs(); len(got) != 2 || got[1] != "u2" {
		t.Fatalf("unexpected member ids: %v", got)
	}
	if _, err := joined.AcceptInvitation("m1", Identity{UserID: "u2", Email: "bo@example.com"}, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected accepted invitation to be gone, got %v", err)
	}
	if len(invited.Members) != 2 || invited.Members[1].Status != StatusPending {
		t.Fatalf("receiver changed")
	}
}

func TestDeclineInvitation(t *testing.T) {
	b, _, err := board().InviteMember("m1", "bo@example.com", RoleMember, nil, now)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	declined, err := b.DeclineInvitation("m1", Identity{UserID: "u2", Email: "bo@example.com"})
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, ok := declined.FindMember("m1"); ok {
		t.Fatalf("expected invitation removed")
	}
}

func TestRemoveMember(t *testing.T) {
	b := board()
	if _, err := b.RemoveMember("owner"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("owner removal: expected validation error, got %v", err)
	}
	if _, err := b.RemoveMember("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	withBo, _, _ := b.InviteMember("m1", "bo@example.com", RoleMember, &Identity{UserID: "u2"}, now)
	next, err := withBo.RemoveMember("m1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(next.Members) != 1 {
		t.Fatalf("unexpected members: %+v", next.Members)
	}
}

func TestNewBoardMakesOwnerAdmin(t *testing.T) {
	b, err := NewBoard("b9", "m9", Identity{UserID: "u1", Email: "ann@example.com"}, BoardInput{Title: " Plan "}, now)
	if err != nil {
		t.Fatalf("new board: %v", err)
	}
	if b.Title != "Plan" || !b.IsAdmin("u1") || b.Members[0].Name != "ann@example.com" || len(b.Columns) != 0 {
		t.Fatalf("unexpected board: %+v", b)
	}
	if b.Members[0].ID != "m9" || b.Members[0].UserID != "u1" {
		t.Fatalf("owner membership should carry its own id: %+v", b.Members[0])
	}
	if _, err := NewBoard("b9", "m9", Identity{UserID: "u1"}, BoardInput{}, now); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
