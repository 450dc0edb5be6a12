package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/averline/roomchat/internal/domain"
	"github.com/averline/roomchat/internal/repo"
)

// repoShim adapts the repo free functions to the RoomRepo interface, the same
// way the router wires the real service.
type repoShim struct{}

func (repoShim) FindRoomBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Room, error) {
	return repo.FindRoomBySlug(ctx, db, slug)
}

func (repoShim) FindRoomByID(ctx context.Context, db *gorm.DB, id string) (*domain.Room, error) {
	return repo.FindRoomByID(ctx, db, id)
}

func (repoShim) AddMember(ctx context.Context, db *gorm.DB, roomID, userID string) error {
	return repo.AddMember(ctx, db, roomID, userID)
}

func (repoShim) ListMembers(ctx context.Context, db *gorm.DB, roomID string) ([]domain.User, error) {
	return repo.ListMembers(ctx, db, roomID)
}

func newRoomSvc(t *testing.T) (*RoomService, *gorm.DB) {
	t.Helper()
	db := newMsgDB(t, allModels()...)
	return NewRoomService(db, repoShim{}), db
}

func TestRoomService_Resolve_ByIDAndBySlug(t *testing.T) {
	svc, db := newRoomSvc(t)
	ctx := context.Background()

	room, err := repo.CreateRoom(ctx, db, "general", "General", "")
	if err != nil {
		t.Fatalf("seed room: %v", err)
	}

	byID, err := svc.Resolve(ctx, room.ID)
	if err != nil || byID.Slug != "general" {
		t.Fatalf("Resolve by id: got %+v err=%v", byID, err)
	}

	bySlug, err := svc.Resolve(ctx, "general")
	if err != nil || bySlug.ID != room.ID {
		t.Fatalf("Resolve by slug: got %+v err=%v", bySlug, err)
	}
}

func TestRoomService_Resolve_UUIDShapedSlugFallsThrough(t *testing.T) {
	svc, db := newRoomSvc(t)
	ctx := context.Background()

	// A slug that happens to parse as a UUID must still resolve via the
	// slug path when no room has that primary key.
	slug := "123e4567-e89b-12d3-a456-426614174000"
	room, err := repo.CreateRoom(ctx, db, slug, "Oddly Named", "")
	if err != nil {
		t.Fatalf("seed room: %v", err)
	}

	got, err := svc.Resolve(ctx, slug)
	if err != nil || got.ID != room.ID {
		t.Fatalf("uuid-shaped slug should fall through to slug lookup: got %+v err=%v", got, err)
	}
}

func TestRoomService_Resolve_Unknown(t *testing.T) {
	svc, _ := newRoomSvc(t)

	if _, err := svc.Resolve(context.Background(), "nope"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRoomService_Join_IdempotentRepeat(t *testing.T) {
	svc, db := newRoomSvc(t)
	ctx := context.Background()

	room, _ := repo.CreateRoom(ctx, db, "general", "General", "")
	_, _ = repo.CreateUser(ctx, db, "u1", "Ada", "")

	for i := 0; i < 3; i++ {
		got, err := svc.Join(ctx, "general", "u1")
		if err != nil {
			t.Fatalf("Join attempt %d: %v", i+1, err)
		}
		if got.ID != room.ID {
			t.Fatalf("Join returned wrong room: %+v", got)
		}
	}

	count, err := repo.CountMembers(ctx, db, room.ID)
	if err != nil || count != 1 {
		t.Fatalf("membership count = %d err=%v, want 1", count, err)
	}
}

func TestRoomService_Join_UnknownRoom(t *testing.T) {
	svc, _ := newRoomSvc(t)

	if _, err := svc.Join(context.Background(), "ghost", "u1"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRoomService_ListMembers_InsertionOrder(t *testing.T) {
	svc, db := newRoomSvc(t)
	ctx := context.Background()

	room, _ := repo.CreateRoom(ctx, db, "general", "General", "")
	for _, id := range []string{"u1", "u2", "u3"} {
		if _, err := repo.CreateUser(ctx, db, id, "User "+id, ""); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
		if _, err := svc.Join(ctx, "general", id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	members, err := svc.ListMembers(ctx, room)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("len(members) = %d, want 3", len(members))
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if members[i].ID != want {
			t.Fatalf("members[%d] = %q, want %q", i, members[i].ID, want)
		}
	}
}
