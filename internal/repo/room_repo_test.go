package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/averline/roomchat/internal/domain"
)

func newRoomRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("room_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func allRoomModels() []any {
	return []any{&domain.Room{}, &domain.User{}, &domain.RoomMember{}, &domain.Message{}}
}

func TestCreateRoom_Success_PersistsAndSetsFields(t *testing.T) {
	db := newRoomRepoDB(t, allRoomModels()...)

	start := time.Now().UTC().Add(-time.Minute)
	room, err := CreateRoom(context.Background(), db, "general", "General", "open floor")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.ID == "" || room.Slug != "general" || room.Title != "General" {
		t.Fatalf("unexpected Room fields: %+v", room)
	}
	if room.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt seems unset/really old: %v", room.CreatedAt)
	}

	// round-trip
	var got domain.Room
	if err := db.First(&got, "id = ?", room.ID).Error; err != nil {
		t.Fatalf("load created room: %v", err)
	}
	if got.Slug != "general" || got.Description != "open floor" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestFindRoom_BySlugAndByID(t *testing.T) {
	db := newRoomRepoDB(t, allRoomModels()...)
	ctx := context.Background()

	room, err := CreateRoom(ctx, db, "lobby", "Lobby", "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	bySlug, err := FindRoomBySlug(ctx, db, "lobby")
	if err != nil || bySlug.ID != room.ID {
		t.Fatalf("FindRoomBySlug: got %+v err=%v", bySlug, err)
	}

	byID, err := FindRoomByID(ctx, db, room.ID)
	if err != nil || byID.Slug != "lobby" {
		t.Fatalf("FindRoomByID: got %+v err=%v", byID, err)
	}

	if _, err := FindRoomBySlug(ctx, db, "nope"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for unknown slug, got %v", err)
	}
	if _, err := FindRoomByID(ctx, db, "missing-id"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for unknown id, got %v", err)
	}
}

func TestAddMember_IdempotentRepeatJoin(t *testing.T) {
	db := newRoomRepoDB(t, allRoomModels()...)
	ctx := context.Background()

	room, err := CreateRoom(ctx, db, "general", "General", "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := CreateUser(ctx, db, "u1", "Ada", ""); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// Joining three times must leave exactly one row.
	for i := 0; i < 3; i++ {
		if err := AddMember(ctx, db, room.ID, "u1"); err != nil {
			t.Fatalf("AddMember attempt %d: %v", i+1, err)
		}
	}

	count, err := CountMembers(ctx, db, room.ID)
	if err != nil {
		t.Fatalf("CountMembers: %v", err)
	}
	if count != 1 {
		t.Fatalf("membership count = %d, want 1", count)
	}
}

func TestListMembers_InsertionOrder(t *testing.T) {
	db := newRoomRepoDB(t, allRoomModels()...)
	ctx := context.Background()

	room, err := CreateRoom(ctx, db, "general", "General", "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	// Seed three users and join them with strictly increasing timestamps.
	for i, id := range []string{"u1", "u2", "u3"} {
		if _, err := CreateUser(ctx, db, id, "User "+id, ""); err != nil {
			t.Fatalf("CreateUser %s: %v", id, err)
		}
		m := domain.RoomMember{
			ID:        fmt.Sprintf("m-%d", i),
			RoomID:    room.ID,
			UserID:    id,
			CreatedAt: time.Date(2025, 1, 1, 10, i, 0, 0, time.UTC),
		}
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("seed member %s: %v", id, err)
		}
	}

	members, err := ListMembers(ctx, db, room.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("len(members) = %d, want 3", len(members))
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if members[i].ID != want {
			t.Fatalf("members[%d] = %q, want %q (got order %v)", i, members[i].ID, want, members)
		}
	}
}

func TestListMembers_EmptyRoom(t *testing.T) {
	db := newRoomRepoDB(t, allRoomModels()...)
	ctx := context.Background()

	room, err := CreateRoom(ctx, db, "empty", "Empty", "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	members, err := ListMembers(ctx, db, room.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no members, got %v", members)
	}
}
