package repo

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLite_CreatesAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	// Schema must be usable end to end.
	ctx := context.Background()
	room, err := CreateRoom(ctx, db, "general", "General", "")
	if err != nil {
		t.Fatalf("CreateRoom after migrate: %v", err)
	}
	if _, err := CreateUser(ctx, db, "u1", "Ada", ""); err != nil {
		t.Fatalf("CreateUser after migrate: %v", err)
	}
	if err := AddMember(ctx, db, room.ID, "u1"); err != nil {
		t.Fatalf("AddMember after migrate: %v", err)
	}
	if _, err := InsertMessage(ctx, db, room.ID, "u1", "hi", ""); err != nil {
		t.Fatalf("InsertMessage after migrate: %v", err)
	}
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "nope", "app.db")); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}
