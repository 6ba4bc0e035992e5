package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/genie-bridge/internal/infrastructure/database"
	"github.com/nerrad567/genie-bridge/migrations"
)

func openTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepository(t)

	changed := time.Date(2026, 3, 1, 9, 0, 0, 123, time.UTC)
	in := &State{
		EntityID:    "group.living_room",
		State:       "on",
		Attributes:  Attributes{AttrFriendlyName: "客厅", AttrEntityID: []any{"light.a", "sensor.t"}},
		LastChanged: changed,
		LastUpdated: changed.Add(time.Minute),
	}
	if err := repo.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	out, err := repo.Get(ctx, "group.living_room")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if out.State != "on" || out.FriendlyName() != "客厅" {
		t.Errorf("Get() = %+v", out)
	}
	if members, _ := out.Attributes[AttrEntityID].([]any); len(members) != 2 {
		t.Errorf("members = %v", out.Attributes[AttrEntityID])
	}
	if !out.LastChanged.Equal(changed) || !out.LastUpdated.Equal(changed.Add(time.Minute)) {
		t.Errorf("timestamps = %v / %v", out.LastChanged, out.LastUpdated)
	}

	in.State = "off"
	if err := repo.Upsert(ctx, in); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].State != "off" {
		t.Errorf("List() = %+v", list)
	}
}

func TestSQLiteRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepository(t)

	if _, err := repo.Get(ctx, "light.missing"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Get() error = %v, want ErrEntityNotFound", err)
	}
	if err := repo.Delete(ctx, "light.missing"); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Delete() error = %v, want ErrEntityNotFound", err)
	}
}

func TestRegistry_WithSQLite(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepository(t)

	reg := NewRegistry(repo)
	if _, err := reg.Set(ctx, "sensor.tds", "42", Attributes{AttrUnit: "TDS"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// A fresh registry over the same database sees the persisted state.
	reloaded := NewRegistry(repo)
	if err := reloaded.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	s, err := reloaded.Get(ctx, "sensor.tds")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.State != "42" || s.Attributes[AttrUnit] != "TDS" {
		t.Errorf("reloaded state = %+v", s)
	}
}
