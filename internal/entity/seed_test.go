package entity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entities.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSeedFile(t *testing.T) {
	path := writeSeed(t, `
entities:
  - entity_id: group.living_room
    state: "on"
    attributes:
      friendly_name: 客厅
      hagenie_zone: 客厅
      entity_id: [light.ceiling, sensor.living_temperature]
  - entity_id: light.ceiling
    attributes:
      friendly_name: 客厅吊灯
`)

	seeds, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile() error = %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("got %d seeds, want 2", len(seeds))
	}

	ctx := context.Background()
	reg, _ := newTestRegistry()
	if _, err := reg.Set(ctx, "light.ceiling", "on", nil); err != nil {
		t.Fatal(err)
	}
	if err := reg.ApplySeed(ctx, seeds); err != nil {
		t.Fatalf("ApplySeed() error = %v", err)
	}

	group, err := reg.Get(ctx, "group.living_room")
	if err != nil {
		t.Fatalf("Get(group) error = %v", err)
	}
	members, _ := group.Attributes[AttrEntityID].([]any)
	if len(members) != 2 || members[0] != "light.ceiling" {
		t.Errorf("group members = %v", group.Attributes[AttrEntityID])
	}

	light, _ := reg.Get(ctx, "light.ceiling")
	if light.State != "on" || light.FriendlyName() != "客厅吊灯" {
		t.Errorf("seed without state should keep current state: %+v", light)
	}
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "entities: [unclosed"},
		{"bad id", "entities:\n  - entity_id: NotAnId\n"},
		{"duplicate", "entities:\n  - entity_id: light.a\n  - entity_id: light.a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadSeedFile(writeSeed(t, tt.content)); !errors.Is(err, ErrInvalidSeed) {
				t.Errorf("LoadSeedFile() error = %v, want ErrInvalidSeed", err)
			}
		})
	}
}
