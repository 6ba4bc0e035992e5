package entity

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedEntity is one entry of the entities seed file.
type SeedEntity struct {
	EntityID   string         `yaml:"entity_id"`
	State      string         `yaml:"state"`
	Attributes map[string]any `yaml:"attributes"`
}

type seedFile struct {
	Entities []SeedEntity `yaml:"entities"`
}

// LoadSeedFile reads static entities (groups, fixed devices) from YAML:
//
//	entities:
//	  - entity_id: group.living_room
//	    state: "on"
//	    attributes:
//	      friendly_name: 客厅
//	      entity_id: [light.ceiling, sensor.living_temperature]
func LoadSeedFile(path string) ([]SeedEntity, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}

	seen := make(map[string]bool, len(file.Entities))
	for i, e := range file.Entities {
		if err := ValidateEntityID(e.EntityID); err != nil {
			return nil, fmt.Errorf("%w: entities[%d]: %q", ErrInvalidSeed, i, e.EntityID)
		}
		if seen[e.EntityID] {
			return nil, fmt.Errorf("%w: duplicate entity %q", ErrInvalidSeed, e.EntityID)
		}
		seen[e.EntityID] = true
	}
	return file.Entities, nil
}

// ApplySeed writes seed entities into the registry. Seeds without a state
// keep the persisted one, or "unknown" for new entities.
func (r *Registry) ApplySeed(ctx context.Context, seeds []SeedEntity) error {
	for _, s := range seeds {
		state := s.State
		if state == "" {
			state = "unknown"
			if current, err := r.Get(ctx, s.EntityID); err == nil {
				state = current.State
			}
		}

		attrs := Attributes(s.Attributes)
		if attrs == nil {
			attrs = Attributes{}
		}
		if _, err := r.Set(ctx, s.EntityID, state, attrs); err != nil {
			return fmt.Errorf("seeding %s: %w", s.EntityID, err)
		}
	}
	r.logger.Info("entity seed applied", "count", len(seeds))
	return nil
}
