package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/nerrad567/genie-bridge/internal/entity"
)

const fanOutDomain = "homeassistant"

// StateLister is the part of the entity registry the built-in services read.
type StateLister interface {
	ByDomain(ctx context.Context, domain string) []entity.State
}

// RegisterBuiltins installs homeassistant.turn_on/turn_off/toggle.
func (r *Registry) RegisterBuiltins() {
	for _, svc := range []string{"turn_on", "turn_off", "toggle"} {
		r.Register(fanOutDomain, svc, r.fanOut(svc))
	}
}

// RegisterScripts installs the script.turn_off_lights script.
func (r *Registry) RegisterScripts(states StateLister) {
	r.Register("script", "turn_off_lights", r.turnOffLights(states))
}

// fanOut groups the target entities by domain and calls <domain>.<service>
// once per domain. Covers map to open_cover/close_cover. Targets in the
// homeassistant domain are rejected since they would dispatch back here.
func (r *Registry) fanOut(svc string) Handler {
	return func(ctx context.Context, call Call) (bool, error) {
		ids := EntityIDs(call.Data)
		if len(ids) == 0 {
			return false, ErrInvalidCall
		}
		if id, found := lo.Find(ids, func(id string) bool { return entity.Domain(id) == fanOutDomain }); found {
			return false, fmt.Errorf("%w: cannot target %s", ErrInvalidCall, id)
		}

		byDomain := lo.GroupBy(ids, entity.Domain)
		domains := lo.Keys(byDomain)
		sort.Strings(domains)

		ok := true
		for _, domain := range domains {
			target := svc
			if domain == "cover" {
				target = coverService(svc)
			}
			data := make(map[string]any, len(call.Data))
			for k, v := range call.Data {
				data[k] = v
			}
			data[entity.AttrEntityID] = byDomain[domain]

			result, err := r.Call(ctx, Call{Domain: domain, Service: target, Data: data, Source: call.Source})
			if err != nil {
				return false, err
			}
			ok = ok && result
		}
		return ok, nil
	}
}

func coverService(svc string) string {
	switch svc {
	case "turn_off":
		return "close_cover"
	case "toggle":
		return "toggle"
	default:
		return "open_cover"
	}
}

// turnOffLights turns off every light that is currently on.
func (r *Registry) turnOffLights(states StateLister) Handler {
	return func(ctx context.Context, call Call) (bool, error) {
		on := lo.FilterMap(states.ByDomain(ctx, "light"), func(s entity.State, _ int) (string, bool) {
			return s.EntityID, s.State == "on"
		})
		if len(on) == 0 {
			r.logger.Debug("turn_off_lights: no lights on")
			return true, nil
		}

		r.logger.Info("turn_off_lights", "count", len(on))
		return r.Call(ctx, Call{
			Domain:  "light",
			Service: "turn_off",
			Data:    map[string]any{entity.AttrEntityID: on},
			Source:  "script",
		})
	}
}

func splitComma(s string) []string {
	return lo.Map(strings.Split(s, ","), func(part string, _ int) string {
		return strings.TrimSpace(part)
	})
}
