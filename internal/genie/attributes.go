package genie

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/genie-bridge/internal/entity"
)

// Attribute keys that let users steer discovery per entity.
const (
	attrHidden       = "hagenie_hidden"
	attrDeviceType   = "hagenie_deviceType"
	attrDeviceName   = "hagenie_deviceName"
	attrZone         = "hagenie_zone"
	attrPropertyName = "hagenie_propertyName"
)

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func attrString(attrs entity.Attributes, key string) (string, bool) {
	v, ok := attrs[key]
	if !ok || v == nil {
		return "", false
	}
	return stringValue(v), true
}

// truthy follows the loose truthiness hosts use for flags like hidden.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "", "false", "no", "off", "0":
			return false
		}
		return true
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}

// stringList reads list attributes such as a group's entity_id, which are
// []any after JSON decoding and []string when built in-process.
func stringList(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{val}
	default:
		return nil
	}
}
