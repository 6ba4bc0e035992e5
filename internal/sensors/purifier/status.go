// Package purifier publishes Xiaomi water purifier water quality and filter
// life as sensor entities.
package purifier

import (
	"errors"
	"fmt"
	"math"
)

// ErrShortStatus is returned for a status vector with too few values.
var ErrShortStatus = errors.New("purifier: status too short")

// statusLen is the number of get_prop values a status needs.
const statusLen = 18

// Filter is the estimated life of one filter cartridge.
type Filter struct {
	DaysRemaining int
	Percent       int
}

// Status is a decoded get_prop result.
type Status struct {
	TapTDS      int
	FilteredTDS int
	Filters     [4]Filter
}

// filterIndexes holds the used-hours and total-hours indexes per filter,
// in filterNames order.
var filterIndexes = [4][2]int{{3, 11}, {5, 13}, {7, 15}, {9, 17}}

// ParseStatus decodes a raw status vector. Filter life decays linearly from
// the total rated hours.
func ParseStatus(raw []int) (Status, error) {
	if len(raw) < statusLen {
		return Status{}, fmt.Errorf("%w: %d values, need %d", ErrShortStatus, len(raw), statusLen)
	}

	s := Status{TapTDS: raw[0], FilteredTDS: raw[1]}
	for i, idx := range filterIndexes {
		used, total := raw[idx[0]], raw[idx[1]]
		if total <= 0 {
			return Status{}, fmt.Errorf("purifier: filter %d reports %d rated hours", i, total)
		}
		days := int(float64(total-used) / 24)
		s.Filters[i] = Filter{
			DaysRemaining: days,
			Percent:       int(math.Floor(float64(days*24*100) / float64(total))),
		}
	}
	return s, nil
}
