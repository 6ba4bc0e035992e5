package knx

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupAddress is a 3-level KNX group address (main/middle/sub).
//
// Main is 5 bits, middle 3 bits and sub 8 bits; together they pack into
// the 16-bit value carried on the wire.
type GroupAddress struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

const (
	maxMain   = 31
	maxMiddle = 7
)

// ParseGroupAddress parses "main/middle/sub", e.g. "1/2/3".
func ParseGroupAddress(s string) (GroupAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return GroupAddress{}, fmt.Errorf("%w: expected main/middle/sub, got %q", ErrInvalidGroupAddress, s)
	}

	var levels [3]uint64
	limits := [3]uint64{maxMain, maxMiddle, 255}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil || v > limits[i] {
			return GroupAddress{}, fmt.Errorf("%w: level %d must be 0-%d, got %q", ErrInvalidGroupAddress, i+1, limits[i], p)
		}
		levels[i] = v
	}

	return GroupAddress{
		Main:   uint8(levels[0]),
		Middle: uint8(levels[1]),
		Sub:    uint8(levels[2]),
	}, nil
}

// parseOptionalAddress parses s, returning nil for an empty string.
func parseOptionalAddress(s string) (*GroupAddress, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil //nolint:nilnil // absent address is not an error
	}
	ga, err := ParseGroupAddress(s)
	if err != nil {
		return nil, err
	}
	return &ga, nil
}

// String returns the address as "main/middle/sub".
func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", ga.Main, ga.Middle, ga.Sub)
}

// ToUint16 packs the address as MMMMMIII SSSSSSSS.
func (ga GroupAddress) ToUint16() uint16 {
	return uint16(ga.Main)<<11 | uint16(ga.Middle)<<8 | uint16(ga.Sub)
}

// GroupAddressFromUint16 unpacks a wire address.
func GroupAddressFromUint16(v uint16) GroupAddress {
	return GroupAddress{
		Main:   uint8((v >> 11) & 0x1F), //nolint:gosec // masked to 5 bits
		Middle: uint8((v >> 8) & 0x07),  //nolint:gosec // masked to 3 bits
		Sub:    uint8(v & 0xFF),         //nolint:gosec // masked to 8 bits
	}
}
