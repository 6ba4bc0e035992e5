package knx

import (
	"fmt"
	"math"
)

const (
	// dpt9Invalid is the "no value" sentinel of every DPT 9.xxx.
	dpt9Invalid = 0x7FFF

	dpt9MaxExponent = 15
	dpt9MinValue    = -671088.64
	dpt9MaxValue    = 670760.96
)

// EncodeDPT1 encodes a switch (DPT 1.001).
func EncodeDPT1(on bool) []byte {
	if on {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeDPT1 decodes a switch (DPT 1.001).
func DecodeDPT1(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte", ErrDecodingFailed)
	}
	return data[0]&0x01 == 1, nil
}

// EncodeDPT5 encodes a raw 1-byte counter value (DPT 5.010).
func EncodeDPT5(v uint8) []byte {
	return []byte{v}
}

// DecodeDPT5 decodes a raw 1-byte counter value (DPT 5.010).
func DecodeDPT5(data []byte) (uint8, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 requires 1 byte", ErrDecodingFailed)
	}
	return data[0], nil
}

// EncodeDPT9 encodes a 2-byte float (DPT 9.001 temperature).
//
// Layout: MEEEEMMM MMMMMMMM, value = 0.01 * M * 2^E with M an 11+1 bit
// two's complement mantissa.
func EncodeDPT9(value float64) ([]byte, error) {
	if math.IsNaN(value) || value < dpt9MinValue || value > dpt9MaxValue {
		return nil, fmt.Errorf("%w: DPT9 value out of range: %.2f", ErrEncodingFailed, value)
	}

	scaled := value * 100
	exp := 0
	mantissa := math.Round(scaled)
	for mantissa < -2048 || mantissa > 2047 {
		exp++
		mantissa = math.Round(scaled / float64(uint(1)<<exp))
	}
	if exp > dpt9MaxExponent {
		return nil, fmt.Errorf("%w: DPT9 exponent overflow for %.2f", ErrEncodingFailed, value)
	}

	m := int(mantissa)
	raw := uint16(exp)<<11 | uint16(m&0x07FF) //nolint:gosec // exp <= 15, mantissa masked
	if m < 0 {
		raw |= 0x8000
	}
	return []byte{byte(raw >> 8), byte(raw)}, nil
}

// DecodeDPT9 decodes a 2-byte float. The 0x7FFF sentinel is an error.
func DecodeDPT9(data []byte) (float64, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: DPT9 requires 2 bytes, got %d", ErrDecodingFailed, len(data))
	}

	raw := uint16(data[0])<<8 | uint16(data[1])
	if raw == dpt9Invalid {
		return 0, fmt.Errorf("%w: DPT9 invalid value 0x7FFF", ErrDecodingFailed)
	}

	mantissa := int(raw & 0x07FF)
	if raw&0x8000 != 0 {
		mantissa -= 2048
	}
	exp := int((raw >> 11) & 0x0F)

	value := 0.01 * float64(mantissa) * float64(int(1)<<exp)
	return math.Round(value*100) / 100, nil
}
