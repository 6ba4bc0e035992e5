package knx

import (
	"encoding/binary"
	"fmt"
	"time"
)

// knxd message types.
const (
	// EIBOpenGroupCon opens a group socket able to send and receive on any
	// group address. Payload: reserved(1) write_only(1) reserved(1).
	EIBOpenGroupCon uint16 = 0x0026

	// EIBGroupPacket carries one group telegram.
	EIBGroupPacket uint16 = 0x0027
)

// APCI codes for group communication.
const (
	APCIRead     byte = 0x00
	APCIResponse byte = 0x40
	APCIWrite    byte = 0x80
)

const (
	// knxdHeaderSize is size(2) + type(2).
	knxdHeaderSize = 4

	// groupPacketMin is src(2) + dest(2) + TPCI(1) + APCI(1) as received.
	groupPacketMin = 6

	// shortDataMask selects the 6 data bits packed into the APCI byte.
	shortDataMask = 0x3F
)

// Telegram is one group telegram.
//
// Short telegrams (DPT 1) pack up to 6 bits of data into the APCI byte;
// long ones carry their data after it.
type Telegram struct {
	// Source is the sender's individual address ("1.1.5"), set on receive.
	Source      string
	Destination GroupAddress
	APCI        byte
	Data        []byte
	Short       bool
	Timestamp   time.Time
}

// NewWriteTelegram builds a group write. short packs data[0] into the
// APCI byte and is only valid for single values up to 0x3F.
func NewWriteTelegram(dest GroupAddress, data []byte, short bool) Telegram {
	return Telegram{
		Destination: dest,
		APCI:        APCIWrite,
		Data:        data,
		Short:       short && len(data) == 1 && data[0] <= shortDataMask,
		Timestamp:   time.Now(),
	}
}

// NewReadTelegram builds a group read request.
func NewReadTelegram(dest GroupAddress) Telegram {
	return Telegram{
		Destination: dest,
		APCI:        APCIRead,
		Short:       true,
		Timestamp:   time.Now(),
	}
}

// ParseTelegram decodes an EIB_GROUP_PACKET payload as received on a
// group socket: src(2) dest(2) TPCI(1) APCI|data(1) [data...].
func ParseTelegram(data []byte) (Telegram, error) {
	if len(data) < groupPacketMin {
		return Telegram{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidTelegram, len(data), groupPacketMin)
	}

	src := binary.BigEndian.Uint16(data[0:2])
	t := Telegram{
		Source:      fmt.Sprintf("%d.%d.%d", (src>>12)&0x0F, (src>>8)&0x0F, src&0xFF),
		Destination: GroupAddressFromUint16(binary.BigEndian.Uint16(data[2:4])),
		APCI:        data[5] & 0xC0,
		Timestamp:   time.Now(),
	}

	switch {
	case len(data) > groupPacketMin:
		t.Data = append([]byte(nil), data[groupPacketMin:]...)
	case t.APCI != APCIRead:
		t.Data = []byte{data[5] & shortDataMask}
		t.Short = true
	default:
		t.Short = true
	}
	return t, nil
}

// Encode renders the telegram in the send format of a group socket:
// dest(2) TPCI(1) APCI|data(1) [data...].
func (t Telegram) Encode() []byte {
	if t.Short || len(t.Data) == 0 {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
		buf[3] = t.APCI
		if len(t.Data) > 0 {
			buf[3] |= t.Data[0] & shortDataMask
		}
		return buf
	}

	buf := make([]byte, 4+len(t.Data))
	binary.BigEndian.PutUint16(buf[0:2], t.Destination.ToUint16())
	buf[3] = t.APCI
	copy(buf[4:], t.Data)
	return buf
}

// String formats the telegram for logs.
func (t Telegram) String() string {
	kind := "UNKNOWN"
	switch t.APCI {
	case APCIRead:
		kind = "READ"
	case APCIResponse:
		kind = "RESPONSE"
	case APCIWrite:
		kind = "WRITE"
	}
	return fmt.Sprintf("Telegram{GA:%s, APCI:%s, Data:%X}", t.Destination, kind, t.Data)
}

// EncodeKNXDMessage frames a payload: size(2) type(2) payload. The size
// field counts the type and payload, not itself.
func EncodeKNXDMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, knxdHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // bounded by small frames
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], payload)
	return buf
}

// ParseKNXDMessage splits a complete knxd frame into type and payload.
func ParseKNXDMessage(data []byte) (uint16, []byte, error) {
	if len(data) < knxdHeaderSize {
		return 0, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrInvalidTelegram, len(data))
	}
	if size := int(binary.BigEndian.Uint16(data[0:2])); size != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, got %d)", ErrInvalidTelegram, size, len(data)-2)
	}

	var payload []byte
	if len(data) > knxdHeaderSize {
		payload = data[knxdHeaderSize:]
	}
	return binary.BigEndian.Uint16(data[2:4]), payload, nil
}
