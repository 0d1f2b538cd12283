package coap

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMalformed is returned for any datagram that does not parse as a
// well-formed CoAP message (RFC 7252 §3).
var ErrMalformed = errors.New("coap: malformed message")

const version = 1

// Encode serializes m as an RFC 7252 CoAP-over-UDP datagram.
func Encode(m *Message) ([]byte, error) {
	if len(m.Token) > 8 {
		return nil, fmt.Errorf("%w: token length %d exceeds 8", ErrMalformed, len(m.Token))
	}

	header := byte(version<<6) | byte(m.Type)<<4 | byte(len(m.Token))
	out := []byte{header, byte(m.Code), byte(m.MessageID >> 8), byte(m.MessageID)}
	out = append(out, m.Token...)

	ids := make([]OptionID, 0, len(m.Options))
	for id := range m.Options {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var prev OptionID
	for _, id := range ids {
		for _, value := range m.Options[id] {
			delta := int(id) - int(prev)
			out = append(out, encodeOption(delta, value)...)
			prev = id
		}
	}

	if len(m.Payload) > 0 {
		out = append(out, 0xFF)
		out = append(out, m.Payload...)
	}
	return out, nil
}

func encodeOption(delta int, value []byte) []byte {
	deltaNibble, deltaExt := splitOptionField(delta)
	lengthNibble, lengthExt := splitOptionField(len(value))

	out := []byte{byte(deltaNibble<<4 | lengthNibble)}
	out = append(out, deltaExt...)
	out = append(out, lengthExt...)
	out = append(out, value...)
	return out
}

func splitOptionField(v int) (nibble int, ext []byte) {
	switch {
	case v < 13:
		return v, nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		v -= 269
		return 14, []byte{byte(v >> 8), byte(v)}
	}
}

// Decode parses an RFC 7252 CoAP-over-UDP datagram.
func Decode(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: header too short", ErrMalformed)
	}
	if data[0]>>6 != version {
		return nil, fmt.Errorf("%w: unsupported version", ErrMalformed)
	}
	msgType := Type((data[0] >> 4) & 0x3)
	tokenLen := int(data[0] & 0xF)
	if tokenLen > 8 {
		return nil, fmt.Errorf("%w: token length %d exceeds 8", ErrMalformed, tokenLen)
	}
	code := Code(data[1])
	messageID := uint16(data[2])<<8 | uint16(data[3])

	pos := 4
	if len(data) < pos+tokenLen {
		return nil, fmt.Errorf("%w: truncated token", ErrMalformed)
	}
	token := append([]byte(nil), data[pos:pos+tokenLen]...)
	pos += tokenLen

	m := &Message{
		Type:      msgType,
		Code:      code,
		MessageID: messageID,
		Token:     token,
		Options:   make(map[OptionID][][]byte),
	}

	var optionID OptionID
	for pos < len(data) && data[pos] != 0xFF {
		deltaNibble := int(data[pos] >> 4)
		lengthNibble := int(data[pos] & 0xF)
		pos++

		delta, n, err := readOptionField(data, pos, deltaNibble)
		if err != nil {
			return nil, err
		}
		pos += n

		length, n, err := readOptionField(data, pos, lengthNibble)
		if err != nil {
			return nil, err
		}
		pos += n

		if len(data) < pos+length {
			return nil, fmt.Errorf("%w: truncated option value", ErrMalformed)
		}
		optionID += OptionID(delta)
		m.Options[optionID] = append(m.Options[optionID], append([]byte(nil), data[pos:pos+length]...))
		pos += length
	}

	if pos < len(data) && data[pos] == 0xFF {
		pos++
		if pos == len(data) {
			return nil, fmt.Errorf("%w: payload marker with no payload", ErrMalformed)
		}
		m.Payload = append([]byte(nil), data[pos:]...)
	}
	return m, nil
}

func readOptionField(data []byte, pos, nibble int) (value, consumed int, err error) {
	switch {
	case nibble < 13:
		return nibble, 0, nil
	case nibble == 13:
		if len(data) < pos+1 {
			return 0, 0, fmt.Errorf("%w: truncated option field", ErrMalformed)
		}
		return int(data[pos]) + 13, 1, nil
	case nibble == 14:
		if len(data) < pos+2 {
			return 0, 0, fmt.Errorf("%w: truncated option field", ErrMalformed)
		}
		return (int(data[pos])<<8 | int(data[pos+1])) + 269, 2, nil
	default:
		return 0, 0, fmt.Errorf("%w: reserved option field marker", ErrMalformed)
	}
}
