package coap

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := NewRequest(GET, []byte{0x01, 0x02})
	m.SetPath("3/0/1")
	m.AddOption(OptionContentFormat, []byte{0x06, 0x0A})
	m.Payload = []byte("hello")
	m.MessageID = 42

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded.Code != GET {
		t.Errorf("Code = %v, want GET", decoded.Code)
	}
	if decoded.MessageID != 42 {
		t.Errorf("MessageID = %d, want 42", decoded.MessageID)
	}
	if string(decoded.Token) != string(m.Token) {
		t.Errorf("Token = %v, want %v", decoded.Token, m.Token)
	}
	if decoded.Path() != "3/0/1" {
		t.Errorf("Path() = %q, want %q", decoded.Path(), "3/0/1")
	}
	if string(decoded.Payload) != "hello" {
		t.Errorf("Payload = %q, want %q", decoded.Payload, "hello")
	}
}

func TestEncodeRejectsOversizedToken(t *testing.T) {
	m := NewRequest(GET, make([]byte, 9))
	if _, err := Encode(m); err == nil {
		t.Error("expected error for 9-byte token")
	}
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	if _, err := Decode([]byte{1, 2}); err == nil {
		t.Error("expected error for truncated header")
	}
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	data := []byte{0x00, byte(GET), 0, 1}
	if _, err := Decode(data); err == nil {
		t.Error("expected error for version 0")
	}
}

func TestDecodeRejectsTruncatedToken(t *testing.T) {
	data := []byte{byte(1<<6 | 0<<4 | 4), byte(GET), 0, 1, 0x01}
	if _, err := Decode(data); err == nil {
		t.Error("expected error for truncated token")
	}
}

func TestOptionDeltaExtendedEncoding(t *testing.T) {
	m := NewRequest(GET, nil)
	m.MessageID = 1
	// A single option with id 300 and a 300-byte value puts both the delta
	// and the length in the 2-byte extended form.
	m.AddOption(OptionID(300), make([]byte, 300))

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	values, ok := decoded.Options[OptionID(300)]
	if !ok || len(values[0]) != 300 {
		t.Fatalf("Options[300] = %v, want 300-byte value", values)
	}
}

func TestSetPathAndAddOptionRoundTrip(t *testing.T) {
	m := NewRequest(PUT, []byte{0xAB})
	m.SetPath("1/0")
	if got := m.Path(); got != "1/0" {
		t.Errorf("Path() = %q, want %q", got, "1/0")
	}
}
