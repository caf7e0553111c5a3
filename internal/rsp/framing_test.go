package rsp

import (
	"bytes"
	"testing"
)

func TestEncode_EmptyPayload(t *testing.T) {
	result := Encode(nil)
	expected := []byte("$#00")
	if !bytes.Equal(result, expected) {
		t.Errorf("Encode(nil) = %q, want %q", result, expected)
	}
}

func TestEncode_Plain(t *testing.T) {
	result := Encode([]byte("OK"))
	expected := []byte("$OK#9a")
	if !bytes.Equal(result, expected) {
		t.Errorf("Encode(OK) = %q, want %q", result, expected)
	}
}

func TestEncode_KnownPackets(t *testing.T) {
	tests := []struct {
		payload  string
		expected string
	}{
		{"c", "$c#63"},
		{"?", "$?#3f"},
		{"D", "$D#44"},
		{"g", "$g#67"},
	}

	for _, tc := range tests {
		result := Encode([]byte(tc.payload))
		if string(result) != tc.expected {
			t.Errorf("Encode(%q) = %q, want %q", tc.payload, result, tc.expected)
		}
	}
}

func TestEncode_EscapesSpecialBytes(t *testing.T) {
	input := []byte{'a', '#', '$', '}', '*', 'b'}
	result := Encode(input)
	body := []byte{'a', Esc, '#' ^ EscXor, Esc, '$' ^ EscXor, Esc, '}' ^ EscXor, Esc, '*' ^ EscXor, 'b'}
	if !bytes.Equal(result[1:len(result)-3], body) {
		t.Errorf("Encode(%q) body = %q, want %q", input, result[1:len(result)-3], body)
	}
	if result[len(result)-3] != End {
		t.Errorf("Encode(%q) missing end marker: %q", input, result)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	inputs := [][]byte{
		[]byte(""),
		[]byte("OK"),
		[]byte("m80000000,100"),
		{'#', '$', '}', '*', 0x00, 0xFF},
	}

	for _, input := range inputs {
		result, err := Decode(Encode(input))
		if err != nil {
			t.Errorf("Decode(Encode(%q)) error = %v", input, err)
			continue
		}
		if !bytes.Equal(result, input) {
			t.Errorf("Decode(Encode(%q)) = %q", input, result)
		}
	}
}

func TestDecode_BadChecksum(t *testing.T) {
	if _, err := Decode([]byte("$OK#00")); err == nil {
		t.Error("Decode with bad checksum succeeded, want error")
	}
	if _, err := Decode([]byte("$OK#zz")); err == nil {
		t.Error("Decode with non-hex checksum succeeded, want error")
	}
}

func TestDecode_Malformed(t *testing.T) {
	frames := []string{"", "$", "OK#9a", "$OK9a", "$OK#9"}
	for _, f := range frames {
		if _, err := Decode([]byte(f)); err == nil {
			t.Errorf("Decode(%q) succeeded, want error", f)
		}
	}
}

func TestDecode_RunLength(t *testing.T) {
	// "0* " is '0' repeated 1 + (' ' - 29) = 4 times.
	body := []byte("0* ")
	frame := append([]byte{Start}, body...)
	frame = append(frame, End)
	frame = append(frame, []byte(hexByte(Checksum(body)))...)

	result, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode(%q) error = %v", frame, err)
	}
	if string(result) != "0000" {
		t.Errorf("Decode(%q) = %q, want %q", frame, result, "0000")
	}
}

func TestReadFrame_Complete(t *testing.T) {
	data := []byte("+$OK#9a$T05#b9")
	frame, acks, remaining := ReadFrame(data)
	if string(frame) != "$OK#9a" {
		t.Errorf("ReadFrame frame = %q, want %q", frame, "$OK#9a")
	}
	if string(acks) != "+" {
		t.Errorf("ReadFrame acks = %q, want %q", acks, "+")
	}
	if string(remaining) != "$T05#b9" {
		t.Errorf("ReadFrame remaining = %q, want %q", remaining, "$T05#b9")
	}
}

func TestReadFrame_Incomplete(t *testing.T) {
	for _, in := range []string{"$OK", "$OK#", "$OK#9"} {
		frame, _, remaining := ReadFrame([]byte(in))
		if frame != nil {
			t.Errorf("ReadFrame(%q) frame = %q, want nil", in, frame)
		}
		if string(remaining) != in {
			t.Errorf("ReadFrame(%q) remaining = %q, want input kept", in, remaining)
		}
	}
}

func TestReadFrame_NoStart(t *testing.T) {
	frame, acks, remaining := ReadFrame([]byte("+-junk"))
	if frame != nil || remaining != nil {
		t.Errorf("ReadFrame(junk) = %q, %q, want nil, nil", frame, remaining)
	}
	if string(acks) != "+-" {
		t.Errorf("ReadFrame acks = %q, want %q", acks, "+-")
	}
}

func hexByte(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0xF]})
}
