package utf16f

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"
)

func le(units ...uint16) []byte {
	b := make([]byte, 0, len(units)*2)
	for _, u := range units {
		b = binary.LittleEndian.AppendUint16(b, u)
	}
	return b
}

func TestDecodeLE(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"empty", nil, ""},
		{"only NUL", le(0), ""},
		{"ascii", le('a', 'b', 'c', 0), "abc"},
		{"stops at NUL", le('a', 0, 'b'), "a"},
		{"no terminator", le('h', 'i'), "hi"},
		{"odd trailing byte ignored", append(le('o', 'k'), 'x'), "ok"},
		{"two byte", le(0x00E9), "é"},
		{"three byte", le(0x65E5, 0x672C), "日本"},
		{"surrogate pair", le(utf16.Encode([]rune("😀"))...), "😀"},
		{"unpaired high surrogate", le(0xD800), "\xED\xA0\x80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeLE(tt.in); got != tt.want {
				t.Errorf("DecodeLE() = %q, want %q", got, tt.want)
			}
			if got := string(AppendLE([]byte("p:"), tt.in)); got != "p:"+tt.want {
				t.Errorf("AppendLE() = %q, want %q", got, "p:"+tt.want)
			}
		})
	}
}

func TestEncodeLE(t *testing.T) {
	for _, s := range []string{"", "Enabled", "日本", "a😀b"} {
		b := EncodeLE(s)
		if len(b)%2 != 0 || b[len(b)-1] != 0 || b[len(b)-2] != 0 {
			t.Fatalf("EncodeLE(%q) not NUL terminated: %x", s, b)
		}
		if got := DecodeLE(b); got != s {
			t.Errorf("DecodeLE(EncodeLE(%q)) = %q", s, got)
		}
	}
}

func TestUnits(t *testing.T) {
	if n := Units(le('a', 'b', 0, 'c')); n != 2 {
		t.Fatalf("Units = %d, want 2", n)
	}
	if n := Units(le('a', 'b')); n != 2 {
		t.Fatalf("Units = %d, want 2", n)
	}
}

func BenchmarkDecodeLE(b *testing.B) {
	in := EncodeLE("Microsoft-Windows-Kernel-Process")
	for b.Loop() {
		_ = DecodeLE(in)
	}
}
