package hexf

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestAppendEncodeU(t *testing.T) {
	for _, in := range [][]byte{
		{},
		{0},
		{0x3f},
		{0, 0, 0x0a, 0x7b},
		{0xde, 0xad, 0xbe, 0xef},
	} {
		want := strings.ToUpper(hex.EncodeToString(in))
		if got := string(AppendEncodeU(nil, in)); got != want {
			t.Errorf("AppendEncodeU(%x) = %q, want %q", in, got, want)
		}
		if got := EncodeToStringUPrefix(in); got != "0x"+want {
			t.Errorf("EncodeToStringUPrefix(%x) = %q", in, got)
		}
	}
}

func TestAppendNumbers(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want string
	}{
		{"u64 full", AppendNUm64p(nil, uint64(0x1F), false), "0x000000000000001F"},
		{"u64 trim", AppendNUm64p(nil, uint64(0x1F), true), "0x1F"},
		{"u64 zero trim", AppendNUm64p(nil, uint64(0), true), "0x0"},
		{"i64 negative", AppendNUm64p(nil, int64(-1), true), "0xFFFFFFFFFFFFFFFF"},
		{"u32 full", AppendNUm32p(nil, uint32(0xC0000005), false), "0xC0000005"},
		{"i32 negative", AppendNUm32p(nil, int32(-2), false), "0xFFFFFFFE"},
		{"u32 trim", AppendNUm32p(nil, uint32(5), true), "0x5"},
		{"u16", AppendNUm16p(nil, uint16(0xAB), false), "0x00AB"},
		{"i16 trim", AppendNUm16p(nil, int16(-1), true), "0xFFFF"},
		{"u8", AppendNUm8p(nil, uint8(0x0A), false), "0x0A"},
		{"prefix bytes", AppendEncodeToStringUPrefix([]byte("x="), []byte{0xde, 0xad}), "x=0xDEAD"},
		{"padded 64", AppendUint64PaddedU(nil, 0xABC), "0000000000000ABC"},
		{"padded 32", AppendUint32PaddedU([]byte("{"), 0xABC), "{00000ABC"},
		{"padded 16", AppendUint16PaddedU(nil, 0xA), "000A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.got) != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func BenchmarkAppendNUm64p(b *testing.B) {
	buf := make([]byte, 0, 32)
	for b.Loop() {
		buf = AppendNUm64p(buf[:0], uint64(0xDEADBEEF), true)
	}
}
