package etw

import (
	"fmt"
	"testing"

	"github.com/tekert/etwdecode/internal/test"
)

func TestParseGUID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string // empty when parsing must fail
	}{
		{"{45d8cccd-539f-4b72-a8b7-5c683142609a}", "{45D8CCCD-539F-4B72-A8B7-5C683142609A}"},
		{"54849625-5478-4994-a5ba-3e3b0328c30d", "{54849625-5478-4994-A5BA-3E3B0328C30D}"},
		{"00000000-0000-0000-0000-000000000000", "{00000000-0000-0000-0000-000000000000}"},
		{"{FFFFFFFF-FFFF-FFFF-FFFF-FFFFFFFFFFFF}", "{FFFFFFFF-FFFF-FFFF-FFFF-FFFFFFFFFFFF}"},
		{"", ""},
		{"54849625-5478-4994-a5ba-3e3b0328c30", ""},
		{"54849625-5478-4994-a5ba-3e3b0328c30dd", ""},
		{"{45d8cccd-539f-4b72-a8b7-5c683142609a", ""},
		{"45d8cccd-539f-4b72-a8b7-5c683142609a}", ""},
		{"45d8cccd-539f-4b72-a8b7 5c683142609a", ""},
		{"45d8cccd539f4b72a8b75c683142609a", ""},
		{"{45d8cccd-539f-4b72-a8b7-5c683142609g}", ""},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%q", tc.in), func(t *testing.T) {
			g, err := ParseGUID(tc.in)
			if tc.want == "" {
				if err == nil {
					t.Fatalf("ParseGUID(%q) = %s, want error", tc.in, g)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := g.String(); got != tc.want {
				t.Errorf("String() = %s, want %s", got, tc.want)
			}
			if g.IsZero() != (tc.want == nullGUIDStr) {
				t.Errorf("IsZero() = %v", g.IsZero())
			}
		})
	}
}

func TestGUIDEquals(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	tt.ShouldPanic(func() { MustParseGUID("{EDD08927-9CC4-4E65-B970}") })

	g1 := *MustParseGUID("{EDD08927-9CC4-4E65-B970-C2560FB5C289}")
	g2 := g1
	tt.Assert(g1.Equals(&g2))

	mutate := []func(g *GUID){
		func(g *GUID) { g.Data1++ },
		func(g *GUID) { g.Data2++ },
		func(g *GUID) { g.Data3++ },
	}
	for i := range 8 {
		mutate = append(mutate, func(g *GUID) { g.Data4[i]++ })
	}
	for _, m := range mutate {
		g2 = g1
		m(&g2)
		tt.Assert(!g1.Equals(&g2))
	}
}

func TestGUIDWireLayout(t *testing.T) {
	t.Parallel()
	tt := test.FromT(t)

	g := MustParseGUID("{9E814AAD-3204-11D2-9A82-006008A86939}")
	b := g.AppendBinary(nil)
	tt.Assert(len(b) == guidSize)
	// Data1..Data3 little-endian, Data4 as is
	tt.Assert(b[0] == 0xAD && b[3] == 0x9E)
	tt.Assert(b[4] == 0x04 && b[5] == 0x32)
	tt.Assert(b[8] == 0x9A && b[15] == 0x39)
	tt.Assert(guidFromBytes(b) == *g)

	var u GUID
	tt.CheckErr(u.UnmarshalText([]byte("9e814aad-3204-11d2-9a82-006008a86939")))
	tt.Assert(u.Equals(g))
	tt.Assert(u.UnmarshalText([]byte("nope")) != nil)

	j, err := g.MarshalJSON()
	tt.CheckErr(err)
	tt.Assert(string(j) == `"{9E814AAD-3204-11D2-9A82-006008A86939}"`)

	txt, err := g.AppendText([]byte("guid="))
	tt.CheckErr(err)
	tt.Assert(string(txt) == "guid={9E814AAD-3204-11D2-9A82-006008A86939}")
}

func BenchmarkGUIDString(b *testing.B) {
	g := MustParseGUID("{13D70263-4226-42DB-9EEF-43D052A43822}")
	buf := make([]byte, 0, 64)

	b.Run("String", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			_ = g.String()
		}
	})
	b.Run("AppendText", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			buf, _ = g.AppendText(buf[:0])
		}
	})
	b.Run("Parse", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			_, _ = ParseGUID("{13D70263-4226-42DB-9EEF-43D052A43822}")
		}
	})
}
