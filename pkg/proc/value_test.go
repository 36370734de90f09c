package proc_test

import (
	"bytes"
	"testing"

	"github.com/memctl/memctl/pkg/proc"
)

func TestEncodeFormatValue(t *testing.T) {
	tests := []struct {
		kind  string
		in    string
		bytes []byte
		out   string
	}{
		{"byte", "0xff", []byte{0xff}, "255"},
		{"int", "-2", []byte{0xfe, 0xff, 0xff, 0xff}, "-2"},
		{"i64", "0x100", []byte{0, 1, 0, 0, 0, 0, 0, 0}, "256"},
		{"int", "0xffffffff", []byte{0xff, 0xff, 0xff, 0xff}, "-1"},
		{"int", "0x80000000", []byte{0, 0, 0, 0x80}, "-2147483648"},
		{"int", "4294967294", []byte{0xfe, 0xff, 0xff, 0xff}, "-2"},
		{"i64", "0xffffffffffffffff", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, "-1"},
		{"float", "1.5", []byte{0, 0, 0xc0, 0x3f}, "1.5"},
		{"double", "-2", []byte{0, 0, 0, 0, 0, 0, 0, 0xc0}, "-2"},
		{"str", "ok", []byte("ok"), "ok"},
		{"bytes", "90 90 c3", []byte{0x90, 0x90, 0xc3}, "9090c3"},
	}
	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			k, err := proc.ParseKind(tc.kind)
			if err != nil {
				t.Fatal(err)
			}
			b, err := proc.EncodeValue(k, tc.in, "utf-8")
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(b, tc.bytes) {
				t.Errorf("EncodeValue = % x, want % x", b, tc.bytes)
			}
			out, err := proc.FormatValue(k, b, "utf-8")
			if err != nil {
				t.Fatal(err)
			}
			if out != tc.out {
				t.Errorf("FormatValue = %q, want %q", out, tc.out)
			}
		})
	}
}

func TestEncodeValueErrors(t *testing.T) {
	if _, err := proc.ParseKind("quaternion"); err == nil {
		t.Error("unknown kind accepted")
	}
	bad := []struct {
		kind proc.Kind
		in   string
	}{
		{proc.KindByte, "256"},
		{proc.KindInt32, "0x100000000"},
		{proc.KindInt32, "-0x80000001"},
		{proc.KindInt64, "0x10000000000000000"},
		{proc.KindFloat64, "pi"},
		{proc.KindBytes, "0xabc"},
	}
	for _, tc := range bad {
		if _, err := proc.EncodeValue(tc.kind, tc.in, ""); err == nil {
			t.Errorf("EncodeValue(%v, %q) accepted", tc.kind, tc.in)
		}
	}
	if _, err := proc.FormatValue(proc.KindInt64, []byte{1, 2}, ""); err == nil {
		t.Error("FormatValue accepted a short buffer")
	}
}

func TestModuleContains(t *testing.T) {
	m := proc.Module{Name: "game.exe", Base: 0x400000, Size: 0x2000}
	for addr, want := range map[proc.Address]bool{
		0x3fffff: false,
		0x400000: true,
		0x401fff: true,
		0x402000: false,
	} {
		if got := m.Contains(addr); got != want {
			t.Errorf("Contains(%v) = %v", addr, got)
		}
	}
}

func TestParseProtection(t *testing.T) {
	tests := []struct {
		in   string
		want proc.Protection
	}{
		{"rwx", proc.PageExecuteReadWrite},
		{"PAGE_READONLY", proc.PageReadOnly},
		{"execute_read", proc.PageExecuteRead},
		{"rw|guard", proc.PageReadWrite | proc.PageGuard},
		{"0x40", proc.PageExecuteReadWrite},
	}
	for _, tc := range tests {
		got, err := proc.ParseProtection(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseProtection(%q) = %v %v, want %v", tc.in, got, err, tc.want)
		}
	}
	if _, err := proc.ParseProtection("sticky"); err == nil {
		t.Error("unknown protection accepted")
	}
	if s := (proc.PageReadWrite | proc.PageGuard).String(); s != "PAGE_READWRITE|PAGE_GUARD" {
		t.Errorf("String() = %q", s)
	}
	if (proc.PageReadWrite | proc.PageGuard).Writable() {
		t.Error("guard page reported writable")
	}
}

func TestParseAllocationType(t *testing.T) {
	typ, err := proc.ParseAllocationType("")
	if err != nil || typ != proc.MemCommit|proc.MemReserve {
		t.Errorf("default allocation type %v %v", typ, err)
	}
	typ, err = proc.ParseAllocationType("reserve|top_down")
	if err != nil || typ != proc.MemReserve|proc.MemTopDown {
		t.Errorf("got %v %v", typ, err)
	}
	if typ.String() != "MEM_RESERVE|MEM_TOP_DOWN" {
		t.Errorf("String() = %q", typ.String())
	}
}
