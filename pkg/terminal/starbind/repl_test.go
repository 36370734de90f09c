package starbind

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.starlark.net/starlark"
)

func TestMakeLoad(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(src), 0600); err != nil {
			t.Fatal(err)
		}
		return filepath.ToSlash(path)
	}
	lib := write("lib.star", "answer = 42\n")
	a := filepath.Join(dir, "a.star")
	b := write("b.star", `load("`+filepath.ToSlash(a)+`", "x")`+"\n")
	write("a.star", `load("`+b+`", "y")`+"\nx = 1\n")

	load := MakeLoad()
	thread := &starlark.Thread{Load: load}

	globals, err := load(thread, lib)
	if err != nil {
		t.Fatal(err)
	}
	if v := globals["answer"]; v == nil || v.String() != "42" {
		t.Fatalf("answer = %v", v)
	}
	again, err := load(thread, lib)
	if err != nil {
		t.Fatal(err)
	}
	if v := again["answer"]; v == nil || v.String() != "42" {
		t.Fatalf("cached answer = %v", v)
	}

	_, err = load(thread, filepath.ToSlash(a))
	if err == nil || !strings.Contains(err.Error(), "cycle in load graph") {
		t.Fatalf("expected a load cycle, got %v", err)
	}
}

func TestStarlarkToText(t *testing.T) {
	for _, tc := range []struct {
		v    starlark.Value
		want string
	}{
		{starlark.MakeInt(-3), "-3"},
		{starlark.Float(1.25), "1.25"},
		{starlark.String("abc"), "abc"},
		{starlark.Bool(true), "1"},
		{starlark.Bytes("\x90\xc3"), "90c3"},
	} {
		got, err := starlarkToText(tc.v)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("starlarkToText(%v) = %q, want %q", tc.v, got, tc.want)
		}
	}
	if _, err := starlarkToText(starlark.None); err == nil {
		t.Error("None converted")
	}
}
