package terminal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStarlarkReadWrite(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out, err := term.ExecStarlark(`
mem_write("0x100,0x20,0x10", 1234)
print(mem_read("0x100,0x20,0x10") + 1)
mem_write("*0x10000040", 2.5, "double")
print(mem_read("*0x10000040", kind="double"))
mem_write("*0x10000100", "hi there", "string")
print(mem_read("*0x10000100", "string", 2))
mem_write("*0x10000200", b"\x90\xc3", "bytes")
print(mem_read("*0x10000200", "bytes", 2) == b"\x90\xc3")
print("%x" % mem_resolve("game.exe!0x100,0x20"))
`)
		if err != nil {
			t.Fatal(err)
		}
		want := "1235\n2.5\nhi\nTrue\n10000020\n"
		if out != want {
			t.Errorf("got %q, want %q", out, want)
		}
		if got := term.p.Peek(heapBase+0x810, 4); !bytes.Equal(got, []byte{0xd2, 0x04, 0, 0}) {
			t.Errorf("memory = % x", got)
		}
	})
}

func TestStarlarkFreeze(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out, err := term.ExecStarlark(`
print(mem_freeze("0x100,0x20,0x10", 9))
print(mem_freeze("0x100,0x20,0x10", 9))
print(mem_unfreeze("0x100,0x20,0x10"))
print(mem_unfreeze("0x100,0x20,0x10"))
`)
		if err != nil {
			t.Fatal(err)
		}
		if out != "True\nFalse\nTrue\nFalse\n" {
			t.Errorf("got %q", out)
		}
	})
}

func TestStarlarkErrors(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		_, err := term.ExecStarlark(`mem_read("*0x10000000", "bogus")`)
		if err == nil || !strings.Contains(err.Error(), "unknown value type") {
			t.Errorf("bad kind: %v", err)
		}
		_, err = term.ExecStarlark(`mem_write("*0x10000000", [1, 2])`)
		if err == nil || !strings.Contains(err.Error(), "can not write a value of type list") {
			t.Errorf("bad value: %v", err)
		}
		_, err = term.ExecStarlark(`mem_resolve("nothere.dll!0x10")`)
		if err == nil || !strings.Contains(err.Error(), "<stdin>:1") {
			t.Errorf("error position missing: %v", err)
		}
	})
}

func TestStarlarkCommands(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		_, err := term.ExecStarlark(`
def command_settwo(args):
	"sets two values"
	memctl_command("write", args, "2")

def command_addn(addr, n):
	mem_write(addr, mem_read(addr) + n)
`)
		if err != nil {
			t.Fatal(err)
		}
		term.MustExec("settwo *0x10000600")
		term.MustExec(`addn "*0x10000600", 40`)
		if out := term.MustExec("read *0x10000600"); out != "*0x10000600 = 42\n" {
			t.Errorf("read: %q", out)
		}
		if out := term.MustExec("help settwo"); out != "sets two values\n" {
			t.Errorf("help: %q", out)
		}
	})
}

func TestStarlarkSavedPointers(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("pointers save -type int64 hp 0x100,0x20,0x10")
		out, err := term.ExecStarlark(`
mem_write("@hp", 7)
print(mem_read("@hp", "int64"))
`)
		if err != nil {
			t.Fatal(err)
		}
		if out != "7\n" {
			t.Errorf("got %q", out)
		}
	})
}

func TestStarlarkSourceFile(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		dir := t.TempDir()
		lib := filepath.Join(dir, "lib.star")
		script := filepath.Join(dir, "script.star")
		if err := os.WriteFile(lib, []byte("def double(x):\n\treturn 2 * x\n"), 0600); err != nil {
			t.Fatal(err)
		}
		src := `load("` + filepath.ToSlash(lib) + `", "double")

def main():
	mem_write("*0x10000700", double(21))
	write_file("` + filepath.ToSlash(filepath.Join(dir, "out.txt")) + `", str(mem_read("*0x10000700")))
`
		if err := os.WriteFile(script, []byte(src), 0600); err != nil {
			t.Fatal(err)
		}
		term.MustExec("source " + script)
		buf, err := os.ReadFile(filepath.Join(dir, "out.txt"))
		if err != nil {
			t.Fatal(err)
		}
		if string(buf) != "42" {
			t.Errorf("out.txt = %q", buf)
		}
	})
}

func TestStarlarkHelp(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out, err := term.ExecStarlark(`help(mem_read)`)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(out, `mem_read(Location, Kind="int32"`) {
			t.Errorf("help: %q", out)
		}
		out, err = term.ExecStarlark(`help()`)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "\tmem_freeze\n") {
			t.Errorf("help(): %q", out)
		}
	})
}

func TestStarlarkTargetInfo(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out, err := term.ExecStarlark(`
s = mem_state()
print(s.Name, s.Open, s.Pid)
print("PtrSize" in dir(s))
mods = mem_modules()
print(len(mods), mods[0].Name, "%x" % mods[0].Base)
print([m.Size for m in mods])
print(len(mem_frozen()))
mem_freeze("0x100,0x20,0x10", 5)
print(len(mem_frozen()), mem_state().Frozen)
mem_unfreeze("0x100,0x20,0x10")
`)
		if err != nil {
			t.Fatal(err)
		}
		want := "game.exe True 777\nTrue\n1 game.exe 400000\n[8192]\n0\n1 1\n"
		if out != want {
			t.Errorf("got %q, want %q", out, want)
		}
	})
}
