package terminal

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/memctl/memctl/pkg/config"
	"github.com/memctl/memctl/pkg/logflags"
	"github.com/memctl/memctl/pkg/proc"
	"github.com/memctl/memctl/pkg/proc/fakeproc"
	"github.com/memctl/memctl/service"
	"github.com/memctl/memctl/service/rpc2"
	"github.com/memctl/memctl/service/rpccommon"
)

const (
	targetName = "game.exe"
	moduleBase = 0x400000
	heapBase   = 0x10000000
)

func TestMain(m *testing.M) {
	var logOutput string
	flag.StringVar(&logOutput, "log-output", "", "configures log output")
	flag.Parse()
	logflags.Setup(logOutput != "", logOutput, "")
	os.Exit(m.Run())
}

type FakeTerminal struct {
	*Term
	t testing.TB
	p *fakeproc.Process
}

const logCommandOutput = false

func (ft *FakeTerminal) Exec(cmdstr string) (outstr string, err error) {
	var buf bytes.Buffer
	ft.Term.stdout.pw.w = &buf
	ft.Term.starlarkEnv.Redirect(ft.Term.stdout)
	err = ft.cmds.Call(cmdstr, ft.Term)
	ft.Term.stdout.Flush()
	ft.Term.stdout.pw.Reset()
	outstr = buf.String()
	if logCommandOutput {
		ft.t.Logf("command %q -> %q", cmdstr, outstr)
	}
	return
}

func (ft *FakeTerminal) ExecStarlark(starlarkProgram string) (outstr string, err error) {
	var buf bytes.Buffer
	ft.Term.stdout.pw.w = &buf
	ft.Term.starlarkEnv.Redirect(ft.Term.stdout)
	_, err = ft.Term.starlarkEnv.Execute("<stdin>", starlarkProgram, "main", nil)
	ft.Term.stdout.Flush()
	ft.Term.stdout.pw.Reset()
	outstr = buf.String()
	if logCommandOutput {
		ft.t.Logf("command %q -> %q", starlarkProgram, outstr)
	}
	return
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	ft.t.Helper()
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	ft.t.Helper()
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if !strings.Contains(err.Error(), tgterr) {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

func newFakeTarget() *fakeproc.Process {
	p := fakeproc.New(777, targetName)
	p.AddModule(targetName, moduleBase, 0x2000)
	p.Map(heapBase, 0x1000, proc.PageReadWrite)
	// game.exe+0x100 -> heap, [heap+0x20] -> heap+0x800
	p.PokePointer(moduleBase+0x100, heapBase)
	p.PokePointer(heapBase+0x20, heapBase+0x800)
	return p
}

func withTestTerminal(t testing.TB, fn func(*FakeTerminal)) {
	t.Setenv("TERM", "dumb")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	p := newFakeTarget()
	listener, clientConn := service.ListenerPipe()
	server := rpccommon.NewServer(&service.Config{
		Listener:        listener,
		AttachName:      targetName,
		Finder:          fakeproc.NewFinder(p),
		FreezeInterval:  time.Millisecond,
		FreezeThreshold: 3,
	})
	if err := server.Run(); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	client := rpc2.NewClientFromConn(clientConn)
	defer client.Detach()

	term := New(client, &config.Config{})
	defer term.line.Close()
	fn(&FakeTerminal{Term: term, t: t, p: p})
}

func waitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCommandDefault(t *testing.T) {
	var (
		cmds = Commands{}
		cmd  = cmds.Find("non-existent-command")
	)

	err := cmd(nil, "")
	if err == nil {
		t.Fatal("cmd() did not default")
	}

	if err.Error() != "command not available" {
		t.Fatal("wrong command output")
	}
}

func TestCommandEmpty(t *testing.T) {
	cmds := MemoryCommands(nil)
	if err := cmds.Call("   ", nil); err != nil {
		t.Fatalf("empty command returned %v", err)
	}
}

func TestConfigAliases(t *testing.T) {
	cmds := MemoryCommands(nil)
	cmds.Merge(map[string][]string{"read": {"peek"}})
	cmds.Merge(map[string][]string{"read": {"rd"}})

	cmd := cmds.Find("peek")
	if err := cmd(nil, ""); err != errNoCmd {
		t.Fatalf("alias of a previous merge still registered")
	}
	for _, c := range cmds.cmds {
		if c.aliases[0] == "read" && !reflect.DeepEqual(c.aliases, []string{"read", "r", "x", "rd"}) {
			t.Fatalf("unexpected aliases %v", c.aliases)
		}
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"*0x1000 42", []string{"*0x1000", "42"}},
		{`-type string @name "hello world"`, []string{"-type", "string", "@name", "hello world"}},
		{`game.exe!0x10,0x8   'a b'`, []string{"game.exe!0x10,0x8", "a b"}},
	}
	for _, tc := range tests {
		got, err := splitArgs(tc.in)
		if err != nil {
			t.Fatalf("splitArgs(%q): %v", tc.in, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitArgs(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, err := splitArgs("a | b"); err == nil {
		t.Error("pipe accepted")
	}
}

func TestParseValueOpts(t *testing.T) {
	tests := []struct {
		in   []string
		opts valueOpts
		rest []string
		err  bool
	}{
		{[]string{"*0x10"}, valueOpts{}, []string{"*0x10"}, false},
		{[]string{"-t", "float", "@hp", "1.5"}, valueOpts{kind: "float"}, []string{"@hp", "1.5"}, false},
		{[]string{"-type", "string", "-len", "8", "-enc", "utf-16le", "*0x10"}, valueOpts{kind: "string", length: 8, encoding: "utf-16le"}, []string{"*0x10"}, false},
		{[]string{"*0x10", "-5"}, valueOpts{}, []string{"*0x10", "-5"}, false},
		{[]string{"-5"}, valueOpts{}, []string{"-5"}, false},
		{[]string{"-len", "0", "*0x10"}, valueOpts{}, nil, true},
		{[]string{"-len"}, valueOpts{}, nil, true},
		{[]string{"-bogus", "1"}, valueOpts{}, nil, true},
	}
	for _, tc := range tests {
		opts, rest, err := parseValueOpts(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("parseValueOpts(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseValueOpts(%q): %v", tc.in, err)
		}
		if opts != tc.opts || !reflect.DeepEqual(rest, tc.rest) {
			t.Errorf("parseValueOpts(%q) = %+v %q, want %+v %q", tc.in, opts, rest, tc.opts, tc.rest)
		}
	}
}

func TestHelp(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("help")
		for _, s := range []string{"Reading and writing memory:", "read (alias: r | x)", "freeze (alias: fr)"} {
			if !strings.Contains(out, s) {
				t.Errorf("help output does not contain %q:\n%s", s, out)
			}
		}
		out = term.MustExec("help freeze")
		if !strings.HasPrefix(out, "Keeps a value written at a pointer path.") {
			t.Errorf("unexpected help: %q", out)
		}
		term.AssertExecError("help nonexistent", "command not available")
	})
}

func TestStatusAndModules(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("status")
		if out != "Process game.exe (pid 777), 64-bit, 0 frozen value(s)\n" {
			t.Errorf("status: %q", out)
		}
		out = term.MustExec("modules game")
		if !strings.Contains(out, "0x400000") || !strings.Contains(out, targetName) {
			t.Errorf("modules: %q", out)
		}
		if out := term.MustExec("mods kernel"); out != "" {
			t.Errorf("filtered modules: %q", out)
		}
	})
}

func TestResolveCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("resolve 0x100,0x20,0x10")
		if out != "mainModule!0x100,0x20,0x10 = 0x10000810\n" {
			t.Errorf("resolve: %q", out)
		}
		out = term.MustExec("addr -v game.exe!0x100,0x20")
		want := "  [0] base + 0x100 -> 0x400100\n  [1] *prev + 0x20 -> 0x10000020\ngame.exe!0x100,0x20 = 0x10000020\n"
		if out != want {
			t.Errorf("resolve -v: got %q, want %q", out, want)
		}
		out = term.MustExec("resolve *0x1234")
		if out != "*0x1234 = 0x1234\n" {
			t.Errorf("resolve address: %q", out)
		}
		term.AssertExecError("resolve", "wrong number of arguments")
		term.AssertExecError("resolve nothere.dll!0x10", "")
	})
}

func TestReadWriteCommands(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("write 0x100,0x20,0x10 1234")
		if out := term.MustExec("read 0x100,0x20,0x10"); out != "mainModule!0x100,0x20,0x10 = 1234\n" {
			t.Errorf("read int32: %q", out)
		}
		if got := term.p.Peek(heapBase+0x810, 4); !bytes.Equal(got, []byte{0xd2, 0x04, 0, 0}) {
			t.Errorf("memory = % x", got)
		}

		term.MustExec("set -t int32 *0x10000040 -7")
		if out := term.MustExec("x *0x10000040"); out != "*0x10000040 = -7\n" {
			t.Errorf("read negative: %q", out)
		}

		term.MustExec("w -type double *0x10000048 2.5")
		if out := term.MustExec("r -type double *0x10000048"); out != "*0x10000048 = 2.5\n" {
			t.Errorf("read double: %q", out)
		}

		term.MustExec(`write -type string *0x10000100 "hello world"`)
		if out := term.MustExec("read -type string -len 5 *0x10000100"); out != "*0x10000100 = \"hello\"\n" {
			t.Errorf("read string: %q", out)
		}
		term.AssertExecError("read -type string *0x10000100", "-len")

		term.MustExec("write -type bytes *0x10000200 90 90 c3")
		if out := term.MustExec("read -type bytes -len 3 *0x10000200"); out != "0x10000200: 90 90 c3\n" {
			t.Errorf("read bytes: %q", out)
		}

		term.AssertExecError("read -type bogus *0x10000200", "unknown value type")
		term.AssertExecError("write *0x10000200", "wrong number of arguments")
		term.AssertExecError("read *0x5", "")
	})
}

func TestDumpBytesRows(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.conf.MaxBytesPerLine = 4
		term.MustExec("write -type bytes *0x10000300 01 02 03 04 05 06")
		out := term.MustExec("read -type bytes -len 6 *0x10000300")
		want := "0x10000300: 01 02 03 04\n0x10000304: 05 06\n"
		if out != want {
			t.Errorf("got %q, want %q", out, want)
		}
	})
}

func TestFreezeCommands(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("freeze 0x100,0x20,0x10 100")
		if out != "mainModule!0x100,0x20,0x10 frozen to 100\n" {
			t.Errorf("freeze: %q", out)
		}
		term.AssertExecError("freeze 0x100,0x20,0x10 5", "already frozen")
		term.AssertExecError("freeze *0x10000810 5", "pointer paths")

		term.p.Poke(heapBase+0x810, []byte{0, 0, 0, 0})
		waitFor(t, "frozen value to be restored", func() bool {
			return bytes.Equal(term.p.Peek(heapBase+0x810, 4), []byte{100, 0, 0, 0})
		})

		out = term.MustExec("frozen")
		if !strings.HasPrefix(out, "mainModule!0x100,0x20,0x10 64 00 00 00") {
			t.Errorf("frozen: %q", out)
		}
		if out := term.MustExec("status"); !strings.Contains(out, "1 frozen value(s)") {
			t.Errorf("status: %q", out)
		}

		term.MustExec("uf 0x100,0x20,0x10")
		term.AssertExecError("unfreeze 0x100,0x20,0x10", "is not frozen")
		if out := term.MustExec("frozen"); out != "No frozen values\n" {
			t.Errorf("frozen after unfreeze: %q", out)
		}
	})
}

func TestProtectAllocCommands(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("protect *0x10000000 0x10 r")
		if out != "old protection: PAGE_READWRITE\n" {
			t.Errorf("protect: %q", out)
		}
		out = term.MustExec("protect *0x10000000 16 rw")
		if out != "old protection: PAGE_READONLY\n" {
			t.Errorf("protect again: %q", out)
		}
		term.AssertExecError("protect *0x10000000 16 bogus", "unknown protection")
		term.AssertExecError("protect *0x10000000 16", "wrong number of arguments")

		out = term.MustExec("alloc 0x100")
		if !strings.HasPrefix(out, "allocated 256 bytes at 0x") {
			t.Errorf("alloc: %q", out)
		}
		term.AssertExecError("alloc", "wrong number of arguments")
		term.AssertExecError("alloc 16 rw bogus", "")
	})
}

func TestPointersCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		if out := term.MustExec("pointers"); out != "No saved pointers\n" {
			t.Errorf("empty pointers: %q", out)
		}
		term.MustExec("pointers save -type int64 hp game.exe!0x100,0x20,0x10")
		term.MustExec("pointers save @name 0x100,0x20,-0x20")
		term.AssertExecError("pointers save bad *0x1000", "not a pointer path")
		term.AssertExecError("pointers save bad2 -type bogus 0x10", "")

		out := term.MustExec("ptrs")
		want := "@hp   game.exe!0x100,0x20,0x10    int64\n@name mainModule!0x100,0x20,-0x20 int32\n"
		if out != want {
			t.Errorf("pointers: got %q, want %q", out, want)
		}

		term.MustExec("write @hp 5000000000")
		if out := term.MustExec("read @hp"); out != "game.exe!0x100,0x20,0x10 = 5000000000\n" {
			t.Errorf("read @hp: %q", out)
		}
		if out := term.MustExec("read -type int32 @hp"); out != "game.exe!0x100,0x20,0x10 = 705032704\n" {
			t.Errorf("read @hp with explicit type: %q", out)
		}

		path, err := config.GetConfigFilePath("config.yml")
		if err != nil {
			t.Fatal(err)
		}
		buf, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(buf), "hp:") {
			t.Errorf("pointer not saved:\n%s", buf)
		}

		term.MustExec("pointers rm @hp")
		term.AssertExecError("read @hp", "")
		term.AssertExecError("pointers rm hp", "no saved pointer")
		term.AssertExecError("pointers frob", "unknown subcommand")
	})
}

func TestSourceCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		script := filepath.Join(t.TempDir(), "init.txt")
		err := os.WriteFile(script, []byte("# setup\nwrite *0x10000400 42\n\nbogus\nwrite *0x10000404 43\n"), 0600)
		if err != nil {
			t.Fatal(err)
		}
		out := term.MustExec("source " + script)
		if !strings.Contains(out, "init.txt:4: command not available") {
			t.Errorf("source output: %q", out)
		}
		if got := term.p.Peek(heapBase+0x400, 8); !bytes.Equal(got, []byte{42, 0, 0, 0, 43, 0, 0, 0}) {
			t.Errorf("memory = % x", got)
		}
		term.AssertExecError("source", "wrong number of arguments")
		term.AssertExecError("source "+filepath.Join(t.TempDir(), "missing.txt"), "")
	})
}

func TestTranscript(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "transcript.txt")
		term.MustExec("transcript " + path)
		term.MustExec("write *0x10000500 7")
		out := term.MustExec("read *0x10000500")
		term.MustExec("transcript -off")

		buf, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(buf), out) {
			t.Errorf("transcript %q does not contain %q", buf, out)
		}
		term.AssertExecError("transcript", "no output path specified")
		term.AssertExecError("transcript -off "+path, "-off option specified with an output path")
	})
}

func TestExitCommand(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		_, err := term.Exec("exit -c")
		if _, ok := err.(ExitRequestError); !ok {
			t.Fatalf("exit returned %v", err)
		}
		if !term.keepServer {
			t.Error("exit -c did not keep the server")
		}
		term.AssertExecError("q -x", "unknown option")
	})
}

func TestCompleter(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.conf.Pointers = map[string]config.SavedPointer{
			"health": {Path: "0x10"},
			"heat":   {Path: "0x20"},
			"ammo":   {Path: "0x30"},
		}
		complete := term.completer()

		got := complete("fro")
		if len(got) != 1 || got[0] != "frozen" {
			t.Errorf("complete(fro) = %q", got)
		}
		got = complete("FRE")
		if len(got) != 1 || got[0] != "freeze" {
			t.Errorf("complete(FRE) = %q", got)
		}
		got = complete("read @he")
		if len(got) != 2 || !strings.HasPrefix(got[0], "read @he") || !strings.HasPrefix(got[1], "read @he") {
			t.Errorf("complete(read @he) = %q", got)
		}
		if got := complete("read 0x1"); got != nil {
			t.Errorf("complete(read 0x1) = %q", got)
		}
	})
}
