// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cosiner/argv"

	"github.com/memctl/memctl/pkg/config"
	"github.com/memctl/memctl/pkg/locspec"
	"github.com/memctl/memctl/pkg/proc"
	"github.com/memctl/memctl/service"
	"github.com/memctl/memctl/service/api"
)

const defaultKind = "int32"

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the memctl terminal.
type Commands struct {
	cmds   []command
	client service.Client
}

// MemoryCommands returns a Commands struct with default commands defined.
func MemoryCommands(client service.Client) *Commands {
	c := &Commands{client: client}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"status", "st"}, group: targetCmds, cmdFn: status, helpMsg: `Prints the state of the target process.

	status

Reports whether the process is running, its pid, its bitness and the number of frozen values.`},
		{aliases: []string{"modules", "mods"}, group: targetCmds, cmdFn: modules, helpMsg: `Lists the modules loaded in the target.

	modules [<filter>]

Only modules whose name contains filter are listed.`},
		{aliases: []string{"resolve", "addr"}, group: targetCmds, cmdFn: resolve, helpMsg: `Prints the address a location refers to.

	resolve [-v] <location>

A location is either an absolute address, a pointer path or a saved pointer:

	*0x7ff61000		absolute address
	game.exe!0x10,0x1f4,0x8	pointer path starting at the base of game.exe
	0x10,0x1f4,0x8		pointer path starting at the default module
	@health			pointer path saved in the configuration file

With -v every address reached while walking a pointer path is printed.`},
		{aliases: []string{"read", "r", "x"}, group: dataCmds, cmdFn: readCommand, helpMsg: `Reads a value from the target.

	read [-type <type>] [-len <n>] [-enc <encoding>] <location>

Types are byte, int32, int64, float32, float64, string and bytes. The default type is int32, or the type of the saved pointer.
For strings -len is the number of characters, for bytes it is the number of bytes. Strings are decoded with -enc (utf-8, utf-16le, latin1...).`},
		{aliases: []string{"write", "w", "set"}, group: dataCmds, cmdFn: writeCommand, helpMsg: `Writes a value to the target.

	write [-type <type>] [-enc <encoding>] <location> <value>

Integers can be written in decimal, hex (0x) or octal (0o). Byte buffers are written in hex, for example "90 90 c3".
Strings are written followed by a NUL character.`},
		{aliases: []string{"freeze", "fr"}, group: freezeCmds, cmdFn: freezeCommand, helpMsg: `Keeps a value written at a pointer path.

	freeze [-type <type>] [-enc <encoding>] <location> <value>

The value is rewritten periodically until "unfreeze" is called. A value that can not be written for several consecutive attempts is unfrozen automatically.
Only pointer paths can be frozen. Strings are frozen without terminator.`},
		{aliases: []string{"unfreeze", "uf"}, group: freezeCmds, cmdFn: unfreezeCommand, helpMsg: `Stops freezing a value.

	unfreeze <location>`},
		{aliases: []string{"frozen"}, group: freezeCmds, cmdFn: frozenCommand, helpMsg: "Lists the frozen values."},
		{aliases: []string{"protect"}, group: pageCmds, cmdFn: protectCommand, helpMsg: `Changes the protection of a range of memory.

	protect <location> <size> <protection>

Protection is one of r, rw, rx, rwx, x, none, wc, wcx, a PAGE_* name or a number. Names can be combined with |, for example rw|PAGE_GUARD.
The previous protection is printed.`},
		{aliases: []string{"alloc"}, group: pageCmds, cmdFn: allocCommand, helpMsg: `Allocates memory in the target.

	alloc <size> [<protection> [<type>]]

The default protection is rw, the default type MEM_COMMIT|MEM_RESERVE.`},
		{aliases: []string{"pointers", "ptrs"}, cmdFn: pointersCommand, helpMsg: `Lists, saves and removes saved pointers.

	pointers
	pointers save [-type <type>] [-len <n>] [-enc <encoding>] <name> <pointer path>
	pointers rm <name>

Saved pointers are stored in the configuration file and can be used as @name wherever a location is expected.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of memctl commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script. If path is a single '-' character an interactive starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of memctl's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit memctl.

	exit [-c]

By default every frozen value is released and the server detaches from the target. When connected to a headless instance started with --accept-multiclient pass -c to leave the server running.`},
	}

	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits a command line the way a shell would, honoring quotes.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

// valueOpts are the options shared by the commands that read or write a
// value.
type valueOpts struct {
	kind     string
	length   int
	encoding string
}

// parseValueOpts consumes the -type, -len and -enc options at the start of
// words and returns the remaining words.
func parseValueOpts(words []string) (opts valueOpts, rest []string, err error) {
	i := 0
	for ; i < len(words) && strings.HasPrefix(words[i], "-") && len(words[i]) > 1; i++ {
		opt := words[i]
		if _, err := strconv.ParseFloat(opt, 64); err == nil {
			// a negative number is a value, not an option
			break
		}
		if i+1 >= len(words) {
			return opts, nil, fmt.Errorf("expected argument after %s", opt)
		}
		i++
		switch opt {
		case "-type", "-t":
			opts.kind = words[i]
		case "-len", "-l":
			opts.length, err = strconv.Atoi(words[i])
			if err != nil || opts.length <= 0 {
				return opts, nil, errors.New("length must be a positive integer")
			}
		case "-enc", "-e":
			opts.encoding = words[i]
		default:
			return opts, nil, fmt.Errorf("unknown option %q", opt)
		}
	}
	return opts, words[i:], nil
}

// location parses a location spec. The saved pointer it refers to, if
// any, supplies defaults for opts.
func (t *Term) location(spec string, opts *valueOpts) (api.Location, error) {
	ls, err := locspec.Parse(spec)
	if err != nil {
		return api.Location{}, err
	}
	loc, err := ls.Location(t.conf.Pointers, t.conf.Module())
	if err != nil {
		return api.Location{}, err
	}
	if saved, ok := ls.(*locspec.SavedLocationSpec); ok && opts != nil {
		sp := t.conf.Pointers[saved.Name]
		if opts.kind == "" {
			opts.kind = sp.Kind
		}
		if opts.encoding == "" {
			opts.encoding = sp.Encoding
		}
		if opts.length == 0 {
			opts.length = sp.Length
		}
	}
	if opts != nil {
		if opts.kind == "" {
			opts.kind = defaultKind
		}
		if opts.encoding == "" {
			opts.encoding = t.conf.Encoding()
		}
	}
	return loc, nil
}

func (t *Term) formatAddr(addr uint64) string {
	return t.colorize(ansiYellow, fmt.Sprintf("%#x", addr))
}

func status(t *Term, args string) error {
	st, err := t.client.State()
	if err != nil {
		return err
	}
	if !st.Open {
		fmt.Fprintf(t.stdout, "Process %s is not running\n", st.Name)
		return nil
	}
	fmt.Fprintf(t.stdout, "Process %s (pid %d), %d-bit, %d frozen value(s)\n", st.Name, st.Pid, st.PtrSize*8, st.Frozen)
	return nil
}

func modules(t *Term, args string) error {
	mods, err := t.client.ListModules()
	if err != nil {
		return err
	}
	t.stdout.pw.PageMaybe(nil)
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, m := range mods {
		if args != "" && !strings.Contains(strings.ToLower(m.Name), strings.ToLower(args)) {
			continue
		}
		fmt.Fprintf(w, "%#x\t%#x\t%s\t%s\n", m.Base, m.Size, m.Name, m.Path)
	}
	return w.Flush()
}

func resolve(t *Term, args string) error {
	words, err := splitArgs(args)
	if err != nil {
		return err
	}
	verbose := false
	if len(words) > 0 && words[0] == "-v" {
		verbose = true
		words = words[1:]
	}
	if len(words) != 1 {
		return errors.New("wrong number of arguments: resolve [-v] <location>")
	}
	loc, err := t.location(words[0], nil)
	if err != nil {
		return err
	}
	addr, hops, err := t.client.Resolve(loc)
	if verbose {
		for i := range hops {
			fmt.Fprintf(t.stdout, "  [%d] %s %#x -> %s\n", i, offsetPrefix(i), loc.Path[i], t.formatAddr(hops[i]))
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s = %s\n", loc, t.formatAddr(addr))
	return nil
}

func offsetPrefix(i int) string {
	if i == 0 {
		return "base +"
	}
	return "*prev +"
}

func readCommand(t *Term, args string) error {
	words, err := splitArgs(args)
	if err != nil {
		return err
	}
	opts, words, err := parseValueOpts(words)
	if err != nil {
		return err
	}
	if len(words) != 1 {
		return errors.New("wrong number of arguments: read [-type <type>] [-len <n>] [-enc <encoding>] <location>")
	}
	loc, err := t.location(words[0], &opts)
	if err != nil {
		return err
	}
	kind, err := proc.ParseKind(opts.kind)
	if err != nil {
		return err
	}

	switch kind {
	case proc.KindString:
		if opts.length <= 0 {
			return errors.New("the length of a string must be given with -len")
		}
	case proc.KindBytes:
		if opts.length <= 0 {
			opts.length = t.conf.BytesPerLine()
		}
		// resolve first so that the dump shows absolute addresses
		addr, _, err := t.client.Resolve(loc)
		if err != nil {
			return err
		}
		v, err := t.client.Read(api.Location{Addr: addr}, kind.String(), opts.length, opts.encoding)
		if err != nil {
			return err
		}
		t.stdout.pw.PageMaybe(nil)
		dumpBytes(t, addr, v.Bytes)
		return nil
	}

	v, err := t.client.Read(loc, kind.String(), opts.length, opts.encoding)
	if err != nil {
		return err
	}
	if kind == proc.KindString {
		fmt.Fprintf(t.stdout, "%s = %q\n", loc, v.Text)
		return nil
	}
	fmt.Fprintf(t.stdout, "%s = %s\n", loc, v.Text)
	return nil
}

// dumpBytes prints buf as rows of hex bytes prefixed by their address.
func dumpBytes(t *Term, addr uint64, buf []byte) {
	cols := t.conf.BytesPerLine()
	for off := 0; off < len(buf); off += cols {
		end := off + cols
		if end > len(buf) {
			end = len(buf)
		}
		row := buf[off:end]
		hexs := make([]string, len(row))
		for i := range row {
			hexs[i] = hex.EncodeToString(row[i : i+1])
		}
		fmt.Fprintf(t.stdout, "%s: %s\n", t.formatAddr(addr+uint64(off)), strings.Join(hexs, " "))
	}
}

// valueCommandArgs parses the arguments of write and freeze. Everything
// after the location is the value, so that byte buffers can be written
// without quotes.
func valueCommandArgs(t *Term, args, usage string) (api.Location, valueOpts, string, error) {
	words, err := splitArgs(args)
	if err != nil {
		return api.Location{}, valueOpts{}, "", err
	}
	opts, words, err := parseValueOpts(words)
	if err != nil {
		return api.Location{}, valueOpts{}, "", err
	}
	if len(words) < 2 {
		return api.Location{}, valueOpts{}, "", fmt.Errorf("wrong number of arguments: %s", usage)
	}
	loc, err := t.location(words[0], &opts)
	if err != nil {
		return api.Location{}, valueOpts{}, "", err
	}
	return loc, opts, strings.Join(words[1:], " "), nil
}

func writeCommand(t *Term, args string) error {
	loc, opts, value, err := valueCommandArgs(t, args, "write [-type <type>] [-enc <encoding>] <location> <value>")
	if err != nil {
		return err
	}
	return t.client.Write(loc, opts.kind, value, opts.encoding)
}

func freezeCommand(t *Term, args string) error {
	loc, opts, value, err := valueCommandArgs(t, args, "freeze [-type <type>] [-enc <encoding>] <location> <value>")
	if err != nil {
		return err
	}
	ok, err := t.client.Freeze(loc, opts.kind, value, opts.encoding)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("could not freeze %s: already frozen or process not running", loc)
	}
	fmt.Fprintf(t.stdout, "%s frozen to %s\n", loc, value)
	return nil
}

func unfreezeCommand(t *Term, args string) error {
	if args == "" {
		return errors.New("wrong number of arguments: unfreeze <location>")
	}
	loc, err := t.location(args, nil)
	if err != nil {
		return err
	}
	ok, err := t.client.Unfreeze(loc)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not frozen", loc)
	}
	return nil
}

func frozenCommand(t *Term, args string) error {
	frozen, err := t.client.ListFrozen()
	if err != nil {
		return err
	}
	if len(frozen) == 0 {
		fmt.Fprintln(t.stdout, "No frozen values")
		return nil
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, fv := range frozen {
		age := time.Since(fv.Since).Round(time.Second)
		line := fmt.Sprintf("%s\t% x\tfor %v", fv.Location, fv.Payload, age)
		if fv.Failures > 0 {
			line += "\t" + t.colorize(ansiRed, fmt.Sprintf("%d failed write(s)", fv.Failures))
		}
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

func protectCommand(t *Term, args string) error {
	words, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(words) != 3 {
		return errors.New("wrong number of arguments: protect <location> <size> <protection>")
	}
	loc, err := t.location(words[0], nil)
	if err != nil {
		return err
	}
	size, err := strconv.ParseInt(words[1], 0, 0)
	if err != nil {
		return fmt.Errorf("invalid size %q: %v", words[1], err)
	}
	old, err := t.client.Protect(loc, int(size), words[2])
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "old protection: %s\n", old)
	return nil
}

func allocCommand(t *Term, args string) error {
	words, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(words) < 1 || len(words) > 3 {
		return errors.New("wrong number of arguments: alloc <size> [<protection> [<type>]]")
	}
	size, err := strconv.ParseInt(words[0], 0, 0)
	if err != nil {
		return fmt.Errorf("invalid size %q: %v", words[0], err)
	}
	prot, typ := "rw", ""
	if len(words) > 1 {
		prot = words[1]
	}
	if len(words) > 2 {
		typ = words[2]
	}
	addr, err := t.client.Allocate(int(size), prot, typ)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "allocated %d bytes at %s\n", size, t.formatAddr(addr))
	return nil
}

func pointersCommand(t *Term, args string) error {
	words, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return listPointers(t)
	}
	switch words[0] {
	case "save":
		opts, rest, err := parseValueOpts(words[1:])
		if err != nil {
			return err
		}
		if len(rest) != 2 {
			return errors.New("wrong number of arguments: pointers save [-type <type>] [-len <n>] [-enc <encoding>] <name> <pointer path>")
		}
		name := strings.TrimPrefix(rest[0], "@")
		ls, err := locspec.Parse(rest[1])
		if err != nil {
			return err
		}
		pls, ok := ls.(*locspec.PathLocationSpec)
		if !ok {
			return fmt.Errorf("%s is not a pointer path", rest[1])
		}
		if opts.kind != "" {
			if _, err := proc.ParseKind(opts.kind); err != nil {
				return err
			}
		}
		if t.conf.Pointers == nil {
			t.conf.Pointers = map[string]config.SavedPointer{}
		}
		t.conf.Pointers[name] = config.SavedPointer{
			Module:   pls.Module,
			Path:     pls.Path.String(),
			Kind:     opts.kind,
			Encoding: opts.encoding,
			Length:   opts.length,
		}
		return config.SaveConfig(t.conf)
	case "rm":
		if len(words) != 2 {
			return errors.New("wrong number of arguments: pointers rm <name>")
		}
		name := strings.TrimPrefix(words[1], "@")
		if _, ok := t.conf.Pointers[name]; !ok {
			return fmt.Errorf("no saved pointer named %q", name)
		}
		delete(t.conf.Pointers, name)
		return config.SaveConfig(t.conf)
	}
	return fmt.Errorf("unknown subcommand %q", words[0])
}

func listPointers(t *Term) error {
	names := t.conf.PointerNames()
	if len(names) == 0 {
		fmt.Fprintln(t.stdout, "No saved pointers")
		return nil
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, name := range names {
		sp := t.conf.Pointers[name]
		module := sp.Module
		if module == "" {
			module = t.conf.Module()
		}
		kind := sp.Kind
		if kind == "" {
			kind = defaultKind
		}
		fmt.Fprintf(w, "@%s\t%s!%s\t%s\n", name, module, sp.Path, kind)
	}
	return w.Flush()
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return errors.New("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, args string) error {
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range strings.Fields(args) {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			} else {
				path = arg
			}
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned by the exit command.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	switch args {
	case "":
	case "-c":
		t.keepServer = true
	default:
		return fmt.Errorf("unknown option %q", args)
	}
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
