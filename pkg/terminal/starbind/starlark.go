package starbind

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/memctl/memctl/service"
	"github.com/memctl/memctl/service/api"
)

const (
	memctlCommandBuiltinName = "memctl_command"
	readFileBuiltinName      = "read_file"
	writeFileBuiltinName     = "write_file"
	memReadBuiltinName       = "mem_read"
	memWriteBuiltinName      = "mem_write"
	memFreezeBuiltinName     = "mem_freeze"
	memUnfreezeBuiltinName   = "mem_unfreeze"
	memResolveBuiltinName    = "mem_resolve"
	memStateBuiltinName      = "mem_state"
	memModulesBuiltinName    = "mem_modules"
	memFrozenBuiltinName     = "mem_frozen"
	helpBuiltinName          = "help"
	commandPrefix            = "command_"
	memctlContextName        = "memctl_context"
	defaultKind              = "int32"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
// It contains methods to call API functions, command line commands, etc.
type Context interface {
	Client() service.Client
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
	// Location parses a location spec such as "*0x1000",
	// "game.exe!0x10,0x8" or "@health".
	Location(spec string) (api.Location, error)
	DefaultEncoding() string
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc
	load      func(thread *starlark.Thread, module string) (starlark.StringDict, error)
	doc       map[string]string

	ctx Context
	out EchoWriter
}

type builtinFunc func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// New creates a new starlark binding environment.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{
		env:  starlark.StringDict{},
		doc:  map[string]string{},
		load: MakeLoad(),
		ctx:  ctx,
		out:  out,
	}

	// Make the "time" module available to Starlark scripts.
	starlark.Universe["time"] = startime.Module

	for _, b := range []struct {
		name, args, descr string
		fn                builtinFunc
	}{
		{memctlCommandBuiltinName, "(Command)", "executes a memctl command.", env.memctlCommand},
		{memReadBuiltinName, `(Location, Kind="int32", Length=0, Encoding="")`, "reads a value from the target. Length is required for strings and byte buffers.", env.memRead},
		{memWriteBuiltinName, `(Location, Value, Kind="int32", Encoding="")`, "writes a value to the target.", env.memWrite},
		{memFreezeBuiltinName, `(Location, Value, Kind="int32", Encoding="")`, "keeps a value written at a pointer path. Returns False if the location is already frozen.", env.memFreeze},
		{memUnfreezeBuiltinName, "(Location)", "stops freezing a value. Returns False if it was not frozen.", env.memUnfreeze},
		{memResolveBuiltinName, "(Location)", "returns the address a location refers to.", env.memResolve},
		{memStateBuiltinName, "()", "returns the state of the target, with the fields Name, Open, Pid, PtrSize and Frozen.", env.memState},
		{memModulesBuiltinName, "()", "returns the modules loaded in the target. Each has the fields Name, Path, Base and Size.", env.memModules},
		{memFrozenBuiltinName, "()", "returns the active freezes. Each has the fields Key, Location, Payload, Since and Failures.", env.memFrozen},
		{readFileBuiltinName, "(Path)", "reads a file.", readFile},
		{writeFileBuiltinName, "(Path, Text)", "writes text to the specified file.", writeFile},
		{helpBuiltinName, "(Object)", "prints help for Object.", env.help},
	} {
		fn := b.fn
		env.env[b.name] = starlark.NewBuiltin(b.name, func(thread *starlark.Thread, bi *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := isCancelled(thread); err != nil {
				return starlark.None, err
			}
			v, err := fn(thread, bi, args, kwargs)
			if err != nil {
				return nil, decorateError(thread, err)
			}
			return v, nil
		})
		env.doc[b.name] = b.name + b.args + "\n\n" + b.name + " " + b.descr
	}

	return env
}

func (env *Env) memctlCommand(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	words := make([]string, len(args))
	for i := range args {
		s, ok := args[i].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("argument %d of memctl_command is not a string", i)
		}
		words[i] = string(s)
	}
	return starlark.None, env.ctx.CallCommand(strings.Join(words, " "))
}

func (env *Env) memRead(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var spec, encoding string
	kind, length := defaultKind, 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "Location", &spec, "Kind?", &kind, "Length?", &length, "Encoding?", &encoding); err != nil {
		return nil, err
	}
	loc, err := env.ctx.Location(spec)
	if err != nil {
		return nil, err
	}
	v, err := env.ctx.Client().Read(loc, kind, length, env.encoding(encoding))
	if err != nil {
		return nil, err
	}
	return valueToStarlark(v)
}

func (env *Env) memWrite(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	loc, kind, text, encoding, err := env.unpackValueArgs(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.None, env.ctx.Client().Write(loc, kind, text, encoding)
}

func (env *Env) memFreeze(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	loc, kind, text, encoding, err := env.unpackValueArgs(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	ok, err := env.ctx.Client().Freeze(loc, kind, text, encoding)
	return starlark.Bool(ok), err
}

func (env *Env) memUnfreeze(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	loc, err := env.unpackLocation(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	ok, err := env.ctx.Client().Unfreeze(loc)
	return starlark.Bool(ok), err
}

func (env *Env) memResolve(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	loc, err := env.unpackLocation(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	addr, _, err := env.ctx.Client().Resolve(loc)
	if err != nil {
		return nil, err
	}
	return starlark.MakeUint64(addr), nil
}

func (env *Env) memState(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	state, err := env.ctx.Client().State()
	if err != nil {
		return nil, err
	}
	return toStarlark(state), nil
}

func (env *Env) memModules(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	mods, err := env.ctx.Client().ListModules()
	if err != nil {
		return nil, err
	}
	return toStarlark(mods), nil
}

func (env *Env) memFrozen(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	frozen, err := env.ctx.Client().ListFrozen()
	if err != nil {
		return nil, err
	}
	return toStarlark(frozen), nil
}

func readFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
		return nil, err
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return starlark.String(buf), nil
}

func writeFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &path, &v); err != nil {
		return nil, err
	}
	text := v.String()
	if s, ok := v.(starlark.String); ok {
		text = string(s)
	}
	return starlark.None, os.WriteFile(path, []byte(text), 0640)
}

func (env *Env) help(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var obj starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &obj); err != nil {
		return nil, err
	}
	switch x := obj.(type) {
	case nil:
		names := make([]string, 0, len(env.doc))
		for name := range env.doc {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(env.out, "Available builtins:")
		for _, name := range names {
			fmt.Fprintf(env.out, "\t%s\n", name)
		}
	case *starlark.Builtin:
		if d := env.doc[x.Name()]; d != "" {
			fmt.Fprintln(env.out, d)
		} else {
			fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
		}
	case *starlark.Function:
		fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
		if d := x.Doc(); d != "" {
			fmt.Fprintln(env.out, d)
		}
	default:
		fmt.Fprintf(env.out, "no help for object of type %s\n", obj.Type())
	}
	return starlark.None, nil
}

func (env *Env) unpackLocation(fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (api.Location, error) {
	var spec string
	if err := starlark.UnpackArgs(fnname, args, kwargs, "Location", &spec); err != nil {
		return api.Location{}, err
	}
	return env.ctx.Location(spec)
}

func (env *Env) encoding(enc string) string {
	if enc == "" {
		return env.ctx.DefaultEncoding()
	}
	return enc
}

// unpackValueArgs unpacks the arguments of mem_write and mem_freeze.
func (env *Env) unpackValueArgs(fnname string, args starlark.Tuple, kwargs []starlark.Tuple) (loc api.Location, kind, text, encoding string, err error) {
	var spec string
	var value starlark.Value
	kind = defaultKind
	if err = starlark.UnpackArgs(fnname, args, kwargs, "Location", &spec, "Value", &value, "Kind?", &kind, "Encoding?", &encoding); err != nil {
		return
	}
	if loc, err = env.ctx.Location(spec); err != nil {
		return
	}
	text, err = starlarkToText(value)
	return loc, kind, text, env.encoding(encoding), err
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out EchoWriter) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute runs the script at path, reading it from source when source is
// not nil ([]byte, string or io.Reader). Globals it defines are exported
// and, if mainFnName names a function, it is called with args.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (v starlark.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = starlark.None, fmt.Errorf("panic executing starlark script: %v", r)
			fmt.Fprintf(env.out, "%v\n%s", err, debug.Stack())
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err == nil {
		err = env.exportGlobals(globals)
	}
	if err != nil {
		return starlark.None, err
	}
	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals keeps capitalized globals for later scripts and turns
// command_ functions into terminal commands.
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		if cmd, ok := strings.CutPrefix(name, commandPrefix); ok {
			if fn, ok := val.(*starlark.Function); ok {
				env.registerCommand(cmd, fn)
			}
			continue
		}
		if c := name[0]; c >= 'A' && c <= 'Z' {
			env.env[name] = val
		}
	}
	return nil
}

// Cancel interrupts the running script, if any.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	defer env.contextMu.Unlock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{Print: env.printFunc(), Load: env.load}
	ctx, cancel := context.WithCancel(context.Background())
	thread.SetLocal(memctlContextName, ctx)

	env.contextMu.Lock()
	env.cancelfn = cancel
	env.thread = thread
	env.contextMu.Unlock()
	return thread
}

// registerCommand exposes fn as a terminal command. A function taking a
// single parameter called args receives the raw argument string, any other
// function gets the arguments evaluated as a starlark tuple.
func (env *Env) registerCommand(name string, fn *starlark.Function) {
	helpMsg := fn.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	rawArgs := false
	if fn.NumParams() == 1 {
		p0, _ := fn.Param(0)
		rawArgs = p0 == "args"
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		var argtuple starlark.Tuple
		if rawArgs {
			argtuple = starlark.Tuple{starlark.String(args)}
		} else {
			argval, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
			if err != nil {
				return err
			}
			if t, ok := argval.(starlark.Tuple); ok {
				argtuple = t
			} else {
				argtuple = starlark.Tuple{argval}
			}
		}
		_, err := starlark.Call(thread, fn, argtuple, nil)
		return err
	})
}

func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []interface{}) (starlark.Value, error) {
	mainval, found := globals[mainFnName]
	if mainFnName == "" || !found {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	switch {
	case !ok:
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	case mainfn.NumParams() != len(args):
		return starlark.None, fmt.Errorf("%s takes %d arguments, %d given", mainFnName, mainfn.NumParams(), len(args))
	}
	argtuple := make(starlark.Tuple, 0, len(args))
	for _, arg := range args {
		argtuple = append(argtuple, toStarlark(arg))
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func isCancelled(thread *starlark.Thread) error {
	ctx, ok := thread.Local(memctlContextName).(context.Context)
	if !ok {
		return nil
	}
	return ctx.Err()
}

// decorateError prefixes err with the script position of the builtin call.
func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", thread.CallFrame(1).Pos, err)
}

// EchoWriter is where script output goes. Echo records text in the
// transcript without showing it.
type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}
