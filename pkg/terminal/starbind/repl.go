package starbind

import (
	"fmt"
	"io"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/liner"
	lru "github.com/hashicorp/golang-lru"
)

const (
	normalPrompt = ">>> "
	extraPrompt  = "... "

	exitCommand = "exit"
)

// REPL reads starlark statements from the terminal and executes them
// until "exit" or EOF. Globals defined at the prompt are then exported the
// same way as those of a script.
func (env *Env) REPL() error {
	thread := env.newThread()
	globals := make(starlark.StringDict, len(env.env))
	for k, v := range env.env {
		globals[k] = v
	}

	rl := liner.NewLiner()
	defer rl.Close()
	for {
		if err := isCancelled(thread); err != nil {
			return err
		}
		chunk, err := readChunk(rl, env.out)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		env.evalChunk(thread, chunk, globals)
	}
	fmt.Fprintln(env.out)
	return env.exportGlobals(globals)
}

// readChunk reads one statement. A first line ending with ':' opens a
// block, which is closed by an empty line.
func readChunk(rl *liner.State, out EchoWriter) (string, error) {
	var lines []string
	prompt := normalPrompt
	for {
		line, err := rl.Prompt(prompt)
		if err != nil {
			return "", err
		}
		out.Echo(prompt + line + "\n")
		trimmed := strings.TrimSpace(line)
		if len(lines) == 0 && trimmed == exitCommand {
			return "", io.EOF
		}
		if trimmed != "" {
			rl.AppendHistory(line)
		}
		lines = append(lines, line)
		if len(lines) == 1 && !strings.HasSuffix(trimmed, ":") {
			break
		}
		if len(lines) > 1 && trimmed == "" {
			break
		}
		prompt = extraPrompt
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// evalChunk executes chunk in globals. The value of a lone expression is
// printed, errors are printed and otherwise ignored.
func (env *Env) evalChunk(thread *starlark.Thread, chunk string, globals starlark.StringDict) {
	defer env.out.Flush()

	f, err := syntax.Parse("<stdin>", chunk, 0)
	if err != nil {
		env.printError(err)
		return
	}
	if len(f.Stmts) == 1 {
		if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			v, err := starlark.EvalExpr(thread, stmt.X, globals)
			if err != nil {
				env.printError(err)
			} else if v != starlark.None {
				fmt.Fprintln(env.out, v)
			}
			return
		}
	}

	prog, err := starlark.FileProgram(f, globals.Has)
	if err != nil {
		env.printError(err)
		return
	}
	res, err := prog.Init(thread, globals)
	if err != nil {
		env.printError(err)
	}
	// globals assigned before a failure are kept
	for k, v := range res {
		globals[k] = v
	}
}

func (env *Env) printError(err error) {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		fmt.Fprintln(env.out, evalErr.Backtrace())
		return
	}
	fmt.Fprintln(env.out, err)
}

// loadCacheSize is the number of loaded modules kept by a loader.
const loadCacheSize = 64

// MakeLoad returns a simple sequential implementation of module loading
// suitable for use in the REPL.
// Each function returned by MakeLoad accesses a distinct private cache,
// bounded to the most recently loaded modules.
func MakeLoad() func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	type entry struct {
		globals starlark.StringDict
		err     error
	}

	cache, _ := lru.New(loadCacheSize)
	inProgress := make(map[string]bool)

	return func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
		if v, ok := cache.Get(module); ok {
			e := v.(*entry)
			return e.globals, e.err
		}
		if inProgress[module] {
			return nil, fmt.Errorf("cycle in load graph")
		}
		inProgress[module] = true
		defer delete(inProgress, module)

		thread = &starlark.Thread{Name: "exec " + module, Load: thread.Load}
		globals, err := starlark.ExecFile(thread, module, nil, nil)
		cache.Add(module, &entry{globals, err})
		return globals, err
	}
}
