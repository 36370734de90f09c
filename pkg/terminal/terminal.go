package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"

	"github.com/memctl/memctl/pkg/config"
	"github.com/memctl/memctl/pkg/terminal/starbind"
	"github.com/memctl/memctl/service"
)

const (
	historyFile                 string = ".memctl_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// Term represents the terminal running memctl.
type Term struct {
	client      service.Client
	conf        *config.Config
	prompt      string
	line        *liner.State
	cmds        *Commands
	stdout      *transcriptWriter
	dumb        bool
	InitFile    string
	starlarkEnv *starbind.Env

	// keepServer is set by "exit -c" to leave a headless server running
	// instead of detaching it.
	keepServer bool
}

// New returns a new Term.
func New(client service.Client, conf *config.Config) *Term {
	cmds := MemoryCommands(client)
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		// translates escape sequences for the Windows console, os.Stdout
		// elsewhere
		w = colorable.NewColorableStdout()
	}

	t := &Term{
		client: client,
		conf:   conf,
		prompt: "(memctl) ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		dumb:   dumb,
		stdout: &transcriptWriter{pw: &pagingWriter{w: w}},
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
	if err := t.stdout.CloseTranscript(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing transcript file: %v\n", err)
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(t.stdout, "received SIGINT, use 'exit' to leave\n")
	}
}

// completer returns the command aliases starting with the line typed so
// far or, once a command is complete, the saved pointers matching the last
// word.
func (t *Term) completer() func(string) []string {
	cmds := trie.New()
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			cmds.Add(alias, nil)
		}
	}
	ptrs := trie.New()
	for _, name := range t.conf.PointerNames() {
		ptrs.Add("@"+name, nil)
	}

	return func(line string) (c []string) {
		idx := strings.LastIndexAny(line, " \t")
		if idx < 0 {
			return cmds.PrefixSearch(strings.ToLower(line))
		}
		head, word := line[:idx+1], line[idx+1:]
		if !strings.HasPrefix(word, "@") {
			return nil
		}
		for _, m := range ptrs.PrefixSearch(word) {
			c = append(c, head+m)
		}
		return c
	}
}

// Run begins running memctl in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.completer())

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, errors.New("prompt for input failed")
		}
		t.stdout.Echo(t.prompt + cmdstr + "\n")

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
		t.stdout.Flush()
		t.stdout.pw.Reset()
	}
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	if !t.dumb {
		prefix = fmt.Sprintf(terminalHighlightEscapeCode+"%s"+terminalResetEscapeCode, ansiBlue, prefix)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

// colorize wraps s in the escape sequence for color unless the terminal is
// dumb.
func (t *Term) colorize(color int, s string) string {
	if t.dumb {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode+"%s"+terminalResetEscapeCode, color, s)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if t.keepServer {
		if err := t.client.Disconnect(); err != nil {
			return 2, err
		}
		return 0, nil
	}
	if err := t.client.Detach(); err != nil {
		return 1, err
	}
	return 0, nil
}
