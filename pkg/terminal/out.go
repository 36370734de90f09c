package terminal

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-isatty"
)

// transcriptWriter is the output of the terminal. Everything goes to pw
// and, while a transcript is active, to the transcript file as well.
type transcriptWriter struct {
	pw *pagingWriter

	transcript *bufio.Writer
	closer     io.Closer
	// fileOnly suppresses pw while a transcript is active.
	fileOnly bool
}

func (w *transcriptWriter) Write(p []byte) (int, error) {
	n := len(p)
	if !w.fileOnly || w.transcript == nil {
		var err error
		if n, err = w.pw.Write(p); err != nil {
			return n, err
		}
	}
	if w.transcript != nil {
		return w.transcript.Write(p)
	}
	return n, nil
}

// Echo writes str to the transcript only, used for the commands typed at
// the prompt.
func (w *transcriptWriter) Echo(str string) {
	if w.transcript != nil {
		w.transcript.WriteString(str)
	}
}

func (w *transcriptWriter) Flush() {
	if w.transcript != nil {
		w.transcript.Flush()
	}
}

// TranscribeTo starts copying the output to fh, replacing the current
// transcript. With fileOnly the terminal itself stays silent.
func (w *transcriptWriter) TranscribeTo(fh io.WriteCloser, fileOnly bool) {
	w.CloseTranscript()
	w.transcript = bufio.NewWriter(fh)
	w.closer = fh
	w.fileOnly = fileOnly
}

// CloseTranscript stops the transcript, if any.
func (w *transcriptWriter) CloseTranscript() error {
	if w.transcript == nil {
		return nil
	}
	ferr := w.transcript.Flush()
	err := w.closer.Close()
	w.transcript, w.closer, w.fileOnly = nil, nil, false
	if ferr != nil {
		return ferr
	}
	return err
}

// pagingWriter writes to w. After PageMaybe output is held back until it
// either fits the screen, and is written to w on Reset, or overflows it,
// and the whole of it is piped to a pager.
type pagingWriter struct {
	w io.Writer

	armed   bool
	pending []byte
	// lines and col track the screen position of pending.
	lines, col int

	pager    *exec.Cmd
	pagerIn  io.WriteCloser
	onBroken func()

	screenLines, screenColumns int
}

func (w *pagingWriter) Write(p []byte) (int, error) {
	switch {
	case w.pager != nil:
		n, err := w.pagerIn.Write(p)
		if err != nil && w.onBroken != nil {
			w.onBroken()
			w.onBroken = nil
		}
		return n, err
	case !w.armed:
		return w.w.Write(p)
	}

	w.pending = append(w.pending, p...)
	if !w.overflows(p) {
		return len(p), nil
	}
	if err := w.startPager(); err != nil {
		w.armed = false
		buf := w.pending
		w.pending = nil
		if _, err := w.w.Write(buf); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	return len(p), nil
}

// overflows advances the screen position by p and reports whether
// pending no longer fits the screen.
func (w *pagingWriter) overflows(p []byte) bool {
	for _, c := range p {
		w.col++
		if c == '\n' || (w.screenColumns > 0 && w.col > w.screenColumns) {
			w.lines++
			w.col = 0
		}
	}
	return w.lines >= w.screenLines
}

func (w *pagingWriter) startPager() error {
	name := os.Getenv("MEMCTL_PAGER")
	if name == "" {
		name = os.Getenv("PAGER")
	}
	if name == "" {
		name = "more"
	}
	cmd := exec.Command(name)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	in, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	w.pager, w.pagerIn = cmd, in
	_, err = in.Write(w.pending)
	w.pending = nil
	return err
}

// Reset writes out what was held back, waits for the pager to exit and
// returns to unbuffered output.
func (w *pagingWriter) Reset() {
	if w.pager != nil {
		w.pagerIn.Close()
		w.pager.Wait()
	} else if len(w.pending) > 0 {
		w.w.Write(w.pending)
	}
	w.armed = false
	w.pending = nil
	w.lines, w.col = 0, 0
	w.pager, w.pagerIn, w.onBroken = nil, nil, nil
}

// PageMaybe holds back the output of the current command so that it can
// be sent to a pager if it turns out to be longer than the screen.
// onBroken is called once if writing to the pager fails.
// Paging is skipped when the output is not a terminal, unless MEMCTL_PAGER
// is set.
func (w *pagingWriter) PageMaybe(onBroken func()) {
	if w.armed || w.pager != nil {
		return
	}
	if os.Getenv("MEMCTL_PAGER") == "" {
		if f, ok := w.w.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
			return
		}
		if strings.EqualFold(os.Getenv("TERM"), "dumb") {
			return
		}
	}
	lines, columns, ok := windowSize()
	if !ok {
		return
	}
	w.screenLines, w.screenColumns = lines, columns
	w.armed = true
	w.onBroken = onBroken
}
