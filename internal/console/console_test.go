package console

import (
	"bytes"
	"net"
	"strings"
	"sync"
	"testing"

	"dbgpsh/internal/command"
	"dbgpsh/internal/lineedit"
	"dbgpsh/internal/session"
	"dbgpsh/util"
)

// recorder is a Dispatcher that remembers what it was asked to run.
type recorder struct {
	c        *Console
	lines    []string
	sessions []*session.Session
	inside   []bool
	quitOn   string
	say      string
}

func (r *recorder) Call(line string, sess *session.Session) command.Result {
	r.lines = append(r.lines, line)
	r.sessions = append(r.sessions, sess)
	if r.c != nil {
		r.inside = append(r.inside, r.c.insideCallback)
		if r.say != "" {
			r.c.WriteLine(r.say)
		}
	}
	if line == r.quitOn {
		return command.Terminate
	}
	return command.Continue
}

func newConsole(t *testing.T, opts Options) (*Console, *recorder, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	if opts.Prompt == "" {
		opts.Prompt = "-> "
	}
	ed := lineedit.New(&out, opts.CRLF)
	rec := &recorder{quitOn: "quit"}
	c := New(&out, ed, rec, opts)
	rec.c = c
	return c, rec, &out
}

func TestConsole_StartShowsPromptAndBanner(t *testing.T) {
	c, _, out := newConsole(t, Options{})
	c.Start("dbgpsh 1.0")

	if !strings.Contains(out.String(), "dbgpsh 1.0\n") {
		t.Errorf("banner missing: %q", out.String())
	}
	// The banner erased the first prompt; the loop shows it again.
	if c.visible {
		t.Error("prompt should be hidden after the banner")
	}
	out.Reset()
	c.ShowPrompt()
	if out.String() != "-> \x1b[K" {
		t.Errorf("ShowPrompt wrote %q", out.String())
	}
}

func TestConsole_ShowPromptBeforeStart(t *testing.T) {
	c, _, out := newConsole(t, Options{})
	c.ShowPrompt()
	if out.Len() != 0 || c.visible {
		t.Errorf("prompt drawn before Start: %q", out.String())
	}
}

func TestConsole_ShowPromptIdempotent(t *testing.T) {
	c, _, out := newConsole(t, Options{})
	c.Start("")
	c.WriteLine("x")
	out.Reset()

	c.ShowPrompt()
	first := out.String()
	c.ShowPrompt()
	if out.String() != first {
		t.Errorf("second ShowPrompt wrote %q", strings.TrimPrefix(out.String(), first))
	}
	if !c.visible {
		t.Error("prompt should be visible")
	}
}

func TestConsole_WriteLineErasesPromptAndInput(t *testing.T) {
	c, _, out := newConsole(t, Options{})
	c.Start("")
	c.Feed([]byte("abc"))
	out.Reset()

	c.WriteLine("Rejected connection from a [1.2.3.4]")

	want := "\r" + strings.Repeat(" ", 6) + "\r" + "Rejected connection from a [1.2.3.4]\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if c.visible {
		t.Error("prompt should be marked hidden")
	}

	// Nothing to erase the second time.
	out.Reset()
	c.WriteLine("again")
	if out.String() != "again\n" {
		t.Errorf("second line = %q", out.String())
	}
}

func TestConsole_WriteLineWideRunes(t *testing.T) {
	c, _, out := newConsole(t, Options{Prompt: "dbg> "})
	c.Start("")
	c.Feed([]byte("日本"))
	out.Reset()

	c.WriteLine("x")
	if !strings.HasPrefix(out.String(), "\r"+strings.Repeat(" ", 9)+"\r") {
		t.Errorf("erase = %q, want 9 blanks", out.String())
	}
}

func TestConsole_WriteLineMultiLineCRLF(t *testing.T) {
	c, _, out := newConsole(t, Options{CRLF: true})
	c.WriteLine("one\ntwo\r\nthree")
	if out.String() != "one\r\ntwo\r\nthree\r\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestConsole_Quiet(t *testing.T) {
	c, _, out := newConsole(t, Options{Quiet: true})
	c.WriteLine("hidden")
	if out.Len() != 0 {
		t.Errorf("quiet console wrote %q", out.String())
	}
	c.quiet = false
	c.WriteLine("shown")
	if out.String() != "shown\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestConsole_NoEraseInsideCallback(t *testing.T) {
	c, rec, out := newConsole(t, Options{})
	rec.say = "Unknown command"
	c.Start("")
	out.Reset()

	c.Feed([]byte("bogus\n"))

	if len(rec.inside) != 1 || !rec.inside[0] {
		t.Fatalf("dispatch not flagged as inside the callback: %v", rec.inside)
	}
	if strings.Contains(out.String(), "\r   ") {
		t.Errorf("prompt erased during dispatch: %q", out.String())
	}
	if !strings.Contains(out.String(), "bogus\nUnknown command\n") {
		t.Errorf("output = %q", out.String())
	}
	if c.insideCallback {
		t.Error("insideCallback left set")
	}
	if !c.visible || !strings.HasSuffix(out.String(), "-> \x1b[K") {
		t.Errorf("prompt not re-armed: %q", out.String())
	}
}

func TestConsole_BlankLinesAreNoops(t *testing.T) {
	c, rec, _ := newConsole(t, Options{})
	c.Start("")

	c.Feed([]byte("\n   \n\t\n"))
	if len(rec.lines) != 0 {
		t.Errorf("blank lines dispatched: %q", rec.lines)
	}
	c.Feed([]byte("  status  \n"))
	if len(rec.lines) != 1 || rec.lines[0] != "status" {
		t.Errorf("lines = %q, want trimmed status", rec.lines)
	}

	// Ctrl-P recalls the dispatched line.
	c.Feed([]byte("\x10\n"))
	if len(rec.lines) != 2 || rec.lines[1] != "status" {
		t.Errorf("history recall = %q", rec.lines)
	}
}

func TestConsole_TerminateSkipsRearm(t *testing.T) {
	c, rec, _ := newConsole(t, Options{})
	c.Start("")

	c.Feed([]byte("quit\nstatus\n"))

	if len(rec.lines) != 1 {
		t.Fatalf("lines = %q, input after quit must be discarded", rec.lines)
	}
	if !c.Terminated() {
		t.Error("Terminated() = false")
	}
	if c.editor.Installed() {
		t.Error("editor re-armed after quit")
	}
	if c.insideCallback {
		t.Error("insideCallback left set")
	}

	c.ShowPrompt()
	if c.visible {
		t.Error("ShowPrompt after termination should do nothing")
	}
}

func TestConsole_CtrlDTerminates(t *testing.T) {
	c, rec, _ := newConsole(t, Options{})
	c.Start("")
	c.Feed([]byte{0x04})

	if !c.Terminated() || len(rec.lines) != 0 {
		t.Errorf("terminated=%v lines=%q", c.Terminated(), rec.lines)
	}
}

func TestConsole_Submit(t *testing.T) {
	c, rec, out := newConsole(t, Options{})
	c.Start("")
	out.Reset()

	c.Submit("start app.php")
	if len(rec.lines) != 1 || rec.lines[0] != "start app.php" {
		t.Fatalf("lines = %q", rec.lines)
	}
	if !strings.HasPrefix(out.String(), "\n") {
		t.Errorf("Submit should leave the prompt line: %q", out.String())
	}
	if !c.visible {
		t.Error("prompt should be re-armed")
	}

	c.Submit("quit")
	c.Submit("status")
	if len(rec.lines) != 2 {
		t.Errorf("Submit after termination dispatched: %q", rec.lines)
	}
}

func TestConsole_PassesSession(t *testing.T) {
	c, rec, _ := newConsole(t, Options{})
	c.Start("")

	c.Feed([]byte("status\n"))

	local, remote := net.Pipe()
	defer remote.Close()
	s := session.New(local, nopProtocol{}, util.NewLogger(0), nil)
	defer s.Close()
	c.SetSession(s)
	c.Feed([]byte("status\n"))

	c.SetSession(nil)
	c.Feed([]byte("status\n"))

	if len(rec.sessions) != 3 {
		t.Fatalf("dispatches = %d", len(rec.sessions))
	}
	if rec.sessions[0] != nil || rec.sessions[1] != s || rec.sessions[2] != nil {
		t.Errorf("sessions = %v", rec.sessions)
	}
	if c.Session() != nil {
		t.Error("Session() should be nil after SetSession(nil)")
	}
}

type nopProtocol struct{}

func (nopProtocol) Feed([]byte) error { return nil }
func (nopProtocol) Pending() bool     { return false }

func TestConsole_WriteAndFlush(t *testing.T) {
	c, _, out := newConsole(t, Options{})
	c.Start("")
	out.Reset()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Write([]byte("[WRN] gateway lost\n")) //nolint:errcheck
		}()
	}
	wg.Wait()
	c.Write([]byte("[INF] partial")) //nolint:errcheck

	select {
	case <-c.Backlog():
	default:
		t.Fatal("Backlog not signalled")
	}
	if out.Len() != 0 {
		t.Fatalf("Write printed directly: %q", out.String())
	}

	c.Flush()
	if n := strings.Count(out.String(), "[WRN] gateway lost\n"); n != 4 {
		t.Errorf("flushed %d lines: %q", n, out.String())
	}
	if strings.Contains(out.String(), "partial") {
		t.Error("partial line flushed early")
	}

	out.Reset()
	c.Write([]byte(" line\n")) //nolint:errcheck
	c.Flush()
	if out.String() != "[INF] partial line\n" {
		t.Errorf("completed line = %q", out.String())
	}
}

func TestConsole_NoticeColor(t *testing.T) {
	for _, l := range []Level{Plain, Muted, Warning, Failure, Banner} {
		c, _, out := newConsole(t, Options{})
		c.Notice(l, "Debugger Disconnected")
		if out.String() != "Debugger Disconnected\n" {
			t.Errorf("uncoloured notice at level %d = %q", l, out.String())
		}
	}
}
