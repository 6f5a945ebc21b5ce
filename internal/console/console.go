// Package console owns the operator's prompt.
//
// The console keeps the prompt and asynchronous output from trampling
// each other: before a line is printed while the prompt is on screen,
// the prompt (and whatever the operator has typed so far) is blanked
// out, and the line editor redraws it when the loop next shows it.
// Output produced while a command line is being dispatched is printed
// as is, since the editor has already moved to a fresh line.
//
// A Console belongs to the goroutine running the event loop.  The one
// exception is [Console.Write], which other goroutines may call; their
// text is queued and printed by [Console.Flush].
package console

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"dbgpsh/internal/command"
	"dbgpsh/internal/lineedit"
	"dbgpsh/internal/session"
)

// Dispatcher runs one command line.
type Dispatcher interface {
	Call(line string, sess *session.Session) command.Result
}

// Options configures a Console.
type Options struct {
	Prompt string
	Quiet  bool // suppress WriteLine output
	Color  bool
	CRLF   bool // terminal is in raw mode
}

// Console is the prompt state plus the glue between the line editor
// and the command dispatcher.
type Console struct {
	out        io.Writer
	editor     *lineedit.Editor
	dispatcher Dispatcher

	prompt string
	nl     string
	quiet  bool
	color  bool

	visible        bool
	insideCallback bool
	terminated     bool
	session        *session.Session

	backlogMu sync.Mutex
	backlog   bytes.Buffer
	notify    chan struct{}
}

// New returns a console writing to out.  Call [Console.Start] to put
// up the first prompt.
func New(out io.Writer, editor *lineedit.Editor, d Dispatcher, opts Options) *Console {
	nl := "\n"
	if opts.CRLF {
		nl = "\r\n"
	}
	c := &Console{
		out:        out,
		editor:     editor,
		dispatcher: d,
		prompt:     opts.Prompt,
		nl:         nl,
		quiet:      opts.Quiet,
		color:      opts.Color,
		notify:     make(chan struct{}, 1),
	}
	editor.OnEOF(c.onEOF)
	return c
}

// Start installs the line handler, which draws the prompt, and prints
// banner (if any) above it.
func (c *Console) Start(banner string) {
	c.editor.Install(c.prompt, c.OnLineComplete)
	c.visible = true
	if banner != "" {
		c.Notice(Banner, banner)
	}
}

// ── Prompt state ─────────────────────────────────────────────────────

// ShowPrompt draws the prompt on a fresh line unless it is already on
// screen or no line handler is installed (before Start, after exit).
func (c *Console) ShowPrompt() {
	if c.visible || c.terminated || !c.editor.Installed() {
		return
	}
	c.editor.OnNewLine()
	c.editor.Redisplay()
	c.visible = true
}

// WriteLine prints text on its own line(s), blanking the prompt first
// when it is on screen and no command is being dispatched.
func (c *Console) WriteLine(text string) {
	if c.quiet {
		return
	}
	if c.visible && !c.insideCallback {
		width := c.editor.PromptWidth() + c.editor.BufferWidth()
		io.WriteString(c.out, "\r"+strings.Repeat(" ", width)+"\r") //nolint:errcheck
		c.visible = false
	}

	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteString(c.nl)
	}
	io.WriteString(c.out, b.String()) //nolint:errcheck
}

// Notice prints text in the style for l.
func (c *Console) Notice(l Level, text string) {
	c.WriteLine(c.style(l, text))
}

// ── Asynchronous output ──────────────────────────────────────────────

// Write queues p for printing by Flush.  It is safe for concurrent use
// and is what the logger writes to.
func (c *Console) Write(p []byte) (int, error) {
	c.backlogMu.Lock()
	c.backlog.Write(p)
	c.backlogMu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Backlog signals that Write has queued text.
func (c *Console) Backlog() <-chan struct{} { return c.notify }

// Flush prints queued complete lines through WriteLine.  A trailing
// partial line stays queued.
func (c *Console) Flush() {
	c.backlogMu.Lock()
	data := c.backlog.Bytes()
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		c.backlogMu.Unlock()
		return
	}
	text := string(data[:end])
	c.backlog.Next(end + 1)
	c.backlogMu.Unlock()

	c.WriteLine(text)
}

// ── Input ────────────────────────────────────────────────────────────

// Feed passes raw terminal input to the line editor.  A completed line
// is dispatched before Feed returns.
func (c *Console) Feed(p []byte) { c.editor.Feed(p) }

// OnLineComplete handles one line from the editor.  Blank lines do
// nothing.  Any other line is dispatched; unless the command ends the
// program it is added to the history and the editor is re-armed for
// the next line.
func (c *Console) OnLineComplete(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}

	c.insideCallback = true
	defer func() { c.insideCallback = false }()

	if c.dispatcher.Call(line, c.session) == command.Terminate {
		c.editor.Remove()
		c.terminated = true
		c.visible = false
		return
	}
	c.editor.AddHistory(line)
	c.editor.Install(c.prompt, c.OnLineComplete)
	c.visible = true
}

// Submit runs line as if the operator had typed it.
func (c *Console) Submit(line string) {
	if c.terminated {
		return
	}
	// The prompt is on screen with nothing typed after it; move off it
	// the way Enter would.
	if c.visible && !c.quiet {
		io.WriteString(c.out, c.nl) //nolint:errcheck
		c.visible = false
	}
	c.OnLineComplete(line)
}

// onEOF handles Ctrl-D on an empty line.
func (c *Console) onEOF() {
	c.Terminate()
}

// Terminate ends the console without dispatching anything.
func (c *Console) Terminate() {
	if c.terminated {
		return
	}
	c.editor.Remove()
	c.terminated = true
	c.visible = false
}

// Terminated reports whether a command (or EOF) asked to exit.
func (c *Console) Terminated() bool { return c.terminated }

// ── Session reference ────────────────────────────────────────────────

// SetSession records the active session, or nil when there is none.
// The console never closes it.
func (c *Console) SetSession(s *session.Session) { c.session = s }

// Session returns the active session, or nil.
func (c *Console) Session() *session.Session { return c.session }
