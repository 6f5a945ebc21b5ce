// Package lineedit is a small callback-driven line editor.
//
// The owner feeds it raw terminal bytes as they arrive; the editor
// keeps the line being typed, echoes edits, and calls the installed
// handler synchronously once a line is complete.  It never reads from
// the terminal itself, so it fits an event loop that multiplexes
// several input sources.
package lineedit

import (
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// MaxHistory bounds the number of remembered lines.
const MaxHistory = 500

// Handler receives one completed line.
type Handler func(line string)

// Editor holds the edit state for one terminal.
type Editor struct {
	out  io.Writer
	nl   string
	echo bool

	prompt  string
	handler Handler
	onEOF   func()

	buf    []rune
	cursor int

	history []string
	histPos int
	saved   []rune

	pending []byte // partial UTF-8 sequence
	esc     []byte // partial escape sequence, starting with ESC
	lastCR  bool

	redrawn bool
	fresh   bool // cursor known to be at column 0 of an empty line
}

// New returns an editor writing to out.  With crlf set, lines end in
// "\r\n" for a terminal in raw mode.
func New(out io.Writer, crlf bool) *Editor {
	nl := "\n"
	if crlf {
		nl = "\r\n"
	}
	return &Editor{out: out, nl: nl, echo: true}
}

// SetEcho turns echoing of typed input on or off.  It is off when the
// input is not a terminal, which echoes for itself.
func (e *Editor) SetEcho(on bool) { e.echo = on }

// OnEOF sets the function called for Ctrl-D on an empty line.
func (e *Editor) OnEOF(fn func()) { e.onEOF = fn }

// Install sets the prompt and handler for the next line and prints the
// prompt.
func (e *Editor) Install(prompt string, h Handler) {
	e.prompt = prompt
	e.handler = h
	e.reset()
	e.Redisplay()
}

// Remove uninstalls the handler.  Input fed afterwards is discarded.
func (e *Editor) Remove() {
	e.handler = nil
	e.reset()
}

// Installed reports whether a handler is installed.
func (e *Editor) Installed() bool { return e.handler != nil }

// OnNewLine tells the editor the cursor sits at the start of an empty
// line, so the next Redisplay need not return to column 0 first.
func (e *Editor) OnNewLine() { e.fresh = true }

// Redisplay draws the prompt and the current line.
func (e *Editor) Redisplay() {
	e.redrawn = true
	fresh := e.fresh
	e.fresh = false
	if !e.echo {
		io.WriteString(e.out, e.prompt) //nolint:errcheck
		return
	}
	var b strings.Builder
	if !fresh {
		b.WriteString("\r")
	}
	b.WriteString(e.prompt)
	b.WriteString(string(e.buf))
	b.WriteString("\x1b[K")
	if tail := runewidth.StringWidth(string(e.buf[e.cursor:])); tail > 0 {
		fmt.Fprintf(&b, "\x1b[%dD", tail)
	}
	io.WriteString(e.out, b.String()) //nolint:errcheck
}

// AddHistory records line unless it is empty or repeats the last entry.
func (e *Editor) AddHistory(line string) {
	if line == "" {
		return
	}
	if n := len(e.history); n > 0 && e.history[n-1] == line {
		return
	}
	e.history = append(e.history, line)
	if len(e.history) > MaxHistory {
		e.history = e.history[len(e.history)-MaxHistory:]
	}
	e.histPos = len(e.history)
}

// PromptWidth is the display width of the prompt.
func (e *Editor) PromptWidth() int { return runewidth.StringWidth(e.prompt) }

// BufferWidth is the display width of the line typed so far.
func (e *Editor) BufferWidth() int { return runewidth.StringWidth(string(e.buf)) }

func (e *Editor) reset() {
	e.buf = e.buf[:0]
	e.cursor = 0
	e.histPos = len(e.history)
	e.saved = nil
}

// ── Input ────────────────────────────────────────────────────────────

// Feed processes raw input bytes.  Handlers run synchronously from
// within Feed.
func (e *Editor) Feed(p []byte) {
	for _, c := range p {
		if e.handler == nil {
			e.pending = e.pending[:0]
			e.esc = e.esc[:0]
			return
		}
		e.feedByte(c)
	}
}

func (e *Editor) feedByte(c byte) {
	if len(e.esc) > 0 {
		e.escape(c)
		return
	}
	// A byte that cannot continue the sequence abandons it and is
	// handled on its own.
	if len(e.pending) > 0 && c&0xC0 != 0x80 {
		e.pending = e.pending[:0]
	}
	if len(e.pending) > 0 || c >= utf8.RuneSelf {
		e.pending = append(e.pending, c)
		if !utf8.FullRune(e.pending) {
			return
		}
		r, _ := utf8.DecodeRune(e.pending)
		e.pending = e.pending[:0]
		if r != utf8.RuneError && unicode.IsPrint(r) {
			e.insert(r)
		}
		return
	}

	wasCR := e.lastCR
	e.lastCR = c == '\r'

	switch c {
	case '\r':
		e.accept()
	case '\n':
		if !wasCR {
			e.accept()
		}
	case 0x1b:
		e.esc = append(e.esc, c)
	case 0x7f, 0x08:
		e.backspace()
	case 0x01: // Ctrl-A
		e.move(0)
	case 0x05: // Ctrl-E
		e.move(len(e.buf))
	case 0x02: // Ctrl-B
		e.move(e.cursor - 1)
	case 0x06: // Ctrl-F
		e.move(e.cursor + 1)
	case 0x15: // Ctrl-U
		e.buf = append(e.buf[:0], e.buf[e.cursor:]...)
		e.cursor = 0
		e.refresh()
	case 0x0b: // Ctrl-K
		e.buf = e.buf[:e.cursor]
		e.refresh()
	case 0x17: // Ctrl-W
		e.deleteWord()
	case 0x0c: // Ctrl-L
		if e.echo {
			io.WriteString(e.out, "\x1b[H\x1b[2J") //nolint:errcheck
		}
		e.refresh()
	case 0x10: // Ctrl-P
		e.historyPrev()
	case 0x0e: // Ctrl-N
		e.historyNext()
	case 0x03: // Ctrl-C
		e.cancel()
	case 0x04: // Ctrl-D
		if len(e.buf) == 0 {
			e.eof()
		} else {
			e.deleteForward()
		}
	default:
		if c >= 0x20 {
			e.insert(rune(c))
		}
	}
}

// escape consumes one byte of an escape sequence.  Recognised forms
// are ESC [ <digits> <final> and ESC O <final>.
func (e *Editor) escape(c byte) {
	e.esc = append(e.esc, c)
	if len(e.esc) == 2 {
		if c != '[' && c != 'O' {
			e.esc = e.esc[:0]
		}
		return
	}
	if c >= '0' && c <= '9' || c == ';' {
		if len(e.esc) > 8 {
			e.esc = e.esc[:0]
		}
		return
	}

	seq := string(e.esc[1:])
	e.esc = e.esc[:0]
	switch seq {
	case "[A", "OA":
		e.historyPrev()
	case "[B", "OB":
		e.historyNext()
	case "[C", "OC":
		e.move(e.cursor + 1)
	case "[D", "OD":
		e.move(e.cursor - 1)
	case "[H", "OH", "[1~", "[7~":
		e.move(0)
	case "[F", "OF", "[4~", "[8~":
		e.move(len(e.buf))
	case "[3~":
		e.deleteForward()
	}
}

// ── Editing ──────────────────────────────────────────────────────────

func (e *Editor) insert(r rune) {
	atEnd := e.cursor == len(e.buf)
	e.buf = append(e.buf, 0)
	copy(e.buf[e.cursor+1:], e.buf[e.cursor:])
	e.buf[e.cursor] = r
	e.cursor++
	if atEnd && e.echo {
		io.WriteString(e.out, string(r)) //nolint:errcheck
		return
	}
	e.refresh()
}

func (e *Editor) backspace() {
	if e.cursor == 0 {
		return
	}
	e.buf = append(e.buf[:e.cursor-1], e.buf[e.cursor:]...)
	e.cursor--
	e.refresh()
}

func (e *Editor) deleteForward() {
	if e.cursor >= len(e.buf) {
		return
	}
	e.buf = append(e.buf[:e.cursor], e.buf[e.cursor+1:]...)
	e.refresh()
}

func (e *Editor) deleteWord() {
	i := e.cursor
	for i > 0 && e.buf[i-1] == ' ' {
		i--
	}
	for i > 0 && e.buf[i-1] != ' ' {
		i--
	}
	e.buf = append(e.buf[:i], e.buf[e.cursor:]...)
	e.cursor = i
	e.refresh()
}

func (e *Editor) move(pos int) {
	if pos < 0 || pos > len(e.buf) || pos == e.cursor {
		return
	}
	e.cursor = pos
	e.refresh()
}

func (e *Editor) historyPrev() {
	if e.histPos == 0 {
		return
	}
	if e.histPos == len(e.history) {
		e.saved = append([]rune(nil), e.buf...)
	}
	e.histPos--
	e.setLine([]rune(e.history[e.histPos]))
}

func (e *Editor) historyNext() {
	if e.histPos >= len(e.history) {
		return
	}
	e.histPos++
	if e.histPos == len(e.history) {
		e.setLine(e.saved)
		return
	}
	e.setLine([]rune(e.history[e.histPos]))
}

func (e *Editor) setLine(r []rune) {
	e.buf = append(e.buf[:0], r...)
	e.cursor = len(e.buf)
	e.refresh()
}

func (e *Editor) refresh() {
	if e.echo {
		e.Redisplay()
	}
}

// ── Line completion ──────────────────────────────────────────────────

// accept hands the line to the handler.  If the handler neither
// removed itself nor redrew the prompt, a fresh prompt is drawn so the
// operator always has one after pressing Enter.
func (e *Editor) accept() {
	line := string(e.buf)
	if e.echo {
		io.WriteString(e.out, e.nl) //nolint:errcheck
	}
	e.reset()

	e.redrawn = false
	h := e.handler
	h(line)
	if e.handler != nil && !e.redrawn {
		e.Redisplay()
	}
}

func (e *Editor) cancel() {
	if e.echo {
		io.WriteString(e.out, "^C"+e.nl) //nolint:errcheck
	}
	e.reset()
	e.Redisplay()
}

func (e *Editor) eof() {
	if e.echo {
		io.WriteString(e.out, e.nl) //nolint:errcheck
	}
	if e.onEOF != nil {
		e.onEOF()
	}
}
