// Package dbgp speaks just enough of the DBGp debugger protocol to run
// a console session: it frames the engine's messages, summarises each
// one as console lines and writes commands back with transaction ids.
package dbgp

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"dbgpsh/internal/metrics"
	"dbgpsh/util"
)

// maxLengthDigits bounds the decimal length prefix of one frame.  Ten
// digits is already far beyond any message an engine sends.
const maxLengthDigits = 10

// Printer receives the summary lines of each message.
type Printer interface {
	WriteLine(text string)
}

// Handler implements session.Protocol for DBGp.  Engine-to-IDE frames
// are "<length>\0<xml>\0"; IDE-to-engine commands are
// "<name> -i <txn> [args]\0".
type Handler struct {
	w       io.Writer
	out     Printer
	logger  *util.Logger
	metrics *metrics.Collector

	buf []byte

	mu   sync.Mutex // guards txn and writes to w
	txn  int
	init *Init
}

// NewHandler returns a handler writing commands to w (the connection)
// and summaries to out.
func NewHandler(w io.Writer, out Printer, logger *util.Logger, m *metrics.Collector) *Handler {
	return &Handler{w: w, out: out, logger: logger.With("dbgp"), metrics: m}
}

// Feed appends p to the buffer and processes at most one complete
// frame.
func (h *Handler) Feed(p []byte) error {
	h.buf = append(h.buf, p...)

	body, n, err := nextFrame(h.buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	h.buf = h.buf[n:]
	if len(h.buf) == 0 {
		h.buf = nil
	}

	msg, err := Parse(body)
	if err != nil {
		return err
	}
	h.metrics.MessageProcessed()
	if msg.Kind == KindInit {
		h.mu.Lock()
		h.init = msg.Init
		h.mu.Unlock()
	}
	h.logger.Debug("received %s (%d bytes)", msg.Kind, len(body))
	for _, line := range msg.Summary() {
		h.out.WriteLine(line)
	}
	return nil
}

// Pending reports whether a complete frame is buffered.
func (h *Handler) Pending() bool {
	_, n, err := nextFrame(h.buf)
	return err == nil && n > 0
}

// Init returns the engine's init packet once it has arrived.
func (h *Handler) Init() (*Init, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.init, h.init != nil
}

// Command sends "name -i <txn> args..." to the engine and returns the
// transaction id used.  Ids start at 1.
func (h *Handler) Command(name string, args ...string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \x00") {
		return 0, fmt.Errorf("invalid command name %q", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.txn++
	var b bytes.Buffer
	b.WriteString(name)
	b.WriteString(" -i ")
	b.WriteString(strconv.Itoa(h.txn))
	for _, a := range args {
		if strings.IndexByte(a, 0) >= 0 {
			return 0, fmt.Errorf("argument contains a NUL byte")
		}
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte(0)

	if _, err := h.w.Write(b.Bytes()); err != nil {
		return 0, fmt.Errorf("sending %s: %w", name, err)
	}
	h.logger.Debug("sent %s -i %d", name, h.txn)
	return h.txn, nil
}

// Raw sends a preformatted command line, inserting a transaction id
// unless the line already carries one ("-i").
func (h *Handler) Raw(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty command")
	}
	for _, f := range fields[1:] {
		if f == "-i" {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, err := io.WriteString(h.w, line+"\x00"); err != nil {
				return 0, fmt.Errorf("sending %s: %w", fields[0], err)
			}
			return 0, nil
		}
	}
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
	if rest == "" {
		return h.Command(fields[0])
	}
	return h.Command(fields[0], rest)
}

// nextFrame locates the first complete frame in buf.  It returns the
// frame body and the number of bytes the whole frame occupies, or
// n == 0 when more bytes are needed.
func nextFrame(buf []byte) (body []byte, n int, err error) {
	nul := bytes.IndexByte(buf, 0)
	if nul < 0 {
		if len(buf) > maxLengthDigits {
			return nil, 0, fmt.Errorf("dbgp: length prefix too long")
		}
		for _, c := range buf {
			if c < '0' || c > '9' {
				return nil, 0, fmt.Errorf("dbgp: malformed length prefix %q", buf)
			}
		}
		return nil, 0, nil
	}
	if nul == 0 || nul > maxLengthDigits {
		return nil, 0, fmt.Errorf("dbgp: malformed length prefix %q", buf[:nul])
	}
	size, err := strconv.Atoi(string(buf[:nul]))
	if err != nil || size < 0 {
		return nil, 0, fmt.Errorf("dbgp: malformed length prefix %q", buf[:nul])
	}

	end := nul + 1 + size
	if len(buf) < end+1 {
		return nil, 0, nil
	}
	if buf[end] != 0 {
		return nil, 0, fmt.Errorf("dbgp: frame of %d bytes not NUL-terminated", size)
	}
	return buf[nul+1 : end], end + 1, nil
}
