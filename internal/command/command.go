// Package command turns operator input lines into actions.
//
// The dispatcher never fails outward: every problem with a command,
// from an unknown verb to a debugger that has gone away, ends up as a
// line on the console, and the caller only learns whether the program
// should keep running.
package command

import (
	"fmt"
	"sort"
	"strings"

	"dbgpsh/config"
	"dbgpsh/internal/dbgp"
	"dbgpsh/internal/launch"
	"dbgpsh/internal/metrics"
	"dbgpsh/internal/session"
	"dbgpsh/util"
)

// Result tells the caller whether to keep going.
type Result int

const (
	Continue Result = iota
	Terminate
)

// Printer receives the dispatcher's output lines.
type Printer interface {
	WriteLine(text string)
}

// Starter launches a debuggee.  *launch.Launcher satisfies it.
type Starter interface {
	Start(target string) (*launch.Process, error)
}

// runningCounter is a Starter that tracks the debuggees it launched.
type runningCounter interface {
	Running() int
}

// greeter is a protocol handler that kept the engine's init packet.
type greeter interface {
	Init() (*dbgp.Init, bool)
}

// rawSender is implemented by protocol handlers that can send a
// command line to the engine.
type rawSender interface {
	Raw(line string) (int, error)
}

type verb struct {
	name    string
	aliases []string
	usage   string
	summary string
	run     func(d *Dispatcher, args string, sess *session.Session) Result
}

// Dispatcher parses command lines and runs the matching verb.
type Dispatcher struct {
	out     Printer
	cfg     *config.Config
	starter Starter
	metrics *metrics.Collector
	logger  *util.Logger
	version string

	verbs  map[string]*verb // by name and alias
	sorted []*verb
}

// Options configures a Dispatcher.
type Options struct {
	Config  *config.Config
	Starter Starter
	Metrics *metrics.Collector
	Logger  *util.Logger
	Version string
}

// New returns a dispatcher printing to out.
func New(out Printer, opts Options) *Dispatcher {
	d := &Dispatcher{
		out:     out,
		cfg:     opts.Config,
		starter: opts.Starter,
		metrics: opts.Metrics,
		logger:  opts.Logger.With("command"),
		version: opts.Version,
		verbs:   make(map[string]*verb),
	}
	for _, v := range builtins() {
		d.register(v)
	}
	return d
}

// SetOutput redirects the dispatcher's output.  The console and the
// dispatcher refer to each other, so one of them is wired after
// construction.
func (d *Dispatcher) SetOutput(out Printer) { d.out = out }

func (d *Dispatcher) register(v *verb) {
	d.verbs[v.name] = v
	for _, a := range v.aliases {
		d.verbs[a] = v
	}
	d.sorted = append(d.sorted, v)
	sort.Slice(d.sorted, func(i, j int) bool { return d.sorted[i].name < d.sorted[j].name })
}

// Call runs one command line.  sess is the active debugger session or
// nil when none is connected.
func (d *Dispatcher) Call(line string, sess *session.Session) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command %q panicked: %v", line, r)
			d.out.WriteLine(fmt.Sprintf("Internal error running %q", line))
			res = Continue
		}
	}()

	line = strings.TrimSpace(line)
	if line == "" {
		return Continue
	}
	name := strings.Fields(line)[0]
	args := strings.TrimSpace(line[len(name):])

	v, ok := d.verbs[name]
	if !ok {
		d.out.WriteLine(fmt.Sprintf("Unknown command %q (type 'help' for a list)", name))
		return Continue
	}
	d.metrics.CommandDispatched()
	d.logger.Debug("%s %s", v.name, args)
	return v.run(d, args, sess)
}

func (d *Dispatcher) printf(format string, args ...interface{}) {
	d.out.WriteLine(fmt.Sprintf(format, args...))
}
