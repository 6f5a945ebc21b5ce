// Package launch starts the program being debugged.  The child gets
// the environment that makes a DBGp engine (Xdebug) connect back to
// this console, and runs detached from the terminal: its stdout and
// stderr go to a file, so they never corrupt the prompt.
package launch

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"dbgpsh/config"
	"dbgpsh/util"
)

// Launcher starts debuggees using the interpreter and connection
// settings of cfg as they are at the time of each Start.
type Launcher struct {
	cfg    *config.Config
	logger *util.Logger

	mu      sync.Mutex
	running map[int]*Process
}

// Process is one started debuggee.
type Process struct {
	PID     int
	Command string

	done chan struct{}
	err  error
}

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// New returns a launcher reading its settings from cfg.
func New(cfg *config.Config, logger *util.Logger) *Launcher {
	return &Launcher{cfg: cfg, logger: logger.With("launch"), running: make(map[int]*Process)}
}

// Env returns the variables that point the engine at this console.
func (l *Launcher) Env() []string {
	host := l.cfg.Bind
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "127.0.0.1"
	}
	port := strconv.Itoa(l.cfg.Port)
	return []string{
		"XDEBUG_SESSION=" + l.cfg.IDEKey,
		fmt.Sprintf("XDEBUG_CONFIG=client_host=%s client_port=%s remote_host=%s remote_port=%s idekey=%s",
			host, port, host, port, l.cfg.IDEKey),
	}
}

// Start runs the interpreter on target.  It returns once the child has
// started; a goroutine reaps it when it exits.
func (l *Launcher) Start(target string) (*Process, error) {
	if target == "" {
		return nil, fmt.Errorf("no file given")
	}
	if _, err := os.Stat(target); err != nil {
		return nil, fmt.Errorf("cannot start %s: %w", target, err)
	}

	argv := strings.Fields(l.cfg.Interpreter)
	if len(argv) == 0 {
		return nil, fmt.Errorf("no interpreter configured")
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("interpreter %q: %w", argv[0], err)
	}

	output := l.cfg.Output
	if output == "" {
		output = os.DevNull
	}
	out, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening output %s: %w", output, err)
	}

	cmd := exec.Command(path, append(argv[1:], target)...)
	cmd.Env = append(os.Environ(), l.Env()...)
	cmd.Stdout = out
	cmd.Stderr = out

	l.logger.Debug("exec: %s", cmd.String())
	if err := cmd.Start(); err != nil {
		out.Close()
		return nil, fmt.Errorf("exec %q: %w", cmd.Path, err)
	}

	p := &Process{PID: cmd.Process.Pid, Command: cmd.String(), done: make(chan struct{})}
	l.mu.Lock()
	l.running[p.PID] = p
	l.mu.Unlock()

	go func() {
		p.err = cmd.Wait()
		out.Close()
		l.mu.Lock()
		delete(l.running, p.PID)
		l.mu.Unlock()
		if p.err != nil {
			l.logger.Verbose("debuggee %d exited: %v", p.PID, p.err)
		} else {
			l.logger.Verbose("debuggee %d exited", p.PID)
		}
		close(p.done)
	}()
	return p, nil
}

// Running returns the number of debuggees that have not exited.
func (l *Launcher) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.running)
}
