package command

import (
	"fmt"
	"strings"

	"dbgpsh/config"
	dberr "dbgpsh/internal/errors"
	"dbgpsh/internal/session"
)

const aboutText = `dbgpsh %s, an interactive console for DBGp debugger engines.

dbgpsh comes with ABSOLUTELY NO WARRANTY.  This is free software, and
you are welcome to change and/or distribute copies of it.

It listens for one engine at a time (e.g. PHP with Xdebug), shows what
the engine reports, and forwards protocol commands typed with 'send'.`

func builtins() []*verb {
	return []*verb{
		{
			name:    "help",
			usage:   "help [command]",
			summary: "list commands or describe one",
			run:     (*Dispatcher).help,
		},
		{
			name:    "about",
			usage:   "about",
			summary: "show version and licence",
			run: func(d *Dispatcher, _ string, _ *session.Session) Result {
				d.printf(aboutText, d.version)
				return Continue
			},
		},
		{
			name:    "quit",
			aliases: []string{"exit"},
			usage:   "quit",
			summary: "leave dbgpsh",
			run: func(*Dispatcher, string, *session.Session) Result {
				return Terminate
			},
		},
		{
			name:    "start",
			usage:   "start <file>",
			summary: "run a script with the debugger enabled",
			run:     (*Dispatcher).start,
		},
		{
			name:    "disconnect",
			usage:   "disconnect",
			summary: "drop the debugger connection",
			run: func(d *Dispatcher, _ string, sess *session.Session) Result {
				if sess == nil {
					d.notConnected()
					return Continue
				}
				d.printf("Closing connection to %s", sess.Peer())
				sess.Disconnect() //nolint:errcheck
				return Continue
			},
		},
		{
			name:    "detach",
			usage:   "detach",
			summary: "let the script run on without the debugger",
			run: func(d *Dispatcher, _ string, sess *session.Session) Result {
				if sess == nil {
					d.notConnected()
					return Continue
				}
				if s, ok := sess.Protocol().(rawSender); ok {
					if _, err := s.Raw("detach"); err != nil {
						d.printf("detach: %v", err)
					}
				}
				sess.Disconnect() //nolint:errcheck
				return Continue
			},
		},
		{
			name:    "send",
			aliases: []string{"raw"},
			usage:   "send <command> [args]",
			summary: "send a DBGp command line to the engine",
			run:     (*Dispatcher).send,
		},
		{
			name:    "status",
			usage:   "status",
			summary: "show the connection and counters",
			run:     (*Dispatcher).status,
		},
		{
			name:    "set",
			usage:   "set [name [value]]",
			summary: "show or change a setting",
			run:     (*Dispatcher).set,
		},
	}
}

func (d *Dispatcher) notConnected() {
	d.out.WriteLine(dberr.ErrNotConnected.Error())
}

func (d *Dispatcher) help(args string, _ *session.Session) Result {
	if args != "" {
		v, ok := d.verbs[args]
		if !ok {
			d.printf("No help for %q", args)
			return Continue
		}
		s := fmt.Sprintf("%s: %s", v.usage, v.summary)
		if len(v.aliases) > 0 {
			s += fmt.Sprintf(" (also: %s)", strings.Join(v.aliases, ", "))
		}
		d.out.WriteLine(s)
		return Continue
	}

	width := 0
	for _, v := range d.sorted {
		if len(v.usage) > width {
			width = len(v.usage)
		}
	}
	lines := []string{"Commands:"}
	for _, v := range d.sorted {
		lines = append(lines, fmt.Sprintf("  %-*s  %s", width, v.usage, v.summary))
	}
	d.out.WriteLine(strings.Join(lines, "\n"))
	return Continue
}

func (d *Dispatcher) start(args string, sess *session.Session) Result {
	if args == "" {
		d.out.WriteLine("usage: start <file>")
		return Continue
	}
	if sess != nil {
		d.printf("%v; use 'disconnect' first", dberr.ErrSessionActive)
		return Continue
	}
	if d.starter == nil {
		d.out.WriteLine("start: launching is not available")
		return Continue
	}
	p, err := d.starter.Start(args)
	if err != nil {
		d.printf("start: %v", err)
		return Continue
	}
	d.printf("Started %s (pid %d); waiting for the debugger", args, p.PID)
	return Continue
}

func (d *Dispatcher) send(args string, sess *session.Session) Result {
	if sess == nil {
		d.notConnected()
		return Continue
	}
	if args == "" {
		d.out.WriteLine("usage: send <command> [args]")
		return Continue
	}
	s, ok := sess.Protocol().(rawSender)
	if !ok {
		d.out.WriteLine("send: the connected engine does not accept commands")
		return Continue
	}
	txn, err := s.Raw(args)
	if err != nil {
		d.printf("send: %v", err)
		return Continue
	}
	if txn > 0 {
		d.printf("Sent %s (transaction %d)", strings.Fields(args)[0], txn)
	}
	return Continue
}

func (d *Dispatcher) status(_ string, sess *session.Session) Result {
	if sess == nil {
		d.notConnected()
	} else {
		d.printf("Connected to %s (session %s)", sess.Peer(), sess.ID)
		if g, ok := sess.Protocol().(greeter); ok {
			if init, ok := g.Init(); ok {
				d.printf("Engine: %s %s, appid %s, idekey %s, debugging %s",
					init.Language, init.Protocol, init.AppID, init.IDEKey, init.FileURI)
			}
		}
	}
	if rc, ok := d.starter.(runningCounter); ok {
		if n := rc.Running(); n > 0 {
			d.printf("Debuggees running: %d", n)
		}
	}
	d.out.WriteLine(d.metrics.JSON())
	return Continue
}

func (d *Dispatcher) set(args string, _ *session.Session) Result {
	fields := strings.Fields(args)
	switch len(fields) {
	case 0:
		var lines []string
		for _, name := range config.SettingNames() {
			v, _ := d.cfg.Setting(name)
			lines = append(lines, fmt.Sprintf("%s = %s", name, v))
		}
		d.out.WriteLine(strings.Join(lines, "\n"))
		return Continue
	case 1:
		v, ok := d.cfg.Setting(fields[0])
		if !ok {
			d.printf("set: %v", fmt.Errorf("%w %q", dberr.ErrUnknownKey, fields[0]))
			return Continue
		}
		d.printf("%s = %s", fields[0], v)
		return Continue
	}

	name := fields[0]
	value := strings.TrimSpace(strings.TrimPrefix(args, name))
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
	}
	if err := d.cfg.Set(name, value); err != nil {
		d.printf("set: %v", err)
		return Continue
	}
	v, _ := d.cfg.Setting(name)
	msg := fmt.Sprintf("%s = %s", name, v)
	if name == "bind" || name == "port" {
		msg += " (used from the next listener on)"
	}
	d.out.WriteLine(msg)
	return Continue
}
