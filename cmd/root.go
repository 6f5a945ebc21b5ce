// Package cmd wires up the CLI flags and runs the console.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"dbgpsh/config"
	"dbgpsh/internal/command"
	"dbgpsh/internal/console"
	"dbgpsh/internal/core"
	"dbgpsh/internal/launch"
	"dbgpsh/internal/lineedit"
	"dbgpsh/internal/metrics"
	"dbgpsh/tunnel"
	"dbgpsh/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X dbgpsh/cmd.version=2.0.0"
var version = "0.9.0" //nolint:gochecknoglobals

// Stdio are the streams the console runs on.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Execute parses args and runs the console on the process's terminal.
func Execute(ctx context.Context, args []string) error {
	return Run(ctx, args, Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
}

// flagValues holds flags that override the settings file and the
// environment only when given.
type flagValues struct {
	settings    string
	bind        string
	port        int
	accept      string
	idekey      string
	interpreter string
	output      string
	prompt      string
	quiet       bool
	verbose     int
	noColor     bool

	tunnel        string
	remoteBind    string
	sshKey        string
	sshPassword   bool
	sshAgent      bool
	strictHostKey bool
	knownHosts    string
	keepAlive     int
}

// Run is Execute with explicit streams.
func Run(ctx context.Context, args []string, stdio Stdio) error {
	var fv flagValues
	fs := flag.NewFlagSet("dbgpsh", flag.ContinueOnError)
	fs.SetOutput(stdio.Err)

	// ── listener ─────────────────────────────────────────────────
	fs.StringVarP(&fv.settings, "config", "f", "", "Settings file (default ~/"+config.DefaultSettingsFile+")")
	fs.StringVarP(&fv.bind, "bind", "b", config.DefaultBind, "Address to listen on")
	fs.IntVarP(&fv.port, "port", "p", config.DefaultPort, "Port to listen on")
	fs.StringVarP(&fv.accept, "accept", "a", "", "Only accept engines matching this pattern (* and ?)")

	// ── debuggee ─────────────────────────────────────────────────
	fs.StringVar(&fv.idekey, "idekey", config.DefaultIDEKey, "IDE key sent to the engine")
	fs.StringVar(&fv.interpreter, "interpreter", config.DefaultInterpreter, "Interpreter that runs the target for start")
	fs.StringVar(&fv.output, "output", "", "File receiving the debuggee's stdout and stderr")

	// ── SSH gateway ──────────────────────────────────────────────
	fs.StringVarP(&fv.tunnel, "tunnel", "T", "", "Listen on an SSH gateway [user@]host[:port]")
	fs.StringVar(&fv.remoteBind, "remote-bind", "", "Listen address on the gateway (default: --bind)")
	fs.StringVar(&fv.sshKey, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&fv.sshPassword, "ssh-password", false, "Prompt for the SSH password")
	fs.BoolVar(&fv.sshAgent, "ssh-agent", false, "Use the SSH agent")
	fs.BoolVar(&fv.strictHostKey, "strict-hostkey", false, "Verify the gateway host key")
	fs.StringVar(&fv.knownHosts, "known-hosts", "", "Custom known_hosts path")
	fs.IntVar(&fv.keepAlive, "keepalive", 0, "Seconds between gateway keepalives (negative disables)")

	// ── output ───────────────────────────────────────────────────
	fs.StringVar(&fv.prompt, "prompt", config.DefaultPrompt, "Console prompt")
	fs.BoolVarP(&fv.quiet, "quiet", "q", false, "Suppress console output")
	fs.CountVarP(&fv.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&fv.noColor, "no-color", false, "Disable coloured notices")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Print the resolved configuration and exit")

	fs.Usage = func() { printUsage(stdio.Err, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(stdio.Err, fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdio.Out, "dbgpsh %s\n", version)
		return nil
	}

	var target string
	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		target = rest[0]
	default:
		return fmt.Errorf("too many arguments: expected at most one target file, got %d", len(rest))
	}

	// ── configuration: file, then env, then flags ────────────────
	path := fv.settings
	if path == "" {
		path = config.SettingsPathFromEnv()
	}
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	config.LoadFromEnv(cfg)
	applyFlags(cfg, fs, &fv)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if dryRun {
		printConfig(stdio.Out, cfg, target)
		return nil
	}

	return serve(ctx, cfg, target, stdio)
}

// applyFlags copies the flags that were given on the command line.
func applyFlags(cfg *config.Config, fs *flag.FlagSet, fv *flagValues) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("bind", func() { cfg.Bind = fv.bind })
	set("port", func() { cfg.Port = fv.port })
	set("accept", func() { cfg.Accept = fv.accept })
	set("idekey", func() { cfg.IDEKey = fv.idekey })
	set("interpreter", func() { cfg.Interpreter = fv.interpreter })
	set("output", func() { cfg.Output = fv.output })
	set("prompt", func() { cfg.Prompt = fv.prompt })
	set("quiet", func() { cfg.Quiet = fv.quiet })
	set("verbose", func() { cfg.Verbose += fv.verbose })
	set("no-color", func() { cfg.NoColor = fv.noColor })

	set("tunnel", func() { cfg.Tunnel.Spec = fv.tunnel })
	set("remote-bind", func() { cfg.Tunnel.RemoteBind = fv.remoteBind })
	set("ssh-key", func() { cfg.Tunnel.KeyPath = fv.sshKey })
	set("ssh-password", func() { cfg.Tunnel.PromptPass = fv.sshPassword })
	set("ssh-agent", func() { cfg.Tunnel.UseAgent = fv.sshAgent })
	set("strict-hostkey", func() { cfg.Tunnel.StrictHostKey = fv.strictHostKey })
	set("known-hosts", func() { cfg.Tunnel.KnownHosts = fv.knownHosts })
	set("keepalive", func() { cfg.Tunnel.KeepAlive = fv.keepAlive })
}

// ── serve ────────────────────────────────────────────────────────────

func serve(ctx context.Context, cfg *config.Config, target string, stdio Stdio) error {
	verbosity := cfg.Verbose
	if cfg.Quiet {
		verbosity = 0
	}
	logger := util.NewLogger(verbosity)
	logger.SetOutput(stdio.Err)

	// The gateway is connected before the terminal goes raw, so
	// password and passphrase prompts behave normally.
	var gw tunnel.Gateway
	if cfg.Tunnel.Enabled {
		g := core.BuildGateway(cfg, logger)
		if err := g.Connect(ctx); err != nil {
			return err
		}
		gw = g
	}

	tty := false
	if f, ok := stdio.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			if gw != nil {
				gw.Close() //nolint:errcheck
			}
			return fmt.Errorf("terminal: %w", err)
		}
		defer term.Restore(int(f.Fd()), state) //nolint:errcheck
		tty = true
	}

	m := metrics.New()
	editor := lineedit.New(stdio.Out, tty)
	editor.SetEcho(tty)

	dispatcher := command.New(nil, command.Options{
		Config:  cfg,
		Starter: launch.New(cfg, logger),
		Metrics: m,
		Logger:  logger,
		Version: version,
	})
	con := console.New(stdio.Out, editor, dispatcher, console.Options{
		Prompt: cfg.Prompt,
		Quiet:  cfg.Quiet,
		Color:  tty && !cfg.NoColor,
		CRLF:   tty,
	})
	dispatcher.SetOutput(con)

	logger.SetOutput(con)
	defer logger.SetOutput(stdio.Err)

	loop := core.Build(cfg, core.Options{
		Console:    con,
		Stdin:      stdio.In,
		StartFile:  target,
		OnShutdown: cfg.Save,
		Metrics:    m,
		Logger:     logger,
		Gateway:    gw,
	})

	con.Start(fmt.Sprintf("dbgpsh %s: waiting for a debugger on %s (%s).  Type 'help' for commands.",
		version, cfg.ListenAddress(), loop.Binder))
	return loop.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func printConfig(w io.Writer, cfg *config.Config, target string) {
	fmt.Fprintf(w, "settings:    %s\n", cfg.Path)
	for _, name := range config.SettingNames() {
		v, _ := cfg.Setting(name)
		fmt.Fprintf(w, "%-12s %s\n", name+":", v)
	}
	if cfg.Tunnel.Enabled {
		sc := core.SSHConfig(cfg)
		fmt.Fprintf(w, "%-12s %s@%s (keepalive %s)\n", "gateway:", sc.User, sc.Address(), sc.KeepAlive)
	}
	fmt.Fprintf(w, "%-12s %s\n", "listen:", cfg.ListenAddress())
	if target != "" {
		fmt.Fprintf(w, "%-12s %s\n", "start:", target)
	}
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `dbgpsh %s, an interactive console for DBGp debugger engines

Usage:
  dbgpsh [options] [target-file]

With a target file, dbgpsh starts it through the interpreter with the
debugger enabled, as if 'start <target-file>' had been typed.

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  dbgpsh                                      Wait for an engine on 127.0.0.1:9000
  dbgpsh -p 9003 index.php                    Start index.php and debug it
  dbgpsh -b 0.0.0.0 -a '10.0.*'               Accept engines from 10.0.0.0/16
  dbgpsh -T dev@web01 --remote-bind 127.0.0.1 Listen on web01 through SSH
`)
}
