package cmd

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// run executes the CLI with the given stdin and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := Run(context.Background(), args, Stdio{
		In:  strings.NewReader(stdin),
		Out: &out,
		Err: &errOut,
	})
	return out.String(), err
}

// isolate points HOME and the settings file at a temp dir and clears
// the DBGPSH_* environment.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "DBGPSH_") {
			t.Setenv(strings.SplitN(kv, "=", 2)[0], "")
		}
	}
	return filepath.Join(dir, "settings.toml")
}

// freePort returns a loopback port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	out, err := run(t, "", "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "dbgpsh ") {
		t.Errorf("output = %q", out)
	}
}

// TestExecute_Help verifies --help returns without error.
func TestExecute_Help(t *testing.T) {
	var errOut bytes.Buffer
	err := Run(context.Background(), []string{"--help"}, Stdio{In: strings.NewReader(""), Out: &bytes.Buffer{}, Err: &errOut})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut.String(), "--tunnel") {
		t.Errorf("usage lacks flags: %q", errOut.String())
	}
}

// TestExecute_DryRun verifies --dry-run validates and exits cleanly.
func TestExecute_DryRun(t *testing.T) {
	settings := isolate(t)
	out, err := run(t, "", "-f", settings, "-p", "9003", "--accept", "10.0.*", "--dry-run", "index.php")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"port:        9003", "accept:      10.0.*", "listen:      127.0.0.1:9003", "start:       index.php"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

// TestExecute_DryRunInvalid verifies --dry-run still catches bad configs.
func TestExecute_DryRunInvalid(t *testing.T) {
	settings := isolate(t)
	for _, args := range [][]string{
		{"-p", "70000"},
		{"--remote-bind", "0.0.0.0"},
		{"--tunnel", "user@host:ssh"},
	} {
		args = append(args, "-f", settings, "--dry-run")
		if _, err := run(t, "", args...); err == nil {
			t.Errorf("%v: expected validation error", args)
		}
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	if _, err := run(t, "", "--nonexistent-flag"); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

// TestExecute_TooManyArguments verifies only one target is accepted.
func TestExecute_TooManyArguments(t *testing.T) {
	_, err := run(t, "", "a.php", "b.php")
	if err == nil || !strings.Contains(err.Error(), "too many arguments") {
		t.Fatalf("err = %v", err)
	}
}

// TestExecute_Precedence verifies flags beat the environment, which
// beats the settings file.
func TestExecute_Precedence(t *testing.T) {
	settings := isolate(t)
	if err := os.WriteFile(settings, []byte("port = 9100\nidekey = \"file\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, _ := run(t, "", "-f", settings, "--dry-run")
	if !strings.Contains(out, "port:        9100") || !strings.Contains(out, "idekey:      file") {
		t.Errorf("settings file ignored:\n%s", out)
	}

	t.Setenv("DBGPSH_PORT", "9200")
	out, _ = run(t, "", "-f", settings, "--dry-run")
	if !strings.Contains(out, "port:        9200") {
		t.Errorf("environment ignored:\n%s", out)
	}

	out, _ = run(t, "", "-f", settings, "--port", "9300", "--dry-run")
	if !strings.Contains(out, "port:        9300") || !strings.Contains(out, "idekey:      file") {
		t.Errorf("flag ignored:\n%s", out)
	}
}

// TestExecute_ServeAndQuit runs the console on a pipe: it listens,
// handles the typed commands and saves changed settings on exit.
func TestExecute_ServeAndQuit(t *testing.T) {
	settings := isolate(t)
	port := freePort(t)

	out, err := run(t, "set idekey session-7\nbogus\nquit\n",
		"-f", settings, "-b", "127.0.0.1", "-p", strconv.Itoa(port))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{
		"waiting for a debugger on 127.0.0.1:" + strconv.Itoa(port),
		"idekey = session-7",
		`Unknown command "bogus"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	data, err := os.ReadFile(settings)
	if err != nil {
		t.Fatalf("settings not saved: %v", err)
	}
	if !strings.Contains(string(data), `idekey = "session-7"`) {
		t.Errorf("settings file = %q", data)
	}
	if strings.Contains(string(data), strconv.Itoa(port)) {
		t.Errorf("flag value leaked into the settings file: %q", data)
	}
}
