package config

// file.go - the TOML settings file.
//
// The file is read once at startup and written back at shutdown.  Only
// settings changed with Set during the run are written, merged into a
// fresh read of the file under an exclusive lock, so flag and env
// overrides never leak into it and two consoles shutting down together
// do not clobber each other.

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"

	dberr "dbgpsh/internal/errors"
)

// DefaultPath returns ~/.dbgpsh.toml, or the bare file name when the
// home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultSettingsFile
	}
	return filepath.Join(home, DefaultSettingsFile)
}

// Load reads the settings file at path on top of the defaults.  A
// missing file is not an error; an unknown key is.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	cfg.Path = path
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading settings %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("parsing settings %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return &dberr.ConfigError{
			Field:   strings.Join(keys, ","),
			Message: "unknown key in " + path,
			Hint:    "known settings: " + strings.Join(SettingNames(), ", ") + " and the [tunnel] table",
		}
	}
	return nil
}

// Save writes settings changed during this run back to the settings
// file.  It is a no-op when nothing changed.
func (c *Config) Save() error {
	if !c.Dirty() || c.Path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	lock := flock.New(c.Path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking settings %s: %w", c.Path, err)
	}
	defer lock.Unlock() //nolint:errcheck

	onDisk := Defaults()
	if err := decodeFile(c.Path, onDisk); err != nil {
		return err
	}
	for name, value := range c.changed {
		if err := settings[name].apply(onDisk, value); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(onDisk); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.Path), ".dbgpsh-*.toml")
	if err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path); err != nil {
		return fmt.Errorf("replacing settings %s: %w", c.Path, err)
	}

	c.changed = nil
	return nil
}
