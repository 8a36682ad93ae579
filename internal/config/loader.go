package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/tessera/pkg/module"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// Manifest files listed under manifests are resolved relative to the config
// file's directory and appended to Modules.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := load(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Manifest paths are resolved relative to the working directory.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, ".")
}

// load decodes, merges manifests found relative to dir, and validates.
func load(r io.Reader, dir string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := loadManifests(cfg, dir); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadManifests(cfg *Config, dir string) error {
	for _, p := range cfg.Manifests {
		m, err := LoadManifest(manifestPath(dir, p))
		if err != nil {
			return err
		}
		cfg.Modules = append(cfg.Modules, *m)
	}
	return nil
}

func manifestPath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// LoadManifest reads a standalone module manifest. Files ending in .json
// are decoded as JSON, everything else as YAML.
func LoadManifest(path string) (*module.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read manifest %q: %w", path, err)
	}

	m := &module.Manifest{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(m)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(m)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse manifest %q: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("config: manifest %q: %w", path, err)
	}
	return m, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Host
	if cfg.Host.TickRate < 0 {
		errs = append(errs, fmt.Errorf("host.tick_rate %.2f must not be negative", cfg.Host.TickRate))
	}
	if cfg.Host.TickRate > 1000 {
		slog.Warn("host.tick_rate is very high; ticks may overlap", "tick_rate", cfg.Host.TickRate)
	}
	if b := cfg.Host.Breaker; b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("host.breaker values must not be negative"))
	}

	// Modules
	namesSeen := make(map[string]int, len(cfg.Modules))
	for i, m := range cfg.Modules {
		prefix := fmt.Sprintf("modules[%d]", i)
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if m.Name == "" {
			continue
		}
		if prev, ok := namesSeen[m.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of modules[%d]", prefix, m.Name, prev))
		}
		namesSeen[m.Name] = i
	}
	if len(cfg.Modules) == 0 {
		slog.Warn("no modules configured; the host will run an empty world")
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Debug("storage.postgres_dsn is empty; the world is kept in memory")
	}

	return errors.Join(errs...)
}
