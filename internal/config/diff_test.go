package config_test

import (
	"testing"

	"github.com/MrWong99/tessera/internal/config"
	"github.com/MrWong99/tessera/pkg/module"
)

func boolp(b bool) *bool { return &b }

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Modules: []module.Manifest{
			{Name: "terrain", Kind: "square", Version: "1.0.0", Options: module.Options{"worldgen_name": "w"}},
		},
	}
	d := config.Diff(cfg, cfg)
	if d.ModulesChanged || d.LogLevelChanged || d.TickRateChanged {
		t.Errorf("expected no changes for identical configs, got %+v", d)
	}
	if d.RequiresRestart() {
		t.Error("identical configs should not require a restart")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RequiresRestart() {
		t.Error("log level changes are applied live")
	}
}

func TestDiff_TickRateUsesDefault(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	same := &config.Config{Host: config.HostConfig{TickRate: config.DefaultTickRate}}
	faster := &config.Config{Host: config.HostConfig{TickRate: 60}}

	if d := config.Diff(old, same); d.TickRateChanged {
		t.Error("unset and default tick rate should compare equal")
	}
	d := config.Diff(old, faster)
	if !d.TickRateChanged || d.NewTickRate != 60 {
		t.Errorf("expected tick rate change to 60, got %+v", d)
	}
}

func TestDiff_Modules(t *testing.T) {
	t.Parallel()
	old := &config.Config{Modules: []module.Manifest{
		{Name: "terrain", Kind: "square"},
		{Name: "clock", Kind: "clock", Options: module.Options{"time_scale": 1.0}},
		{Name: "legacy", Kind: "hex"},
		{Name: "islands", Kind: "hex"},
	}}
	new := &config.Config{Modules: []module.Manifest{
		{Name: "terrain", Kind: "hex"},
		{Name: "clock", Kind: "clock", Options: module.Options{"time_scale": 2.0}},
		{Name: "islands", Kind: "hex", Enabled: boolp(false)},
		{Name: "province", Kind: "province"},
	}}

	d := config.Diff(old, new)
	if !d.ModulesChanged || !d.RequiresRestart() {
		t.Fatal("expected module changes")
	}

	want := []config.ModuleDiff{
		{Name: "terrain", KindChanged: true},
		{Name: "clock", OptionsChanged: true},
		{Name: "legacy", Removed: true},
		{Name: "islands", EnabledChanged: true},
		{Name: "province", Added: true},
	}
	if len(d.ModuleChanges) != len(want) {
		t.Fatalf("expected %d module changes, got %d: %+v", len(want), len(d.ModuleChanges), d.ModuleChanges)
	}
	for i, w := range want {
		if d.ModuleChanges[i] != w {
			t.Errorf("change[%d]: got %+v, want %+v", i, d.ModuleChanges[i], w)
		}
	}
}
