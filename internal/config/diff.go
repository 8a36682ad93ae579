package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// LogLevel and TickRate are applied live; module changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TickRateChanged bool
	NewTickRate     float64

	ModulesChanged bool
	ModuleChanges  []ModuleDiff
}

// ModuleDiff describes what changed for a single module between two configs.
type ModuleDiff struct {
	Name           string
	Added          bool
	Removed        bool
	KindChanged    bool
	OptionsChanged bool
	EnabledChanged bool
}

// RequiresRestart reports whether d contains changes that are not applied live.
func (d ConfigDiff) RequiresRestart() bool {
	return d.ModulesChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Tick rate
	if old.Host.EffectiveTickRate() != new.Host.EffectiveTickRate() {
		d.TickRateChanged = true
		d.NewTickRate = new.Host.EffectiveTickRate()
	}

	oldMods := make(map[string]int, len(old.Modules))
	for i := range old.Modules {
		oldMods[old.Modules[i].Name] = i
	}
	newMods := make(map[string]int, len(new.Modules))
	for i := range new.Modules {
		newMods[new.Modules[i].Name] = i
	}

	// Modified and removed modules, in old config order.
	for _, om := range old.Modules {
		j, exists := newMods[om.Name]
		if !exists {
			d.ModuleChanges = append(d.ModuleChanges, ModuleDiff{Name: om.Name, Removed: true})
			continue
		}
		nm := new.Modules[j]
		md := ModuleDiff{
			Name:           om.Name,
			KindChanged:    om.Kind != nm.Kind,
			OptionsChanged: !reflect.DeepEqual(om.Options, nm.Options),
			EnabledChanged: om.IsEnabled() != nm.IsEnabled(),
		}
		if md.KindChanged || md.OptionsChanged || md.EnabledChanged {
			d.ModuleChanges = append(d.ModuleChanges, md)
		}
	}

	// Added modules, in new config order.
	for _, nm := range new.Modules {
		if _, exists := oldMods[nm.Name]; !exists {
			d.ModuleChanges = append(d.ModuleChanges, ModuleDiff{Name: nm.Name, Added: true})
		}
	}

	d.ModulesChanged = len(d.ModuleChanges) > 0
	return d
}
