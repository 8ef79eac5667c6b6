package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
)

// Defaults holds config.toml's contents: azlin's user-level defaults, per
// spec §6 ("config.toml — defaults (resource group, region, VM size,
// session-name→VM map)").
type Defaults struct {
	ResourceGroup string            `toml:"resource_group"`
	Region        string            `toml:"region"`
	VMSize        string            `toml:"vm_size"`
	Sessions      map[string]string `toml:"sessions"` // session-name -> "rg:vm"
}

// LoadDefaults reads config.toml, returning a zero-value Defaults (not an
// error) if the file is absent, per the "missing file == empty state"
// tolerance required throughout §5's shared-resource policy.
func LoadDefaults(path string) (Defaults, error) {
	var d Defaults
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		d.Sessions = map[string]string{}
		return d, nil
	}
	if err != nil {
		return d, err
	}
	if err := toml.Unmarshal(data, &d); err != nil {
		log.WithError(err).Warn("config.toml malformed, using defaults")
		return Defaults{Sessions: map[string]string{}}, nil
	}
	if d.Sessions == nil {
		d.Sessions = map[string]string{}
	}
	return d, nil
}

// Save writes config.toml atomically with 0600 permissions.
func (d Defaults) Save(path string) error {
	data, err := toml.Marshal(d)
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data)
}

// BastionMappingEntry is one [mappings.<vm>] table, per spec §6.
type BastionMappingEntry struct {
	VMName              string `toml:"vm_name"`
	VMResourceGroup     string `toml:"vm_resource_group"`
	BastionName         string `toml:"bastion_name"`
	BastionResourceGroup string `toml:"bastion_resource_group"`
	Enabled             bool   `toml:"enabled"`
}

// DefaultBastion is the [default_bastion] table.
type DefaultBastion struct {
	Name          string `toml:"name"`
	ResourceGroup string `toml:"resource_group"`
}

// BastionConfig is bastion_config.toml's full shape.
type BastionConfig struct {
	Mappings       map[string]BastionMappingEntry `toml:"mappings"`
	DefaultBastion DefaultBastion                 `toml:"default_bastion"`
	AutoDetect     bool                            `toml:"auto_detect"`
	PreferBastion  bool                            `toml:"prefer_bastion"`
}

// LoadBastionConfig reads bastion_config.toml, tolerating a missing file.
func LoadBastionConfig(path string) (BastionConfig, error) {
	cfg := BastionConfig{Mappings: map[string]BastionMappingEntry{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		log.WithError(err).Warn("bastion_config.toml malformed, using defaults")
		return BastionConfig{Mappings: map[string]BastionMappingEntry{}}, nil
	}
	if cfg.Mappings == nil {
		cfg.Mappings = map[string]BastionMappingEntry{}
	}
	return cfg, nil
}

// Save writes bastion_config.toml atomically with 0600 permissions.
func (c BastionConfig) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data)
}

// Lookup returns the enabled mapping for vmName, mirroring the cache
// Invariant in spec §3: "an entry with enabled=false is visible to admin
// operations but invisible to the Connection Router's lookup."
func (c BastionConfig) Lookup(vmName string) (BastionMappingEntry, bool) {
	m, ok := c.Mappings[vmName]
	if !ok || !m.Enabled {
		return BastionMappingEntry{}, false
	}
	return m, true
}
