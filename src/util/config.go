package util

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config mirrors the subset of Options that may be set from a YAML configuration file.
// Zero values leave the corresponding option untouched.
type Config struct {
	Threads        int    `yaml:"threads"`
	GCThreads      int    `yaml:"gc_threads"`
	Arch           string `yaml:"arch"`
	Scheme         string `yaml:"scheme"`
	InitHeap       string `yaml:"initial_heap"`
	MaxHeap        string `yaml:"max_heap"`
	TLABSize       string `yaml:"tlab_size"`
	MinFreePercent int    `yaml:"min_free_percent"`
	MaxFreePercent int    `yaml:"max_free_percent"`
	AdapterFrames  bool   `yaml:"adapter_frames"`
	Verbose        bool   `yaml:"verbose"`
	Debug          bool   `yaml:"debug"`
	MemProfile     string `yaml:"memprofile"`
}

// ReadConfig reads and decodes the YAML configuration file at path.
func ReadConfig(path string) (Config, error) {
	cfg := Config{}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read configuration file: %s", err)
	}
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return cfg, fmt.Errorf("configuration file %s: %s", path, err)
	}
	return cfg, nil
}

// Apply copies every value set in the configuration into opt.
func (c Config) Apply(opt *Options) error {
	var err error
	if c.Threads != 0 {
		if c.Threads < 1 || c.Threads > maxThreads {
			return fmt.Errorf("threads must be in range [1, %d]", maxThreads)
		}
		opt.Threads = c.Threads
	}
	if c.GCThreads != 0 {
		if c.GCThreads < 1 || c.GCThreads > maxThreads {
			return fmt.Errorf("gc_threads must be in range [1, %d]", maxThreads)
		}
		opt.GCThreads = c.GCThreads
	}
	if len(c.Arch) > 0 {
		if opt.TargetArch, err = ParseArch(c.Arch); err != nil {
			return err
		}
	}
	if len(c.Scheme) > 0 {
		if opt.Scheme, err = ParseScheme(c.Scheme); err != nil {
			return err
		}
	}
	if len(c.InitHeap) > 0 {
		if opt.InitHeap, err = ParseSize(c.InitHeap); err != nil {
			return err
		}
	}
	if len(c.MaxHeap) > 0 {
		if opt.MaxHeap, err = ParseSize(c.MaxHeap); err != nil {
			return err
		}
	}
	if len(c.TLABSize) > 0 {
		if opt.TLABSize, err = ParseSize(c.TLABSize); err != nil {
			return err
		}
	}
	if c.MinFreePercent != 0 {
		opt.MinFreePercent = c.MinFreePercent
	}
	if c.MaxFreePercent != 0 {
		opt.MaxFreePercent = c.MaxFreePercent
	}
	if opt.MinFreePercent < 0 || opt.MaxFreePercent > 100 || opt.MinFreePercent > opt.MaxFreePercent {
		return fmt.Errorf("free space percentages must satisfy 0 <= min (%d) <= max (%d) <= 100",
			opt.MinFreePercent, opt.MaxFreePercent)
	}
	if len(c.MemProfile) > 0 {
		opt.MemProfile = c.MemProfile
	}
	opt.AdapterFrames = opt.AdapterFrames || c.AdapterFrames
	opt.Verbose = opt.Verbose || c.Verbose
	opt.Debug = opt.Debug || c.Debug
	return nil
}
