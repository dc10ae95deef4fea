// Package config loads the compiler configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"
)

// DefaultFile is the configuration file looked up next to the source.
const DefaultFile = "cminus.yaml"

// ErrInvalid reports a configuration value outside its allowed set.
var ErrInvalid = errors.New("config: invalid value")

// Trace selects which phases produce trace output.
type Trace struct {
	Parse   bool `yaml:"parse"`   // dump the annotated tree
	Analyze bool `yaml:"analyze"` // dump the symbol table
	Code    bool `yaml:"code"`    // comments in the TM listing
}

// Log configures the CLI logger.
type Log struct {
	Level  string `yaml:"level"`  // zerolog level name
	Format string `yaml:"format"` // console or json
}

// Config is the decoded cminus.yaml.
type Config struct {
	MaxMemory int    `yaml:"max_memory"`
	Trace     Trace  `yaml:"trace"`
	Log       Log    `yaml:"log"`
	Color     string `yaml:"color"` // auto, always or never
	BuildDir  string `yaml:"build_dir"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		MaxMemory: 1024,
		Log:       Log{Level: "warn", Format: "console"},
		Color:     "auto",
		BuildDir:  ".",
	}
}

// Load reads path from fs over the defaults. A missing file yields the
// defaults unchanged.
func Load(fs billy.Filesystem, path string) (Config, error) {
	cfg := Default()
	data, err := util.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data, cfg)
}

// Parse decodes data over base and validates the result.
func Parse(data []byte, base Config) (Config, error) {
	cfg := base
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return base, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

// Validate rejects values the compiler cannot honour.
func (c Config) Validate() error {
	var errs []error
	if c.MaxMemory < 16 {
		errs = append(errs, fmt.Errorf("%w: max_memory %d is below 16", ErrInvalid, c.MaxMemory))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format))
	}
	switch strings.ToLower(c.Color) {
	case "", "auto", "always", "never":
	default:
		errs = append(errs, fmt.Errorf("%w: color %q", ErrInvalid, c.Color))
	}
	return errors.Join(errs...)
}

// Level returns the configured log level.
func (c Config) Level() (zerolog.Level, error) {
	if c.Log.Level == "" {
		return zerolog.WarnLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	return lvl, nil
}
