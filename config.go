package vnc

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the server's env-var-driven configuration, with an optional
// YAML file providing defaults that environment variables override. See
// SPEC_FULL.md's AMBIENT STACK.
type Config struct {
	Port               int    `yaml:"port"`
	Password           string `yaml:"password"`
	DesktopName        string `yaml:"desktop_name"`
	Width              int    `yaml:"width"`
	Height             int    `yaml:"height"`
	InitialQuality     int    `yaml:"initial_quality"`
	InitialCompression int    `yaml:"initial_compression"`
	AcceptRatePerSec   int    `yaml:"accept_rate_per_second"`
	AcceptBurst        int    `yaml:"accept_burst"`
}

// Default values, per SPEC_FULL.md §6 ("initial quality level (default
// 5), initial compression level (default 6)").
const (
	DefaultPort               = 5900
	DefaultDesktopName        = "Go VNC"
	DefaultWidth              = 1024
	DefaultHeight             = 768
	DefaultInitialQuality     = 5
	DefaultInitialCompression = 6
	DefaultAcceptRatePerSec   = 5
	DefaultAcceptBurst        = 10
)

// ValidationError is one field's configuration problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds every problem found by Validate, so the caller
// sees all of them at once rather than fixing-and-rerunning one at a time.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// defaultConfig returns a Config populated with every default value.
func defaultConfig() *Config {
	return &Config{
		Port:               DefaultPort,
		DesktopName:        DefaultDesktopName,
		Width:              DefaultWidth,
		Height:             DefaultHeight,
		InitialQuality:     DefaultInitialQuality,
		InitialCompression: DefaultInitialCompression,
		AcceptRatePerSec:   DefaultAcceptRatePerSec,
		AcceptBurst:        DefaultAcceptBurst,
	}
}

// LoadConfig builds a Config from defaults, an optional YAML file (ignored
// if path is empty), and environment variables, in that increasing order
// of precedence, then validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return cfg, nil
}

// loadFile merges a YAML override into cfg. Per SPEC_FULL.md, file values
// are a lower-precedence layer beneath environment variables.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("vnc: failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("vnc: failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	var errs ValidationErrors

	if v, ok := os.LookupEnv("VNC_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{"VNC_PORT", "must be an integer"})
		} else {
			c.Port = n
		}
	}
	if v, ok := os.LookupEnv("VNC_PASSWORD"); ok {
		c.Password = v
	}
	if v, ok := os.LookupEnv("VNC_DESKTOP_NAME"); ok {
		c.DesktopName = v
	}
	if v, ok := os.LookupEnv("VNC_WIDTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{"VNC_WIDTH", "must be an integer"})
		} else {
			c.Width = n
		}
	}
	if v, ok := os.LookupEnv("VNC_HEIGHT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{"VNC_HEIGHT", "must be an integer"})
		} else {
			c.Height = n
		}
	}
	if v, ok := os.LookupEnv("VNC_INITIAL_QUALITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{"VNC_INITIAL_QUALITY", "must be an integer"})
		} else {
			c.InitialQuality = n
		}
	}
	if v, ok := os.LookupEnv("VNC_INITIAL_COMPRESSION"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{"VNC_INITIAL_COMPRESSION", "must be an integer"})
		} else {
			c.InitialCompression = n
		}
	}
	if v, ok := os.LookupEnv("VNC_ACCEPT_RATE_PER_SECOND"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{"VNC_ACCEPT_RATE_PER_SECOND", "must be an integer"})
		} else {
			c.AcceptRatePerSec = n
		}
	}
	if v, ok := os.LookupEnv("VNC_ACCEPT_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{"VNC_ACCEPT_BURST", "must be an integer"})
		} else {
			c.AcceptBurst = n
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate checks invariants Load can't catch while parsing individual
// fields (range checks, cross-field consistency).
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, ValidationError{"Port", "must be between 1 and 65535"})
	}
	if c.Width <= 0 || c.Width > 65535 {
		errs = append(errs, ValidationError{"Width", "must be between 1 and 65535"})
	}
	if c.Height <= 0 || c.Height > 65535 {
		errs = append(errs, ValidationError{"Height", "must be between 1 and 65535"})
	}
	if c.InitialQuality < 0 || c.InitialQuality > 9 {
		errs = append(errs, ValidationError{"InitialQuality", "must be between 0 and 9"})
	}
	if c.InitialCompression < 0 || c.InitialCompression > 9 {
		errs = append(errs, ValidationError{"InitialCompression", "must be between 0 and 9"})
	}
	if c.AcceptRatePerSec <= 0 {
		errs = append(errs, ValidationError{"AcceptRatePerSec", "must be positive"})
	}
	if c.AcceptBurst <= 0 {
		errs = append(errs, ValidationError{"AcceptBurst", "must be positive"})
	}
	return errs
}
