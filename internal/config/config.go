// Package config loads gosnoop settings from flags, environment and an
// optional .gosnoop.yaml file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GOSNOOP_JOBS.
const EnvPrefix = "GOSNOOP"

type Config struct {
	InputDir  string `mapstructure:"input_dir"`
	OutputDir string `mapstructure:"output_dir"`
	SnoopPath string `mapstructure:"snoop_path"`
	TempDir   string `mapstructure:"temp_dir"`

	Jobs       int    `mapstructure:"jobs"`
	AlwaysMake bool   `mapstructure:"always_make"`
	KeepGoing  bool   `mapstructure:"keep_going"`
	Decoder    string `mapstructure:"decoder"`
	Filter     string `mapstructure:"filter"`
	Parse      bool   `mapstructure:"parse"`
	Pcap       bool   `mapstructure:"pcap"`

	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
	Schedule string        `mapstructure:"schedule"`
	TUI      bool          `mapstructure:"tui"`
	Report   string        `mapstructure:"report"`
	LogFile  string        `mapstructure:"log_file"`

	Tshark TsharkConfig `mapstructure:"tshark"`
	Docs   DocsConfig   `mapstructure:"docs"`
}

type TsharkConfig struct {
	Path          string   `mapstructure:"path"`
	Args          []string `mapstructure:"args"`
	DisplayFilter string   `mapstructure:"display_filter"`
}

type DocsConfig struct {
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	Source    string   `mapstructure:"source"`
	Output    string   `mapstructure:"output"`
	Logo      string   `mapstructure:"logo"`
	Addr      string   `mapstructure:"addr"`
	Readme    string   `mapstructure:"readme"`
	Target    string   `mapstructure:"target"`
	Marker    string   `mapstructure:"marker"`
	Delimiter string   `mapstructure:"delimiter"`
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("input_dir", "input")
	v.SetDefault("output_dir", "output")
	v.SetDefault("snoop_path", "FS/data/misc/bluetooth/logs/btsnoop_hci.log")
	v.SetDefault("temp_dir", "")
	v.SetDefault("jobs", 1)
	v.SetDefault("always_make", false)
	v.SetDefault("keep_going", false)
	v.SetDefault("decoder", "auto")
	v.SetDefault("filter", ".")
	v.SetDefault("parse", false)
	v.SetDefault("pcap", false)
	v.SetDefault("watch", false)
	v.SetDefault("debounce", "2s")
	v.SetDefault("schedule", "")
	v.SetDefault("tui", false)
	v.SetDefault("report", "")
	v.SetDefault("log_file", "gosnoop.log")

	v.SetDefault("tshark.path", "tshark")
	v.SetDefault("tshark.args", []string{})
	v.SetDefault("tshark.display_filter", "")

	v.SetDefault("docs.command", "pdoc")
	v.SetDefault("docs.args", []string{"{source}", "-o", "{output}"})
	v.SetDefault("docs.source", "src")
	v.SetDefault("docs.output", "docs")
	v.SetDefault("docs.logo", "logo.png")
	v.SetDefault("docs.addr", ":8000")
	v.SetDefault("docs.readme", "README.md")
	v.SetDefault("docs.target", "")
	v.SetDefault("docs.marker", "<!-- BEGIN CONTENT -->")
	v.SetDefault("docs.delimiter", `"""`)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The directory variables keep their bare names for make compatibility.
	_ = v.BindEnv("input_dir", EnvPrefix+"_INPUT_DIR", "INPUT_DIR")
	_ = v.BindEnv("output_dir", EnvPrefix+"_OUTPUT_DIR", "OUTPUT_DIR")

	return v
}

// Load reads cfgFile, or .gosnoop.yaml from the working directory or home
// when cfgFile is empty, and decodes the merged settings. A missing default
// config file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".gosnoop")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error
	if c.InputDir == "" {
		errs = append(errs, errors.New("input_dir must be set"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir must be set"))
	}
	if c.SnoopPath == "" {
		errs = append(errs, errors.New("snoop_path must be set"))
	}
	if c.Jobs < 1 {
		errs = append(errs, fmt.Errorf("jobs must be at least 1, got %d", c.Jobs))
	}
	switch c.Decoder {
	case "auto", "tshark", "native":
	default:
		errs = append(errs, fmt.Errorf("decoder must be auto, tshark or native, got %q", c.Decoder))
	}
	switch c.Report {
	case "", "html", "json":
	default:
		errs = append(errs, fmt.Errorf("report must be html or json, got %q", c.Report))
	}
	if c.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("debounce must be positive, got %s", c.Debounce))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
