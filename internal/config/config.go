// Package config loads the terminal configuration from YAML and SMARTPOS_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gregLibert/smart-pos/pkg/emv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SMARTPOS_TERMINAL_ID.
const EnvPrefix = "SMARTPOS"

// Config is the full terminal configuration.
type Config struct {
	Terminal   TerminalConfig   `mapstructure:"terminal" yaml:"terminal"`
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`
	Bank       BankConfig       `mapstructure:"bank" yaml:"bank"`
	Card       CardConfig       `mapstructure:"card" yaml:"card"`
	StatusFeed StatusFeedConfig `mapstructure:"statusfeed" yaml:"statusfeed"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

type TerminalConfig struct {
	ID string `mapstructure:"id" yaml:"id"`
}

// ControllerConfig configures the terminal-controller link.
type ControllerConfig struct {
	Host              string        `mapstructure:"host" yaml:"host"`
	Port              int           `mapstructure:"port" yaml:"port"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	KeepAlive         time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval" yaml:"keep_alive_interval"`
}

// BankConfig configures the bank-connector link.
type BankConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// CardConfig configures the card reader and the APDU exchange.
type CardConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	AIDSelection string        `mapstructure:"aid_selection" yaml:"aid_selection"` // first | priority
	RecordSource string        `mapstructure:"record_source" yaml:"record_source"` // scan | afl
	Reader       string        `mapstructure:"reader" yaml:"reader"`               // pcsc | libnfc | none
	ReaderName   string        `mapstructure:"reader_name" yaml:"reader_name"`
}

// StatusFeedConfig configures the WebSocket status feed.
type StatusFeedConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"` // empty disables the feed
	MDNS   bool   `mapstructure:"mdns" yaml:"mdns"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text | json
}

// defaults lists every key. Durations are strings so that the written
// default file stays readable.
var defaults = map[string]any{
	"terminal.id": "10000176",

	"controller.host":                "192.168.100.174",
	"controller.port":                8089,
	"controller.connect_timeout":     "15s",
	"controller.read_timeout":        "30s",
	"controller.keep_alive":          "15s",
	"controller.initial_backoff":     "5s",
	"controller.max_backoff":         "60s",
	"controller.keep_alive_interval": "0s",

	"bank.host":            "10.0.2.2",
	"bank.port":            8888,
	"bank.connect_timeout": "15s",
	"bank.read_timeout":    "0s",
	"bank.max_attempts":    3,
	"bank.retry_delay":     "2s",

	"card.timeout":       "30s",
	"card.aid_selection": "first",
	"card.record_source": "scan",
	"card.reader":        "pcsc",
	"card.reader_name":   "",

	"statusfeed.listen": "",
	"statusfeed.mdns":   false,

	"log.level":  "info",
	"log.format": "text",
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. With an empty path it looks for
// smartpos.yaml in the working directory and in ~/.smartpos, and falls back
// to defaults when neither exists.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("smartpos")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".smartpos"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Terminal.ID == "" {
		errs = append(errs, errors.New("terminal.id is required"))
	}
	check := func(key, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: %q is not one of %s", key, value, strings.Join(allowed, ", ")))
	}
	check("card.aid_selection", c.Card.AIDSelection, "first", "priority")
	check("card.record_source", c.Card.RecordSource, "scan", "afl")
	check("card.reader", c.Card.Reader, "pcsc", "libnfc", "none")
	check("log.format", c.Log.Format, "text", "json")
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// ControllerAddr is the host:port of the terminal controller.
func (c *Config) ControllerAddr() string {
	return net.JoinHostPort(c.Controller.Host, strconv.Itoa(c.Controller.Port))
}

// BankAddr is the host:port of the bank connector.
func (c *Config) BankAddr() string {
	return net.JoinHostPort(c.Bank.Host, strconv.Itoa(c.Bank.Port))
}

func (c *Config) AIDSelection() emv.AIDSelection {
	if c.Card.AIDSelection == "priority" {
		return emv.PriorityAID
	}
	return emv.FirstAID
}

func (c *Config) RecordSource() emv.RecordSource {
	if c.Card.RecordSource == "afl" {
		return emv.AFLRecords
	}
	return emv.ScanRecords
}

// LogLevel parses log.level (debug, info, warn, error).
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.Log.Level))
	return l, err
}

// DefaultYAML renders the default settings as a YAML document.
func DefaultYAML() ([]byte, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return yaml.Marshal(v.AllSettings())
}

// WriteDefault writes the default settings to path. An existing file is
// left untouched and reported with fs.ErrExist.
func WriteDefault(path string) error {
	data, err := DefaultYAML()
	if err != nil {
		return fmt.Errorf("render defaults: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", path, fs.ErrExist)
		}
		return err
	}
	defer f.Close()

	if _, err := f.WriteString("# smartpos terminal configuration\n"); err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}
