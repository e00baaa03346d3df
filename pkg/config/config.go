// Package config loads the agent configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/newtron-network/extport/pkg/session"
	"github.com/newtron-network/extport/pkg/steering/drivers/controller"
	"github.com/newtron-network/extport/pkg/util"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Config is the agent configuration.
type Config struct {
	// LocalAddress is this side's tunnel endpoint, passed to every driver.
	LocalAddress string `yaml:"local_address" validate:"omitempty,ip"`

	// StateFile holds the record store between runs.
	StateFile string `yaml:"state_file"`

	// AuditLog is the JSON-lines audit file. Empty disables auditing.
	AuditLog string `yaml:"audit_log"`

	// MetricsFile receives a Prometheus textfile after each command.
	MetricsFile string `yaml:"metrics_file"`

	// ReservedVLANs lists tags sampled allocation must skip, e.g.
	// "1-10,4000-4094".
	ReservedVLANs string `yaml:"reserved_vlans"`

	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogJSON  bool   `yaml:"log_json"`

	Timeouts Timeouts       `yaml:"timeouts"`
	Lock     LockConfig     `yaml:"lock"`
	Steering SteeringConfig `yaml:"steering"`
}

// Timeouts bound device sessions.
type Timeouts struct {
	Dial    time.Duration `yaml:"dial"`
	Read    time.Duration `yaml:"read"`
	Restart time.Duration `yaml:"restart"`
}

// LockConfig selects the per-device lock.
type LockConfig struct {
	Backend   string        `yaml:"backend" validate:"oneof=local redis"`
	RedisAddr string        `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisDB   int           `yaml:"redis_db" validate:"gte=0"`
	TTL       time.Duration `yaml:"ttl"`
	Retry     time.Duration `yaml:"retry"`
}

// SteeringConfig lists the steering drivers in call order.
type SteeringConfig struct {
	Drivers    []string          `yaml:"drivers" validate:"unique,dive,oneof=noop redis controller"`
	RedisAddr  string            `yaml:"redis_addr"`
	RedisDB    int               `yaml:"redis_db" validate:"gte=0"`
	Controller controller.Config `yaml:"controller"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		StateFile: DefaultStatePath(),
		LogLevel:  "info",
		Timeouts: Timeouts{
			Dial:    session.DefaultDialTimeout,
			Read:    session.DefaultReadTimeout,
			Restart: session.DefaultRestartTimeout,
		},
		Lock: LockConfig{
			Backend: LockLocal,
			TTL:     5 * time.Minute,
			Retry:   time.Second,
		},
		Steering: SteeringConfig{
			Drivers:   []string{"noop"},
			RedisAddr: "localhost:6379",
			Controller: controller.Config{
				Timeout: controller.DefaultTimeout,
			},
		},
	}
}

// DefaultPath returns ~/.extport/config.yaml.
func DefaultPath() string {
	return homePath("config.yaml")
}

// DefaultStatePath returns ~/.extport/state.json.
func DefaultStatePath() string {
	return homePath("state.json")
}

func homePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "extport_" + name
	}
	return filepath.Join(home, ".extport", name)
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults restores defaults the file zeroed out.
func (c *Config) applyDefaults() {
	def := Default()
	if c.StateFile == "" {
		c.StateFile = def.StateFile
	}
	if c.Timeouts.Dial <= 0 {
		c.Timeouts.Dial = def.Timeouts.Dial
	}
	if c.Timeouts.Read <= 0 {
		c.Timeouts.Read = def.Timeouts.Read
	}
	if c.Timeouts.Restart <= 0 {
		c.Timeouts.Restart = def.Timeouts.Restart
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = LockLocal
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = def.Lock.TTL
	}
	if c.Steering.Controller.Timeout <= 0 {
		c.Steering.Controller.Timeout = controller.DefaultTimeout
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Reserved expands ReservedVLANs.
func (c *Config) Reserved() ([]int, error) {
	return util.ExpandRange(c.ReservedVLANs)
}

// Validate checks field values and names the first offending key.
func (c *Config) Validate() error {
	if _, err := c.Reserved(); err != nil {
		return util.NewMalformedKeyError("reserved_vlans", err.Error())
	}
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := verrs[0]
	return util.NewMalformedKeyError(yamlKey(fe.Namespace()), fmt.Sprintf("must satisfy %s %s (got %v)", fe.Tag(), fe.Param(), fe.Value()))
}

// yamlKey maps "Config.Lock.RedisAddr" to "lock.redis_addr".
func yamlKey(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
