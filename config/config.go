// Package config provides the configuration of the errd-sim daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/rocketbitz/fabric-errd/asyncerr"
	"github.com/rocketbitz/fabric-errd/errdomain"
)

// Config is the simulator configuration.
type Config struct {
	APIVersion string `json:"api_version"`

	// Device names the simulated device in logs and metrics.
	Device string `json:"device"`

	LogLevel string `json:"log_level"`
	// LogFile, when set, writes rotating JSON logs there instead of stderr.
	LogFile string `json:"log_file"`

	// MetricsAddress serves Prometheus metrics. Empty disables the listener.
	MetricsAddress string `json:"metrics_address"`

	// HistoryFile is the sqlite fault history. Empty disables history.
	HistoryFile      string          `json:"history_file"`
	HistoryRetention metav1.Duration `json:"history_retention"`

	StrictUncategorized bool `json:"strict_uncategorized"`
	MaxClearCount       int  `json:"max_clear_count"`
	QueueCapacity       int  `json:"queue_capacity"`
	SharedPoolSize      int  `json:"shared_pool_size"`

	// InjectInterval is the delay between fault injection rounds.
	InjectInterval metav1.Duration `json:"inject_interval"`
	// ReadTimeout bounds each consumer read.
	ReadTimeout metav1.Duration `json:"read_timeout"`
	// Rounds stops the simulation after that many rounds. Zero runs until
	// interrupted.
	Rounds int `json:"rounds"`

	Consumers []Consumer `json:"consumers"`
	Faults    []Fault    `json:"faults"`
	Overrides []Override `json:"overrides"`
}

// Consumer is one async error consumer attached at startup.
type Consumer struct {
	Owner uint64 `json:"owner"`
	PASID uint32 `json:"pasid"`
}

// Fault is a fault injected every round. Name takes precedence over Bit.
type Fault struct {
	Group string `json:"group"`
	Name  string `json:"name,omitempty"`
	Bit   *int   `json:"bit,omitempty"`
	// Latch makes the bit re-assert after every clear.
	Latch bool `json:"latch,omitempty"`

	// Page group request details, used when the bit dispatches by PASID.
	PASID    uint32 `json:"pasid,omitempty"`
	Client   string `json:"client,omitempty"`
	VirtAddr uint64 `json:"vaddr,omitempty"`
	Access   string `json:"access,omitempty"`
}

// Override replaces the action of one bit.
type Override struct {
	Group  string `json:"group"`
	Name   string `json:"name,omitempty"`
	Bit    int    `json:"bit"`
	Action string `json:"action"`
}

const (
	minInjectInterval = 10 * time.Millisecond
	maxPASID          = 0xfffff
)

var (
	ErrNoDevice       = errors.New("device is required")
	ErrInjectInterval = fmt.Errorf("inject_interval must be at least %s", minInjectInterval)
)

// Load reads path over Default and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.UnmarshalStrict(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration against the embedded error table.
func (c *Config) Validate() error {
	if c.Device == "" {
		return ErrNoDevice
	}
	if c.InjectInterval.Duration < minInjectInterval {
		return ErrInjectInterval
	}
	if c.ReadTimeout.Duration < 0 {
		return fmt.Errorf("read_timeout must not be negative, got %s", c.ReadTimeout.Duration)
	}
	if c.HistoryRetention.Duration < 0 {
		return fmt.Errorf("history_retention must not be negative, got %s", c.HistoryRetention.Duration)
	}
	if c.MaxClearCount < 0 || c.QueueCapacity < 0 || c.SharedPoolSize < 0 || c.Rounds < 0 {
		return errors.New("limits must not be negative")
	}

	seen := make(map[uint32]struct{}, len(c.Consumers))
	for i, con := range c.Consumers {
		if con.Owner == 0 {
			return fmt.Errorf("consumers[%d]: owner is required", i)
		}
		if con.PASID > maxPASID {
			return fmt.Errorf("consumers[%d]: pasid %#x exceeds %#x", i, con.PASID, maxPASID)
		}
		if _, dup := seen[con.PASID]; dup {
			return fmt.Errorf("consumers[%d]: duplicate pasid %d", i, con.PASID)
		}
		seen[con.PASID] = struct{}{}
	}

	reg, err := errdomain.Default()
	if err != nil {
		return err
	}
	for i, f := range c.Faults {
		if _, err := f.Resolve(reg); err != nil {
			return fmt.Errorf("faults[%d]: %w", i, err)
		}
		if f.Client != "" {
			if _, err := ParseClient(f.Client); err != nil {
				return fmt.Errorf("faults[%d]: %w", i, err)
			}
		}
	}
	if _, err := c.DomainOverrides(); err != nil {
		return err
	}
	return nil
}

// Resolve returns the slot the fault targets.
func (f Fault) Resolve(reg *errdomain.Registry) (errdomain.Slot, error) {
	g, ok := reg.Group(f.Group)
	if !ok {
		return errdomain.Slot{}, fmt.Errorf("%w: %q", errdomain.ErrUnknownGroup, f.Group)
	}
	if f.Name != "" {
		s, ok := g.SlotByName(f.Name)
		if !ok {
			return errdomain.Slot{}, fmt.Errorf("%w: %s.%s", errdomain.ErrUnknownSlot, f.Group, f.Name)
		}
		return *s, nil
	}
	if f.Bit == nil {
		return errdomain.Slot{}, fmt.Errorf("%w: %s needs a name or bit", errdomain.ErrUnknownSlot, f.Group)
	}
	return reg.Slot(f.Group, *f.Bit)
}

// ParseClient parses a page group request client name.
func ParseClient(s string) (asyncerr.Client, error) {
	for _, c := range []asyncerr.Client{asyncerr.ClientTXDMA, asyncerr.ClientTXOTR, asyncerr.ClientRXDMA} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown client %q", s)
}

// ParseAccess parses an access string such as "rw-" or "-w-".
func ParseAccess(s string) (asyncerr.Access, error) {
	var a asyncerr.Access
	for _, r := range s {
		switch r {
		case 'r':
			a |= asyncerr.AccessRead
		case 'w':
			a |= asyncerr.AccessWrite
		case 'p':
			a |= asyncerr.AccessPrivileged
		case '-':
		default:
			return 0, fmt.Errorf("unknown access flag %q in %q", r, s)
		}
	}
	return a, nil
}

// DomainOverrides converts the configured overrides, appended after the
// default overrides so they win.
func (c *Config) DomainOverrides() ([]errdomain.Override, error) {
	out := errdomain.DefaultOverrides()
	for i, o := range c.Overrides {
		action, err := errdomain.ParseActionKind(o.Action)
		if err != nil {
			return nil, fmt.Errorf("overrides[%d]: %w", i, err)
		}
		out = append(out, errdomain.Override{Group: o.Group, Name: o.Name, Bit: o.Bit, Action: action})
	}
	return out, nil
}
