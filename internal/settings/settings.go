// Package settings holds the persisted configuration the power engine
// reads: calibration multipliers and offsets, softfuse thresholds and
// switchcraft options. Changes are announced per key on a channel.
package settings

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
)

// Key names a single configuration value.
type Key uint8

const (
	KeyVoltageMultiplier Key = iota + 1
	KeyCurrentMultiplier
	KeyVoltageZero
	KeyCurrentZero
	KeyPowerZero
	KeyCurrentThreshold
	KeyCurrentThresholdDimmer
	KeySwitchcraftEnabled
	KeySwitchcraftThreshold
)

var keyNames = map[Key]string{
	KeyVoltageMultiplier:      "voltage_multiplier",
	KeyCurrentMultiplier:      "current_multiplier",
	KeyVoltageZero:            "voltage_zero",
	KeyCurrentZero:            "current_zero",
	KeyPowerZero:              "power_zero",
	KeyCurrentThreshold:       "current_threshold",
	KeyCurrentThresholdDimmer: "current_threshold_dimmer",
	KeySwitchcraftEnabled:     "switchcraft_enabled",
	KeySwitchcraftThreshold:   "switchcraft_threshold",
}

func (k Key) String() string {
	if s, ok := keyNames[k]; ok {
		return s
	}
	return fmt.Sprintf("key(%d)", uint8(k))
}

// ParseKey returns the key with the given name.
func ParseKey(name string) (Key, error) {
	for k, s := range keyNames {
		if s == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// PowerZeroInvalid marks a power zero that has not been calibrated.
const PowerZeroInvalid int32 = math.MaxInt32

// Errors returned by Set.
var (
	ErrUnknownKey = errors.New("settings: unknown key")
	ErrBadValue   = errors.New("settings: bad value")
)

// Config is the full set of values. Integer keys keep the persisted form
// compact.
type Config struct {
	VoltageMultiplier      float64 `cbor:"1,keyasint" json:"voltage_multiplier"`
	CurrentMultiplier      float64 `cbor:"2,keyasint" json:"current_multiplier"`
	VoltageZero            int32   `cbor:"3,keyasint" json:"voltage_zero"`
	CurrentZero            int32   `cbor:"4,keyasint" json:"current_zero"`
	PowerZero              int32   `cbor:"5,keyasint" json:"power_zero"`
	CurrentThreshold       int32   `cbor:"6,keyasint" json:"current_threshold"`
	CurrentThresholdDimmer int32   `cbor:"7,keyasint" json:"current_threshold_dimmer"`
	SwitchcraftEnabled     bool    `cbor:"8,keyasint" json:"switchcraft_enabled"`
	SwitchcraftThreshold   float64 `cbor:"9,keyasint" json:"switchcraft_threshold"`
}

// Defaults returns the factory configuration.
func Defaults() Config {
	return Config{
		VoltageMultiplier:      0.2,
		CurrentMultiplier:      0.0045,
		PowerZero:              PowerZeroInvalid,
		CurrentThreshold:       16000,
		CurrentThresholdDimmer: 1000,
		SwitchcraftEnabled:     false,
		SwitchcraftThreshold:   500000,
	}
}

// Store reads and writes configuration values.
type Store interface {
	Config() Config
	Set(key Key, value any) error
	Changes() <-chan Key
}

// MemoryStore keeps the configuration in memory. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	cfg     Config
	changes chan Key
	// persist is called with the new config after every successful Set.
	persist func(Config) error
}

// changeQueue bounds pending change notifications.
const changeQueue = 16

// NewMemoryStore creates a store holding cfg.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		cfg:     cfg,
		changes: make(chan Key, changeQueue),
	}
}

// Config returns a copy of the current configuration.
func (s *MemoryStore) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Changes delivers the key of every value changed by Set.
func (s *MemoryStore) Changes() <-chan Key {
	return s.changes
}

// Set updates one value. Numeric values of any Go numeric type are
// converted to the key's type.
func (s *MemoryStore) Set(key Key, value any) error {
	s.mu.Lock()
	next := s.cfg
	if err := assign(&next, key, value); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.persist != nil {
		if err := s.persist(next); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("persist %s: %w", key, err)
		}
	}
	s.cfg = next
	s.mu.Unlock()

	select {
	case s.changes <- key:
	default:
		log.Printf("settings: change queue full, dropping %s notification", key)
	}
	return nil
}

func assign(cfg *Config, key Key, value any) error {
	switch key {
	case KeyVoltageMultiplier, KeyCurrentMultiplier, KeySwitchcraftThreshold:
		f, ok := toFloat(value)
		if !ok || f <= 0 {
			return fmt.Errorf("%w: %s=%v", ErrBadValue, key, value)
		}
		switch key {
		case KeyVoltageMultiplier:
			cfg.VoltageMultiplier = f
		case KeyCurrentMultiplier:
			cfg.CurrentMultiplier = f
		default:
			cfg.SwitchcraftThreshold = f
		}
	case KeyVoltageZero, KeyCurrentZero, KeyPowerZero, KeyCurrentThreshold, KeyCurrentThresholdDimmer:
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
			return fmt.Errorf("%w: %s=%v", ErrBadValue, key, value)
		}
		v := int32(f)
		switch key {
		case KeyVoltageZero:
			cfg.VoltageZero = v
		case KeyCurrentZero:
			cfg.CurrentZero = v
		case KeyPowerZero:
			cfg.PowerZero = v
		case KeyCurrentThreshold:
			cfg.CurrentThreshold = v
		default:
			cfg.CurrentThresholdDimmer = v
		}
	case KeySwitchcraftEnabled:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: %s=%v", ErrBadValue, key, value)
		}
		cfg.SwitchcraftEnabled = b
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}
