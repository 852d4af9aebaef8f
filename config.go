package symcore

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/cockroachdb/apd/v3"
	units "github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ============================================================
// Rounding
// ============================================================

// Rounding selects how float leaves are rounded to the working precision.
type Rounding uint8

const (
	RoundHalfEven Rounding = iota
	RoundHalfUp
	RoundHalfDown
	RoundDown
	RoundUp
	RoundFloor
	RoundCeiling
)

var roundingNames = map[Rounding]string{
	RoundHalfEven: "half-even",
	RoundHalfUp:   "half-up",
	RoundHalfDown: "half-down",
	RoundDown:     "down",
	RoundUp:       "up",
	RoundFloor:    "floor",
	RoundCeiling:  "ceiling",
}

func (r Rounding) String() string {
	if s, ok := roundingNames[r]; ok {
		return s
	}
	return fmt.Sprintf("rounding(%d)", uint8(r))
}

func (r Rounding) rounder() apd.Rounder {
	switch r {
	case RoundHalfUp:
		return apd.RoundHalfUp
	case RoundHalfDown:
		return apd.RoundHalfDown
	case RoundDown:
		return apd.RoundDown
	case RoundUp:
		return apd.RoundUp
	case RoundFloor:
		return apd.RoundFloor
	case RoundCeiling:
		return apd.RoundCeiling
	}
	return apd.RoundHalfEven
}

// ParseRounding accepts the names printed by Rounding.String.
func ParseRounding(s string) (Rounding, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RoundHalfEven, nil
	}
	for r, name := range roundingNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown rounding mode %q", s)
}

// ============================================================
// Domain
// ============================================================

// Domain is the assumption made about free symbols.
type Domain uint8

const (
	DomainComplex Domain = iota
	DomainReal
	DomainInteger
)

func (d Domain) String() string {
	switch d {
	case DomainReal:
		return "real"
	case DomainInteger:
		return "integer"
	}
	return "complex"
}

func ParseDomain(s string) (Domain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "complex":
		return DomainComplex, nil
	case "real":
		return DomainReal, nil
	case "integer":
		return DomainInteger, nil
	}
	return 0, fmt.Errorf("unknown domain %q", s)
}

// ============================================================
// Config
// ============================================================

// Config is the file and map representation of kernel settings.
type Config struct {
	ArenaSize     string `yaml:"arena_size" mapstructure:"arena_size"`
	MaxArenaBytes string `yaml:"max_arena_bytes" mapstructure:"max_arena_bytes"`
	Workers       int    `yaml:"workers" mapstructure:"workers"`
	Precision     uint32 `yaml:"precision" mapstructure:"precision"`
	Rounding      string `yaml:"rounding" mapstructure:"rounding"`
	Base          int    `yaml:"base" mapstructure:"base"`
	Domain        string `yaml:"domain" mapstructure:"domain"`
	Modulus       string `yaml:"modulus" mapstructure:"modulus"`
	LogLevel      string `yaml:"log_level" mapstructure:"log_level"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ArenaSize: "1MiB",
		Workers:   1,
		Precision: 34,
		Rounding:  RoundHalfEven.String(),
		Base:      10,
		Domain:    DomainComplex.String(),
		LogLevel:  "info",
	}
}

// LoadConfig reads a YAML config file. Missing fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ConfigFromMap decodes loosely typed settings, such as tool parameters,
// over the defaults.
func ConfigFromMap(m map[string]any) (Config, error) {
	cfg := DefaultConfig()
	return cfg.Merge(m)
}

// Merge returns c with the fields present in m overridden.
func (c Config) Merge(m map[string]any) (Config, error) {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return c, err
	}
	if err := dec.Decode(m); err != nil {
		return c, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}

// settings is the validated form of Config.
type settings struct {
	capacity int
	limit    int64
	workers  int
	prec     uint32
	rounding Rounding
	base     int
	domain   Domain
	mod      *big.Int
}

func (c Config) resolve() (settings, error) {
	s := settings{workers: c.Workers, prec: c.Precision, base: c.Base}
	if c.ArenaSize != "" {
		n, err := units.RAMInBytes(c.ArenaSize)
		if err != nil {
			return s, fmt.Errorf("arena_size: %w", err)
		}
		s.capacity = int(n / nodeHeaderBytes)
	}
	if c.MaxArenaBytes != "" {
		n, err := units.RAMInBytes(c.MaxArenaBytes)
		if err != nil {
			return s, fmt.Errorf("max_arena_bytes: %w", err)
		}
		s.limit = n
	}
	if s.workers < 1 {
		s.workers = 1
	}
	if s.prec == 0 {
		s.prec = 34
	}
	if s.base == 0 {
		s.base = 10
	}
	if s.base < 2 || s.base > 36 {
		return s, fmt.Errorf("base %d out of range [2, 36]", s.base)
	}
	var err error
	if s.rounding, err = ParseRounding(c.Rounding); err != nil {
		return s, err
	}
	if s.domain, err = ParseDomain(c.Domain); err != nil {
		return s, err
	}
	if c.Modulus != "" {
		m, ok := parseBasedInt(c.Modulus)
		if !ok || m.Cmp(big.NewInt(1)) <= 0 {
			return s, fmt.Errorf("modulus %q is not an integer greater than 1", c.Modulus)
		}
		s.mod = m
	}
	return s, nil
}

// HumanSize formats a byte count the way arena sizes are configured.
func HumanSize(n int64) string { return units.BytesSize(float64(n)) }
