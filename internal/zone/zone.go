// Package zone decides whether a point lies inside the delivery area.
package zone

import (
	_ "embed"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "delivery-geolocation/pkg/errors"
	"delivery-geolocation/pkg/geography"
)

type Mode string

const (
	ModePolygon Mode = "polygon"
	ModeRadius  Mode = "radius"
)

// Config describes a delivery area. A polygon of three or more vertices
// takes precedence over RadiusKm.
type Config struct {
	Name     string                  `yaml:"name" json:"name,omitempty"`
	Center   geography.Coordinates   `yaml:"center" json:"center"`
	Polygon  []geography.Coordinates `yaml:"polygon,omitempty" json:"polygon,omitempty"`
	RadiusKm *float64                `yaml:"radius_km,omitempty" json:"radius_km,omitempty"`
}

func (c Config) Mode() (Mode, error) {
	switch {
	case len(c.Polygon) >= 3:
		return ModePolygon, nil
	case c.RadiusKm != nil:
		return ModeRadius, nil
	default:
		return "", apperrors.NewValidation("zone.Config", "zone needs a polygon of at least 3 points or a radius", nil)
	}
}

func (c Config) Validate() error {
	mode, err := c.Mode()
	if err != nil {
		return err
	}
	if !c.Center.Valid() {
		return apperrors.NewValidation("zone.Config", "center coordinates out of range", nil)
	}
	if mode == ModeRadius && *c.RadiusKm < 0 {
		return apperrors.NewValidation("zone.Config", "radius must not be negative", nil)
	}
	for i, p := range c.Polygon {
		if !p.Valid() {
			return apperrors.NewValidation("zone.Config", fmt.Sprintf("polygon vertex %d out of range", i), nil)
		}
	}
	return nil
}

// Parse decodes and validates a YAML zone definition.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, apperrors.NewValidation("zone.Parse", "invalid zone yaml", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read zone file: %w", err)
	}
	return Parse(data)
}

//go:embed default_zone.yaml
var defaultZone []byte

// Default is the built-in zone used when no zone file is configured.
func Default() Config {
	c, err := Parse(defaultZone)
	if err != nil {
		panic("zone: invalid embedded default: " + err.Error())
	}
	return c
}

// Load reads path, or returns Default when path is empty.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// Radius is a convenience for building radius-mode configs.
func Radius(center geography.Coordinates, km float64) Config {
	return Config{Center: center, RadiusKm: &km}
}

// Check is the outcome of one containment test.
type Check struct {
	Address     string                `json:"address,omitempty"`
	Coordinates geography.Coordinates `json:"coordinates"`
	InZone      bool                  `json:"in_zone"`
	DistanceKm  float64               `json:"distance_km"`
	CheckedAt   time.Time             `json:"checked_at"`
}

type Checker struct {
	mu   sync.RWMutex
	cfg  Config
	mode Mode
	last *Check
	now  func() time.Time
}

func NewChecker(cfg Config) (*Checker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, _ := cfg.Mode()
	return &Checker{cfg: cfg, mode: mode, now: time.Now}, nil
}

// SetConfig swaps the zone definition; the previous one stays on error.
func (c *Checker) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	mode, _ := cfg.Mode()
	c.mu.Lock()
	c.cfg, c.mode = cfg, mode
	c.mu.Unlock()
	return nil
}

func (c *Checker) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Checker) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// IsInDeliveryZone uses ray casting in polygon mode and an inclusive
// great-circle radius otherwise.
func (c *Checker) IsInDeliveryZone(p geography.Coordinates) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.containsLocked(p)
}

func (c *Checker) containsLocked(p geography.Coordinates) bool {
	if c.mode == ModePolygon {
		return geography.PointInPolygon(p, c.cfg.Polygon)
	}
	return geography.DistanceKm(c.cfg.Center, p) <= *c.cfg.RadiusKm
}

// DistanceFromCenter is the great-circle distance in km, two decimals.
func (c *Checker) DistanceFromCenter(p geography.Coordinates) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return geography.Round2(geography.DistanceKm(c.cfg.Center, p))
}

// Check tests p and remembers the outcome as the last check.
func (c *Checker) Check(address string, p geography.Coordinates) Check {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := Check{
		Address:     address,
		Coordinates: p,
		InZone:      c.containsLocked(p),
		DistanceKm:  geography.Round2(geography.DistanceKm(c.cfg.Center, p)),
		CheckedAt:   c.now(),
	}
	c.last = &res
	return res
}

func (c *Checker) Last() (Check, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return Check{}, false
	}
	return *c.last, true
}
