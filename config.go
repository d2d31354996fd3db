package rigid

import (
	"fmt"
	"math"
	"os"
	"runtime"

	"github.com/gekko3d/rigid/broadphase"
	"github.com/gekko3d/rigid/ccd"
	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/island"
	"github.com/gekko3d/rigid/solver"
	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

type SolverConfig struct {
	VelocityIterations   int     `yaml:"velocity_iterations"`
	PositionIterations   int     `yaml:"position_iterations"`
	WarmStart            bool    `yaml:"warm_start"`
	Baumgarte            float64 `yaml:"baumgarte"`
	LinearSlop           float64 `yaml:"linear_slop"`
	AngularSlop          float64 `yaml:"angular_slop"`
	MaxLinearCorrection  float64 `yaml:"max_linear_correction"`
	MaxAngularCorrection float64 `yaml:"max_angular_correction"`
	RestitutionThreshold float64 `yaml:"restitution_threshold"`
	StaticSlipSpeed      float64 `yaml:"static_slip_speed"`
	// PredictiveIterations enables the predictive correction pass.
	PredictiveIterations int     `yaml:"predictive_iterations"`
	PredictiveSlop       float64 `yaml:"predictive_slop"`
}

type SleepConfig struct {
	Enabled bool `yaml:"enabled"`
	// Threshold is the specific kinetic energy below which a body rests.
	Threshold float64 `yaml:"threshold"`
	Time      float64 `yaml:"time"`
}

type CCDConfig struct {
	Enabled        bool    `yaml:"enabled"`
	MotionFraction float64 `yaml:"motion_fraction"`
	MaxIterations  int     `yaml:"max_iterations"`
	Tolerance      float64 `yaml:"tolerance"`
}

type Config struct {
	Gravity  mgl64.Vec3 `yaml:"gravity"`
	Timestep float64    `yaml:"timestep"`
	// MaxSubsteps caps the fixed steps one Advance call may run; the
	// remaining time is dropped.
	MaxSubsteps int `yaml:"max_substeps"`
	Workers     int `yaml:"workers"`

	Broadphase string  `yaml:"broadphase"`
	CellSize   float64 `yaml:"cell_size"`
	// ContactMargin is the gap within which speculative contacts are
	// generated.
	ContactMargin        float64 `yaml:"contact_margin"`
	PersistenceThreshold float64 `yaml:"persistence_threshold"`

	MaxLinearSpeed  float64 `yaml:"max_linear_speed"`
	MaxAngularSpeed float64 `yaml:"max_angular_speed"`

	Solver SolverConfig `yaml:"solver"`
	Sleep  SleepConfig  `yaml:"sleep"`
	CCD    CCDConfig    `yaml:"ccd"`

	PublishSnapshots bool `yaml:"publish_snapshots"`
	Debug            bool `yaml:"debug"`
}

func DefaultConfig() Config {
	p := solver.DefaultParams()
	d := ccd.NewDetector()
	return Config{
		Gravity:              mgl64.Vec3{0, -9.81, 0},
		Timestep:             1.0 / 60,
		MaxSubsteps:          8,
		Workers:              runtime.GOMAXPROCS(0),
		Broadphase:           "grid",
		ContactMargin:        0.02,
		PersistenceThreshold: 0.05,
		MaxLinearSpeed:       1000,
		MaxAngularSpeed:      100,
		Solver: SolverConfig{
			VelocityIterations:   p.VelocityIterations,
			PositionIterations:   p.PositionIterations,
			WarmStart:            p.WarmStart,
			Baumgarte:            p.Baumgarte,
			LinearSlop:           p.LinearSlop,
			AngularSlop:          p.AngularSlop,
			MaxLinearCorrection:  p.MaxLinearCorrection,
			MaxAngularCorrection: p.MaxAngularCorrection,
			RestitutionThreshold: p.RestitutionThreshold,
			StaticSlipSpeed:      p.StaticSlipSpeed,
			PredictiveIterations: p.PredictiveIterations,
			PredictiveSlop:       p.PredictiveSlop,
		},
		Sleep: SleepConfig{
			Enabled:   true,
			Threshold: 0.0025,
			Time:      0.5,
		},
		CCD: CCDConfig{
			Enabled:        d.Enabled,
			MotionFraction: d.MotionFraction,
			MaxIterations:  d.MaxIterations,
			Tolerance:      d.Tolerance,
		},
		PublishSnapshots: true,
	}
}

func (c Config) solverParams() solver.Params {
	s := c.Solver
	return solver.Params{
		Dt:                   c.Timestep,
		VelocityIterations:   s.VelocityIterations,
		PositionIterations:   s.PositionIterations,
		WarmStart:            s.WarmStart,
		Baumgarte:            s.Baumgarte,
		LinearSlop:           s.LinearSlop,
		AngularSlop:          s.AngularSlop,
		MaxLinearCorrection:  s.MaxLinearCorrection,
		MaxAngularCorrection: s.MaxAngularCorrection,
		RestitutionThreshold: s.RestitutionThreshold,
		StaticSlipSpeed:      s.StaticSlipSpeed,
		PredictiveIterations: s.PredictiveIterations,
		PredictiveSlop:       s.PredictiveSlop,
	}
}

func (c Config) detector() ccd.Detector {
	return ccd.Detector{
		Enabled:        c.CCD.Enabled,
		MotionFraction: c.CCD.MotionFraction,
		MaxIterations:  c.CCD.MaxIterations,
		Tolerance:      c.CCD.Tolerance,
	}
}

func (c Config) sleep() island.Sleep {
	return island.Sleep{Enabled: c.Sleep.Enabled, Threshold: c.Sleep.Threshold, Time: c.Sleep.Time}
}

func (c Config) Validate() error {
	if !geom.FiniteVec(c.Gravity) {
		return fmt.Errorf("gravity %v: %w", c.Gravity, ErrInvalidConfig)
	}
	if !(c.Timestep > 0) || math.IsInf(c.Timestep, 0) {
		return fmt.Errorf("timestep %v: %w", c.Timestep, ErrInvalidConfig)
	}
	if c.MaxSubsteps < 1 {
		return fmt.Errorf("max substeps %d: %w", c.MaxSubsteps, ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers %d: %w", c.Workers, ErrInvalidConfig)
	}
	nonNeg := []struct {
		name string
		v    float64
	}{
		{"cell size", c.CellSize},
		{"contact margin", c.ContactMargin},
		{"persistence threshold", c.PersistenceThreshold},
		{"max linear speed", c.MaxLinearSpeed},
		{"max angular speed", c.MaxAngularSpeed},
		{"sleep threshold", c.Sleep.Threshold},
		{"sleep time", c.Sleep.Time},
	}
	for _, f := range nonNeg {
		if f.v < 0 || !geom.Finite(f.v) {
			return fmt.Errorf("%s %v: %w", f.name, f.v, ErrInvalidConfig)
		}
	}
	if err := c.solverParams().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.CCD.Enabled {
		if err := c.detector().Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if _, err := broadphase.Select(c.Broadphase, broadphase.Options{}); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ParseConfig overlays YAML onto the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return ParseConfig(data)
}
