package geom

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// MixMode picks how two colliders' coefficients combine at a contact.
type MixMode uint8

const (
	MixAverage MixMode = iota
	MixMin
	MixMax
	MixGeometricMean
)

func (m MixMode) Mix(a, b float64) float64 {
	switch m {
	case MixMin:
		return math.Min(a, b)
	case MixMax:
		return math.Max(a, b)
	case MixGeometricMean:
		return math.Sqrt(math.Max(a*b, 0))
	default:
		return 0.5 * (a + b)
	}
}

func (m MixMode) String() string {
	switch m {
	case MixMin:
		return "min"
	case MixMax:
		return "max"
	case MixGeometricMean:
		return "geometric_mean"
	}
	return "average"
}

func ParseMixMode(s string) (MixMode, error) {
	switch s {
	case "", "average":
		return MixAverage, nil
	case "min":
		return MixMin, nil
	case "max":
		return MixMax, nil
	case "geometric_mean":
		return MixGeometricMean, nil
	}
	return MixAverage, fmt.Errorf("unknown mix mode %q", s)
}

type Material struct {
	Density           float64
	Restitution       float64
	StaticFriction    float64
	DynamicFriction   float64
	RollingFriction   float64
	TorsionalFriction float64
	// Anisotropy scales sliding friction per axis of the collider's local
	// frame. The zero vector means isotropic.
	Anisotropy     mgl64.Vec3
	FrictionMix    MixMode
	RestitutionMix MixMode
}

func DefaultMaterial() Material {
	return Material{
		Density:         1000,
		Restitution:     0.2,
		StaticFriction:  0.6,
		DynamicFriction: 0.5,
		FrictionMix:     MixGeometricMean,
		RestitutionMix:  MixMax,
	}
}

func Rubber() Material {
	m := DefaultMaterial()
	m.Density = 1100
	m.Restitution = 0.8
	m.StaticFriction = 1.0
	m.DynamicFriction = 0.8
	m.RollingFriction = 0.02
	return m
}

func Steel() Material {
	m := DefaultMaterial()
	m.Density = 7850
	m.Restitution = 0.3
	m.StaticFriction = 0.74
	m.DynamicFriction = 0.57
	m.RollingFriction = 0.001
	return m
}

func Ice() Material {
	m := DefaultMaterial()
	m.Density = 917
	m.Restitution = 0.05
	m.StaticFriction = 0.1
	m.DynamicFriction = 0.03
	return m
}

// MaterialPreset resolves a named preset.
func MaterialPreset(name string) (Material, error) {
	switch name {
	case "", "default":
		return DefaultMaterial(), nil
	case "rubber":
		return Rubber(), nil
	case "steel":
		return Steel(), nil
	case "ice":
		return Ice(), nil
	}
	return Material{}, fmt.Errorf("unknown material preset %q", name)
}

func (m Material) Validate() error {
	vals := []float64{m.Density, m.Restitution, m.StaticFriction, m.DynamicFriction, m.RollingFriction, m.TorsionalFriction}
	for _, v := range vals {
		if !Finite(v) || v < 0 {
			return fmt.Errorf("material coefficient %v: %w", v, ErrInvalidShapeParameters)
		}
	}
	if !FiniteVec(m.Anisotropy) || m.Anisotropy.X() < 0 || m.Anisotropy.Y() < 0 || m.Anisotropy.Z() < 0 {
		return fmt.Errorf("material anisotropy %v: %w", m.Anisotropy, ErrInvalidShapeParameters)
	}
	return nil
}

func (m Material) Anisotropic() bool { return m.Anisotropy != (mgl64.Vec3{}) }

// PairMaterial is the combined material at a contact.
type PairMaterial struct {
	Restitution       float64
	StaticFriction    float64
	DynamicFriction   float64
	RollingFriction   float64
	TorsionalFriction float64
	// Anisotropy and Frame give the per-axis friction scale and the world
	// rotation of its axes. A zero Anisotropy is isotropic and a zero Frame
	// means world axes.
	Anisotropy mgl64.Vec3
	Frame      mgl64.Quat
}

// Combine uses a's mix modes; when the two sides disagree the stronger
// mode (higher MixMode value) wins so the result is symmetric.
func Combine(a, b Material) PairMaterial {
	fm := a.FrictionMix
	if b.FrictionMix > fm {
		fm = b.FrictionMix
	}
	rm := a.RestitutionMix
	if b.RestitutionMix > rm {
		rm = b.RestitutionMix
	}
	return PairMaterial{
		Restitution:       rm.Mix(a.Restitution, b.Restitution),
		StaticFriction:    fm.Mix(a.StaticFriction, b.StaticFriction),
		DynamicFriction:   fm.Mix(a.DynamicFriction, b.DynamicFriction),
		RollingFriction:   fm.Mix(a.RollingFriction, b.RollingFriction),
		TorsionalFriction: fm.Mix(a.TorsionalFriction, b.TorsionalFriction),
	}
}

// Orient takes the friction anisotropy from the first anisotropic side,
// expressed in that collider's world rotation.
func (p *PairMaterial) Orient(a, b Material, ra, rb mgl64.Quat) {
	switch {
	case a.Anisotropic():
		p.Anisotropy, p.Frame = a.Anisotropy, ra
	case b.Anisotropic():
		p.Anisotropy, p.Frame = b.Anisotropy, rb
	default:
		p.Anisotropy, p.Frame = mgl64.Vec3{}, mgl64.QuatIdent()
	}
}

// FrictionScale is the friction multiplier for sliding along the world
// direction dir: the length of the scaled local direction, so an isotropic
// material gives 1 for any unit dir.
func (p PairMaterial) FrictionScale(dir mgl64.Vec3) float64 {
	if p.Anisotropy == (mgl64.Vec3{}) {
		return 1
	}
	l := dir.Len()
	if l <= Epsilon {
		return 1
	}
	d := dir.Mul(1 / l)
	if p.Frame.Len() > Epsilon {
		d = p.Frame.Conjugate().Rotate(d)
	}
	s := p.Anisotropy
	return math.Sqrt(sq(s.X()*d.X()) + sq(s.Y()*d.Y()) + sq(s.Z()*d.Z()))
}

func sq(x float64) float64 { return x * x }
