package rigid

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/gekko3d/rigid/ccd"
	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/solver"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultLog_KeepsMostRecent(t *testing.T) {
	l := NewFaultLog(2)
	for i := 0; i < 5; i++ {
		l.Report(fmt.Errorf("fault %d", i))
	}

	require.Len(t, l.Errors(), 2)
	assert.EqualError(t, l.Errors()[0], "fault 3")
	assert.EqualError(t, l.Errors()[1], "fault 4")
	assert.Equal(t, 5, l.Total())

	l.Reset()
	assert.Empty(t, l.Errors())
	assert.Zero(t, l.Total())
}

func TestDefaultLogger_Levels(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewWriterLogger("rigid", false, &out, &errOut)

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warnf("careful")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "[rigid] INFO: shown 2")
	assert.Contains(t, errOut.String(), "[rigid] WARN: careful")

	l.SetDebug(true)
	assert.True(t, l.DebugEnabled())
	l.Debugf("visible")
	assert.Contains(t, out.String(), "DEBUG: visible")
}

func TestWorld_LogsBackendAndFaults(t *testing.T) {
	var out, errOut bytes.Buffer
	cfg := DefaultConfig()
	cfg.Broadphase = "sap"
	cfg.Workers = 1
	w, err := NewWorldBuilder().WithConfig(cfg).WithLogger(NewWriterLogger("", true, &out, &errOut)).Build()
	require.NoError(t, err)
	assert.Contains(t, out.String(), "broadphase backend selected: sap")

	ball, _ := addSphere(t, w, mgl64.Vec3{}, 0.5)
	w.AddForceGenerator(ForceGeneratorFunc(func(w *World, _ float64) {
		i, _ := w.store.Bodies.Index(ball)
		w.store.Bodies.Torque[i] = mgl64.Vec3{math.Inf(1), 0, 0}
	}))
	run(t, w, 1)
	assert.Contains(t, errOut.String(), "bodies stopped")
	assert.Contains(t, out.String(), "frame 1:")
	assert.Same(t, w.log, w.Logger())
}

func TestWorld_JointFaultNamesItsJoint(t *testing.T) {
	var out, errOut bytes.Buffer
	faults := NewFaultLog(0)
	cfg := DefaultConfig()
	cfg.Workers = 1
	w, err := NewWorldBuilder().WithConfig(cfg).WithLogger(NewWriterLogger("", false, &out, &errOut)).WithDiagnostics(faults).Build()
	require.NoError(t, err)

	// two pendulums far apart, so each joint sits in its own island
	var joints, bobs []EntityId
	for _, x := range []float64{-10, 10} {
		pivot, err := w.AddBody(StaticBody(mgl64.Vec3{x, 0, 0}))
		require.NoError(t, err)
		bob, _ := addSphere(t, w, mgl64.Vec3{x + 1, 0, 0}, 0.25)
		id, err := w.AddJoint(JointDesc{
			Kind: RevoluteJoint, BodyA: pivot, BodyB: bob,
			AnchorA: mgl64.Vec3{x, 0, 0}, AnchorB: mgl64.Vec3{x, 0, 0},
			Axis: mgl64.Vec3{0, 0, 1},
		})
		require.NoError(t, err)
		joints = append(joints, id)
		bobs = append(bobs, bob)
	}
	// finite, but the lock rows overflow
	require.NoError(t, w.SetBodyVelocity(bobs[1], mgl64.Vec3{math.MaxFloat64, math.MaxFloat64, 0}, mgl64.Vec3{}))
	run(t, w, 1)

	assert.Contains(t, errOut.String(), "joint "+joints[1].String()+":")
	assert.NotContains(t, errOut.String(), "joint "+joints[0].String()+":")
	var f solver.Fault
	require.True(t, errors.As(faults.Errors()[0], &f))
	assert.Equal(t, joints[1], f.Joint)
	assert.Equal(t, "lock", f.Row)
}

func TestWorld_CCDBudgetFallsBack(t *testing.T) {
	faults := NewFaultLog(0)
	cfg := DefaultConfig()
	cfg.Gravity = mgl64.Vec3{}
	cfg.CCD.MaxIterations = 1
	cfg.Workers = 1
	w, err := NewWorldBuilder().WithConfig(cfg).WithLogger(NewNopLogger()).WithDiagnostics(faults).Build()
	require.NoError(t, err)

	wall, err := geom.NewBox(mgl64.Vec3{0.025, 2, 2})
	require.NoError(t, err)
	addShape(t, w, StaticBody(mgl64.Vec3{}), wall, geom.DefaultMaterial())
	d := DynamicBody(mgl64.Vec3{-2, 0, 0})
	d.LinearVelocity = mgl64.Vec3{200, 0, 0}
	d.CCD = true
	addShape(t, w, d, mustSphere(t, 0.1), geom.DefaultMaterial())

	m, err := w.Step(dt)
	require.NoError(t, err)

	assert.Equal(t, 1, m.CCDSweeps)
	assert.Equal(t, 1, m.CCDFallbacks)
	require.NotEmpty(t, faults.Errors())
	assert.True(t, errors.Is(faults.Errors()[0], ErrCCDBudgetExceeded))
	assert.True(t, errors.Is(faults.Errors()[0], ccd.ErrBudgetExceeded))
	contacts := w.Contacts()
	require.Len(t, contacts, 1)
	assert.True(t, contacts[0].Speculative)
}

func TestWorld_DebugString(t *testing.T) {
	w := newTestWorld(t, nil)
	addGround(t, w)
	addBox(t, w, mgl64.Vec3{0, 0.5, 0}, 0.5)
	run(t, w, 2)

	s := w.DebugString()
	assert.True(t, strings.HasPrefix(s, "world "+w.ID().String()))
	assert.Contains(t, s, "Speculative")
	assert.Contains(t, Dump(w.Metrics()), "Manifolds: (int) 1")
}
