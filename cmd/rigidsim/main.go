// rigidsim steps a canned scene headless and writes the final snapshot.
//
// Profiling:
//
//	go build ./cmd/rigidsim
//	./rigidsim -scene rain -frames 2000 -profile cpu
//	go tool pprof -http=":8000" ./rigidsim cpu.pprof
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/gekko3d/rigid"
	"github.com/gekko3d/rigid/geom"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/profile"
)

func main() {
	scene := flag.String("scene", "stack", "scene to build: stack, rain, bullet")
	configPath := flag.String("config", "", "YAML config overlaid on the defaults")
	frames := flag.Int("frames", 600, "fixed steps to run")
	prof := flag.String("profile", "", "write a profile: cpu, mem")
	out := flag.String("out", "", "write the final snapshot as msgpack")
	dump := flag.Bool("dump", false, "print the final snapshot")
	flag.Parse()

	switch *prof {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		log.Fatalf("unknown profile %q", *prof)
	}

	if err := run(*scene, *configPath, *frames, *out, *dump); err != nil {
		log.Fatal(err)
	}
}

func run(scene, configPath string, frames int, out string, dump bool) error {
	cfg := rigid.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = rigid.LoadConfig(configPath); err != nil {
			return err
		}
	}
	faults := rigid.NewFaultLog(16)
	w, err := rigid.NewWorldBuilder().WithConfig(cfg).WithDiagnostics(faults).Build()
	if err != nil {
		return err
	}

	build, ok := scenes[scene]
	if !ok {
		return fmt.Errorf("unknown scene %q", scene)
	}
	if err := build(w); err != nil {
		return fmt.Errorf("build %s: %w", scene, err)
	}

	var m rigid.StepMetrics
	for i := 0; i < frames; i++ {
		if m, err = w.Step(cfg.Timestep); err != nil {
			return err
		}
	}
	w.Logger().Infof("%d frames: %d/%d bodies awake, %d manifolds, %d islands, %d ccd hits, %d faults",
		frames, m.AwakeBodies, m.Bodies, m.Manifolds, m.Islands, m.CCDHits, faults.Total())

	snap := w.Snapshot()
	if out != "" {
		data, err := snap.Encode()
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	}
	if dump {
		spew.Dump(snap)
	}
	return nil
}

var scenes = map[string]func(w *rigid.World) error{
	"stack":  stackScene,
	"rain":   rainScene,
	"bullet": bulletScene,
}

func ground(w *rigid.World) error {
	box, err := geom.NewBox(mgl64.Vec3{50, 0.5, 50})
	if err != nil {
		return err
	}
	id, err := w.AddBody(rigid.StaticBody(mgl64.Vec3{0, -0.5, 0}))
	if err != nil {
		return err
	}
	_, err = w.AddCollider(rigid.NewColliderDesc(id, box))
	return err
}

func add(w *rigid.World, d rigid.BodyDesc, shape geom.Shape, m geom.Material) (rigid.EntityId, error) {
	id, err := w.AddBody(d)
	if err != nil {
		return id, err
	}
	cd := rigid.NewColliderDesc(id, shape)
	cd.Material = m
	_, err = w.AddCollider(cd)
	return id, err
}

// stackScene is a ten box tower next to a hinged pendulum.
func stackScene(w *rigid.World) error {
	if err := ground(w); err != nil {
		return err
	}
	box, err := geom.NewBox(mgl64.Vec3{0.5, 0.5, 0.5})
	if err != nil {
		return err
	}
	for i := 0; i < 10; i++ {
		if _, err := add(w, rigid.DynamicBody(mgl64.Vec3{0, 0.5 + float64(i), 0}), box, geom.DefaultMaterial()); err != nil {
			return err
		}
	}

	pivot, err := w.AddBody(rigid.StaticBody(mgl64.Vec3{4, 6, 0}))
	if err != nil {
		return err
	}
	ball, err := geom.NewSphere(0.4)
	if err != nil {
		return err
	}
	bob, err := add(w, rigid.DynamicBody(mgl64.Vec3{6, 6, 0}), ball, geom.Steel())
	if err != nil {
		return err
	}
	_, err = w.AddJoint(rigid.JointDesc{
		Kind:    rigid.RevoluteJoint,
		BodyA:   pivot,
		BodyB:   bob,
		AnchorA: mgl64.Vec3{4, 6, 0},
		AnchorB: mgl64.Vec3{4, 6, 0},
		Axis:    mgl64.Vec3{0, 0, 1},
	})
	return err
}

// rainScene drops a grid of mixed shapes with a little drag.
func rainScene(w *rigid.World) error {
	if err := ground(w); err != nil {
		return err
	}
	sphere, err := geom.NewSphere(0.3)
	if err != nil {
		return err
	}
	capsule, err := geom.NewCapsule(0.25, 0.4)
	if err != nil {
		return err
	}
	box, err := geom.NewBox(mgl64.Vec3{0.3, 0.3, 0.3})
	if err != nil {
		return err
	}
	shapes := []geom.Shape{sphere, capsule, box}
	materials := []geom.Material{geom.Rubber(), geom.DefaultMaterial(), geom.Ice()}
	n := 0
	for x := -5; x < 5; x++ {
		for z := -5; z < 5; z++ {
			for y := 0; y < 4; y++ {
				d := rigid.DynamicBody(mgl64.Vec3{float64(x), 3 + 1.5*float64(y), float64(z)})
				d.AngularVelocity = mgl64.Vec3{math.Sin(float64(n)), 0, math.Cos(float64(n))}
				if _, err := add(w, d, shapes[n%3], materials[n%3]); err != nil {
					return err
				}
				n++
			}
		}
	}
	w.AddForceGenerator(rigid.Drag{Linear: 0.1, Quadratic: 0.01})
	return nil
}

// bulletScene fires fast spheres at a thin wall.
func bulletScene(w *rigid.World) error {
	if err := w.SetGravity(mgl64.Vec3{}); err != nil {
		return err
	}
	wall, err := geom.NewBox(mgl64.Vec3{0.025, 3, 3})
	if err != nil {
		return err
	}
	if _, err := add(w, rigid.StaticBody(mgl64.Vec3{}), wall, geom.Steel()); err != nil {
		return err
	}
	ball, err := geom.NewSphere(0.05)
	if err != nil {
		return err
	}
	for i := 0; i < 8; i++ {
		d := rigid.DynamicBody(mgl64.Vec3{-5, -2 + 0.5*float64(i), 0})
		d.LinearVelocity = mgl64.Vec3{500, 0, 0}
		d.CCD = true
		if _, err := add(w, d, ball, geom.Steel()); err != nil {
			return err
		}
	}
	return nil
}
