package rigid

import (
	"errors"

	"github.com/gekko3d/rigid/arena"
	"github.com/gekko3d/rigid/ccd"
	"github.com/gekko3d/rigid/geom"
	"github.com/gekko3d/rigid/solver"
)

var (
	ErrNotFound               = arena.ErrNotFound
	ErrInvalidShapeParameters = geom.ErrInvalidShapeParameters
	ErrInvalidJoint           = solver.ErrInvalidJoint
	ErrSolverNumericalFault   = solver.ErrNumericalFault
	ErrCCDBudgetExceeded      = ccd.ErrBudgetExceeded

	ErrInvalidConfig = errors.New("invalid config")
	// ErrNonFiniteInput rejects NaN or infinite values passed to body
	// setters and force calls.
	ErrNonFiniteInput = errors.New("non-finite input")
	// ErrNonFiniteState reports a body whose integrated pose was not
	// finite; the body keeps its previous pose and stops.
	ErrNonFiniteState = errors.New("non-finite body state")
)
