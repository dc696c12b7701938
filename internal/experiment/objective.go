package experiment

import (
	"errors"
	"math"

	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
)

// ProductKey is the dataset key of the antibody (product) concentration.
const ProductKey = "Cmab"

// ObjectiveFunction reduces a sampled dataset to a scalar score.
type ObjectiveFunction interface {
	// Evaluate computes the objective value from a run's dataset.
	Evaluate(ds models.Dataset) (float64, error)

	// Name returns the name of the objective function.
	Name() string

	// Direction returns whether we're minimizing (true) or maximizing (false).
	Direction() bool
}

// ObjectiveType represents the type of objective function
type ObjectiveType string

const (
	// ObjectiveFinalTiter maximizes the product concentration at the last sample
	ObjectiveFinalTiter ObjectiveType = "final_titer"
	// ObjectivePeakViableCells maximizes the highest sampled viable cell density
	ObjectivePeakViableCells ObjectiveType = "peak_viable_cells"
	// ObjectiveIntegralViableCells maximizes the time integral of viable cell density
	ObjectiveIntegralViableCells ObjectiveType = "integral_viable_cells"
)

// ObjectiveTypes lists the recognised objectives, default first.
func ObjectiveTypes() []ObjectiveType {
	return []ObjectiveType{ObjectiveFinalTiter, ObjectivePeakViableCells, ObjectiveIntegralViableCells}
}

// NewObjectiveFunction creates an objective function from a type string.
// The empty string selects final_titer.
func NewObjectiveFunction(objType string) (ObjectiveFunction, error) {
	switch ObjectiveType(objType) {
	case ObjectiveFinalTiter, "":
		return &FinalTiterObjective{}, nil
	case ObjectivePeakViableCells:
		return &PeakViableCellsObjective{}, nil
	case ObjectiveIntegralViableCells:
		return &IntegralViableCellsObjective{}, nil
	default:
		return nil, &UnknownObjectiveError{ObjectiveType: objType}
	}
}

// FinalTiterObjective is the final sampled product concentration, mg/L.
type FinalTiterObjective struct{}

func (o *FinalTiterObjective) Name() string {
	return string(ObjectiveFinalTiter)
}

func (o *FinalTiterObjective) Direction() bool {
	return false // maximize
}

func (o *FinalTiterObjective) Evaluate(ds models.Dataset) (float64, error) {
	v, err := ds.Last(ProductKey)
	if err != nil {
		return 0, contractError(err)
	}
	return v, nil
}

// PeakViableCellsObjective is the highest sampled viable cell density, cells/L.
type PeakViableCellsObjective struct{}

func (o *PeakViableCellsObjective) Name() string {
	return string(ObjectivePeakViableCells)
}

func (o *PeakViableCellsObjective) Direction() bool {
	return false // maximize
}

func (o *PeakViableCellsObjective) Evaluate(ds models.Dataset) (float64, error) {
	xv, err := ds.Series(models.StateNames[models.Xv])
	if err != nil {
		return 0, contractError(err)
	}
	return floats.Max(xv), nil
}

// IntegralViableCellsObjective is the integral of viable cell density over
// the sampled time, cells·h/L, by the trapezoidal rule.
type IntegralViableCellsObjective struct{}

func (o *IntegralViableCellsObjective) Name() string {
	return string(ObjectiveIntegralViableCells)
}

func (o *IntegralViableCellsObjective) Direction() bool {
	return false // maximize
}

func (o *IntegralViableCellsObjective) Evaluate(ds models.Dataset) (float64, error) {
	t, err := ds.Series(models.TimeKey)
	if err != nil {
		return 0, contractError(err)
	}
	xv, err := ds.Series(models.StateNames[models.Xv])
	if err != nil {
		return 0, contractError(err)
	}
	if len(t) != len(xv) {
		return 0, &ContractError{Key: models.StateNames[models.Xv], Reason: "not aligned with time"}
	}
	if len(t) < 2 {
		return 0, nil
	}
	return integrate.Trapezoidal(t, xv), nil
}

// Better reports whether score a beats score b under the objective's
// direction. NaN never wins.
func Better(obj ObjectiveFunction, a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	if obj.Direction() {
		return a < b
	}
	return a > b
}

func contractError(err error) error {
	var mk *models.MissingKeyError
	if errors.As(err, &mk) {
		return &ContractError{Key: mk.Key, Reason: "missing from dataset", Err: err}
	}
	return &ContractError{Reason: err.Error(), Err: err}
}

// UnknownObjectiveError indicates an unknown objective type
type UnknownObjectiveError struct {
	ObjectiveType string
}

func (e *UnknownObjectiveError) Error() string {
	return "unknown objective type: " + e.ObjectiveType
}
