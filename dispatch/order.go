package dispatch

import (
	"github.com/pkg/errors"

	"github.com/calvinmclean/mixtender"
)

var ErrInvalidIngredient = errors.New("invalid ingredient")

// Ingredient is one line of an order: the ingredient identifier and the weight to pour
type Ingredient struct {
	ID     int
	Weight float64
}

// StepFor maps an ingredient to a Step. Identifiers up to ValveCount are valves at the station
// with the same number, the rest are pumps at the shared pump station
func (cfg Config) StepFor(in Ingredient) (Step, error) {
	if in.ID < 1 {
		return Step{}, errors.Wrapf(ErrInvalidIngredient, "identifier %d", in.ID)
	}
	if in.Weight <= 0 {
		return Step{}, errors.Wrapf(ErrInvalidIngredient, "weight %.2f for identifier %d", in.Weight, in.ID)
	}

	if in.ID <= cfg.ValveCount {
		return Step{
			StationIndex: in.ID,
			Type:         mixtender.DeviceTypeValve,
			DeviceIndex:  in.ID,
			TargetWeight: in.Weight,
		}, nil
	}

	return Step{
		StationIndex: cfg.PumpStation,
		Type:         mixtender.DeviceTypePump,
		DeviceIndex:  in.ID - cfg.ValveCount,
		TargetWeight: in.Weight,
	}, nil
}

// StartOrder replaces the recipe with the order and starts it. Nothing changes if an
// ingredient is invalid or a job is running
func (d *Dispatcher) StartOrder(order []Ingredient) error {
	if d.jobActive() {
		return ErrJobInProgress
	}

	steps := make([]Step, 0, len(order))
	for _, in := range order {
		step, err := d.cfg.StepFor(in)
		if err != nil {
			return err
		}
		steps = append(steps, step)
	}

	d.steps = steps
	err := d.Start()
	if err != nil {
		d.steps = nil
	}
	return err
}
