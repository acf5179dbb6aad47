package dispatch

// Observer receives the lifecycle events of a job. Implementations must not block: they are
// called from inside the heartbeat
type Observer interface {
	StepBeginning(step int)
	StepFinished(step int)
	// WeightUpdate is called on every heartbeat while a step is serving
	WeightUpdate(step int, weight float64)
	JobFinished()
	// Ready is called once the finished drink was taken off the tray
	Ready()
	CupPresent(present bool)
	Status(status string)
}

// NopObserver ignores every event
type NopObserver struct{}

var _ Observer = NopObserver{}

// StepBeginning implements Observer.
func (NopObserver) StepBeginning(int) {}

// StepFinished implements Observer.
func (NopObserver) StepFinished(int) {}

// WeightUpdate implements Observer.
func (NopObserver) WeightUpdate(int, float64) {}

// JobFinished implements Observer.
func (NopObserver) JobFinished() {}

// Ready implements Observer.
func (NopObserver) Ready() {}

// CupPresent implements Observer.
func (NopObserver) CupPresent(bool) {}

// Status implements Observer.
func (NopObserver) Status(string) {}
