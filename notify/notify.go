// Package notify encodes job lifecycle events into the short text frames understood by the
// companion app, and decodes them on the host side
package notify

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/dispatch"
	"github.com/calvinmclean/mixtender/log"
)

const (
	StatusDone  = "done"
	StatusReady = "ready"
)

// Notifier writes one frame per event, terminated by mixtender.TerminationChar. A frame equal
// to the previous one is not sent again
type Notifier struct {
	w    io.Writer
	last string
	log  log.Logger
}

var _ dispatch.Observer = &Notifier{}

func New(w io.Writer) *Notifier {
	return &Notifier{
		w:   w,
		log: log.New("notify"),
	}
}

// SetLogger replaces the default logger
func (n *Notifier) SetLogger(l log.Logger) {
	n.log = l
}

// StepBeginning implements dispatch.Observer.
func (n *Notifier) StepBeginning(step int) {
	n.send(fmt.Sprintf("S%d=P;", step))
}

// StepFinished implements dispatch.Observer.
func (n *Notifier) StepFinished(step int) {
	n.send(fmt.Sprintf("S%d=C;", step))
}

// WeightUpdate implements dispatch.Observer.
func (n *Notifier) WeightUpdate(step int, weight float64) {
	n.send(fmt.Sprintf("W%d=%.2f;", step, weight))
}

// JobFinished implements dispatch.Observer.
func (n *Notifier) JobFinished() {
	n.Status(StatusDone)
}

// Ready implements dispatch.Observer.
func (n *Notifier) Ready() {
	n.Status(StatusReady)
}

// CupPresent implements dispatch.Observer.
func (n *Notifier) CupPresent(present bool) {
	if present {
		n.send("C=1;")
		return
	}
	n.send("C=0;")
}

// Status implements dispatch.Observer.
func (n *Notifier) Status(status string) {
	n.send("$0=" + status)
}

func (n *Notifier) send(frame string) {
	if frame == n.last {
		return
	}

	_, err := io.WriteString(n.w, frame+string(mixtender.TerminationChar))
	if err != nil {
		// last is kept so the frame is sent again next time
		n.log.Errorf("error sending %q: %v", frame, err)
		return
	}
	n.log.WithField("frame", frame).Debug("sent")
	n.last = frame
}

// Kind is the type of a decoded frame
type Kind int

const (
	KindStatus Kind = iota
	KindStepBeginning
	KindStepFinished
	KindWeight
	KindCup
)

func (k Kind) String() string {
	switch k {
	case KindStepBeginning:
		return "StepBeginning"
	case KindStepFinished:
		return "StepFinished"
	case KindWeight:
		return "Weight"
	case KindCup:
		return "Cup"
	default:
		fallthrough
	case KindStatus:
		return "Status"
	}
}

// Event is a decoded frame. Only the fields of its Kind are set
type Event struct {
	Kind       Kind
	Step       int
	Weight     float64
	Status     string
	CupPresent bool
}

func (e Event) String() string {
	switch e.Kind {
	case KindStepBeginning:
		return fmt.Sprintf("step %d started", e.Step)
	case KindStepFinished:
		return fmt.Sprintf("step %d finished", e.Step)
	case KindWeight:
		return fmt.Sprintf("step %d: %.2fg", e.Step, e.Weight)
	case KindCup:
		if e.CupPresent {
			return "cup placed"
		}
		return "cup removed"
	default:
		return "status: " + e.Status
	}
}

var ErrInvalidFrame = errors.New("invalid frame")

// Parse decodes a single frame. Surrounding whitespace and the trailing ';' are optional
func Parse(frame string) (Event, error) {
	frame = strings.TrimSpace(frame)
	body := strings.TrimSuffix(frame, ";")

	key, value, found := strings.Cut(body, "=")
	if !found || key == "" {
		return Event{}, errors.Wrapf(ErrInvalidFrame, "%q", frame)
	}

	switch {
	case key == "$0":
		return Event{Kind: KindStatus, Status: value}, nil
	case key == "C":
		switch value {
		case "1":
			return Event{Kind: KindCup, CupPresent: true}, nil
		case "0":
			return Event{Kind: KindCup, CupPresent: false}, nil
		}
	case key[0] == 'S':
		step, err := strconv.Atoi(key[1:])
		if err != nil {
			break
		}
		switch value {
		case "P":
			return Event{Kind: KindStepBeginning, Step: step}, nil
		case "C":
			return Event{Kind: KindStepFinished, Step: step}, nil
		}
	case key[0] == 'W':
		step, err := strconv.Atoi(key[1:])
		if err != nil {
			break
		}
		weight, err := strconv.ParseFloat(value, 64)
		if err != nil {
			break
		}
		return Event{Kind: KindWeight, Step: step, Weight: weight}, nil
	}

	return Event{}, errors.Wrapf(ErrInvalidFrame, "%q", frame)
}
