package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/dispatch"
	"github.com/calvinmclean/mixtender/log"
)

// JogSteps is how far the jog commands move the transport
const JogSteps = 20

// maxInputSize limits the input of terminated commands
const maxInputSize = 128

type Command struct {
	Flag      byte
	InputSize uint
	// Terminated commands read input until mixtender.TerminationChar instead of InputSize bytes
	Terminated  bool
	Run         func(Controller, []byte) error
	Description string
}

// Controller is used to control a device
type Controller interface {
	CurrentPosition() int32
	MoveStepsLeft(uint32)
	MoveStepsRight(uint32)
	StartOrder([]dispatch.Ingredient) error
	Cancel()
	Tare()
	SelectValveForTrim(int, mixtender.ValvePosition) error
	TrimValve(int) error
	ResetTrimPositions() error
	Home()
	Debug()
	Verbose()

	// Report writes a line of human readable output
	Report(string)
}

// DemoOrder is poured by DemoCommand
var DemoOrder = []dispatch.Ingredient{
	{ID: 4, Weight: 50},
	{ID: 6, Weight: 50},
	{ID: 7, Weight: 50},
}

var (
	PositionCommand = &Command{
		Flag:      '?',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			c.Report(fmt.Sprintf("position: %d", c.CurrentPosition()))
			return nil
		},
		Description: "Print the transport position.",
	}
	JogLeftCommand = &Command{
		Flag:      '<',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			c.MoveStepsLeft(JogSteps)
			return nil
		},
		Description: "Move the transport left.",
	}
	JogRightCommand = &Command{
		Flag:      '>',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			c.MoveStepsRight(JogSteps)
			return nil
		},
		Description: "Move the transport right.",
	}
	ArrowCommand = &Command{
		Flag:      0x1B,
		InputSize: 2,
		Run: func(c Controller, b []byte) error {
			if b[0] != '[' {
				return errors.New("invalid input")
			}
			switch b[1] {
			case 'D':
				c.MoveStepsLeft(JogSteps)
			case 'C':
				c.MoveStepsRight(JogSteps)
			}
			return nil
		},
		Description: "Move the transport with the left and right arrow keys.",
	}
	JobCommand = &Command{
		Flag:       'J',
		Terminated: true,
		Run: func(c Controller, b []byte) error {
			order, err := ParseOrder(string(b))
			if err != nil {
				return err
			}
			return c.StartOrder(order)
		},
		Description: "Start a job. Input: comma separated ingredient=grams, then a newline. Example: J1=50,7=25",
	}
	DemoCommand = &Command{
		Flag:      'B',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			return c.StartOrder(DemoOrder)
		},
		Description: "Pour the demo drink: valve 4, valve 6, then pump 1, 50g each.",
	}
	CancelCommand = &Command{
		Flag:      'C',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			c.Cancel()
			return nil
		},
		Description: "Cancel the current job and park.",
	}
	TareCommand = &Command{
		Flag:      'T',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			c.Tare()
			return nil
		},
		Description: "Tare the scale.",
	}
	TrimUpCommand = &Command{
		Flag:      '+',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			return c.TrimValve(1)
		},
		Description: "Increase the trim of the selected valve.",
	}
	TrimDownCommand = &Command{
		Flag:      '-',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			return c.TrimValve(-1)
		},
		Description: "Decrease the trim of the selected valve.",
	}
	ResetTrimCommand = &Command{
		Flag:      '@',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			return c.ResetTrimPositions()
		},
		Description: "Reset the trims of the valve selected for trim.",
	}
	HomeCommand = &Command{
		Flag:      'H',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			c.Home()
			return nil
		},
		Description: "Home the transport.",
	}
	DebugCommand = &Command{
		Flag:      'D',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			c.Debug()
			return nil
		},
		Description: "Print the current state.",
	}
	VerboseCommand = &Command{
		Flag:      'V',
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			c.Verbose()
			return nil
		},
		Description: "Toggle verbose output.",
	}
	HelpCommand = &Command{
		Flag:        'h',
		InputSize:   0,
		Description: "Show all available commands and their descriptions.",
		Run: func(c Controller, _ []byte) error {
			c.Report("Available Commands:")
			for _, cmd := range commands {
				c.Report(flagString(cmd.Flag) + ": " + cmd.Description)
			}
			return nil
		},
	}
)

// trimSelectFlags maps the valves to their OPEN and CLOSED trim selection keys
var trimSelectFlags = [...]struct{ open, closed byte }{
	{'1', 'q'},
	{'2', 'w'},
	{'3', 'e'},
	{'4', 'r'},
	{'5', 't'},
	{'6', 'y'},
}

func selectTrimCommand(flag byte, valve int, p mixtender.ValvePosition) *Command {
	return &Command{
		Flag:      flag,
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			return c.SelectValveForTrim(valve, p)
		},
		Description: fmt.Sprintf("Select valve %d for %s trim.", valve, p),
	}
}

var commands = func() []*Command {
	cmds := []*Command{
		PositionCommand,
		JogLeftCommand,
		JogRightCommand,
		ArrowCommand,
		JobCommand,
		DemoCommand,
		CancelCommand,
		TareCommand,
	}
	for i, f := range trimSelectFlags {
		cmds = append(cmds,
			selectTrimCommand(f.open, i+1, mixtender.ValveOpen),
			selectTrimCommand(f.closed, i+1, mixtender.ValveClosed),
		)
	}
	return append(cmds,
		TrimUpCommand,
		TrimDownCommand,
		ResetTrimCommand,
		HomeCommand,
		DebugCommand,
		VerboseCommand,
	)
}()

func flagString(flag byte) string {
	if flag >= 32 && flag <= 126 {
		return string(flag)
	}
	return fmt.Sprintf("0x%02X", flag)
}

var ErrInvalidOrder = errors.New("invalid order")

// ParseOrder reads an order like "1=50,7=25.5"
func ParseOrder(s string) ([]dispatch.Ingredient, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.Wrap(ErrInvalidOrder, "empty")
	}

	var order []dispatch.Ingredient
	for _, part := range strings.Split(s, ",") {
		id, weight, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return nil, errors.Wrapf(ErrInvalidOrder, "missing '=' in %q", part)
		}

		i, err := strconv.Atoi(id)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidOrder, "ingredient %q", id)
		}
		w, err := strconv.ParseFloat(weight, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidOrder, "weight %q", weight)
		}

		order = append(order, dispatch.Ingredient{ID: i, Weight: w})
	}

	return order, nil
}

// Parser runs commands from a byte stream one byte at a time, so it can be fed from inside a
// polling loop without blocking
type Parser struct {
	c     Controller
	cmds  map[byte]*Command
	cmd   *Command
	input []byte
	log   log.Logger
}

func NewParser(c Controller) *Parser {
	cmdMap := map[byte]*Command{
		HelpCommand.Flag: HelpCommand,
	}
	for _, cmd := range commands {
		cmdMap[cmd.Flag] = cmd
	}

	return &Parser{
		c:    c,
		cmds: cmdMap,
		log:  log.New("commands"),
	}
}

// SetLogger replaces the default logger
func (p *Parser) SetLogger(l log.Logger) {
	p.log = l
}

// Feed consumes the next byte. Unknown flags are ignored
func (p *Parser) Feed(b byte) {
	if p.cmd == nil {
		cmd, ok := p.cmds[b]
		if !ok {
			return
		}
		p.cmd = cmd
		p.input = p.input[:0]
		if !cmd.Terminated && cmd.InputSize == 0 {
			p.run()
		}
		return
	}

	if p.cmd.Terminated {
		switch {
		case b == mixtender.TerminationChar:
			p.run()
		case b == '\r':
		case len(p.input) >= maxInputSize:
			p.log.Warnf("input for %q is too long", p.cmd.Flag)
			p.cmd = nil
		default:
			p.input = append(p.input, b)
		}
		return
	}

	p.input = append(p.input, b)
	if len(p.input) == int(p.cmd.InputSize) {
		p.run()
	}
}

// Write feeds every byte of b
func (p *Parser) Write(b []byte) (int, error) {
	for _, c := range b {
		p.Feed(c)
	}
	return len(b), nil
}

func (p *Parser) run() {
	cmd := p.cmd
	p.cmd = nil

	p.log.WithFields(log.Fields{
		"command": flagString(cmd.Flag),
		"input":   string(p.input),
	}).Debug("running command")

	err := cmd.Run(p.c, p.input)
	if err != nil {
		p.log.Errorf("error running %q: %v", flagString(cmd.Flag), err)
		p.c.Report("error: " + err.Error())
	}
}
