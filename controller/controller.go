// Package controller is the host side of the serial link: it forwards typed commands to the
// board and prints the notifications the board sends back
package controller

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/notify"
)

var ErrNoUSBSerial = errors.New("no USB serial ports found")

// GetSerialPorts lists the USB serial ports
func GetSerialPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "error listing serial ports")
	}

	var result []string
	for _, port := range ports {
		if port.IsUSB {
			result = append(result, port.Name)
		}
	}

	if len(result) == 0 {
		return nil, ErrNoUSBSerial
	}
	return result, nil
}

// Controller bridges a terminal and the board
type Controller struct {
	cfg  Config
	port io.ReadWriteCloser
	log  logrus.FieldLogger
}

// NewFromEnv creates a Controller using ConfigFromEnv
func NewFromEnv() (*Controller, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New opens the serial port
func New(cfg Config) (*Controller, error) {
	c := &Controller{
		cfg: cfg,
		log: logrus.WithField("port", cfg.SerialPort),
	}

	if cfg.SerialPort == SerialPortNone {
		return c, nil
	}

	baudRate, err := cfg.baudRate()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(cfg.SerialPort, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, errors.Wrapf(err, "error opening serial port %s", cfg.SerialPort)
	}
	c.port = port

	c.log.WithField("baudRate", baudRate).Info("connected")
	return c, nil
}

// newWithPort is used by tests to replace the serial port
func newWithPort(port io.ReadWriteCloser) *Controller {
	return &Controller{
		cfg:  Config{SerialPort: "test"},
		port: port,
		log:  logrus.WithField("port", "test"),
	}
}

// Send writes a command to the board
func (c *Controller) Send(command string) error {
	if c.port == nil {
		c.log.WithField("command", command).Info("no board connected, dropping command")
		return nil
	}

	_, err := io.WriteString(c.port, command)
	if err != nil {
		return errors.Wrap(err, "error writing to board")
	}
	return nil
}

// Run forwards each line from in to the board and prints what the board sends to out. It
// returns when ctx is done or the board disconnects. The end of in does not stop it
func (c *Controller) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inputErr := make(chan error, 1)
	go func() {
		inputErr <- c.forwardInput(ctx, in)
	}()

	if c.port == nil {
		select {
		case <-ctx.Done():
			return nil
		case err := <-inputErr:
			return err
		}
	}

	boardErr := make(chan error, 1)
	go func() {
		boardErr <- c.readBoard(out)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-inputErr:
			if err != nil {
				return err
			}
			inputErr = nil
		case err := <-boardErr:
			return err
		}
	}
}

func (c *Controller) forwardInput(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		err := c.Send(line + string(mixtender.TerminationChar))
		if err != nil {
			return err
		}
	}

	err := scanner.Err()
	if err != nil {
		return errors.Wrap(err, "error reading input")
	}
	return nil
}

func (c *Controller) readBoard(out io.Writer) error {
	scanner := bufio.NewScanner(c.port)
	for scanner.Scan() {
		Render(out, scanner.Text())
	}

	err := scanner.Err()
	if err != nil {
		return errors.Wrap(err, "error reading from board")
	}
	c.log.Info("board disconnected")
	return nil
}

var (
	statusColor   = color.New(color.FgCyan)
	beginColor    = color.New(color.FgYellow)
	finishedColor = color.New(color.FgGreen, color.Bold)
	cupColor      = color.New(color.FgMagenta)
)

// Render prints one line from the board. Notification frames are decoded and colored, anything
// else is printed as is
func Render(out io.Writer, line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}

	e, err := notify.Parse(line)
	if err != nil {
		_, _ = io.WriteString(out, line+"\n")
		return
	}

	switch e.Kind {
	case notify.KindStatus:
		_, _ = statusColor.Fprintln(out, e)
	case notify.KindStepBeginning:
		_, _ = beginColor.Fprintln(out, e)
	case notify.KindStepFinished:
		_, _ = finishedColor.Fprintln(out, e)
	case notify.KindCup:
		_, _ = cupColor.Fprintln(out, e)
	default:
		_, _ = io.WriteString(out, e.String()+"\n")
	}
}

// Close closes the serial port
func (c *Controller) Close() error {
	if c.port == nil {
		return nil
	}
	return c.port.Close()
}
