package controller

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

const (
	// SerialPortNone runs without a board. Input is logged and dropped
	SerialPortNone = "None"

	DefaultBaudRate = 115200
)

// Config selects the serial connection to the board
type Config struct {
	SerialPort string
	BaudRate   string
}

// ConfigFromEnv reads SERIAL_PORT and BAUD_RATE. Without SERIAL_PORT, the first USB serial port
// is used
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		SerialPort: os.Getenv("SERIAL_PORT"),
		BaudRate:   os.Getenv("BAUD_RATE"),
	}

	if cfg.SerialPort == "" {
		ports, err := GetSerialPorts()
		if err != nil {
			return cfg, err
		}
		cfg.SerialPort = ports[0]
	}

	return cfg, nil
}

func (c Config) baudRate() (int, error) {
	if c.BaudRate == "" {
		return DefaultBaudRate, nil
	}

	rate, err := strconv.Atoi(c.BaudRate)
	if err != nil || rate <= 0 {
		return 0, errors.Errorf("invalid baud rate %q", c.BaudRate)
	}
	return rate, nil
}
