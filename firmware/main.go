//go:build tinygo

package main

import (
	"errors"
	"machine"
	"strconv"
	"time"

	"tinygo.org/x/drivers/servo"
	"tinygo.org/x/drivers/tmc5160"

	"github.com/calvinmclean/mixtender/config"
	"github.com/calvinmclean/mixtender/device"
	"github.com/calvinmclean/mixtender/hx711"
	"github.com/calvinmclean/mixtender/log"
	"github.com/calvinmclean/mixtender/metering"
	"github.com/calvinmclean/mixtender/tmc"
)

// activeLow inverts an input with a pull-up, like the home switch which closes to ground
type activeLow struct {
	pin machine.Pin
}

func (a activeLow) Get() bool {
	return !a.pin.Get()
}

func main() {
	log.SetOutput(machine.Serial)

	cfg := config.Default()

	pumpPins := []machine.Pin{machine.GP6, machine.GP7, machine.GP8}
	for _, p := range pumpPins {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
	}

	axis, err := transportAxis()
	if err != nil {
		panic(err)
	}

	homeSwitch := machine.GP20
	homeSwitch.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	scaleClock, scaleData := machine.GP14, machine.GP15
	scaleClock.Configure(machine.PinConfig{Mode: machine.PinOutput})
	scaleData.Configure(machine.PinConfig{Mode: machine.PinInput})

	scale, err := hx711.New(scaleClock, scaleData, hx711.Config{
		Gain:        hx711.Gain128,
		Factor:      cfg.Scale.Factor,
		TareSamples: cfg.Scale.TareSamples,
	})
	if err != nil {
		panic(err)
	}

	servos, err := valveServos(cfg)
	if err != nil {
		panic(err)
	}

	hw := device.Hardware{
		Axis:       axis,
		HomeSwitch: activeLow{homeSwitch},
		Scale:      scale,
		Servos:     servos,
	}
	for _, p := range pumpPins[:cfg.Pumps] {
		hw.PumpPins = append(hw.PumpPins, p)
	}

	d, err := device.New(cfg, hw, machine.Serial)
	if err != nil {
		panic(err)
	}

	d.Home()

	interval := time.Duration(cfg.HeartbeatInterval)
	for {
		for machine.Serial.Buffered() > 0 {
			b, err := machine.Serial.ReadByte()
			if err != nil {
				break
			}
			d.Feed(b)
		}

		d.Heartbeat()
		time.Sleep(interval)
	}
}

// valveServos creates a servo for each configured valve. Two consecutive pins share a PWM slice
func valveServos(cfg config.Config) ([]metering.Servo, error) {
	pins := []machine.Pin{machine.GP0, machine.GP1, machine.GP2, machine.GP3, machine.GP4, machine.GP5}
	pwms := []servo.PWM{machine.PWM0, machine.PWM1, machine.PWM2}
	if len(cfg.Valves) > len(pins) {
		return nil, errors.New("error creating servos: not enough pins for " + strconv.Itoa(len(cfg.Valves)) + " valves")
	}

	var (
		servos []metering.Servo
		array  servo.Array
		err    error
	)
	for i := range cfg.Valves {
		if i%2 == 0 {
			array, err = servo.NewArray(pwms[i/2])
			if err != nil {
				return nil, errors.New("error creating servo array: " + err.Error())
			}
		}

		s, err := array.Add(pins[i])
		if err != nil {
			return nil, errors.New("error adding servo to array: " + err.Error())
		}
		servos = append(servos, s)
	}
	return servos, nil
}

// transportAxis sets up the TMC5160 on SPI0 (SCK GP18, SDO GP19, SDI GP16) with chip select on
// GP17. The enable input is active low
func transportAxis() (*tmc.Axis, error) {
	enable := machine.GP21
	enable.Configure(machine.PinConfig{Mode: machine.PinOutput})
	enable.High()

	comm := tmc5160.NewSPIComm(machine.SPI0, map[uint8]machine.Pin{0: machine.GP17})
	err := comm.Setup()
	if err != nil {
		return nil, errors.New("error setting up spi: " + err.Error())
	}

	cfg := tmc.DefaultConfig()
	driver := tmc5160.NewDriver(comm, 0, enable, cfg.Stepper)

	axis, err := tmc.New(driver, cfg)
	if err != nil {
		return nil, err
	}
	err = axis.Configure()
	if err != nil {
		return nil, errors.New("error configuring tmc5160: " + err.Error())
	}

	enable.Low()
	return axis, nil
}
