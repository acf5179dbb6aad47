package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/calvinmclean/mixtender"
	"github.com/calvinmclean/mixtender/config"
	"github.com/calvinmclean/mixtender/controller"
	"github.com/calvinmclean/mixtender/device"
	"github.com/calvinmclean/mixtender/hx711"
	"github.com/calvinmclean/mixtender/sim"
)

const defaultCupWeight = 30

func NewSimulateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run the machine against simulated hardware",
		Long: `Run the machine against simulated hardware.

Lines typed on stdin are machine commands, except:
  cup [grams]   put an empty cup on the tray
  remove        take the cup off the tray and print what is in it`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logrus.WithFields(cfg.LogFields()).Info("loaded config")

			ctx, stop := runContext(cmd)
			defer stop()

			return simulate(ctx, cfg, os.Stdin, os.Stdout)
		},
	}
}

// simPlantConfig lays the simulated actuators out at the configured stations
func simPlantConfig(cfg config.Config) sim.Config {
	simCfg := sim.DefaultConfig()
	simCfg.HalfStep = cfg.Transport.HalfStep
	simCfg.ScaleFactor = cfg.Scale.Factor

	simCfg.ValveStations = nil
	for i := range cfg.Valves {
		if i < len(cfg.Transport.Stations) {
			simCfg.ValveStations = append(simCfg.ValveStations, cfg.Transport.Stations[i])
		}
	}

	simCfg.PumpStations = nil
	if idx := cfg.Transport.PumpStation - 1; idx >= 0 && idx < len(cfg.Transport.Stations) {
		for range cfg.Pumps {
			simCfg.PumpStations = append(simCfg.PumpStations, cfg.Transport.Stations[idx])
		}
	}

	return simCfg
}

func simulate(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	clock := mixtender.SystemClock{}
	plant := sim.New(simPlantConfig(cfg), clock)

	scale, err := hx711.New(plant.ScaleClock(), plant.ScaleData(), hx711.Config{
		Gain:        hx711.Gain128,
		Factor:      cfg.Scale.Factor,
		TareSamples: cfg.Scale.TareSamples,
	})
	if err != nil {
		return err
	}

	boardOut, renderIn := io.Pipe()
	defer renderIn.Close()

	d, err := device.New(cfg, device.Hardware{
		Coils:      plant.Coils(),
		HomeSwitch: plant.HomeSwitch(),
		Scale:      scale,
		Servos:     plant.Servos(),
		PumpPins:   plant.PumpPins(),
		Tickers:    []device.Ticker{plant},
		Clock:      clock,
	}, renderIn)
	if err != nil {
		return err
	}

	go func() {
		scanner := bufio.NewScanner(boardOut)
		for scanner.Scan() {
			controller.Render(out, scanner.Text())
		}
	}()

	input := make(chan byte, 256)
	go func() {
		defer close(input)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if handlePlantCommand(plant, line, renderIn) {
				continue
			}
			for _, b := range []byte(line) {
				input <- b
			}
			input <- mixtender.TerminationChar
		}
	}()

	d.Home()
	err = d.Run(ctx, input)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handlePlantCommand runs the commands that act on the simulated world instead of the machine
func handlePlantCommand(plant *sim.Plant, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "cup":
		weight := float64(defaultCupWeight)
		if len(fields) > 1 {
			w, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				logrus.Warnf("invalid cup weight %q", fields[1])
				return true
			}
			weight = w
		}
		plant.PlaceCup(weight)
		logrus.WithField("weight", weight).Info("placed cup")
	case "remove":
		contents := plant.RemoveCup()
		_, _ = io.WriteString(out, "cup removed with "+strconv.FormatFloat(contents, 'f', 1, 64)+"g\n")
	default:
		return false
	}
	return true
}
