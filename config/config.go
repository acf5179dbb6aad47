// Package config has the calibration of a machine: station positions, valve angles, scale
// factor and the timing of the controllers. It is read from JSON and merged onto Default
package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/calvinmclean/mixtender/dispatch"
	"github.com/calvinmclean/mixtender/log"
	"github.com/calvinmclean/mixtender/metering"
	"github.com/calvinmclean/mixtender/motion"
)

// Duration is a time.Duration written as a string like "500ms" in JSON
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	err := json.Unmarshal(b, &s)
	if err != nil {
		return pkgerrors.Wrap(err, "duration must be a string")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return pkgerrors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	// HeartbeatInterval is the period of the control loop
	HeartbeatInterval Duration `json:"heartbeatInterval"`

	Transport Transport              `json:"transport"`
	Scale     Scale                  `json:"scale"`
	Metering  Metering               `json:"metering"`
	Cup       Cup                    `json:"cup"`
	Valves    []metering.ValveConfig `json:"valves"`
	Pumps     int                    `json:"pumps"`
}

type Transport struct {
	ParkPosition int32 `json:"parkPosition"`
	// Stations are registered in order, the first one is station 1
	Stations []int32 `json:"stations"`
	// PumpStation is the station shared by every pump
	PumpStation int    `json:"pumpStation"`
	Speed       uint16 `json:"speed"`
	ParkSpeed   uint16 `json:"parkSpeed"`
	HalfStep    bool   `json:"halfStep"`

	Homing motion.HomingConfig `json:"homing"`
}

type Scale struct {
	// Factor converts ADC counts into grams
	Factor      float64 `json:"factor"`
	TareSamples int     `json:"tareSamples"`
	Smoothing   float64 `json:"smoothing"`
	Resolution  float64 `json:"resolution"`

	EmptyContainerWeight float64 `json:"emptyContainerWeight"`
}

type Metering struct {
	StabilityDelay Duration `json:"stabilityDelay"`
	ClosureDelay   Duration `json:"closureDelay"`
}

type Cup struct {
	PresentWeight float64  `json:"presentWeight"`
	AbsentWeight  float64  `json:"absentWeight"`
	RemovedWeight float64  `json:"removedWeight"`
	EndDelay      Duration `json:"endDelay"`
}

// Default returns the calibration of the reference machine
func Default() Config {
	meteringDefaults := metering.DefaultConfig()
	dispatchDefaults := dispatch.DefaultConfig()

	valves := make([]metering.ValveConfig, dispatchDefaults.ValveCount)
	for i := range valves {
		valves[i] = metering.DefaultValveConfig()
	}

	return Config{
		HeartbeatInterval: Duration(10 * time.Millisecond),
		Transport: Transport{
			ParkPosition: 15,
			Stations:     []int32{12, 426, 875, 1309, 1759, 2192, 650},
			PumpStation:  dispatchDefaults.PumpStation,
			Speed:        dispatchDefaults.Speed,
			ParkSpeed:    dispatchDefaults.ParkSpeed,
			Homing:       motion.DefaultHomingConfig(),
		},
		Scale: Scale{
			Factor:      -438,
			TareSamples: 10,
			Smoothing:   meteringDefaults.Smoothing,
			Resolution:  meteringDefaults.Resolution,
		},
		Metering: Metering{
			StabilityDelay: Duration(meteringDefaults.StabilityDelay),
			ClosureDelay:   Duration(meteringDefaults.ClosureDelay),
		},
		Cup: Cup{
			PresentWeight: dispatchDefaults.CupPresentWeight,
			AbsentWeight:  dispatchDefaults.CupAbsentWeight,
			RemovedWeight: dispatchDefaults.CupRemovedWeight,
			EndDelay:      Duration(dispatchDefaults.EndDelay),
		},
		Valves: valves,
		Pumps:  3,
	}
}

// Load reads the file at path onto Default. A missing or empty file gives Default
func Load(path string) (Config, error) {
	c := Default()

	fp, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			log.New("config").Warnf("failed to close file %s", path)
		}
	}(fp)

	return Read(fp)
}

// Read decodes JSON from r onto Default and validates the result
func Read(r io.Reader) (Config, error) {
	c := Default()

	b, err := io.ReadAll(r)
	if err != nil {
		return c, pkgerrors.Wrap(err, "failed to read config")
	}
	if strings.TrimSpace(string(b)) == "" {
		return c, nil
	}

	err = json.Unmarshal(b, &c)
	if err != nil {
		return c, pkgerrors.Wrap(err, "failed to unmarshal config")
	}

	return c, c.Validate()
}

// Write encodes the config as indented JSON
func (c Config) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(c)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to encode config")
	}
	return nil
}

// Validate checks values that would make a controller misbehave
func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return pkgerrors.New("heartbeat interval must be positive")
	}
	if len(c.Transport.Stations) == 0 {
		return pkgerrors.New("at least one station is required")
	}
	if c.Pumps > 0 && (c.Transport.PumpStation < 1 || c.Transport.PumpStation > len(c.Transport.Stations)) {
		return pkgerrors.Errorf("pump station %d is not one of the %d stations", c.Transport.PumpStation, len(c.Transport.Stations))
	}
	if len(c.Valves) > len(c.Transport.Stations) {
		return pkgerrors.Errorf("%d valves need as many stations, got %d", len(c.Valves), len(c.Transport.Stations))
	}
	if c.Pumps < 0 {
		return pkgerrors.New("pumps must not be negative")
	}
	for i, v := range c.Valves {
		if v.ClosedAngle < 0 || v.ClosedAngle > 180 || v.OpenAngle < 0 || v.OpenAngle > 180 {
			return pkgerrors.Errorf("valve %d: angles must be between 0 and 180", i+1)
		}
	}
	if c.Scale.Factor == 0 {
		return pkgerrors.New("scale factor must not be zero")
	}
	if c.Scale.TareSamples < 1 {
		return pkgerrors.New("tare samples must be at least 1")
	}
	if c.Scale.Smoothing <= 0 || c.Scale.Smoothing > 1 {
		return pkgerrors.New("smoothing must be in (0, 1]")
	}
	if c.Scale.Resolution < 0 {
		return pkgerrors.New("resolution must not be negative")
	}
	if c.Cup.RemovedWeight > c.Cup.AbsentWeight || c.Cup.AbsentWeight >= c.Cup.PresentWeight {
		return pkgerrors.New("cup weights must satisfy removed <= absent < present")
	}
	if c.Transport.Speed == 0 || c.Transport.ParkSpeed == 0 {
		return pkgerrors.New("speeds must be positive")
	}

	return nil
}

// MeteringConfig ...
func (c Config) MeteringConfig() metering.Config {
	return metering.Config{
		StabilityDelay:       time.Duration(c.Metering.StabilityDelay),
		ClosureDelay:         time.Duration(c.Metering.ClosureDelay),
		Smoothing:            c.Scale.Smoothing,
		Resolution:           c.Scale.Resolution,
		EmptyContainerWeight: c.Scale.EmptyContainerWeight,
	}
}

// DispatchConfig ...
func (c Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		CupPresentWeight: c.Cup.PresentWeight,
		CupAbsentWeight:  c.Cup.AbsentWeight,
		CupRemovedWeight: c.Cup.RemovedWeight,
		EndDelay:         time.Duration(c.Cup.EndDelay),
		Speed:            c.Transport.Speed,
		ParkSpeed:        c.Transport.ParkSpeed,
		ValveCount:       len(c.Valves),
		PumpStation:      c.Transport.PumpStation,
	}
}

func (c Config) LogFields() log.Fields {
	return log.Fields{
		"heartbeatInterval": time.Duration(c.HeartbeatInterval).String(),
		"parkPosition":      c.Transport.ParkPosition,
		"stations":          c.Transport.Stations,
		"pumpStation":       c.Transport.PumpStation,
		"speed":             c.Transport.Speed,
		"valves":            len(c.Valves),
		"pumps":             c.Pumps,
		"scaleFactor":       c.Scale.Factor,
		"stabilityDelay":    time.Duration(c.Metering.StabilityDelay).String(),
		"closureDelay":      time.Duration(c.Metering.ClosureDelay).String(),
		"endDelay":          time.Duration(c.Cup.EndDelay).String(),
	}
}
