package motion

// DefaultSpeed is the max speed, in steps per second, used for regular station moves
const DefaultSpeed uint16 = 500

// HomingConfig has the distances and speeds of the three homing stages. They depend on the
// mechanics of the tray and the position of the home switch
type HomingConfig struct {
	// SeekStartPosition is assigned to the axis before seeking so that the whole travel is
	// "in front of" the switch
	SeekStartPosition int32  `json:"seekStartPosition"`
	SeekSpeed         uint16 `json:"seekSpeed"`

	RetractDistance int32  `json:"retractDistance"`
	RetractSpeed    uint16 `json:"retractSpeed"`

	// RefineTarget is slightly behind the switch so the slow approach is guaranteed to hit it
	RefineTarget int32  `json:"refineTarget"`
	RefineSpeed  uint16 `json:"refineSpeed"`

	ParkSpeed uint16 `json:"parkSpeed"`
}

// DefaultHomingConfig returns the homing values the tray was calibrated with
func DefaultHomingConfig() HomingConfig {
	return HomingConfig{
		SeekStartPosition: 4000,
		SeekSpeed:         60,
		RetractDistance:   40,
		RetractSpeed:      40,
		RefineTarget:      -10,
		RefineSpeed:       20,
		ParkSpeed:         50,
	}
}
