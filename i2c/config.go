package i2c

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Duty selects the SCL low/high ratio.
type Duty uint8

const (
	DutyStandard Duty = iota // 1:1, up to 100 kHz
	DutyFast2                // 2:1
	DutyFast16_9             // 16:9
)

func (d Duty) String() string {
	switch d {
	case DutyStandard:
		return "standard"
	case DutyFast2:
		return "fast-2"
	case DutyFast16_9:
		return "fast-16:9"
	default:
		return "unknown"
	}
}

// UnmarshalText accepts the names printed by String.
func (d *Duty) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "standard":
		*d = DutyStandard
	case "fast-2", "fast2":
		*d = DutyFast2
	case "fast-16:9", "fast16_9":
		*d = DutyFast16_9
	default:
		return errors.Errorf("unknown duty cycle %q", text)
	}
	return nil
}

// OpMode selects plain I2C or one of the SMBus roles.
type OpMode uint8

const (
	OpModeI2C OpMode = iota
	OpModeSMBusDevice
	OpModeSMBusHost
)

func (m OpMode) String() string {
	switch m {
	case OpModeI2C:
		return "i2c"
	case OpModeSMBusDevice:
		return "smbus-device"
	case OpModeSMBusHost:
		return "smbus-host"
	default:
		return "unknown"
	}
}

// UnmarshalText accepts the names printed by String.
func (m *OpMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "i2c":
		*m = OpModeI2C
	case "smbus-device":
		*m = OpModeSMBusDevice
	case "smbus-host":
		*m = OpModeSMBusHost
	default:
		return errors.Errorf("unknown op mode %q", text)
	}
	return nil
}

// Config is the bus configuration applied by Start.
type Config struct {
	Speed  uint32 `json:"speed" mapstructure:"speed"`
	Duty   Duty   `json:"duty" mapstructure:"duty"`
	OpMode OpMode `json:"op_mode" mapstructure:"op_mode"`

	// Timeout bounds transfers made through Tx. Zero means DefaultTimeout.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultTimeout bounds Tx transfers when the configuration sets none.
const DefaultTimeout = 100 * time.Millisecond

// DefaultConfig returns 100 kHz standard mode I2C.
func DefaultConfig() Config {
	return Config{
		Speed:   100000,
		Duty:    DutyStandard,
		OpMode:  OpModeI2C,
		Timeout: DefaultTimeout,
	}
}
