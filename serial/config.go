package serial

import (
	"strings"

	"github.com/pkg/errors"

	"gohal/core"
)

// Parity selects the parity bit.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "unknown"
	}
}

// UnmarshalText accepts "none", "even" and "odd".
func (p *Parity) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "none":
		*p = ParityNone
	case "even":
		*p = ParityEven
	case "odd":
		*p = ParityOdd
	default:
		return errors.Errorf("unknown parity %q", text)
	}
	return nil
}

// Config is the line configuration applied by Start.
type Config struct {
	Speed       uint32 `json:"speed" mapstructure:"speed"`
	WordLength  uint8  `json:"word_length" mapstructure:"word_length"`
	StopBits    uint8  `json:"stop_bits" mapstructure:"stop_bits"`
	Parity      Parity `json:"parity" mapstructure:"parity"`
	FIFOTrigger uint8  `json:"fifo_trigger" mapstructure:"fifo_trigger"`
}

// DefaultConfig returns 38400 8N1.
func DefaultConfig() Config {
	return Config{
		Speed:       38400,
		WordLength:  8,
		StopBits:    1,
		Parity:      ParityNone,
		FIFOTrigger: 1,
	}
}

// Validate checks the settings every UART family supports.
func (c Config) Validate() error {
	if c.Speed == 0 {
		return core.Contractf("serial speed must be positive")
	}
	if c.WordLength < 5 || c.WordLength > 8 {
		return core.Contractf("word length %d not in 5..8", c.WordLength)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return core.Contractf("stop bits %d not 1 or 2", c.StopBits)
	}
	if c.Parity > ParityOdd {
		return core.Contractf("parity %d", c.Parity)
	}
	return nil
}
