// Package board describes a chip's channels in a JSON board file and builds
// the drivers for them on simulated hardware.
package board

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"gohal/core"
	"gohal/i2c"
	"gohal/serial"
)

// Channel kinds.
const (
	KindSerial = "serial"
	KindI2C    = "i2c"
)

// Families.
const (
	FamilyLPC214x = "lpc214x"
	FamilyKinetis = "kinetis"
	FamilySTM32F1 = "stm32f1"
	FamilySTM32F4 = "stm32f4"
)

// DMAVector is the vector slot reserved for the board's DMA controller.
const DMAVector core.PeripheralID = core.MaxPeripherals - 1

// DefaultDMAStreams is the stream count of the DMA controller.
const DefaultDMAStreams = 8

// Config is a board file.
type Config struct {
	Name       string          `json:"name"`
	DMAStreams int             `json:"dma_streams"`
	Channels   []ChannelConfig `json:"channels"`
}

// ChannelConfig describes one peripheral instance.
type ChannelConfig struct {
	ID          core.PeripheralID `json:"id"`
	Name        string            `json:"name"`
	Kind        string            `json:"kind"`
	Family      string            `json:"family"`
	Instance    int               `json:"instance"`
	ClockHz     uint32            `json:"clock_hz"`
	QueueSize   int               `json:"queue_size"`
	IRQPriority uint8             `json:"irq_priority"`
	DMA         *DMAConfig        `json:"dma,omitempty"`
	Devices     []DeviceConfig    `json:"devices,omitempty"`

	// Attributes are decoded into serial.Config or i2c.Config.
	Attributes map[string]interface{} `json:"attributes"`
}

// DMAConfig selects the streams serving an I2C channel.
type DMAConfig struct {
	RX       uint8 `json:"rx"`
	TX       uint8 `json:"tx"`
	Channel  uint8 `json:"channel"`
	Priority uint8 `json:"priority"`
}

// DeviceConfig is a simulated slave on an I2C bus.
type DeviceConfig struct {
	Addr uint8  `json:"addr"`
	Kind string `json:"kind"`
}

// Load parses a board file, fills defaults and validates it.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing board file")
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and parses the board file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading board file")
	}
	return Load(data)
}

// instance defaults per family: clock and I2C DMA stream mapping
var (
	defaultClock = map[string]uint32{
		FamilyLPC214x: 14745600,
		FamilyKinetis: 48000000,
		FamilySTM32F1: 36000000,
		FamilySTM32F4: 42000000,
	}
	defaultI2CDMA = map[int]DMAConfig{
		1: {RX: 0, TX: 6, Channel: 1, Priority: 2},
		2: {RX: 2, TX: 7, Channel: 7, Priority: 2},
	}
)

func applyDefaults(cfg *Config) {
	if cfg.Name == "" {
		cfg.Name = "board"
	}
	if cfg.DMAStreams == 0 {
		cfg.DMAStreams = DefaultDMAStreams
	}
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		ch.Kind = strings.ToLower(ch.Kind)
		ch.Family = strings.ToLower(ch.Family)
		if ch.ClockHz == 0 {
			ch.ClockHz = defaultClock[ch.Family]
		}
		switch ch.Kind {
		case KindSerial:
			if ch.QueueSize == 0 {
				ch.QueueSize = serial.DefaultQueueSize
			}
		case KindI2C:
			if ch.Instance == 0 {
				ch.Instance = 1
			}
			if ch.DMA == nil {
				if d, ok := defaultI2CDMA[ch.Instance]; ok {
					ch.DMA = &d
				}
			}
		}
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("%s%d", ch.Kind, ch.Instance)
		}
	}
}

// Validate checks ids, kinds and families.
func (c *Config) Validate() error {
	seen := make(map[core.PeripheralID]bool)
	names := make(map[string]bool)
	for _, ch := range c.Channels {
		if ch.ID >= DMAVector {
			return errors.Errorf("channel %q: id %d not below %d", ch.Name, ch.ID, DMAVector)
		}
		if seen[ch.ID] {
			return errors.Errorf("channel %q: duplicate id %d", ch.Name, ch.ID)
		}
		if names[ch.Name] {
			return errors.Errorf("duplicate channel name %q", ch.Name)
		}
		seen[ch.ID] = true
		names[ch.Name] = true

		switch ch.Kind {
		case KindSerial:
			if ch.Family != FamilyLPC214x && ch.Family != FamilyKinetis {
				return errors.Errorf("channel %q: no serial port on family %q", ch.Name, ch.Family)
			}
		case KindI2C:
			if ch.Family != FamilySTM32F1 && ch.Family != FamilySTM32F4 {
				return errors.Errorf("channel %q: no i2c bus on family %q", ch.Name, ch.Family)
			}
			if ch.DMA == nil {
				return errors.Errorf("channel %q: no dma streams for instance %d", ch.Name, ch.Instance)
			}
			if int(ch.DMA.RX) >= c.DMAStreams || int(ch.DMA.TX) >= c.DMAStreams {
				return errors.Errorf("channel %q: dma stream out of range", ch.Name)
			}
			for _, dev := range ch.Devices {
				if dev.Addr > 0x7F {
					return errors.Errorf("channel %q: device address 0x%x is not 7-bit", ch.Name, dev.Addr)
				}
			}
		default:
			return errors.Errorf("channel %q: unknown kind %q", ch.Name, ch.Kind)
		}
	}
	return nil
}

// SerialConfig decodes the channel attributes over serial.DefaultConfig.
func (c ChannelConfig) SerialConfig() (serial.Config, error) {
	cfg := serial.DefaultConfig()
	if err := decodeAttributes(c.Attributes, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "channel %q", c.Name)
	}
	return cfg, nil
}

// I2CConfig decodes the channel attributes over i2c.DefaultConfig.
func (c ChannelConfig) I2CConfig() (i2c.Config, error) {
	cfg := i2c.DefaultConfig()
	if err := decodeAttributes(c.Attributes, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "channel %q", c.Name)
	}
	return cfg, nil
}

func decodeAttributes(attrs map[string]interface{}, out interface{}) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   out,
		Metadata: &md,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(attrs); err != nil {
		return err
	}
	if len(md.Unused) != 0 {
		return errors.Errorf("unknown attributes %v", md.Unused)
	}
	return nil
}
