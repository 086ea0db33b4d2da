//go:build !wasm

package serial

import (
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// NativePort wraps a tarm/serial port.
type NativePort struct {
	port *serial.Port
	cfg  *Config
}

// Open opens a native serial port.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Device)
	}
	return &NativePort{port: port, cfg: cfg}, nil
}

func (p *NativePort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *NativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

func (p *NativePort) Flush() error {
	return p.port.Flush()
}
