// Package serial opens host serial ports for bridging to simulated
// channels.
package serial

import (
	"io"
	"net"
	"time"
)

// Port is a host serial port. Implementations:
// - native (github.com/tarm/serial)
// - in-memory pipe for tests
type Port interface {
	io.ReadWriteCloser

	// Flush discards buffered data.
	Flush() error
}

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g. "/dev/ttyUSB0", "COM3")
	Device string

	Baud int

	// ReadTimeout bounds a Read that has no data. Zero blocks.
	ReadTimeout time.Duration
}

// DefaultConfig returns 115200 baud with a 100ms read timeout.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

type pipePort struct {
	net.Conn
}

func (pipePort) Flush() error { return nil }

// Pipe returns two connected in-memory ports.
func Pipe() (Port, Port) {
	a, b := net.Pipe()
	return pipePort{a}, pipePort{b}
}
