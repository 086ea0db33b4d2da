package main

import (
	"context"

	"github.com/pkg/errors"

	"gohal/i2c"
)

// Probe range, excluding the reserved addresses.
const (
	probeFirst = 0x08
	probeLast  = 0x77
)

// probe addresses every valid 7-bit address and returns those that ACK.
func probe(ctx context.Context, bus *i2c.Driver) ([]uint8, error) {
	var found []uint8
	timeout := bus.Config().Timeout
	for addr := uint16(probeFirst); addr <= probeLast; addr++ {
		tctx, cancel := context.WithTimeout(ctx, timeout)
		err := bus.MasterTransceive(tctx, addr, nil, nil)
		cancel()
		switch {
		case err == nil:
			found = append(found, uint8(addr))
		case errors.Is(err, i2c.ErrAckFailure):
		default:
			return found, errors.Wrapf(err, "probe 0x%02x", addr)
		}
	}
	return found, nil
}
