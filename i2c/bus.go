package i2c

import (
	"context"

	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*Driver)(nil)

// Tx performs one write-then-read transfer bounded by the configured
// timeout, so TinyGo device drivers can sit on the bus.
func (d *Driver) Tx(addr uint16, w, r []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.Config().Timeout)
	defer cancel()
	return d.MasterTransceive(ctx, addr, w, r)
}

// ReadRegister writes the register number and reads len(buf) bytes after a
// repeated START.
func (d *Driver) ReadRegister(addr uint8, r uint8, buf []byte) error {
	return d.Tx(uint16(addr), []byte{r}, buf)
}

// WriteRegister writes the register number followed by buf.
func (d *Driver) WriteRegister(addr uint8, r uint8, buf []byte) error {
	w := make([]byte, 0, len(buf)+1)
	w = append(w, r)
	w = append(w, buf...)
	return d.Tx(uint16(addr), w, nil)
}
