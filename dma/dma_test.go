package dma

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gohal/core"
	"gohal/regs/stm32"
)

type fakeStream struct {
	id      StreamID
	periph  uint32
	mem     []byte
	mode    uint32
	enabled bool
}

func (s *fakeStream) ID() StreamID              { return s.id }
func (s *fakeStream) SetPeripheral(addr uint32) { s.periph = addr }
func (s *fakeStream) SetMemory(buf []byte)      { s.mem = buf }
func (s *fakeStream) SetMode(mode uint32)       { s.mode = mode }
func (s *fakeStream) Enable()                   { s.enabled = true }
func (s *fakeStream) Disable()                  { s.enabled = false }
func (s *fakeStream) Remaining() int            { return len(s.mem) }

type fakeController struct {
	streams [4]*fakeStream
	flags   [4]Flags
}

func newFakeController() *fakeController {
	c := &fakeController{}
	for i := range c.streams {
		c.streams[i] = &fakeStream{id: StreamID(i)}
	}
	return c
}

func (c *fakeController) Stream(id StreamID) (Stream, bool) {
	if int(id) >= len(c.streams) {
		return nil, false
	}
	return c.streams[id], true
}

func (c *fakeController) TakeFlags(id StreamID) Flags {
	f := c.flags[id]
	c.flags[id] = 0
	return f
}

func TestPoolExclusive(t *testing.T) {
	p := NewPool(newFakeController())
	s, err := p.Acquire(1, nil)
	require.NoError(t, err)
	require.True(t, p.Owned(1))

	_, err = p.Acquire(1, nil)
	require.ErrorIs(t, err, ErrAlreadyOwned)
	_, err = p.Acquire(9, nil)
	require.ErrorIs(t, err, ErrNoStream)

	p.Release(s)
	require.False(t, p.Owned(1))
	_, err = p.Acquire(1, nil)
	require.NoError(t, err)
}

func TestPoolServeRoutesFlags(t *testing.T) {
	ctrl := newFakeController()
	p := NewPool(ctrl)
	var got Flags
	_, err := p.Acquire(2, func(f Flags) { got |= f })
	require.NoError(t, err)

	ctrl.flags[2] = FlagComplete
	ctrl.flags[3] = FlagTransferError // not owned
	state := core.DisableInterrupts()
	p.Serve()
	core.RestoreInterrupts(state)

	require.Equal(t, FlagComplete, got)
	require.Equal(t, FlagTransferError, ctrl.flags[3])
}

func TestEngineAcquireRollsBack(t *testing.T) {
	ctrl := newFakeController()
	p := NewPool(ctrl)
	other, err := p.Acquire(3, nil)
	require.NoError(t, err)

	e := NewEngine(p, 2, 3)
	err = e.Acquire()
	require.ErrorIs(t, err, ErrAlreadyOwned)
	require.False(t, p.Owned(2))
	require.False(t, e.Acquired())

	p.Release(other)
	require.NoError(t, e.Acquire())
	require.True(t, p.Owned(2))
	require.True(t, p.Owned(3))
	e.Release()
	require.False(t, p.Owned(2))
	require.False(t, p.Owned(3))
}

func TestEngineArm(t *testing.T) {
	ctrl := newFakeController()
	e := NewEngine(NewPool(ctrl), 0, 1)
	require.ErrorIs(t, e.Arm(Descriptor{}), ErrNotAcquired)
	require.NoError(t, e.Acquire())
	e.Configure(stm32.I2C2Base+uint32(stm32.DR), 7, 2)

	mode := e.Mode()
	require.Equal(t, uint32(7), mode&stm32.DMA_SxCR_CHSEL_MASK>>stm32.DMA_SxCR_CHSEL_SHIFT)
	require.Equal(t, uint32(2), mode&stm32.DMA_SxCR_PL_MASK>>stm32.DMA_SxCR_PL_SHIFT)
	require.NotZero(t, mode&stm32.DMA_SxCR_MINC)

	var done Flags
	buf := []byte{1, 2, 3}
	state := core.DisableInterrupts()
	require.NoError(t, e.Arm(Descriptor{Direction: MemoryToPeripheral, Buffer: buf, Done: func(f Flags) { done = f }}))
	core.RestoreInterrupts(state)

	tx := ctrl.streams[1]
	require.True(t, tx.enabled)
	require.Equal(t, buf, tx.mem)
	require.Equal(t, uint32(0x40005810), tx.periph)
	require.NotZero(t, tx.mode&stm32.DMA_SxCR_DIR_M2P)
	require.False(t, ctrl.streams[0].enabled)

	e.serveTx(FlagComplete)
	require.Equal(t, FlagComplete, done)

	e.Abort()
	require.False(t, tx.enabled)
	e.Release()
}
