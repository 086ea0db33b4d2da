package i2c

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"tinygo.org/x/drivers"

	"gohal/core"
	"gohal/dma"
	"gohal/regs/stm32"
	"gohal/sim"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	periphID  core.PeripheralID = 1
	dmaID     core.PeripheralID = 15
	rxStream  dma.StreamID      = 0
	txStream  dma.StreamID      = 6
	slaveAddr                   = 0x50
)

type rig struct {
	soc  *sim.SoC
	dev  *sim.STM32I2C
	ctrl *sim.DMA
	pool *dma.Pool
	clk  core.ClockGate
	mem  *sim.MemorySlave
	ev   *sim.Line
	drv  *Driver
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	var vectors core.VectorTable
	soc := sim.NewSoC(&vectors)
	ctrl := soc.NewDMA(8, 11, dmaID)
	pool := dma.NewPool(ctrl)
	require.NoError(t, vectors.Register(dmaID, core.CauseDMA, pool.Serve))
	ctrl.IRQ().Enable(1)

	dev, ev, er := soc.NewSTM32I2C(stm32.I2C1Base, ctrl, 31, 32, periphID)
	mem := sim.NewMemorySlave()
	dev.Attach(slaveAddr, mem)
	clk := core.ClockGate{Regs: soc.SysCtl, Reg: stm32.RCC_APB1ENR, Mask: stm32.APB1ENR_I2C1EN}

	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	drv := New(periphID, "i2c1", Hardware{
		Regs:         dev,
		Family:       STM32F1,
		Clock:        clk,
		EventIRQ:     ev,
		ErrorIRQ:     er,
		ClockHz:      36000000,
		IRQPriority:  2,
		DMA:          dma.NewEngine(pool, rxStream, txStream),
		DataRegister: stm32.I2C1Base + uint32(stm32.DR),
		DMAChannel:   1,
		DMAPriority:  2,
	}, opts...)
	require.NoError(t, vectors.Register(periphID, core.CauseEvent, drv.ServeEvent))
	require.NoError(t, vectors.Register(periphID, core.CauseError, drv.ServeError))
	soc.Start()
	t.Cleanup(soc.Close)
	return &rig{soc: soc, dev: dev, ctrl: ctrl, pool: pool, clk: clk, mem: mem, ev: ev, drv: drv}
}

func (r *rig) start(t *testing.T) {
	t.Helper()
	require.NoError(t, r.drv.Start(DefaultConfig()))
}

func ctxTimeout(t *testing.T, d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

// transferAsync runs a transmit in the background.
func (r *rig) transferAsync(ctx context.Context, tx []byte) <-chan error {
	errc := make(chan error, 1)
	go func() {
		errc <- r.drv.MasterTransmit(ctx, slaveAddr, tx)
	}()
	return errc
}

func TestStartProgramsBus(t *testing.T) {
	r := newRig(t)
	r.start(t)
	require.Equal(t, core.StateReady, r.drv.State())
	require.True(t, r.clk.Enabled())
	require.True(t, r.pool.Owned(rxStream))
	require.True(t, r.pool.Owned(txStream))
	require.True(t, r.ev.Enabled())

	regs := r.dev.Registers()
	require.Equal(t, uint32(stm32.CR1_PE), regs.CR1)
	require.Equal(t, uint32(36|stm32.CR2_ITERREN|stm32.CR2_ITEVTEN|stm32.CR2_DMAEN), regs.CR2)
	require.Equal(t, uint32(180), regs.CCR)
	require.Equal(t, uint32(37), regs.TRISE)
	require.Zero(t, r.dev.ConfigWhileEnabled())

	require.NoError(t, r.drv.Stop())
	require.Equal(t, core.StateStop, r.drv.State())
	require.False(t, r.clk.Enabled())
	require.False(t, r.pool.Owned(rxStream))
	require.False(t, r.pool.Owned(txStream))
	require.False(t, r.ev.Enabled())
	require.Zero(t, r.dev.Registers().CR1)

	require.NoError(t, r.drv.Stop())
}

func TestStartSMBusHost(t *testing.T) {
	r := newRig(t)
	cfg := DefaultConfig()
	cfg.OpMode = OpModeSMBusHost
	require.NoError(t, r.drv.Start(cfg))
	require.Equal(t, uint32(stm32.CR1_PE|stm32.CR1_SMBUS|stm32.CR1_SMBTYPE), r.dev.Registers().CR1)
	require.NoError(t, r.drv.Stop())
}

func TestStartTwiceRejected(t *testing.T) {
	r := newRig(t)
	r.start(t)
	before := r.dev.Registers()

	cfg := DefaultConfig()
	cfg.Speed = 400000
	cfg.Duty = DutyFast2
	require.ErrorIs(t, r.drv.Start(cfg), core.ErrContract)
	require.Equal(t, before, r.dev.Registers())
	require.Equal(t, uint32(100000), r.drv.Config().Speed)
	require.NoError(t, r.drv.Stop())
}

func TestStartInvalidConfigTouchesNothing(t *testing.T) {
	r := newRig(t)
	cfg := DefaultConfig()
	cfg.Speed = 100001
	require.ErrorIs(t, r.drv.Start(cfg), core.ErrContract)
	require.Equal(t, core.StateStop, r.drv.State())
	require.False(t, r.clk.Enabled())
	require.False(t, r.pool.Owned(rxStream))
}

func TestStartDMAContention(t *testing.T) {
	r := newRig(t)
	other, err := r.pool.Acquire(txStream, nil)
	require.NoError(t, err)

	require.ErrorIs(t, r.drv.Start(DefaultConfig()), dma.ErrAlreadyOwned)
	require.Equal(t, core.StateStop, r.drv.State())
	require.False(t, r.pool.Owned(rxStream))
	require.False(t, r.clk.Enabled())
	require.Zero(t, r.dev.Registers().CCR)
	require.Zero(t, r.dev.Registers().CR2)

	r.pool.Release(other)
	r.start(t)
	require.NoError(t, r.drv.Stop())
}

func TestTransceiveWriteThenRead(t *testing.T) {
	r := newRig(t)
	copy(r.mem.Mem[0x10:], []byte{1, 2, 3, 4})
	r.start(t)

	l, err := r.drv.Events().Subscribe()
	require.NoError(t, err)
	defer r.drv.Events().Unsubscribe(l)

	rx := make([]byte, 4)
	require.NoError(t, r.drv.MasterTransceive(ctxTimeout(t, time.Second), slaveAddr, []byte{0x10}, rx))
	require.Equal(t, []byte{1, 2, 3, 4}, rx)
	require.Equal(t, []byte{slaveAddr << 1, slaveAddr<<1 | 1}, r.dev.Addresses())
	require.Equal(t, 2, r.dev.Starts())
	require.Equal(t, 1, r.dev.Stops())
	require.False(t, r.dev.StopPending())
	require.True(t, r.dev.NACKedLast())
	require.Equal(t, core.StateReady, r.drv.State())

	ev, err := l.Wait(ctxTimeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, core.EventTransferDone, ev)
	require.Zero(t, r.drv.Errors())
	require.NoError(t, r.drv.Stop())
}

func TestReceiveSingleByte(t *testing.T) {
	r := newRig(t)
	r.mem.Mem[0] = 0x5A
	r.start(t)

	rx := make([]byte, 1)
	require.NoError(t, r.drv.MasterReceive(ctxTimeout(t, time.Second), slaveAddr, rx))
	require.Equal(t, byte(0x5A), rx[0])
	require.Equal(t, []byte{slaveAddr<<1 | 1}, r.dev.Addresses())
	require.True(t, r.dev.NACKedLast())
	require.NoError(t, r.drv.Stop())
}

func TestTransmit(t *testing.T) {
	r := newRig(t)
	r.start(t)
	require.NoError(t, r.drv.MasterTransmit(ctxTimeout(t, time.Second), slaveAddr, []byte{0x20, 9, 8}))
	require.Equal(t, byte(9), r.mem.Mem[0x20])
	require.Equal(t, byte(8), r.mem.Mem[0x21])
	require.Equal(t, 1, r.dev.Stops())
	require.NoError(t, r.drv.Stop())
}

func TestProbe(t *testing.T) {
	r := newRig(t)
	r.start(t)
	require.NoError(t, r.drv.MasterTransceive(ctxTimeout(t, time.Second), slaveAddr, nil, nil))
	require.Equal(t, 1, r.mem.Starts())

	err := r.drv.MasterTransceive(ctxTimeout(t, time.Second), 0x51, nil, nil)
	require.ErrorIs(t, err, ErrAckFailure)
	require.Equal(t, 2, r.dev.Stops())
	require.NoError(t, r.drv.Stop())
}

func TestAckFailureMidTransfer(t *testing.T) {
	r := newRig(t)
	r.mem.NACKAfter = 2
	r.start(t)

	err := r.drv.MasterTransmit(ctxTimeout(t, time.Second), slaveAddr, []byte{0x00, 1, 2, 3})
	require.ErrorIs(t, err, ErrAckFailure)
	require.NotErrorIs(t, err, ErrArbitrationLost)
	var te *TransferError
	require.True(t, errors.As(err, &te))
	require.Equal(t, uint8(slaveAddr), te.Addr)

	require.Equal(t, 1, r.dev.Stops())
	require.False(t, r.dev.StopPending())
	require.False(t, r.ctrl.Enabled(txStream))
	require.Equal(t, core.StateReady, r.drv.State())
	require.True(t, r.drv.Errors().Has(core.AckFailure))
	require.NoError(t, r.drv.Fatal())
	require.NoError(t, r.drv.Stop())
}

func TestAddressNACKWithStopLatency(t *testing.T) {
	r := newRig(t)
	r.dev.StopLatency = 3
	r.start(t)

	err := r.drv.MasterTransmit(ctxTimeout(t, time.Second), 0x33, []byte{1})
	require.ErrorIs(t, err, ErrAckFailure)
	require.Equal(t, 1, r.dev.Stops())
	require.False(t, r.dev.StopPending())
	require.NoError(t, r.drv.Fatal())
	require.NoError(t, r.drv.Stop())
}

func TestStopNeverCompletes(t *testing.T) {
	r := newRig(t, WithStopSpinLimit(50))
	r.dev.StopLatency = -1
	r.start(t)

	l, err := r.drv.Events().Subscribe()
	require.NoError(t, err)
	defer r.drv.Events().Unsubscribe(l)
	before := r.drv.Events().Broadcasts()

	err = r.drv.MasterTransmit(ctxTimeout(t, time.Second), 0x33, []byte{1})
	require.ErrorIs(t, err, ErrAckFailure)
	require.ErrorIs(t, err, ErrBusStopTimeout)
	require.True(t, r.dev.StopPending())

	// the error entry announces failure, stop timeout and completion together
	require.Equal(t, before+1, r.drv.Events().Broadcasts())
	flags, err := l.Wait(ctxTimeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, core.EventErrors|core.EventFatal|core.EventTransferDone, flags)
	require.Equal(t, core.StateReady, r.drv.State())

	// the next transfer cannot begin while STOP is stuck
	err = r.drv.MasterTransmit(ctxTimeout(t, time.Second), slaveAddr, []byte{1})
	require.ErrorIs(t, err, ErrBusStopTimeout)
	require.Equal(t, 1, r.dev.Starts())
	require.NoError(t, r.drv.Stop())
}

func TestArbitrationLost(t *testing.T) {
	r := newRig(t)
	r.dev.Stretch(true)
	r.start(t)

	errc := r.transferAsync(ctxTimeout(t, time.Second), []byte{1, 2})
	require.Eventually(t, func() bool { return r.ctrl.Enabled(txStream) }, time.Second, time.Millisecond)
	r.dev.InjectErrors(stm32.SR1_ARLO)

	err := <-errc
	require.ErrorIs(t, err, ErrArbitrationLost)
	require.NotErrorIs(t, err, ErrAckFailure)
	require.Zero(t, r.dev.Stops())
	require.False(t, r.ctrl.Enabled(txStream))
	require.Equal(t, core.StateReady, r.drv.State())

	r.dev.Stretch(false)
	require.NoError(t, r.drv.MasterTransmit(ctxTimeout(t, time.Second), slaveAddr, []byte{0x40, 7}))
	require.Equal(t, byte(7), r.mem.Mem[0x40])
	require.NoError(t, r.drv.Stop())
}

func TestBusErrorWhileIdle(t *testing.T) {
	r := newRig(t)
	r.start(t)
	l, err := r.drv.Events().Subscribe()
	require.NoError(t, err)
	defer r.drv.Events().Unsubscribe(l)

	r.dev.InjectErrors(stm32.SR1_BERR | stm32.SR1_PECERR)
	ev, err := l.Wait(ctxTimeout(t, time.Second))
	require.NoError(t, err)
	require.Equal(t, core.EventErrors, ev)
	require.Equal(t, core.BusError|core.PECError, r.drv.Errors())
	require.Zero(t, r.drv.Errors())
	require.Zero(t, r.dev.Stops())
	require.NoError(t, r.drv.Stop())
}

func TestDMAFailure(t *testing.T) {
	r := newRig(t)
	r.dev.Stretch(true)
	r.start(t)

	errc := r.transferAsync(ctxTimeout(t, time.Second), []byte{1, 2})
	require.Eventually(t, func() bool { return r.ctrl.Enabled(txStream) }, time.Second, time.Millisecond)
	r.ctrl.FailStream(txStream)

	require.ErrorIs(t, <-errc, ErrDMAFailure)
	require.Equal(t, 1, r.dev.Stops())
	require.Equal(t, core.StateReady, r.drv.State())
	r.dev.Stretch(false)
	require.NoError(t, r.drv.Stop())
}

func TestTransferTimeout(t *testing.T) {
	r := newRig(t)
	r.dev.Stretch(true)
	r.start(t)

	err := r.drv.MasterTransmit(ctxTimeout(t, 20*time.Millisecond), slaveAddr, []byte{1, 2})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, core.StateReady, r.drv.State())
	require.Equal(t, 1, r.dev.Stops())
	require.False(t, r.ctrl.Enabled(txStream))

	r.dev.Stretch(false)
	require.NoError(t, r.drv.MasterTransmit(ctxTimeout(t, time.Second), slaveAddr, []byte{0x50, 3}))
	require.Equal(t, byte(3), r.mem.Mem[0x50])
	require.NoError(t, r.drv.Stop())
}

func TestStopDuringTransferRejected(t *testing.T) {
	r := newRig(t)
	r.dev.Stretch(true)
	r.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := r.transferAsync(ctx, []byte{1})
	require.Eventually(t, func() bool { return r.drv.State() == core.StateActive }, time.Second, time.Millisecond)
	require.ErrorIs(t, r.drv.Stop(), core.ErrContract)

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
	r.dev.Stretch(false)
	require.NoError(t, r.drv.Stop())
}

func TestTransferContract(t *testing.T) {
	r := newRig(t)
	ctx := ctxTimeout(t, time.Second)
	require.ErrorIs(t, r.drv.MasterTransmit(ctx, slaveAddr, []byte{1}), core.ErrNotStarted)

	r.start(t)
	require.ErrorIs(t, r.drv.MasterTransmit(ctx, 0x80, []byte{1}), core.ErrContract)
	require.Empty(t, r.dev.Addresses())
	require.NoError(t, r.drv.Stop())
}

func TestDriversBus(t *testing.T) {
	r := newRig(t)
	r.start(t)
	var bus drivers.I2C = r.drv

	require.NoError(t, r.drv.WriteRegister(slaveAddr, 0x30, []byte{7, 8}))
	buf := make([]byte, 2)
	require.NoError(t, r.drv.ReadRegister(slaveAddr, 0x30, buf))
	require.Equal(t, []byte{7, 8}, buf)

	require.ErrorIs(t, bus.Tx(0x22, []byte{0}, nil), ErrAckFailure)
	require.NoError(t, r.drv.Stop())
}
