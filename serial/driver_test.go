package serial

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"gohal/core"
	"gohal/regs/kinetis"
	lpc "gohal/regs/lpc214x"
	"gohal/sim"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const lpcClock = 14745600

type lpcRig struct {
	soc  *sim.SoC
	uart *sim.LPCUART
	clk  core.ClockGate
	drv  *Driver
}

func newLPCRig(t *testing.T, opts ...Option) *lpcRig {
	t.Helper()
	var vectors core.VectorTable
	soc := sim.NewSoC(&vectors)
	uart, line := soc.NewLPCUART(6, 0)
	clk := core.ClockGate{Regs: soc.SysCtl, Reg: lpc.PCONP, Mask: lpc.PCONP_UART0}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	drv := New(0, "uart0", Hardware{
		Port:        &LPC214x{Regs: uart},
		Clock:       clk,
		IRQ:         line,
		ClockHz:     lpcClock,
		IRQPriority: 3,
	}, opts...)
	require.NoError(t, vectors.Register(0, core.CauseGeneral, drv.ServeInterrupt))
	soc.Start()
	t.Cleanup(soc.Close)
	return &lpcRig{soc: soc, uart: uart, clk: clk, drv: drv}
}

func TestLPCStartProgramsLine(t *testing.T) {
	r := newLPCRig(t)
	cfg := DefaultConfig()
	cfg.Parity = ParityEven
	cfg.FIFOTrigger = 8
	require.NoError(t, r.drv.Start(cfg))
	require.Equal(t, core.StateReady, r.drv.State())
	require.True(t, r.clk.Enabled())

	regs := r.uart.Registers()
	require.Equal(t, uint32(24), regs.DLL)
	require.Equal(t, uint32(0), regs.DLM)
	require.Equal(t, uint32(lpc.LCR_WL8|lpc.LCR_PARITY_EN|lpc.LCR_EVEN), regs.LCR)
	require.Equal(t, uint32(lpc.FCR_ENABLE|lpc.FCR_TRIG8), regs.FCR)
	require.Equal(t, uint32(lpc.IER_RBR|lpc.IER_STATUS), regs.IER)
	require.Equal(t, uint32(lpc.TER_ENABLE), regs.TER)
	require.NoError(t, r.drv.Stop())
}

func TestStartTwiceLeavesHardwareUnchanged(t *testing.T) {
	r := newLPCRig(t)
	require.NoError(t, r.drv.Start(DefaultConfig()))
	before := r.uart.Registers()

	cfg := DefaultConfig()
	cfg.Speed = 9600
	err := r.drv.Start(cfg)
	require.ErrorIs(t, err, core.ErrContract)
	require.Equal(t, before, r.uart.Registers())
	require.Equal(t, uint32(38400), r.drv.Config().Speed)
	require.Equal(t, core.StateReady, r.drv.State())
	require.NoError(t, r.drv.Stop())
}

func TestStopIdempotent(t *testing.T) {
	r := newLPCRig(t)
	require.NoError(t, r.drv.Stop())
	require.NoError(t, r.drv.Start(DefaultConfig()))
	require.NoError(t, r.drv.Stop())
	require.NoError(t, r.drv.Stop())
	require.Equal(t, core.StateStop, r.drv.State())
	require.False(t, r.clk.Enabled())
	require.Equal(t, uint32(0), r.uart.Registers().IER)

	// the channel object is reusable
	require.NoError(t, r.drv.Start(DefaultConfig()))
	require.NoError(t, r.drv.Stop())
}

func TestInvalidConfigLeavesChannelStopped(t *testing.T) {
	r := newLPCRig(t)
	for _, cfg := range []Config{
		{Speed: 0, WordLength: 8, StopBits: 1},
		{Speed: 9600, WordLength: 9, StopBits: 1},
		{Speed: 9600, WordLength: 8, StopBits: 3},
		{Speed: 9600, WordLength: 8, StopBits: 1, FIFOTrigger: 3},
		{Speed: 2000000, WordLength: 8, StopBits: 1},
	} {
		err := r.drv.Start(cfg)
		require.ErrorIs(t, err, core.ErrContract, "%+v", cfg)
		require.Equal(t, core.StateStop, r.drv.State())
		require.False(t, r.clk.Enabled())
	}
}

func TestDataOpsRequireStart(t *testing.T) {
	r := newLPCRig(t)
	_, err := r.drv.Write(context.Background(), []byte{1})
	require.ErrorIs(t, err, core.ErrNotStarted)
	_, err = r.drv.Read(context.Background(), make([]byte, 1))
	require.ErrorIs(t, err, core.ErrNotStarted)
	require.ErrorIs(t, r.drv.WriteByte(1), core.ErrNotStarted)
}

func collectSent(t *testing.T, sent func() []byte, want int) []byte {
	t.Helper()
	var got []byte
	require.Eventually(t, func() bool {
		got = append(got, sent()...)
		return len(got) >= want
	}, 2*time.Second, time.Millisecond)
	return got
}

func TestLPCTransmitRoundTrip(t *testing.T) {
	r := newLPCRig(t, WithQueueSize(16, 8))
	require.NoError(t, r.drv.Start(DefaultConfig()))
	l, err := r.drv.Events().Subscribe()
	require.NoError(t, err)

	msg := bytes.Repeat([]byte("interrupt driven "), 6)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := r.drv.Write(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	require.Equal(t, msg, collectSent(t, r.uart.Sent, len(msg)))
	require.Zero(t, r.uart.TxOverflows())

	r.soc.NVIC.Sync()
	ev, err := l.Wait(ctx)
	require.NoError(t, err)
	require.NotZero(t, ev&core.EventOutputEmpty)
	require.False(t, r.uart.Asserted())
	require.Zero(t, r.soc.NVIC.Storms())
	require.NoError(t, r.drv.Stop())
}

func TestLPCReceiveOverrunDropsNewest(t *testing.T) {
	r := newLPCRig(t, WithQueueSize(4, 16))
	require.NoError(t, r.drv.Start(DefaultConfig()))
	l, err := r.drv.Events().Subscribe()
	require.NoError(t, err)

	require.Equal(t, 6, r.uart.Receive(1, 2, 3, 4, 5, 6))
	r.soc.NVIC.Sync()

	require.Equal(t, uint32(1), r.drv.Events().Broadcasts())
	ev, err := l.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.EventInputAvailable|core.EventErrors, ev)
	require.Equal(t, core.Overrun, r.drv.Errors())

	got := make([]byte, 4)
	n, err := r.drv.Read(context.Background(), got)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte{1, 2, 3, 4}, got)
	_, err = r.drv.ReadByte()
	require.ErrorIs(t, err, core.ErrQueueEmpty)
	require.False(t, r.uart.Asserted())
	require.NoError(t, r.drv.Stop())
}

func TestLPCLineErrors(t *testing.T) {
	r := newLPCRig(t)
	require.NoError(t, r.drv.Start(DefaultConfig()))
	r.uart.InjectLineError(lpc.LSR_FE | lpc.LSR_PE | lpc.LSR_BI)
	r.soc.NVIC.Sync()
	require.Equal(t, core.Framing|core.Parity|core.Break, r.drv.Errors())
	require.Equal(t, core.ErrorFlags(0), r.drv.Errors())
	require.Equal(t, core.StateReady, r.drv.State())
	require.NoError(t, r.drv.Stop())
}

func TestReadBlocksUntilReceive(t *testing.T) {
	r := newLPCRig(t)
	require.NoError(t, r.drv.Start(DefaultConfig()))

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.uart.Receive('o', 'k')
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf := make([]byte, 2)
	_, err := r.drv.Read(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, "ok", string(buf))
	r.soc.NVIC.Sync()
	require.NoError(t, r.drv.Stop())
}

// stuckPort reports an unknown cause that never clears.
type stuckPort struct {
	LPC214x
	acks int
}

func (p *stuckPort) Pending() Cause { return CauseOther }
func (p *stuckPort) Acknowledge()   { p.acks++ }

func TestInterruptStormGuard(t *testing.T) {
	port := &stuckPort{}
	d := New(1, "stuck", Hardware{Port: port}, WithMaxVisits(5))
	state := core.DisableInterrupts()
	d.ServeInterrupt()
	core.RestoreInterrupts(state)
	require.Equal(t, 5, port.acks)
	require.ErrorIs(t, d.Fatal(), core.ErrInterruptStorm)
}

type kinetisRig struct {
	soc  *sim.SoC
	uart *sim.KinetisUART
	drv  *Driver
}

func newKinetisRig(t *testing.T) *kinetisRig {
	t.Helper()
	var vectors core.VectorTable
	soc := sim.NewSoC(&vectors)
	uart, line := soc.NewKinetisUART(45, 1)
	drv := New(1, "uart1", Hardware{
		Port:    &Kinetis{Regs: uart},
		Clock:   core.ClockGate{Regs: soc.SysCtl, Reg: kinetis.SIM_SCGC4, Mask: kinetis.SCGC4_UART0},
		IRQ:     line,
		ClockHz: 48000000,
	}, WithLogger(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, vectors.Register(1, core.CauseGeneral, drv.ServeInterrupt))
	soc.Start()
	t.Cleanup(soc.Close)
	return &kinetisRig{soc: soc, uart: uart, drv: drv}
}

func TestKinetisDivisor(t *testing.T) {
	div, err := KinetisDivisor(48000000, 115200)
	require.NoError(t, err)
	require.Equal(t, uint32(26), div>>5)
	require.Equal(t, uint32(1), div&0x1F)

	_, err = KinetisDivisor(48000000, 0)
	require.ErrorIs(t, err, core.ErrContract)
	_, err = KinetisDivisor(48000000, 6000000)
	require.ErrorIs(t, err, core.ErrContract)
}

func TestKinetisStartProgramsLine(t *testing.T) {
	r := newKinetisRig(t)
	cfg := DefaultConfig()
	cfg.Speed = 115200
	cfg.Parity = ParityOdd
	require.NoError(t, r.drv.Start(cfg))

	regs := r.uart.Registers()
	require.Equal(t, uint32(0), regs.BDH)
	require.Equal(t, uint32(26), regs.BDL)
	require.Equal(t, uint32(1), regs.C4)
	require.Equal(t, uint32(kinetis.C1_M|kinetis.C1_PE|kinetis.C1_PT), regs.C1)
	require.Equal(t, uint32(kinetis.C2_RE|kinetis.C2_RIE|kinetis.C2_TE), regs.C2)
	require.Equal(t, uint32(kinetis.C3_ORIE|kinetis.C3_NEIE|kinetis.C3_FEIE|kinetis.C3_PEIE), regs.C3)
	require.NoError(t, r.drv.Stop())
	require.Equal(t, uint32(0), r.uart.Registers().C2)
}

func TestKinetisRejectsUnsupportedFormat(t *testing.T) {
	r := newKinetisRig(t)
	cfg := DefaultConfig()
	cfg.WordLength = 7
	require.ErrorIs(t, r.drv.Start(cfg), core.ErrContract)
	cfg = DefaultConfig()
	cfg.StopBits = 2
	require.ErrorIs(t, r.drv.Start(cfg), core.ErrContract)
	require.Equal(t, core.StateStop, r.drv.State())
}

func TestKinetisRoundTrip(t *testing.T) {
	r := newKinetisRig(t)
	require.NoError(t, r.drv.Start(DefaultConfig()))

	msg := []byte("kinetis k20 uart")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := r.drv.Write(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, msg, collectSent(t, r.uart.Sent, len(msg)))
	require.Zero(t, r.uart.TxOverflows())

	for _, b := range []byte("echo") {
		require.True(t, r.uart.Receive(b, 0))
		r.soc.NVIC.Sync()
	}
	buf := make([]byte, 4)
	_, err = r.drv.Read(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, "echo", string(buf))

	require.True(t, r.uart.Receive('x', kinetis.S1_FE))
	r.soc.NVIC.Sync()
	require.Equal(t, core.Framing, r.drv.Errors())
	b, err := r.drv.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte('x'), b)
	require.False(t, r.uart.Asserted())
	require.NoError(t, r.drv.Stop())
}

func TestParityText(t *testing.T) {
	var p Parity
	require.NoError(t, p.UnmarshalText([]byte("Even")))
	require.Equal(t, ParityEven, p)
	require.Equal(t, "even", p.String())
	require.Error(t, p.UnmarshalText([]byte("mark")))
}
