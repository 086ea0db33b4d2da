package board

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"gohal/core"
	"gohal/i2c"
	"gohal/serial"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const boardJSON = `{
	"name": "bench",
	"channels": [
		{"id": 0, "kind": "serial", "family": "lpc214x", "instance": 0,
		 "attributes": {"speed": 115200, "parity": "even"}},
		{"id": 1, "kind": "serial", "family": "Kinetis", "instance": 1, "queue_size": 32},
		{"id": 2, "kind": "i2c", "family": "stm32f1",
		 "devices": [{"addr": 80}],
		 "attributes": {"speed": 400000, "duty": "fast-16:9", "timeout": "50ms"}}
	]
}`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load([]byte(boardJSON))
	require.NoError(t, err)
	require.Equal(t, "bench", cfg.Name)
	require.Equal(t, DefaultDMAStreams, cfg.DMAStreams)
	require.Len(t, cfg.Channels, 3)

	uart0, uart1, bus := cfg.Channels[0], cfg.Channels[1], cfg.Channels[2]
	require.Equal(t, "serial0", uart0.Name)
	require.Equal(t, uint32(14745600), uart0.ClockHz)
	require.Equal(t, serial.DefaultQueueSize, uart0.QueueSize)
	require.Equal(t, FamilyKinetis, uart1.Family)
	require.Equal(t, 32, uart1.QueueSize)

	require.Equal(t, "i2c1", bus.Name)
	require.Equal(t, 1, bus.Instance)
	require.Equal(t, uint32(36000000), bus.ClockHz)
	require.Equal(t, &DMAConfig{RX: 0, TX: 6, Channel: 1, Priority: 2}, bus.DMA)
}

func TestAttributesDecode(t *testing.T) {
	cfg, err := Load([]byte(boardJSON))
	require.NoError(t, err)

	sc, err := cfg.Channels[0].SerialConfig()
	require.NoError(t, err)
	require.Equal(t, uint32(115200), sc.Speed)
	require.Equal(t, serial.ParityEven, sc.Parity)
	require.Equal(t, uint8(8), sc.WordLength)

	sc, err = cfg.Channels[1].SerialConfig()
	require.NoError(t, err)
	require.Equal(t, serial.DefaultConfig(), sc)

	ic, err := cfg.Channels[2].I2CConfig()
	require.NoError(t, err)
	require.Equal(t, uint32(400000), ic.Speed)
	require.Equal(t, i2c.DutyFast16_9, ic.Duty)
	require.Equal(t, 50*time.Millisecond, ic.Timeout)

	bad := ChannelConfig{Name: "x", Attributes: map[string]interface{}{"baud": 9600}}
	_, err = bad.SerialConfig()
	require.ErrorContains(t, err, "baud")

	bad.Attributes = map[string]interface{}{"parity": "mark"}
	_, err = bad.SerialConfig()
	require.Error(t, err)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"syntax", `{"channels": [`},
		{"duplicate id", `{"channels": [{"id": 1, "kind": "serial", "family": "lpc214x"},
			{"id": 1, "kind": "serial", "family": "lpc214x", "instance": 1}]}`},
		{"reserved id", `{"channels": [{"id": 15, "kind": "serial", "family": "lpc214x"}]}`},
		{"family", `{"channels": [{"id": 1, "kind": "serial", "family": "stm32f1"}]}`},
		{"kind", `{"channels": [{"id": 1, "kind": "spi", "family": "stm32f1"}]}`},
		{"no dma", `{"channels": [{"id": 1, "kind": "i2c", "family": "stm32f4", "instance": 3}]}`},
		{"device address", `{"channels": [{"id": 1, "kind": "i2c", "family": "stm32f4", "devices": [{"addr": 200}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.json))
			require.Error(t, err)
		})
	}
}

func newBoard(t *testing.T, data string) *Board {
	t.Helper()
	cfg, err := Load([]byte(data))
	require.NoError(t, err)
	b, err := Build(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return b
}

func TestBoardRunsChannels(t *testing.T) {
	b := newBoard(t, boardJSON)
	require.NoError(t, b.Start())
	for _, ch := range b.Registry.Channels() {
		require.Equal(t, core.StateReady, ch.State(), ch.Name())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	uart, err := b.Serial(0)
	require.NoError(t, err)
	_, err = uart.Driver.Write(ctx, []byte("hello"))
	require.NoError(t, err)
	got := make([]byte, 0, 5)
	for len(got) < 5 {
		select {
		case c := <-uart.Wire.Transmitted():
			got = append(got, c)
		case <-ctx.Done():
			t.Fatalf("Expected 5 bytes on the wire, got %q", got)
		}
	}
	require.Equal(t, "hello", string(got))

	k, err := b.Serial(1)
	require.NoError(t, err)
	require.True(t, k.Wire.Inject('k'))
	in := make([]byte, 1)
	_, err = k.Driver.Read(ctx, in)
	require.NoError(t, err)
	require.Equal(t, byte('k'), in[0])

	bus, err := b.I2C(2)
	require.NoError(t, err)
	require.NoError(t, bus.Driver.WriteRegister(80, 0x04, []byte{0xEE}))
	buf := make([]byte, 1)
	require.NoError(t, bus.Driver.ReadRegister(80, 0x04, buf))
	require.Equal(t, byte(0xEE), buf[0])
	require.ErrorIs(t, bus.Driver.Tx(81, nil, nil), i2c.ErrAckFailure)

	_, err = b.I2C(0)
	require.ErrorIs(t, err, core.ErrUnknownPeripheral)

	require.NoError(t, b.Close())
	for _, ch := range b.Registry.Channels() {
		require.Equal(t, core.StateStop, ch.State(), ch.Name())
	}
	require.False(t, b.DMA.Owned(0))
}

func TestBoardStartRollsBack(t *testing.T) {
	b := newBoard(t, `{"channels": [
		{"id": 3, "kind": "i2c", "family": "stm32f4"},
		{"id": 4, "kind": "serial", "family": "lpc214x", "attributes": {"speed": 2000000}}
	]}`)
	err := b.Start()
	require.ErrorIs(t, err, core.ErrContract)

	bus, err := b.I2C(3)
	require.NoError(t, err)
	require.Equal(t, core.StateStop, bus.Driver.State())
	require.False(t, b.DMA.Owned(0))
	require.NoError(t, b.Close())
}
