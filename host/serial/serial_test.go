package serial

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipe(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		_, _ = a.Write([]byte("abc"))
	}()
	buf := make([]byte, 3)
	_, err := io.ReadFull(b, buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf))
	require.NoError(t, b.Flush())
}

func TestOpenRejectsNilConfig(t *testing.T) {
	_, err := Open(nil)
	require.Error(t, err)

	cfg := DefaultConfig("/dev/ttyUSB0")
	require.Equal(t, 115200, cfg.Baud)
}
