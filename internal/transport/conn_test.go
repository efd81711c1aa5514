package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoBode/internal/logging"
)

func newPipe(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	c := NewNetConn(client, "pipe", logging.New(logging.Debug, logging.Text, io.Discard))
	t.Cleanup(func() {
		_ = c.Close()
		_ = server.Close()
	})
	return c, server
}

func TestQueryReadsSingleLine(t *testing.T) {
	c, server := newPipe(t)
	go func() {
		r := bufio.NewReader(server)
		line, _ := r.ReadString('\n')
		if line == "*ESR?\n" {
			_, _ = server.Write([]byte("1\r\n#9"))
		}
	}()

	reply, err := c.Query(context.Background(), "*ESR?")
	require.NoError(t, err)
	assert.Equal(t, "1", reply)

	// The bytes after the newline must still be readable.
	rest, err := c.ReadBytes(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "#9", string(rest))
}

func TestReadBytesTimesOutWithPartialData(t *testing.T) {
	c, server := newPipe(t)
	c.SetTimeout(50 * time.Millisecond)
	go func() { _, _ = server.Write([]byte("abc")) }()

	got, err := c.ReadBytes(context.Background(), 8)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "expected timeout, got %v", err)
	assert.Equal(t, "abc", string(got))
}

func TestClosedConnRejectsOperations(t *testing.T) {
	c, _ := newPipe(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Write(context.Background(), "*CLS"), ErrClosed)
	_, err := c.ReadBytes(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSetTimeoutFallsBackToDefault(t *testing.T) {
	c, _ := newPipe(t)
	c.SetTimeout(300 * time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, c.Timeout())
	c.SetTimeout(0)
	assert.Equal(t, DefaultTimeout, c.Timeout())
}

func TestParseResource(t *testing.T) {
	res, err := ParseResource("TCPIP::192.168.1.20::5025::SOCKET::DSO4204B CN1725001000247")
	require.NoError(t, err)
	assert.Equal(t, KindTCP, res.Kind)
	assert.Equal(t, "192.168.1.20:5025", res.Address())
	assert.Equal(t, "DSO4204B CN1725001000247", res.Instance)

	res, err = ParseResource(SerialResource("/dev/ttyUSB0", "AWG1222270183"))
	require.NoError(t, err)
	assert.Equal(t, KindSerial, res.Kind)
	assert.Equal(t, "/dev/ttyUSB0", res.Address())
	assert.Equal(t, "AWG1222270183", res.Serial)

	for _, bad := range []string{"", "USB0::0x1::INSTR", "TCPIP::host::notaport::SOCKET", "TCPIP::host::5025::INSTR"} {
		_, err := ParseResource(bad)
		assert.ErrorIs(t, err, ErrUnsupportedResource, bad)
	}
}

func TestSerialOptionsMode(t *testing.T) {
	mode, err := SerialOptions{StopBits: 2, Parity: "even"}.Mode()
	require.NoError(t, err)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)

	_, err = SerialOptions{DataBits: 9}.Mode()
	assert.Error(t, err)
}
