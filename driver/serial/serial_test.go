package serial

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easternanemone/rudaq/capability"
)

// loopbackConn answers every write with a fixed, queued response, simulating
// a device that always replies to the most recent command.
type loopbackConn struct {
	resp  []byte
	pos   int
	wrote bytes.Buffer
}

func newLoopback(resp []byte) *loopbackConn {
	return &loopbackConn{resp: resp}
}

func (c *loopbackConn) Write(p []byte) (int, error) {
	c.wrote.Write(p)
	c.pos = 0
	return len(p), nil
}

func (c *loopbackConn) Read(p []byte) (int, error) {
	if c.pos >= len(c.resp) {
		return 0, nil
	}
	n := copy(p, c.resp[c.pos:])
	c.pos += n
	return n, nil
}

func declFixture() *Declaration {
	return &Declaration{
		Kind:         "test.motor",
		Capabilities: []capability.Tag{}, // validated separately in declaration_test.go
		Commands: map[string]Command{
			"position": {
				Template:   "{{.Address}}POS?\r\n",
				Response:   ResponseSpec{Mode: "regex", Pattern: `^(?P<raw>[-0-9.]+)$`},
				Conversion: "raw * 0.001",
			},
			"move_abs": {
				Template: "{{.Address}}MOV {{.Value}}\r\n",
				Response: ResponseSpec{Mode: "regex", Pattern: `^OK$`},
			},
		},
	}
}

func TestDevice_Position_AppliesConversion(t *testing.T) {
	conn := newLoopback([]byte("1500\r\n"))
	bus := NewBus(conn)
	dev := NewDevice("stage0", "01", bus, declFixture(), RetryPolicy{})

	v, err := dev.Position(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v, 1e-9)
	assert.Contains(t, conn.wrote.String(), "01POS?")
}

func TestDevice_MoveAbs_RendersTemplate(t *testing.T) {
	conn := newLoopback([]byte("OK\r\n"))
	bus := NewBus(conn)
	dev := NewDevice("stage0", "02", bus, declFixture(), RetryPolicy{})

	err := dev.MoveAbs(context.Background(), 3.25)
	require.NoError(t, err)
	assert.Equal(t, "02MOV 3.25\r\n", conn.wrote.String())
}

func TestDevice_UnknownCommand_IsConfigurationError(t *testing.T) {
	conn := newLoopback(nil)
	bus := NewBus(conn)
	dev := NewDevice("stage0", "01", bus, declFixture(), RetryPolicy{})

	_, _, err := dev.exchange(context.Background(), "nonexistent", nil)
	assert.Error(t, err)
}

func TestBreaker_OpensAfterFailureStreak(t *testing.T) {
	var b breaker
	now := time.Now()
	for i := 0; i < openThreshold; i++ {
		require.NoError(t, b.allow(now))
		b.recordFailure(now)
	}
	assert.ErrorIs(t, b.allow(now), ErrCircuitOpen)
}
