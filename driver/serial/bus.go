package serial

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/easternanemone/rudaq/rudaqerr"
)

// Bus serializes command/response exchanges over a shared multidrop serial
// connection. Only one command may be in flight at a time regardless of how
// many Device instances address the bus, mirroring an exclusive
// bus-claim-by-id pattern: one logical bus resource, claimed once, shared
// by every addressed device.
type Bus struct {
	mu     sync.Mutex
	conn   io.ReadWriter
	reader *bufio.Reader
}

// NewBus wraps conn (typically an opened tty device or a net.Conn to a
// serial-to-ethernet bridge) for exclusive, serialized use.
func NewBus(conn io.ReadWriter) *Bus {
	return &Bus{conn: conn, reader: bufio.NewReader(conn)}
}

// Exchange writes payload, then reads a response terminated by terminator,
// applying ctx's deadline to conn when conn supports SetDeadline (other
// connections read without a deadline). It holds the bus mutex for the
// full round trip, so two devices on the same bus never interleave bytes.
func (b *Bus) Exchange(ctx context.Context, payload string, terminator string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if wc, ok := b.conn.(interface{ SetDeadline(time.Time) error }); ok {
			_ = wc.SetDeadline(deadline)
		}
	}

	if _, err := io.WriteString(b.conn, payload); err != nil {
		return nil, rudaqerr.Transport("serial.Bus.Exchange", err, true)
	}

	line, err := b.reader.ReadBytes(terminator[len(terminator)-1])
	if err != nil {
		return nil, rudaqerr.Transport("serial.Bus.Exchange", err, true)
	}
	return trimTerminator(line, terminator), nil
}

func trimTerminator(line []byte, terminator string) []byte {
	t := []byte(terminator)
	if len(line) >= len(t) && string(line[len(line)-len(t):]) == terminator {
		return line[:len(line)-len(t)]
	}
	return line
}
