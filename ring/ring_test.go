package ring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteNext_RoundTrip(t *testing.T) {
	b, err := Open(Config{CapacityBytes: 4096})
	require.NoError(t, err)
	defer b.Close()

	b.RegisterConsumer("w0", OverflowBlockProducer)

	ctx := context.Background()
	want, err := b.Write(ctx, 1, []byte("hello"))
	require.NoError(t, err)

	got, err := b.Next(ctx, "w0")
	require.NoError(t, err)
	assert.Equal(t, want.Seq, got.Seq)
	assert.Equal(t, []byte("hello"), got.Payload)
	assert.Equal(t, byte(1), got.Kind)
}

func TestBlockProducer_WaitsForSlowConsumer(t *testing.T) {
	b, err := Open(Config{CapacityBytes: headerSize + 16})
	require.NoError(t, err)
	defer b.Close()
	b.RegisterConsumer("w0", OverflowBlockProducer)

	ctx := context.Background()
	_, err = b.Write(ctx, 0, []byte("aaaaaaaa"))
	require.NoError(t, err)

	writeDone := make(chan error, 1)
	go func() {
		_, err := b.Write(ctx, 0, []byte("bbbbbbbb"))
		writeDone <- err
	}()

	select {
	case <-writeDone:
		t.Fatal("second write should have blocked until the consumer read the first entry")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = b.Next(ctx, "w0")
	require.NoError(t, err)

	select {
	case err := <-writeDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write did not unblock after consumer caught up")
	}
}

func TestDropOldest_AdvancesPastOverwrittenEntries(t *testing.T) {
	cap := int64(headerSize+4) * 3
	b, err := Open(Config{CapacityBytes: cap})
	require.NoError(t, err)
	defer b.Close()
	b.RegisterConsumer("gui", OverflowDropOldest)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := b.Write(ctx, 0, []byte{byte(i), byte(i), byte(i), byte(i)})
		require.NoError(t, err)
	}

	e, err := b.Next(ctx, "gui")
	require.NoError(t, err)
	assert.Greater(t, b.Overflowed("gui"), uint64(0))
	// Capacity holds exactly 3 entries; after 10 writes the oldest still
	// physically present is index 7 (entries 0..6 were overwritten).
	assert.Equal(t, byte(7), e.Payload[0])
}

func TestWrite_RejectsEntryLargerThanCapacity(t *testing.T) {
	b, err := Open(Config{CapacityBytes: 32})
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Write(context.Background(), 0, make([]byte, 64))
	require.Error(t, err)
}
