package archive

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luna.social/internal/protocol"
	"luna.social/internal/stream"
)

func TestWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "events")

	var want []protocol.Event
	for i := 0; i < 25; i++ {
		ev := protocol.NewEvent(protocol.EventUserBrowse, protocol.ChannelUserActions, time.Now().UTC())
		ev.UserID = fmt.Sprintf("u%03d", i)
		ev.Seq = uint64(i + 1)
		require.NoError(t, w.Write(ev))
		want = append(want, ev)
	}
	require.NoError(t, w.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "events-*.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	got, err := ReadFile(matches[0])
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].UserID, got[i].UserID)
		assert.Equal(t, want[i].Seq, got[i].Seq)
	}
}

func TestWriter_AppendsAfterReopen(t *testing.T) {
	dir := t.TempDir()

	w := NewWriter(dir, "events")
	require.NoError(t, w.Write(protocol.NewEvent(protocol.EventUserIdle, protocol.ChannelUserActions, time.Now())))
	require.NoError(t, w.Close())

	w2 := NewWriter(dir, "events")
	require.NoError(t, w2.Write(protocol.NewEvent(protocol.EventUserIdle, protocol.ChannelUserActions, time.Now())))
	require.NoError(t, w2.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "events-*.jsonl.zst"))
	require.NoError(t, err)
	// Both writers land in the same hour file; zstd frames concatenate.
	if len(matches) == 1 {
		got, err := ReadFile(matches[0])
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.jsonl.zst"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestArchiver_DrainsAllChannels(t *testing.T) {
	dir := t.TempDir()
	b := stream.NewBroker(100, 16)
	a := NewArchiver(dir, b, log.New(io.Discard, "", 0))
	require.NoError(t, a.Start(context.Background()))

	published := 0
	for _, ch := range protocol.Channels {
		ev := protocol.NewEvent(protocol.EventMetricsUpdate, ch, time.Now().UTC())
		_, err := b.Publish(ev)
		require.NoError(t, err)
		published++
	}

	// Close drains the queued events before releasing the writer.
	require.NoError(t, a.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "events-*.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	got, err := ReadFile(matches[0])
	require.NoError(t, err)
	require.Len(t, got, published)
	channels := map[string]bool{}
	for _, ev := range got {
		channels[ev.Channel] = true
	}
	assert.Len(t, channels, len(protocol.Channels))
}
