package fanout

import (
	"bytes"
	"compress/zlib"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func decode(t *testing.T, frame []byte) Envelope {
	t.Helper()
	zr, err := zlib.NewReader(bytes.NewReader(frame))
	require.NoError(t, err)
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, msgpack.Unmarshal(raw, &env))
	return env
}

func TestEncode_RoundTripsThroughMsgpackAndZlib(t *testing.T) {
	frame, err := Encode("bar", map[string]interface{}{"close": 100.5})
	require.NoError(t, err)

	env := decode(t, frame)
	require.Equal(t, "bar", env.Kind)
}

func TestSubscriber_PublishStream_DropsOldestWhenFull(t *testing.T) {
	s := newSubscriber("sub1", nil)
	for i := 0; i < streamQueueDepth+5; i++ {
		s.PublishStream([]byte{byte(i)})
	}
	require.Len(t, s.stream, streamQueueDepth)
}

func TestSubscriber_PublishStatus_KeepsOnlyLatest(t *testing.T) {
	s := newSubscriber("sub1", nil)
	s.PublishStatus([]byte{1})
	s.PublishStatus([]byte{2})
	s.PublishStatus([]byte{3})

	require.Len(t, s.status, 1)
	require.Equal(t, []byte{3}, <-s.status)
}
