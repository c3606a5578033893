package buffer

import (
	"testing"

	"github.com/c0herence/papertrade/internal/types"
	"github.com/stretchr/testify/require"
)

func bar(openTime int64, closed bool) types.Bar {
	return types.Bar{Symbol: "BTCUSDT", Interval: "15m", OpenTimeMs: openTime, Close: float64(openTime), Closed: closed}
}

func TestAppendOrReplaceLast_ReplacesOpenTail(t *testing.T) {
	b := New("15m", 10)
	require.NoError(t, b.AppendOrReplaceLast(bar(1000, false)))
	require.NoError(t, b.AppendOrReplaceLast(bar(1000, false)))

	require.Equal(t, 1, b.Len())
	tail, ok := b.Tail()
	require.True(t, ok)
	require.Equal(t, int64(1000), tail.OpenTimeMs)
}

func TestAppendOrReplaceLast_AppendsAndClosesPrevious(t *testing.T) {
	b := New("15m", 10)
	require.NoError(t, b.AppendOrReplaceLast(bar(1000, false)))
	require.NoError(t, b.AppendOrReplaceLast(bar(2000, true)))

	prev, ok := b.Get(1000)
	require.True(t, ok)
	require.True(t, prev.Closed, "all but the tail must be closed")
}

func TestAppendOrReplaceLast_RejectsOutOfOrder(t *testing.T) {
	b := New("15m", 10)
	require.NoError(t, b.AppendOrReplaceLast(bar(2000, true)))
	err := b.AppendOrReplaceLast(bar(1000, true))
	require.Error(t, err)
	var oo *ErrOutOfOrder
	require.ErrorAs(t, err, &oo)
}

func TestAppendOrReplaceLast_EvictsFromHeadOverCapacity(t *testing.T) {
	b := New("15m", 3)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, b.AppendOrReplaceLast(bar(i*1000, true)))
	}
	require.Equal(t, 3, b.Len())
	_, ok := b.Get(1000)
	require.False(t, ok, "oldest bars should have been evicted")
	tail, ok := b.Tail()
	require.True(t, ok)
	require.Equal(t, int64(5000), tail.OpenTimeMs)
}

func TestLastClosed_ExcludesOpenTail(t *testing.T) {
	b := New("15m", 10)
	require.NoError(t, b.AppendOrReplaceLast(bar(1000, true)))
	require.NoError(t, b.AppendOrReplaceLast(bar(2000, true)))
	require.NoError(t, b.AppendOrReplaceLast(bar(3000, false)))

	closed := b.LastClosed(10)
	require.Len(t, closed, 2)
	require.Equal(t, int64(1000), closed[0].OpenTimeMs)
	require.Equal(t, int64(2000), closed[1].OpenTimeMs)
}

func TestLastClosed_RespectsN(t *testing.T) {
	b := New("15m", 10)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, b.AppendOrReplaceLast(bar(i*1000, true)))
	}
	closed := b.LastClosed(2)
	require.Len(t, closed, 2)
	require.Equal(t, int64(4000), closed[0].OpenTimeMs)
	require.Equal(t, int64(5000), closed[1].OpenTimeMs)
}
