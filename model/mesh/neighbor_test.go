package mesh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContributionWindow(t *testing.T) {
	w := NewContributionWindow(3)
	require.Equal(t, 3, w.Len())
	require.Equal(t, []float64{0, 0, 0}, w.Values())

	t.Run("credits accumulate in the newest slot", func(t *testing.T) {
		w.Credit(1)
		w.Credit(2)
		require.Equal(t, float64(3), w.Latest())
		require.Equal(t, []float64{0, 0, 3}, w.Values())
	})

	t.Run("rotation evicts the oldest slot", func(t *testing.T) {
		w.Rotate()
		require.Equal(t, float64(0), w.Latest())
		require.Equal(t, []float64{0, 3, 0}, w.Values())

		w.Credit(5)
		w.Rotate()
		require.Equal(t, []float64{3, 5, 0}, w.Values())

		w.Rotate()
		w.Rotate()
		w.Rotate()
		require.Equal(t, []float64{0, 0, 0}, w.Values())
	})

	t.Run("reading does not disturb the order", func(t *testing.T) {
		w.Credit(7)
		require.Equal(t, []float64{0, 0, 7}, w.Values())
		require.Equal(t, []float64{0, 0, 7}, w.Values())
	})
}

func TestNewNeighbor(t *testing.T) {
	n := NewNeighbor(42, 3)
	require.Equal(t, 42, n.EstTime)
	require.Equal(t, 3, n.Contribution.Len())
	require.Zero(t, n.Score)
	require.Zero(t, n.LazyRound)
	require.Nil(t, n.Preference)
}
