package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func ptr(v float64) *float64 { return &v }

func TestFindBestWorstLists(t *testing.T) {
	t.Run("picks by the last comparable entry", func(t *testing.T) {
		low := []*float64{ptr(0.9), ptr(0.1)}
		high := []*float64{ptr(0.1), ptr(0.8)}
		best, worst, err := FindBestWorstLists([][]*float64{low, high})
		require.NoError(t, err)
		require.Equal(t, high, best)
		require.Equal(t, low, worst)
	})

	t.Run("trailing absent entries are skipped", func(t *testing.T) {
		a := []*float64{ptr(0.2), nil}
		b := []*float64{ptr(0.5), nil}
		best, worst, err := FindBestWorstLists([][]*float64{a, b})
		require.NoError(t, err)
		require.Equal(t, b, best)
		require.Equal(t, a, worst)
	})

	t.Run("series absent at the comparison index are not candidates", func(t *testing.T) {
		absent := []*float64{ptr(0.99), nil}
		present := []*float64{ptr(0.1), ptr(0.2)}
		best, worst, err := FindBestWorstLists([][]*float64{absent, present})
		require.NoError(t, err)
		require.Equal(t, present, best)
		require.Equal(t, present, worst)
	})

	t.Run("single series is both best and worst", func(t *testing.T) {
		only := []*float64{ptr(0.4)}
		best, worst, err := FindBestWorstLists([][]*float64{only})
		require.NoError(t, err)
		require.Equal(t, only, best)
		require.Equal(t, only, worst)
	})

	t.Run("all absent", func(t *testing.T) {
		_, _, err := FindBestWorstLists([][]*float64{{nil, nil}, {nil, nil}})
		require.ErrorIs(t, err, ErrAllAbsent)
	})

	t.Run("empty input", func(t *testing.T) {
		_, _, err := FindBestWorstLists(nil)
		require.ErrorIs(t, err, ErrNoData)
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		_, _, err := FindBestWorstLists([][]*float64{{ptr(1)}, {ptr(1), ptr(2)}})
		require.Error(t, err)
	})
}

// TestFindBestWorstListsProperty checks that for arbitrary inputs the best
// series never compares below the worst at the comparison index.
func TestFindBestWorstListsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numSeries := rapid.IntRange(1, 8).Draw(t, "series")
		length := rapid.IntRange(1, 10).Draw(t, "length")

		series := make([][]*float64, numSeries)
		for i := range series {
			series[i] = make([]*float64, length)
			for j := range series[i] {
				if rapid.Bool().Draw(t, "absent") {
					continue
				}
				series[i][j] = ptr(rapid.Float64Range(0, 1).Draw(t, "value"))
			}
		}

		best, worst, err := FindBestWorstLists(series)
		if err != nil {
			require.ErrorIs(t, err, ErrAllAbsent)
			return
		}

		idx := length - 1
		for idx >= 0 {
			present := false
			for _, s := range series {
				if s[idx] != nil {
					present = true
					break
				}
			}
			if present {
				break
			}
			idx--
		}
		require.NotNil(t, best[idx])
		require.NotNil(t, worst[idx])
		require.GreaterOrEqual(t, *best[idx], *worst[idx])
	})
}

func TestAverageLists(t *testing.T) {
	t.Run("position-wise mean ignoring absent entries", func(t *testing.T) {
		series := [][]*float64{
			{ptr(0.2), nil, ptr(1)},
			{ptr(0.4), ptr(0.6), nil},
		}
		averages, err := AverageLists(series)
		require.NoError(t, err)
		require.InDelta(t, 0.3, averages[0], 1e-9)
		require.InDelta(t, 0.6, averages[1], 1e-9)
		require.InDelta(t, 1.0, averages[2], 1e-9)
	})

	t.Run("fully absent position averages to zero", func(t *testing.T) {
		averages, err := AverageLists([][]*float64{{nil}, {nil}})
		require.NoError(t, err)
		require.Equal(t, []float64{0}, averages)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := AverageLists(nil)
		require.ErrorIs(t, err, ErrNoData)
	})
}

func TestDensity(t *testing.T) {
	t.Run("buckets sum to one", func(t *testing.T) {
		series := [][]float64{{0, 0.05, 0.5}, {0.99, 1}}
		density, err := Density(series, 0.1)
		require.NoError(t, err)
		require.Len(t, density, 11)
		total := 0.0
		for _, d := range density {
			total += d
		}
		require.InDelta(t, 1.0, total, 1e-9)
	})

	t.Run("values land in their buckets", func(t *testing.T) {
		density, err := Density([][]float64{{0.05, 0.05, 0.95, 1}}, 0.1)
		require.NoError(t, err)
		require.InDelta(t, 0.5, density[0], 1e-9)
		require.InDelta(t, 0.25, density[9], 1e-9)
		require.InDelta(t, 0.25, density[10], 1e-9)
	})

	t.Run("invalid division unit", func(t *testing.T) {
		_, err := Density([][]float64{{0.5}}, 0)
		require.Error(t, err)
		_, err = Density([][]float64{{0.5}}, 1.5)
		require.Error(t, err)
	})

	t.Run("out of range value", func(t *testing.T) {
		_, err := Density([][]float64{{1.2}}, 0.1)
		require.Error(t, err)
	})

	t.Run("no data", func(t *testing.T) {
		_, err := Density(nil, 0.1)
		require.ErrorIs(t, err, ErrNoData)
	})
}
