// Package stats reduces the results of repeated simulation runs: picking
// best/worst series, averaging position-wise, and computing value densities.
// Entries may be absent (nil), meaning the corresponding window had nothing
// to measure in that run.
package stats

import (
	"errors"
	"fmt"

	"github.com/montanaflynn/stats"
)

// ErrAllAbsent indicates that every entry of every input series is absent,
// leaving nothing to compare.
var ErrAllAbsent = errors.New("all series entries are absent")

// ErrNoData indicates an empty input.
var ErrNoData = errors.New("no data")

// FindBestWorstLists picks, from equal-length series of optional values, the
// best and the worst: the series whose last comparable entry is the largest,
// respectively smallest. The comparison index is the last position at which
// any series has a present value; series absent at that position are neither
// best nor worst.
func FindBestWorstLists(series [][]*float64) (best, worst []*float64, err error) {
	if len(series) == 0 || len(series[0]) == 0 {
		return nil, nil, ErrNoData
	}
	length := len(series[0])
	for _, s := range series {
		if len(s) != length {
			return nil, nil, fmt.Errorf("series lengths differ: %d vs %d", length, len(s))
		}
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
	if idx < 0 {
		return nil, nil, ErrAllAbsent
	}

	for _, s := range series {
		if s[idx] == nil {
			continue
		}
		if best == nil || *s[idx] > *best[idx] {
			best = s
		}
		if worst == nil || *s[idx] < *worst[idx] {
			worst = s
		}
	}
	return best, worst, nil
}

// AverageLists averages equal-length series of optional values
// position-wise, ignoring absent entries. A position at which every series
// is absent averages to zero.
func AverageLists(series [][]*float64) ([]float64, error) {
	if len(series) == 0 || len(series[0]) == 0 {
		return nil, ErrNoData
	}
	length := len(series[0])
	for _, s := range series {
		if len(s) != length {
			return nil, fmt.Errorf("series lengths differ: %d vs %d", length, len(s))
		}
	}

	averages := make([]float64, length)
	for idx := 0; idx < length; idx++ {
		var present []float64
		for _, s := range series {
			if s[idx] != nil {
				present = append(present, *s[idx])
			}
		}
		if len(present) == 0 {
			continue
		}
		mean, err := stats.Mean(present)
		if err != nil {
			return nil, err
		}
		averages[idx] = mean
	}
	return averages, nil
}

// Density computes the density distribution of values over [0, 1], with all
// input series merged and equally weighted. The result has
// int(1/divisionUnit)+1 buckets; bucket i covers values in
// [i*divisionUnit, (i+1)*divisionUnit).
func Density(series [][]float64, divisionUnit float64) ([]float64, error) {
	if divisionUnit <= 0 || divisionUnit > 1 {
		return nil, fmt.Errorf("division unit must be in (0, 1], got %f", divisionUnit)
	}
	total := 0
	for _, s := range series {
		total += len(s)
	}
	if total == 0 {
		return nil, ErrNoData
	}

	density := make([]float64, int(1/divisionUnit)+1)
	for _, s := range series {
		for _, v := range s {
			idx := int(v / divisionUnit)
			if idx < 0 || idx >= len(density) {
				return nil, fmt.Errorf("value %f out of density range", v)
			}
			density[idx]++
		}
	}
	for i := range density {
		density[i] /= float64(total)
	}
	return density, nil
}
