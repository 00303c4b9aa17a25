package l2detect

import (
	"sort"

	"github.com/kestrel-data/pulse.report/internal/radar/l1spectral"
)

// neighbour offsets for 8-connectivity.
var neighbours8 = [8][2]int{
	{-1, -1}, {-1, 0}, {-1, 1},
	{0, -1}, {0, 1},
	{1, -1}, {1, 0}, {1, 1},
}

// clusterMask groups the detection mask into 8-connected components and
// collapses each to a single observation at its locally maximal cell. One
// physical target spanning several adjacent cells therefore registers as
// exactly one detection. Results are ordered by (Doppler, range) bin of
// the peak so downstream association is deterministic.
func clusterMask(s *l1spectral.Surface, mask []bool) []Detection {
	rows, cols := s.DopplerBins, s.RangeBins
	visited := make([]bool, len(mask))
	var detections []Detection

	// Reused stack for the component flood fill.
	stack := make([][2]int, 0, 64)

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			idx := r*cols + c
			if !mask[idx] || visited[idx] {
				continue
			}

			stack = stack[:0]
			stack = append(stack, [2]int{r, c})
			visited[idx] = true

			peak := Detection{DopplerBin: r, RangeBin: c, Power: s.At(r, c), PowerDB: s.AtDB(r, c)}
			for len(stack) > 0 {
				cell := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cr, cc := cell[0], cell[1]

				if p := s.At(cr, cc); p > peak.Power {
					peak = Detection{DopplerBin: cr, RangeBin: cc, Power: p, PowerDB: s.AtDB(cr, cc)}
				}

				for _, off := range neighbours8 {
					nr, nc := cr+off[0], cc+off[1]
					if nr < 0 || nr >= rows || nc < 0 || nc >= cols {
						continue
					}
					nidx := nr*cols + nc
					if mask[nidx] && !visited[nidx] {
						visited[nidx] = true
						stack = append(stack, [2]int{nr, nc})
					}
				}
			}

			detections = append(detections, peak)
		}
	}

	sort.Slice(detections, func(i, j int) bool {
		if detections[i].DopplerBin != detections[j].DopplerBin {
			return detections[i].DopplerBin < detections[j].DopplerBin
		}
		return detections[i].RangeBin < detections[j].RangeBin
	})
	return detections
}
