// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"runtime"
	"sort"
	"sync"

	"github.com/nvr-ai/go-helmet/images/geometry"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// MaxOutputs caps the number of selected boxes.
	MaxOutputs int `json:"max_outputs" yaml:"max_outputs"`
	// IoUThreshold is the overlap above which a candidate is suppressed. A
	// candidate whose IoU equals the threshold is kept.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// ScoreThreshold drops candidates scoring below it. Zero disables it.
	ScoreThreshold float32 `json:"score_threshold" yaml:"score_threshold"`
}

// Suppressor selects the surviving candidates of a detection pass.
//
// Implementations return indices into scores in selection order: descending
// score with ties broken by ascending index. No two selected boxes may have an
// IoU above cfg.IoUThreshold and at most cfg.MaxOutputs indices are returned.
type Suppressor interface {
	Suppress(boxes, scores []float32, cfg NMSConfig) ([]int, error)
}

// rankCandidates returns the indices of all scores at or above threshold,
// sorted by descending score. The sort is stable so equal scores keep their
// original index order.
func rankCandidates(scores []float32, threshold float32) []int {
	order := make([]int, 0, len(scores))
	for i, s := range scores {
		if s >= threshold {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}

// GreedySuppressor performs standard greedy Non-Maximum Suppression on the
// calling goroutine.
type GreedySuppressor struct{}

// Suppress repeatedly selects the best remaining candidate and discards every
// candidate overlapping an already selected box by more than the IoU
// threshold.
//
// Arguments:
//   - boxes: Flat normalized boxes, four values per candidate.
//   - scores: One score per candidate.
//   - cfg: The NMS configuration.
//
// Returns:
//   - []int: Selected indices in selection order.
//   - error: Always nil.
func (GreedySuppressor) Suppress(boxes, scores []float32, cfg NMSConfig) ([]int, error) {
	order := rankCandidates(scores, cfg.ScoreThreshold)
	selected := make([]int, 0, min(cfg.MaxOutputs, len(order)))

	for _, i := range order {
		if len(selected) >= cfg.MaxOutputs {
			break
		}

		candidate := geometry.BoxAt(boxes, i)
		suppressed := false
		for _, j := range selected {
			if geometry.CalculateIoU(candidate, geometry.BoxAt(boxes, j)) > cfg.IoUThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			selected = append(selected, i)
		}
	}

	return selected, nil
}

// parallelMinSweep is the smallest number of remaining candidates worth
// splitting across workers.
const parallelMinSweep = 256

// ParallelSuppressor is a greedy suppressor that spreads each suppression
// sweep over a pool of goroutines. Its selection order is identical to
// GreedySuppressor.
type ParallelSuppressor struct {
	// Workers is the number of goroutines per sweep. Zero uses GOMAXPROCS.
	Workers int
}

func (p ParallelSuppressor) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Suppress selects candidates like GreedySuppressor. After every selection the
// remaining candidates are split into disjoint ranges and each worker marks
// the ones in its range that overlap the new anchor.
//
// Arguments:
//   - boxes: Flat normalized boxes, four values per candidate.
//   - scores: One score per candidate.
//   - cfg: The NMS configuration.
//
// Returns:
//   - []int: Selected indices in selection order.
//   - error: Always nil.
func (p ParallelSuppressor) Suppress(boxes, scores []float32, cfg NMSConfig) ([]int, error) {
	order := rankCandidates(scores, cfg.ScoreThreshold)
	n := len(order)
	used := make([]bool, n)
	selected := make([]int, 0, min(cfg.MaxOutputs, n))
	workers := p.workers()

	sweep := func(anchor geometry.Box, start, end int) {
		for j := start; j < end; j++ {
			if used[j] {
				continue
			}
			if geometry.CalculateIoU(anchor, geometry.BoxAt(boxes, order[j])) > cfg.IoUThreshold {
				used[j] = true
			}
		}
	}

	for i := 0; i < n && len(selected) < cfg.MaxOutputs; i++ {
		if used[i] {
			continue
		}
		selected = append(selected, order[i])
		anchor := geometry.BoxAt(boxes, order[i])

		rest := n - i - 1
		if workers < 2 || rest < parallelMinSweep {
			sweep(anchor, i+1, n)
			continue
		}

		chunk := (rest + workers - 1) / workers
		var wg sync.WaitGroup
		for start := i + 1; start < n; start += chunk {
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				sweep(anchor, start, end)
			}(start, min(start+chunk, n))
		}
		wg.Wait()
	}

	return selected, nil
}
