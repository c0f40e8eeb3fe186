package correlation

import (
	"sort"
	"time"

	"bluewatch/internal/config"
	"bluewatch/internal/model"
)

// WindowSet is the set of epoch-aligned time windows in which a device was
// sighted at least once.
type WindowSet map[int64]struct{}

// BuildWindows buckets sighting timestamps into fixed windows of
// windowSeconds, aligned to Unix epoch multiples.
func BuildWindows(times []time.Time, windowSeconds int) WindowSet {
	if windowSeconds <= 0 {
		windowSeconds = 300
	}
	set := make(WindowSet, len(times))
	for _, ts := range times {
		set[ts.Unix()/int64(windowSeconds)] = struct{}{}
	}
	return set
}

// Correlate scores every device pair by how often their presence windows
// coincide: score = |A ∩ B| / |A ∪ B| over active windows. Pairs below the
// score or co-occurrence floor are dropped; the scan is quadratic in device
// count, so callers bound the input to devices with enough history (see
// MinSightings in config). Pure over its input, safe against concurrent
// ingestion because the window sets are built from a snapshot.
func Correlate(windows map[string]WindowSet, cfg config.CorrelationConfig) []model.CorrelationEdge {
	addrs := make([]string, 0, len(windows))
	for addr := range windows {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var edges []model.CorrelationEdge
	for i := 0; i < len(addrs); i++ {
		for j := i + 1; j < len(addrs); j++ {
			a, b := windows[addrs[i]], windows[addrs[j]]
			co, union := overlap(a, b)
			if union == 0 || co < cfg.MinCoOccurrence {
				continue
			}
			score := float64(co) / float64(union)
			if score < cfg.MinScore {
				continue
			}
			edges = append(edges, model.CorrelationEdge{
				A:            addrs[i],
				B:            addrs[j],
				CoOccurrence: co,
				WindowUnion:  union,
				Score:        score,
			})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Score != edges[j].Score {
			return edges[i].Score > edges[j].Score
		}
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})
	return edges
}

func overlap(a, b WindowSet) (co, union int) {
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	for w := range small {
		if _, ok := large[w]; ok {
			co++
		}
	}
	union = len(a) + len(b) - co
	return co, union
}
