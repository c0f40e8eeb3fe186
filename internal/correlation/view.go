package correlation

import (
	"sync"
	"time"

	"bluewatch/internal/model"
)

// View caches the latest correlation result. Recomputation is periodic and
// expensive; readers always get the last completed run plus its timestamp.
type View struct {
	mu        sync.RWMutex
	edges     []model.CorrelationEdge
	byAddress map[string][]model.CorrelationEdge
	updatedAt time.Time
}

func NewView() *View {
	return &View{byAddress: make(map[string][]model.CorrelationEdge)}
}

func (v *View) Update(edges []model.CorrelationEdge) {
	byAddress := make(map[string][]model.CorrelationEdge)
	for _, e := range edges {
		byAddress[e.A] = append(byAddress[e.A], e)
		byAddress[e.B] = append(byAddress[e.B], e)
	}
	v.mu.Lock()
	v.edges = edges
	v.byAddress = byAddress
	v.updatedAt = time.Now().UTC()
	v.mu.Unlock()
}

// Edges returns the strongest edges, up to limit.
func (v *View) Edges(limit int) ([]model.CorrelationEdge, time.Time) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if limit <= 0 || limit > len(v.edges) {
		limit = len(v.edges)
	}
	out := make([]model.CorrelationEdge, limit)
	copy(out, v.edges[:limit])
	return out, v.updatedAt
}

// ForAddress returns edges touching one device.
func (v *View) ForAddress(address string) []model.CorrelationEdge {
	v.mu.RLock()
	defer v.mu.RUnlock()
	edges := v.byAddress[address]
	out := make([]model.CorrelationEdge, len(edges))
	copy(out, edges)
	return out
}

func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.edges)
}
