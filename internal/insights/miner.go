// Package insights mines stored runs for nodes that keep flagging across
// analyses.
package insights

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/arborstack/arbor-fdr/internal/models"
)

// DefaultLimit caps the hotspot list when the caller does not.
const DefaultLimit = 20

// History abstracts the run archive the miner reads.
type History interface {
	SignalHistory(ctx context.Context, since time.Time) ([]models.SignalEvent, error)
}

// Miner aggregates flagged nodes across stored runs into hotspots.
type Miner struct {
	history History
	logger  *slog.Logger
}

// NewMiner constructs a Miner over the given history.
func NewMiner(logger *slog.Logger, history History) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{history: history, logger: logger}
}

// Hotspots aggregates signal events since the given time, keeping nodes
// flagged in at least minRuns distinct runs and returning at most limit
// entries ordered by hit count, then node id.
func (m *Miner) Hotspots(ctx context.Context, since time.Time, minRuns, limit int) ([]models.Hotspot, error) {
	if minRuns <= 0 {
		minRuns = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	events, err := m.history.SignalHistory(ctx, since)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	stats := make(map[int]*nodeAggregate)
	for _, ev := range events {
		agg, ok := stats[ev.Node]
		if !ok {
			agg = &nodeAggregate{
				runs:      make(map[string]struct{}),
				features:  make(map[string]struct{}),
				bestAdjP:  ev.AdjP,
				firstSeen: ev.CreatedAt,
				lastSeen:  ev.CreatedAt,
			}
			stats[ev.Node] = agg
		}
		agg.hits++
		agg.adjPSum += ev.AdjP
		agg.signSum += ev.Sign
		if ev.AdjP < agg.bestAdjP {
			agg.bestAdjP = ev.AdjP
		}
		agg.runs[ev.RunID] = struct{}{}
		agg.features[ev.Feature] = struct{}{}
		if ev.CreatedAt.Before(agg.firstSeen) {
			agg.firstSeen = ev.CreatedAt
		}
		if ev.CreatedAt.After(agg.lastSeen) {
			agg.lastSeen = ev.CreatedAt
		}
	}

	hotspots := make([]models.Hotspot, 0, len(stats))
	for node, agg := range stats {
		if len(agg.runs) < minRuns {
			continue
		}
		hotspots = append(hotspots, models.Hotspot{
			Node:      node,
			Hits:      agg.hits,
			Runs:      len(agg.runs),
			Features:  sortedKeys(agg.features),
			MeanAdjP:  agg.adjPSum / float64(agg.hits),
			BestAdjP:  agg.bestAdjP,
			NetSign:   signOf(agg.signSum),
			FirstSeen: agg.firstSeen,
			LastSeen:  agg.lastSeen,
		})
	}

	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].Hits != hotspots[j].Hits {
			return hotspots[i].Hits > hotspots[j].Hits
		}
		return hotspots[i].Node < hotspots[j].Node
	})
	if len(hotspots) > limit {
		hotspots = hotspots[:limit]
	}

	m.logger.Debug("hotspots mined",
		"events", len(events),
		"nodes", len(stats),
		"kept", len(hotspots))
	return hotspots, nil
}

type nodeAggregate struct {
	hits      int
	adjPSum   float64
	bestAdjP  float64
	signSum   int
	runs      map[string]struct{}
	features  map[string]struct{}
	firstSeen time.Time
	lastSeen  time.Time
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func signOf(sum int) int {
	switch {
	case sum > 0:
		return 1
	case sum < 0:
		return -1
	default:
		return 0
	}
}
