package insights

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/arborstack/arbor-fdr/internal/models"
)

func TestMinerAggregatesHotspots(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []models.SignalEvent{
		{RunID: "r1", Feature: "geneA", Node: 104, Sign: 1, AdjP: 0.01, CreatedAt: base},
		{RunID: "r1", Feature: "geneB", Node: 104, Sign: 1, AdjP: 0.03, CreatedAt: base},
		{RunID: "r2", Feature: "geneA", Node: 104, Sign: -1, AdjP: 0.02, CreatedAt: base.Add(time.Hour)},
		{RunID: "r2", Feature: "geneA", Node: 7, Sign: -1, AdjP: 0.04, CreatedAt: base.Add(time.Hour)},
	}
	miner := NewMiner(nil, HistoryFunc(func(context.Context, time.Time) ([]models.SignalEvent, error) {
		return events, nil
	}))

	got, err := miner.Hotspots(context.Background(), time.Time{}, 1, 0)
	if err != nil {
		t.Fatalf("Hotspots: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d hotspots, want 2", len(got))
	}

	top := got[0]
	if top.Node != 104 || top.Hits != 3 || top.Runs != 2 {
		t.Fatalf("top hotspot = %+v", top)
	}
	if want := []string{"geneA", "geneB"}; !reflect.DeepEqual(top.Features, want) {
		t.Fatalf("features = %v, want %v", top.Features, want)
	}
	if math.Abs(top.MeanAdjP-0.02) > 1e-12 {
		t.Fatalf("mean adjusted p = %v, want 0.02", top.MeanAdjP)
	}
	if top.BestAdjP != 0.01 {
		t.Fatalf("best adjusted p = %v, want 0.01", top.BestAdjP)
	}
	if top.NetSign != 1 {
		t.Fatalf("net sign = %d, want 1", top.NetSign)
	}
	if !top.FirstSeen.Equal(base) || !top.LastSeen.Equal(base.Add(time.Hour)) {
		t.Fatalf("seen window = %v .. %v", top.FirstSeen, top.LastSeen)
	}

	if got[1].Node != 7 || got[1].NetSign != -1 || got[1].Runs != 1 {
		t.Fatalf("second hotspot = %+v", got[1])
	}
}

func TestMinerMinRunsAndLimit(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []models.SignalEvent{
		{RunID: "r1", Feature: "g", Node: 1, Sign: 1, AdjP: 0.01, CreatedAt: base},
		{RunID: "r2", Feature: "g", Node: 1, Sign: 1, AdjP: 0.01, CreatedAt: base},
		{RunID: "r1", Feature: "g", Node: 2, Sign: 1, AdjP: 0.01, CreatedAt: base},
		{RunID: "r1", Feature: "g", Node: 3, Sign: 1, AdjP: 0.01, CreatedAt: base},
		{RunID: "r2", Feature: "g", Node: 3, Sign: 1, AdjP: 0.01, CreatedAt: base},
	}
	miner := NewMiner(nil, HistoryFunc(func(context.Context, time.Time) ([]models.SignalEvent, error) {
		return events, nil
	}))

	repeated, err := miner.Hotspots(context.Background(), time.Time{}, 2, 0)
	if err != nil {
		t.Fatalf("Hotspots: %v", err)
	}
	if len(repeated) != 2 {
		t.Fatalf("minRuns filter kept %d hotspots, want 2", len(repeated))
	}
	for _, h := range repeated {
		if h.Runs < 2 {
			t.Fatalf("hotspot %+v below run threshold", h)
		}
	}

	limited, err := miner.Hotspots(context.Background(), time.Time{}, 1, 1)
	if err != nil {
		t.Fatalf("Hotspots(limit): %v", err)
	}
	if len(limited) != 1 || limited[0].Node != 1 {
		t.Fatalf("limit filter = %+v", limited)
	}
}

func TestMinerEmptyAndErrorHistory(t *testing.T) {
	empty := NewMiner(nil, HistoryFunc(func(context.Context, time.Time) ([]models.SignalEvent, error) {
		return nil, nil
	}))
	got, err := empty.Hotspots(context.Background(), time.Time{}, 1, 0)
	if err != nil || got != nil {
		t.Fatalf("empty history = %v, %v; want nil, nil", got, err)
	}

	boom := errors.New("history unavailable")
	failing := NewMiner(nil, HistoryFunc(func(context.Context, time.Time) ([]models.SignalEvent, error) {
		return nil, boom
	}))
	if _, err := failing.Hotspots(context.Background(), time.Time{}, 1, 0); !errors.Is(err, boom) {
		t.Fatalf("error passthrough = %v, want %v", err, boom)
	}
}
