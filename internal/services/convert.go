package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/arborstack/arbor-fdr/internal/models"
	"github.com/arborstack/arbor-fdr/internal/results"
	"github.com/arborstack/arbor-fdr/internal/scores"
)

func toFeatureRows(in []models.FeatureScores) []scores.FeatureRows {
	out := make([]scores.FeatureRows, len(in))
	for i, fs := range in {
		rows := make([]scores.Row, len(fs.Rows))
		for j, r := range fs.Rows {
			rows[j] = scores.Row{Node: r.Node, P: r.PValue, Sign: r.Sign}
		}
		out[i] = scores.FeatureRows{Feature: fs.Feature, Rows: rows}
	}
	return out
}

func toObservationMatrices(in []models.FeatureObservations) []scores.ObservationMatrix {
	out := make([]scores.ObservationMatrix, len(in))
	for i, fo := range in {
		out[i] = scores.ObservationMatrix{
			Feature: fo.Feature,
			Leaves:  fo.Leaves,
			Group1:  fo.Group1,
			Group2:  fo.Group2,
		}
	}
	return out
}

// runRecordFromBundle maps the engine product onto the wire record,
// rendering tuning values as string keys.
func runRecordFromBundle(b *results.Bundle, elapsed time.Duration, digest, profile string) *models.RunRecord {
	rec := &models.RunRecord{
		RunID:       uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Mode:        string(b.Mode),
		Method:      b.Method,
		Alpha:       b.FDR.Target,
		RealizedFDR: b.FDR.Realized,
		ElapsedMS:   elapsed.Milliseconds(),
		Digest:      digest,
		Profile:     profile,
	}

	rec.Features = make([]models.FeatureRecord, 0, len(b.Order))
	for _, feature := range b.Order {
		fr := b.Features[feature]
		candidates := make(map[string][]int, len(fr.Candidates))
		for t, cand := range fr.Candidates {
			candidates[models.TuningKey(t)] = cand.Nodes
		}
		rec.Features = append(rec.Features, models.FeatureRecord{
			Feature:    feature,
			BestT:      fr.Best.T,
			BestNodes:  fr.Best.Nodes,
			Signals:    fr.Signals,
			Estimate:   fr.Estimate,
			Candidates: candidates,
		})
	}

	rec.Output = make([]models.ResultRow, len(b.Output))
	for i, row := range b.Output {
		rec.Output[i] = models.ResultRow{
			Feature: row.Feature,
			Node:    row.Node,
			PValue:  row.P,
			Sign:    row.Sign,
			AdjP:    row.AdjP,
			Signal:  row.Signal,
		}
	}

	rec.Columns = make([]models.ColumnInfo, len(b.Columns))
	for i, col := range b.Columns {
		rec.Columns[i] = models.ColumnInfo{Name: col.Name, Type: col.Type, Meaning: col.Meaning}
	}
	return rec
}
