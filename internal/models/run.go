package models

import (
	"strconv"
	"time"
)

// TuningKey renders a tuning value as its wire key, e.g. 0.3 -> "0.3".
func TuningKey(t float64) string {
	return strconv.FormatFloat(t, 'g', -1, 64)
}

// ColumnInfo describes one output table column.
type ColumnInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Meaning string `json:"meaning"`
}

// ResultRow is one output table row.
type ResultRow struct {
	Feature string  `json:"feature"`
	Node    int     `json:"node"`
	PValue  float64 `json:"pvalue"`
	Sign    int     `json:"sign"`
	AdjP    float64 `json:"adj_pvalue"`
	Signal  bool    `json:"signal"`
}

// FeatureRecord is the per-feature slice of a run: the full candidate
// family keyed by tuning value and the selected resolution.
type FeatureRecord struct {
	Feature    string           `json:"feature"`
	BestT      float64          `json:"best_t"`
	BestNodes  []int            `json:"best_nodes"`
	Signals    int              `json:"signals"`
	Estimate   float64          `json:"estimate"`
	Candidates map[string][]int `json:"candidate_list"`
}

// RunRecord is the stored and served product of one analysis run.
type RunRecord struct {
	RunID       string          `json:"run_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Mode        string          `json:"mode"`
	Method      string          `json:"method"`
	Alpha       float64         `json:"alpha"`
	RealizedFDR float64         `json:"realized_fdr"`
	Features    []FeatureRecord `json:"features"`
	Output      []ResultRow     `json:"output"`
	Columns     []ColumnInfo    `json:"column_info"`
	ElapsedMS   int64           `json:"elapsed_ms"`
	Digest      string          `json:"digest,omitempty"`
	Profile     string          `json:"profile,omitempty"`
}

// RunSummary is the list view of a stored run.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Mode        string    `json:"mode"`
	Features    int       `json:"features"`
	Signals     int       `json:"signals"`
	RealizedFDR float64   `json:"realized_fdr"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	Profile     string    `json:"profile,omitempty"`
}
