package models

import "time"

// TreeEdge is one parent-child pair of a tree edge list.
type TreeEdge struct {
	Parent int `json:"parent"`
	Child  int `json:"child"`
}

// TreeDocument describes the analysis tree. Either Newick holds a tree in
// Newick notation, or Edges plus LeafCount give the edge list directly.
type TreeDocument struct {
	Newick    string     `json:"newick,omitempty"`
	Edges     []TreeEdge `json:"edges,omitempty"`
	LeafCount int        `json:"leaf_count,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
}

// ScoreRow is one externally computed per-node test result.
type ScoreRow struct {
	Node   int     `json:"node"`
	PValue float64 `json:"pvalue"`
	Sign   int     `json:"sign"`
}

// FeatureScores carries precomputed scores for one feature, one row per
// tree node.
type FeatureScores struct {
	Feature string     `json:"feature"`
	Rows    []ScoreRow `json:"rows"`
}

// FeatureObservations carries raw two-group measurements for one feature.
// Group rows are per-sample vectors whose columns follow Leaves.
type FeatureObservations struct {
	Feature string      `json:"feature"`
	Leaves  []int       `json:"leaves"`
	Group1  [][]float64 `json:"group1"`
	Group2  [][]float64 `json:"group2"`
}

// AnalysisParams tune one analysis run. A named Profile supplies defaults;
// explicitly set fields win over the profile.
type AnalysisParams struct {
	Grid    []float64 `json:"grid,omitempty"`
	Alpha   float64   `json:"alpha,omitempty"`
	Mode    string    `json:"mode,omitempty"`
	Test    string    `json:"test,omitempty"`
	Profile string    `json:"profile,omitempty"`
}

// AnalysisRequest is one full analysis submission: the tree, exactly one
// of Scores or Observations, and the tuning parameters.
type AnalysisRequest struct {
	Tree         TreeDocument          `json:"tree"`
	Scores       []FeatureScores       `json:"scores,omitempty"`
	Observations []FeatureObservations `json:"observations,omitempty"`
	Params       AnalysisParams        `json:"params"`
}

// ListRunsRequest filters the stored run history.
type ListRunsRequest struct {
	Since  time.Time `json:"since,omitempty"`
	Mode   string    `json:"mode,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}
