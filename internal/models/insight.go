package models

import "time"

// SignalEvent is one flagged node drawn from a stored run.
type SignalEvent struct {
	RunID     string    `json:"run_id"`
	Feature   string    `json:"feature"`
	Node      int       `json:"node"`
	Sign      int       `json:"sign"`
	AdjP      float64   `json:"adj_pvalue"`
	CreatedAt time.Time `json:"created_at"`
}

// Hotspot summarizes a node that keeps flagging across stored runs.
type Hotspot struct {
	Node      int       `json:"node"`
	Hits      int       `json:"hits"`
	Runs      int       `json:"runs"`
	Features  []string  `json:"features"`
	MeanAdjP  float64   `json:"mean_adj_pvalue"`
	BestAdjP  float64   `json:"best_adj_pvalue"`
	NetSign   int       `json:"net_sign"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
