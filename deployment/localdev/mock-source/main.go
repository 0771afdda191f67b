// mock-source serves one deterministic demo dataset over the dataset
// source API so arborctl and the engine can be exercised without real
// data. Dataset "demo" is a 12-leaf tree in three blocks of four; the
// first block carries a shifted signal, the rest are flat.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type treeDocument struct {
	Newick string `json:"newick"`
}

type scoreRow struct {
	Node   int     `json:"node"`
	PValue float64 `json:"pvalue"`
	Sign   int     `json:"sign"`
}

type featureScores struct {
	Feature string     `json:"feature"`
	Rows    []scoreRow `json:"rows"`
}

type featureObservations struct {
	Feature string      `json:"feature"`
	Leaves  []int       `json:"leaves"`
	Group1  [][]float64 `json:"group1"`
	Group2  [][]float64 `json:"group2"`
}

const demoNewick = "((A1,A2,A3,A4)blockA,(B1,B2,B3,B4)blockB,(C1,C2,C3,C4)blockC)root;"

// Node ids under the leaves-first assignment: leaves A1..C4 are 0..11,
// root is 12, blockA 13, blockB 14, blockC 15.
const (
	demoLeaves = 12
	demoNodes  = 16
	demoRoot   = 12
	demoBlockA = 13
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /datasets/{name}/tree", func(w http.ResponseWriter, r *http.Request) {
		if !knownDataset(w, r) {
			return
		}
		writeJSON(w, treeDocument{Newick: demoNewick})
	})

	mux.HandleFunc("GET /datasets/{name}/scores", func(w http.ResponseWriter, r *http.Request) {
		if !knownDataset(w, r) {
			return
		}
		writeJSON(w, demoScores())
	})

	mux.HandleFunc("GET /datasets/{name}/observations", func(w http.ResponseWriter, r *http.Request) {
		if !knownDataset(w, r) {
			return
		}
		writeJSON(w, demoObservations())
	})

	logger := log.New(log.Writer(), "mock-source ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// demoScores carries a block-level signal the leaf resolution misses:
// the blockA leaves sit just above the adjusted threshold on their own,
// while the block node clears it easily.
func demoScores() []featureScores {
	shift := featureScores{Feature: "gene-shift"}
	for node := 0; node < demoNodes; node++ {
		row := scoreRow{Node: node, PValue: 1, Sign: 0}
		switch node {
		case 0:
			row = scoreRow{Node: node, PValue: 0.020, Sign: 1}
		case 1:
			row = scoreRow{Node: node, PValue: 0.030, Sign: 1}
		case 2:
			row = scoreRow{Node: node, PValue: 0.025, Sign: 1}
		case 3:
			row = scoreRow{Node: node, PValue: 0.022, Sign: 1}
		case demoRoot:
			row = scoreRow{Node: node, PValue: 0.35, Sign: 1}
		case demoBlockA:
			row = scoreRow{Node: node, PValue: 0.0005, Sign: 1}
		}
		shift.Rows = append(shift.Rows, row)
	}

	flat := featureScores{Feature: "gene-flat"}
	for node := 0; node < demoNodes; node++ {
		flat.Rows = append(flat.Rows, scoreRow{Node: node, PValue: 1, Sign: 0})
	}
	return []featureScores{shift, flat}
}

// demoObservations shifts group2 up by 6 on the blockA leaves, giving
// complete rank separation at those leaves and their block.
func demoObservations() []featureObservations {
	const samples = 6
	leaves := make([]int, demoLeaves)
	for i := range leaves {
		leaves[i] = i
	}

	baseline := func() [][]float64 {
		rows := make([][]float64, samples)
		for s := range rows {
			rows[s] = make([]float64, demoLeaves)
			for j := range rows[s] {
				rows[s][j] = float64(s + 1)
			}
		}
		return rows
	}

	shifted := baseline()
	for s := range shifted {
		for j := 0; j < 4; j++ {
			shifted[s][j] += 6
		}
	}

	return []featureObservations{
		{Feature: "taxon-shift", Leaves: leaves, Group1: baseline(), Group2: shifted},
		{Feature: "taxon-flat", Leaves: leaves, Group1: baseline(), Group2: baseline()},
	}
}

func knownDataset(w http.ResponseWriter, r *http.Request) bool {
	if r.PathValue("name") != "demo" {
		http.NotFound(w, r)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
