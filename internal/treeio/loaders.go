package treeio

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arborstack/arbor-fdr/internal/models"
)

// ReadScoresCSV parses a per-node score table. The file needs a header row
// naming feature, node, pvalue and sign columns (any order); rows are
// grouped by feature in first-appearance order.
func ReadScoresCSV(r io.Reader) ([]models.FeatureScores, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read score header: %w", err)
	}
	cols, err := scoreColumns(header)
	if err != nil {
		return nil, err
	}

	var (
		out   []models.FeatureScores
		index = make(map[string]int)
	)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read score row: %w", err)
		}
		feature := record[cols.feature]
		node, err := strconv.Atoi(record[cols.node])
		if err != nil {
			return nil, fmt.Errorf("line %d: node %q: %w", line, record[cols.node], err)
		}
		p, err := strconv.ParseFloat(record[cols.pvalue], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: pvalue %q: %w", line, record[cols.pvalue], err)
		}
		sign, err := strconv.Atoi(record[cols.sign])
		if err != nil {
			return nil, fmt.Errorf("line %d: sign %q: %w", line, record[cols.sign], err)
		}

		at, ok := index[feature]
		if !ok {
			at = len(out)
			index[feature] = at
			out = append(out, models.FeatureScores{Feature: feature})
		}
		out[at].Rows = append(out[at].Rows, models.ScoreRow{Node: node, PValue: p, Sign: sign})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("score table has no rows")
	}
	return out, nil
}

type scoreLayout struct {
	feature, node, pvalue, sign int
}

func scoreColumns(header []string) (scoreLayout, error) {
	layout := scoreLayout{feature: -1, node: -1, pvalue: -1, sign: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "feature":
			layout.feature = i
		case "node":
			layout.node = i
		case "pvalue", "p_value", "p":
			layout.pvalue = i
		case "sign":
			layout.sign = i
		}
	}
	if layout.feature < 0 || layout.node < 0 || layout.pvalue < 0 || layout.sign < 0 {
		return layout, fmt.Errorf("score header %v must name feature, node, pvalue and sign columns", header)
	}
	return layout, nil
}

// ReadScoresJSON parses a JSON array of per-feature score objects.
func ReadScoresJSON(r io.Reader) ([]models.FeatureScores, error) {
	var out []models.FeatureScores
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("score document has no features")
	}
	return out, nil
}

// ReadScoresFile loads a score table, dispatching on the file extension.
func ReadScoresFile(path string) ([]models.FeatureScores, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open score file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadScoresCSV(f)
	case ".json":
		return ReadScoresJSON(f)
	default:
		return nil, fmt.Errorf("score file %s: unsupported extension (want .csv or .json)", path)
	}
}

// ReadObservationsFile loads raw two-group observations from a JSON array
// of per-feature matrices.
func ReadObservationsFile(path string) ([]models.FeatureObservations, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open observations file: %w", err)
	}
	defer f.Close()

	var out []models.FeatureObservations
	if err := json.NewDecoder(f).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode observations %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("observations document %s has no features", path)
	}
	return out, nil
}
