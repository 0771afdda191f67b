package treeio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arborstack/arbor-fdr/internal/models"
	"github.com/arborstack/arbor-fdr/internal/tree"
)

// FromDocument materialises the tree carried by an analysis request.
// Exactly one encoding must be present: a Newick document or an explicit
// edge list with its leaf count.
func FromDocument(doc models.TreeDocument) (*tree.Index, error) {
	hasNewick := strings.TrimSpace(doc.Newick) != ""
	hasEdges := len(doc.Edges) > 0
	switch {
	case hasNewick && hasEdges:
		return nil, errors.New("tree document carries both newick and edge encodings")
	case hasNewick:
		return ParseNewickString(doc.Newick)
	case hasEdges:
		edges := make([]tree.Edge, len(doc.Edges))
		for i, e := range doc.Edges {
			edges[i] = tree.Edge{Parent: e.Parent, Child: e.Child}
		}
		return tree.NewIndex(edges, doc.LeafCount, doc.Labels)
	default:
		return nil, errors.New("tree document is empty")
	}
}

// ReadTreeDocument loads a tree file into its wire form. JSON files must
// hold a tree document object; anything else is taken as raw Newick.
func ReadTreeDocument(path string) (models.TreeDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.TreeDocument{}, fmt.Errorf("read tree file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var doc models.TreeDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return models.TreeDocument{}, fmt.Errorf("decode tree document %s: %w", path, err)
		}
		return doc, nil
	}
	return models.TreeDocument{Newick: string(raw)}, nil
}
