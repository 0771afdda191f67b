package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func sourceWith(t *testing.T, rt roundTripFunc) *SourceClient {
	t.Helper()
	c := NewSourceClient("https://datasets.example.com/api", time.Second)
	c.httpClient = &http.Client{Transport: rt}
	return c
}

func TestFetchTree(t *testing.T) {
	c := sourceWith(t, func(req *http.Request) (*http.Response, error) {
		if got, want := req.URL.Path, "/api/datasets/ma-16s/tree"; got != want {
			t.Fatalf("path = %s, want %s", got, want)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"newick": "((A,B)ab,C)r;"}), nil
	})

	doc, err := c.FetchTree(context.Background(), "ma-16s")
	if err != nil {
		t.Fatalf("FetchTree: %v", err)
	}
	if doc.Newick != "((A,B)ab,C)r;" {
		t.Fatalf("tree document = %+v", doc)
	}
}

func TestFetchScores(t *testing.T) {
	c := sourceWith(t, func(req *http.Request) (*http.Response, error) {
		if got, want := req.URL.Path, "/api/datasets/ma-16s/scores"; got != want {
			t.Fatalf("path = %s, want %s", got, want)
		}
		payload := []map[string]any{
			{"feature": "geneA", "rows": []map[string]any{{"node": 0, "pvalue": 0.01, "sign": 1}}},
		}
		return jsonResponse(t, http.StatusOK, payload), nil
	})

	scores, err := c.FetchScores(context.Background(), "ma-16s")
	if err != nil {
		t.Fatalf("FetchScores: %v", err)
	}
	if len(scores) != 1 || scores[0].Feature != "geneA" || len(scores[0].Rows) != 1 {
		t.Fatalf("scores = %+v", scores)
	}
	if row := scores[0].Rows[0]; row.Node != 0 || row.PValue != 0.01 || row.Sign != 1 {
		t.Fatalf("score row = %+v", row)
	}
}

func TestFetchObservations(t *testing.T) {
	c := sourceWith(t, func(req *http.Request) (*http.Response, error) {
		if got, want := req.URL.Path, "/api/datasets/spike set/observations"; got != want {
			t.Fatalf("path = %s, want %s", got, want)
		}
		payload := []map[string]any{
			{"feature": "g", "leaves": []int{0, 1}, "group1": [][]float64{{1, 2}}, "group2": [][]float64{{3, 4}}},
		}
		return jsonResponse(t, http.StatusOK, payload), nil
	})

	obs, err := c.FetchObservations(context.Background(), "spike set")
	if err != nil {
		t.Fatalf("FetchObservations: %v", err)
	}
	if len(obs) != 1 || obs[0].Feature != "g" || len(obs[0].Leaves) != 2 {
		t.Fatalf("observations = %+v", obs)
	}
}

func TestSourceErrors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		c := sourceWith(t, func(*http.Request) (*http.Response, error) {
			return jsonResponse(t, http.StatusNotFound, map[string]string{"error": "no such dataset"}), nil
		})
		if _, err := c.FetchScores(context.Background(), "missing"); err == nil {
			t.Fatalf("expected status error")
		}
	})

	t.Run("empty payloads", func(t *testing.T) {
		c := sourceWith(t, func(*http.Request) (*http.Response, error) {
			return jsonResponse(t, http.StatusOK, []any{}), nil
		})
		if _, err := c.FetchScores(context.Background(), "ds"); err == nil {
			t.Fatalf("expected empty score error")
		}
		if _, err := c.FetchObservations(context.Background(), "ds"); err == nil {
			t.Fatalf("expected empty observations error")
		}
	})

	t.Run("missing dataset name", func(t *testing.T) {
		c := sourceWith(t, func(*http.Request) (*http.Response, error) {
			t.Fatalf("request should not be sent")
			return nil, nil
		})
		if _, err := c.FetchTree(context.Background(), "  "); err == nil {
			t.Fatalf("expected dataset name error")
		}
	})

	t.Run("unconfigured base URL", func(t *testing.T) {
		c := NewSourceClient("", time.Second)
		if _, err := c.FetchTree(context.Background(), "ds"); err == nil {
			t.Fatalf("expected configuration error")
		}
	})
}
