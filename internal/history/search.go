package history

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// FailureMatch is one similar past failure returned by the index.
type FailureMatch struct {
	RunID     string
	Phase     string
	TaskID    string
	ErrorText string
	Score     float64
}

// FailureIndex is a full-text index over past failure text. The remediation
// phase consults it to surface similar past failures, and the CLI exposes it
// via `history search`. The index is rebuilt from the archive on startup, so
// it is kept in memory only.
type FailureIndex struct {
	index bleve.Index
}

// NewFailureIndex creates an empty in-memory failure index.
func NewFailureIndex() (*FailureIndex, error) {
	index, err := bleve.NewMemOnly(buildFailureMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create failure index: %w", err)
	}
	return &FailureIndex{index: index}, nil
}

func buildFailureMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	keywordField := func(name string) {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		f.Index = true
		docMapping.AddFieldMappingsAt(name, f)
	}
	keywordField("run_id")
	keywordField("phase")
	keywordField("task_id")

	errField := bleve.NewTextFieldMapping()
	errField.Analyzer = standard.Name
	errField.Store = true
	errField.Index = true
	docMapping.AddFieldMappingsAt("error_text", errField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// IndexFailure adds a failed run to the index. Runs without error text are
// skipped; there is nothing to match against.
func (f *FailureIndex) IndexFailure(rec RunRecord) error {
	if rec.ErrorText == "" {
		return nil
	}
	doc := map[string]any{
		"run_id":     rec.RunID,
		"phase":      rec.Phase,
		"task_id":    rec.TaskID,
		"error_text": rec.ErrorText,
	}
	return f.index.Index(rec.RunID, doc)
}

// Similar returns up to k past failures whose error text matches the query,
// best match first.
func (f *FailureIndex) Similar(query string, k int) ([]FailureMatch, error) {
	if k <= 0 {
		k = 5
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("error_text")

	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.Fields = []string{"run_id", "phase", "task_id", "error_text"}

	res, err := f.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failure search failed: %w", err)
	}

	out := make([]FailureMatch, 0, len(res.Hits))
	for _, hit := range res.Hits {
		m := FailureMatch{RunID: hit.ID, Score: hit.Score}
		if s, ok := hit.Fields["phase"].(string); ok {
			m.Phase = s
		}
		if s, ok := hit.Fields["task_id"].(string); ok {
			m.TaskID = s
		}
		if s, ok := hit.Fields["error_text"].(string); ok {
			m.ErrorText = s
		}
		out = append(out, m)
	}
	return out, nil
}

// Close releases the index.
func (f *FailureIndex) Close() error {
	return f.index.Close()
}
