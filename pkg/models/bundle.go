package models

import "time"

// ContextItem is one retrieved result inside a context bundle. It carries
// enough provenance (kind, score, text, metadata) for the assistant to cite
// where a piece of context came from without re-fetching the source item.
type ContextItem struct {
	Ref        SourceRef         `json:"ref"`
	Similarity float64           `json:"similarity"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ContextBundle is the ranked set of retrieved items returned to the
// assistant. An empty Items slice is a normal outcome, not an error: it means
// nothing in the trip cleared the similarity threshold.
type ContextBundle struct {
	TenantID     string        `json:"tenant_id"`
	Query        string        `json:"query"`
	ModelVersion string        `json:"model_version"`
	Items        []ContextItem `json:"items"`
	TookMs       int64         `json:"took_ms"`
}

// Empty reports whether the bundle carries no context.
func (b *ContextBundle) Empty() bool {
	return len(b.Items) == 0
}
