package schema

// Document is a retrievable unit of text with optional vector embedding and
// relevance score, returned by Memory.Search.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Score     float64
	Embedding []float32
}
