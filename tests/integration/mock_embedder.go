package integration

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"

	"github.com/dshills/goconvo-mcp/internal/embedder"
)

// MockEmbedder is a deterministic in-process embedder for pipeline tests.
// Vectors are hashed token bags, so texts sharing vocabulary land near each
// other in cosine space and repeated calls always produce identical vectors.
type MockEmbedder struct {
	dimension  int
	batchCalls atomic.Int64
	textsSeen  atomic.Int64

	// failSubstring makes any text containing it error out, for testing
	// partial-failure accounting in the build pipeline
	failSubstring string
}

// NewMockEmbedder creates a mock embedder producing vectors of the given
// dimension
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

// FailOn makes every text containing substring return an error
func (m *MockEmbedder) FailOn(substring string) {
	m.failSubstring = substring
}

// BatchCalls reports how many provider batch requests were made
func (m *MockEmbedder) BatchCalls() int64 {
	return m.batchCalls.Load()
}

// TextsSeen reports how many individual texts reached the provider
func (m *MockEmbedder) TextsSeen() int64 {
	return m.textsSeen.Load()
}

// GenerateEmbedding embeds a single text
func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if req.Text == "" {
		return nil, embedder.ErrEmptyText
	}
	vec, err := m.embed(req.Text)
	if err != nil {
		return nil, err
	}
	return &embedder.Embedding{
		Vector:    vec,
		Dimension: m.dimension,
		Provider:  m.Provider(),
		Model:     m.Model(),
		Hash:      embedder.ComputeHash(req.Text),
	}, nil
}

// GenerateBatch embeds a batch of texts
func (m *MockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.batchCalls.Add(1)
	embeddings := make([]*embedder.Embedding, 0, len(req.Texts))
	for _, text := range req.Texts {
		m.textsSeen.Add(1)
		vec, err := m.embed(text)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, &embedder.Embedding{
			Vector:    vec,
			Dimension: m.dimension,
			Provider:  m.Provider(),
			Model:     m.Model(),
			Hash:      embedder.ComputeHash(text),
		})
	}
	return &embedder.BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   m.Provider(),
		Model:      m.Model(),
	}, nil
}

// Dimension returns the configured vector dimension
func (m *MockEmbedder) Dimension() int {
	return m.dimension
}

// Provider returns the provider name
func (m *MockEmbedder) Provider() string {
	return "mock"
}

// Model returns the model name
func (m *MockEmbedder) Model() string {
	return "mock-v1"
}

// Close is a no-op for the mock
func (m *MockEmbedder) Close() error {
	return nil
}

// embed hashes each lower-cased token into a dimension bucket and unit
// normalizes the accumulated counts. Token overlap between two texts shows
// up directly as cosine similarity.
func (m *MockEmbedder) embed(text string) ([]float32, error) {
	if m.failSubstring != "" && strings.Contains(text, m.failSubstring) {
		return nil, fmt.Errorf("mock embedder refused text containing %q", m.failSubstring)
	}

	vec := make([]float32, m.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[int(h.Sum32())%m.dimension]++
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		norm := float32(1.0 / math.Sqrt(sum))
		for i := range vec {
			vec[i] *= norm
		}
	}
	return vec, nil
}
