package embedding

import (
	"context"
	"crypto/sha256"
)

const mockDims = 1536

// MockClient produces deterministic pseudo-embeddings derived from the
// input text, so vector search stays stable in offline runs and tests.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))

	vec := make([]float32, mockDims)
	for i := range vec {
		b := sum[i%len(sum)]
		vec[i] = (float32(b)/255.0)*2 - 1
	}
	return vec, nil
}
