// Package embedder generates vector embeddings for conversation text using
// pluggable providers.
//
// Three providers are available: Jina AI, OpenAI, and a deterministic local
// provider for offline use. Both remote providers speak the OpenAI embeddings
// wire format and share a single HTTP path with retry.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider: "openai",
//	    APIKey:   cfg.OpenAIAPIKey,
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: entry.UserHead + "\n" + entry.AssistantHead,
//	})
//	fmt.Printf("Vector dimension: %d\n", len(result.Vector))
//
// # Batch Processing
//
// For efficiency, use batch processing:
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: texts,
//	})
//
//	for i, embedding := range resp.Embeddings {
//	    // Store embedding for entry i
//	}
//
// Batching reduces API round trips; a batch of 20 costs roughly two single
// requests in wall time.
//
// # Provider Selection
//
// Providers are selected by explicit configuration only. Nothing in this
// package reads the environment; the config layer maps environment variables
// into a Config before calling New. An empty Provider selects local.
//
// Provider characteristics:
//
//	jina:    1024 dimensions, remote API
//	openai:  1536 dimensions, remote API
//	local:   384 dimensions, deterministic, no network
//
// The local provider hashes tokens into fixed buckets and normalizes the
// result, so texts sharing vocabulary score a higher cosine similarity. The
// same text always yields the same vector.
//
// # Error Handling
//
// Remote calls retry transient failures with exponential backoff. Once the
// retry budget is spent the returned error wraps types.ErrProvider:
//
//	resp, err := emb.GenerateBatch(ctx, req)
//	if errors.Is(err, types.ErrProvider) {
//	    // provider unreachable or returning errors, vectors unavailable
//	}
//
// Callers that cache embeddings must not record anything for a failed batch.
package embedder
