package retrieval

import (
	"context"
	"time"
)

// Match is a retrieved text chunk with its similarity score and the record
// it belongs to.
type Match struct {
	ID        string    `json:"id"`
	OwnerType string    `json:"owner_type"`
	OwnerID   string    `json:"owner_id"`
	Text      string    `json:"text"`
	Score     float32   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Retriever combines embedding and vector search to answer free-text queries
// over a user's interactions.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Search embeds the query and returns the user's top-K most similar chunks.
func (r *Retriever) Search(ctx context.Context, userID, query string, topK int) ([]Match, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(userID, vec, topK)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(scored))
	for i, s := range scored {
		matches[i] = Match{
			ID:        s.ID,
			OwnerType: s.OwnerType,
			OwnerID:   s.OwnerID,
			Text:      s.TextChunk,
			Score:     s.Score,
			CreatedAt: s.CreatedAt,
		}
	}
	return matches, nil
}
