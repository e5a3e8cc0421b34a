package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Embedder is the opaque sentence-embedding provider. The engine never
// touches model internals; it only asks for vectors.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float64, error)
}

// HTTPEmbedder calls an external embedding service: POST {"text": ...}
// returning {"embedding": [...]}.
type HTTPEmbedder struct {
	url    string
	client *http.Client
	model  string
}

// NewHTTPEmbedder builds an embedder against the given service URL. The
// model name is forwarded so one service can host several models.
func NewHTTPEmbedder(url, model string) *HTTPEmbedder {
	return &HTTPEmbedder{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type embedRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (e *HTTPEmbedder) Encode(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Text: text, Model: e.model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embedding service returned %d", resp.StatusCode)
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned empty vector")
	}
	return out.Embedding, nil
}
