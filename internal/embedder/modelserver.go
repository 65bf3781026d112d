package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ModelServer implements Embedder and Trainer against the sentence-encoder
// sidecar's HTTP API. It is safe for concurrent use.
type ModelServer struct {
	// endpoint is the model server base URL (e.g. "http://localhost:8501").
	endpoint string
	// checkpointPath is where the sidecar writes the fine-tuned checkpoint.
	checkpointPath string
	// apiKey is an optional bearer token.
	apiKey string
	// client is the shared HTTP client. Encode calls use it directly;
	// fit calls use fitClient, which has no timeout because training runs
	// for minutes.
	client *http.Client
	// fitClient is the HTTP client used for long-running fit calls.
	fitClient *http.Client
}

// ModelServerConfig holds the settings for constructing a ModelServer.
type ModelServerConfig struct {
	// Endpoint is the model server base URL.
	Endpoint string
	// CheckpointPath is the checkpoint directory on the sidecar host.
	CheckpointPath string
	// APIKey is an optional bearer token.
	APIKey string
}

// NewModelServer constructs a ModelServer from the given config.
func NewModelServer(cfg *ModelServerConfig) *ModelServer {
	return &ModelServer{
		endpoint:       cfg.Endpoint,
		checkpointPath: cfg.CheckpointPath,
		apiKey:         cfg.APIKey,
		client:         &http.Client{Timeout: 60 * time.Second},
		fitClient:      &http.Client{},
	}
}

// encodeRequest is the JSON body sent to the /encode endpoint.
type encodeRequest struct {
	Texts []string `json:"texts"`
}

// encodeResponse is the JSON body returned from the /encode endpoint.
type encodeResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice. Rows are re-normalized
// client-side so downstream distance math never sees an unnormalized vector.
func (m *ModelServer) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var result encodeResponse
	if err := m.post(ctx, m.client, "/encode", encodeRequest{Texts: texts}, &result); err != nil {
		return nil, fmt.Errorf("embedder: encode: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("embedder: encode: %s", result.Error)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	return Normalize(result.Embeddings), nil
}

// fitRequest is the JSON body sent to the /fit endpoint. The sidecar trains
// into a scratch directory and moves the result over CheckpointPath only
// after the fit succeeds, so a failed fit never clobbers the old checkpoint.
type fitRequest struct {
	Pairs          []TrainingPair `json:"pairs"`
	CheckpointPath string         `json:"checkpoint_path"`
}

// statusResponse is the JSON body returned from /fit and /reload.
type statusResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Fit trains the model on the given pairs. Blocks until the sidecar has
// atomically replaced the checkpoint or reports failure.
func (m *ModelServer) Fit(ctx context.Context, pairs []TrainingPair) error {
	var result statusResponse
	if err := m.post(ctx, m.fitClient, "/fit", fitRequest{Pairs: pairs, CheckpointPath: m.checkpointPath}, &result); err != nil {
		return fmt.Errorf("embedder: fit: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("embedder: fit: %s", result.Error)
	}
	return nil
}

// reloadRequest is the JSON body sent to the /reload endpoint.
type reloadRequest struct {
	CheckpointPath string `json:"checkpoint_path"`
}

// Reload swaps the sidecar's serving weights to the current checkpoint.
func (m *ModelServer) Reload(ctx context.Context) error {
	var result statusResponse
	if err := m.post(ctx, m.client, "/reload", reloadRequest{CheckpointPath: m.checkpointPath}, &result); err != nil {
		return fmt.Errorf("embedder: reload: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("embedder: reload: %s", result.Error)
	}
	return nil
}

// Ping checks model server reachability; used by the readiness probe.
func (m *ModelServer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("embedder: ping: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedder: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedder: ping: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Name returns the probe label for readiness responses.
func (m *ModelServer) Name() string { return "model-server" }

// post issues a JSON POST and decodes the JSON response into out.
// Non-2xx statuses are errors; the decoded body's error field (if present)
// takes priority in the message.
func (m *ModelServer) post(ctx context.Context, client *http.Client, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
