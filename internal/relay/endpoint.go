package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NetworkHeader names the target network of a POST /relay request.
const NetworkHeader = "x-network-id"

// Request is the body of POST /relay.
type Request struct {
	Txs []string `json:"txs"`
}

// Endpoint is a client of the relay submission endpoint.
type Endpoint struct {
	BaseURL   string
	NetworkID string
	HTTP      *http.Client
}

func NewEndpoint(baseURL, networkID string) *Endpoint {
	// one round waits for the target block, allow a few
	return &Endpoint{BaseURL: strings.TrimRight(baseURL, "/"), NetworkID: networkID, HTTP: &http.Client{Timeout: 2 * time.Minute}}
}

// Relay posts txs and decodes the response. Non-2xx statuses other than the
// relay's 203 are errors.
func (e *Endpoint) Relay(ctx context.Context, txs []string) (Response, error) {
	body, err := json.Marshal(Request{Txs: txs})
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/relay", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(NetworkHeader, e.NetworkID)
	resp, err := e.HTTP.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("post relay: %w", err)
	}
	defer resp.Body.Close()
	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var bad struct {
			Reason string `json:"reason"`
		}
		if json.Unmarshal(rb, &bad) == nil && bad.Reason != "" {
			return Response{}, fmt.Errorf("relay: %s (status %d)", bad.Reason, resp.StatusCode)
		}
		return Response{}, fmt.Errorf("relay: status %d: %s", resp.StatusCode, strings.TrimSpace(string(rb)))
	}
	var out Response
	if err := json.Unmarshal(rb, &out); err != nil {
		return Response{}, fmt.Errorf("decode relay response: %w", err)
	}
	return out, nil
}
