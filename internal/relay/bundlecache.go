package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrBundleNotFound = errors.New("bundle not found in relay cache")

// BundleCache reads back the signed transactions the scoped RPC cached for a bundle id.
type BundleCache struct {
	BaseURL string
	HTTP    *http.Client
}

func NewBundleCache(baseURL string) *BundleCache {
	return &BundleCache{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: 15 * time.Second}}
}

// ScopedRPC is the wallet RPC URL that caches transactions under bundleID.
func (c *BundleCache) ScopedRPC(bundleID string) string {
	return c.BaseURL + "?bundle=" + url.QueryEscape(bundleID)
}

// Fetch returns the cached raw transactions in submission order. The cache
// lists them newest first, so the list is reversed.
func (c *BundleCache) Fetch(ctx context.Context, bundleID string) ([]string, error) {
	u := c.BaseURL + "/bundle?id=" + url.QueryEscape(bundleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle %s: %w", bundleID, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrBundleNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch bundle %s: status %d: %s", bundleID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		RawTxs []string `json:"rawTxs"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", bundleID, err)
	}
	if len(out.RawTxs) == 0 {
		return nil, ErrBundleNotFound
	}
	txs := make([]string, len(out.RawTxs))
	for i, tx := range out.RawTxs {
		txs[len(txs)-1-i] = tx
	}
	return txs, nil
}
