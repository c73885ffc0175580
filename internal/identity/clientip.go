package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// fallbackIPAddress is recorded when the origin cannot be determined.
const fallbackIPAddress = "0.0.0.0"

// IPLookup resolves the client's public network address, best-effort.
type IPLookup interface {
	PublicIP(ctx context.Context) string
}

// HTTPIPLookup queries a public IP endpoint returning {"ip": "..."} JSON.
// Failures of any kind yield the sentinel address.
type HTTPIPLookup struct {
	URL    string
	Client *http.Client
}

// NewHTTPIPLookup constructs a lookup with a bounded request timeout.
func NewHTTPIPLookup(url string) *HTTPIPLookup {
	return &HTTPIPLookup{
		URL:    url,
		Client: &http.Client{Timeout: 3 * time.Second},
	}
}

func (l *HTTPIPLookup) PublicIP(ctx context.Context) string {
	if l == nil || l.URL == "" {
		return fallbackIPAddress
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return fallbackIPAddress
	}
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fallbackIPAddress
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fallbackIPAddress
	}
	var payload struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.IP == "" {
		return fallbackIPAddress
	}
	return payload.IP
}
