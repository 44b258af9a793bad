package terminals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Readiness is what a terminal container's status endpoint reports.
type Readiness struct {
	Status    string `json:"status"`
	TunnelURL string `json:"tunnel_url"`
}

// Ready requires both an explicit ready signal and a tunnel URL.
func (r *Readiness) Ready() bool {
	return r != nil && r.Status == "ready" && r.TunnelURL != ""
}

// Prober fetches readiness from a container.
type Prober interface {
	Probe(ctx context.Context, url string) (*Readiness, error)
}

type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{client: &http.Client{Timeout: 5 * time.Second}}
}

func (p *HTTPProber) Probe(ctx context.Context, url string) (*Readiness, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	var r Readiness
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &r, nil
}

// readinessURL addresses the container by name on the shared network, or
// through its published host port when configured to. Docker containers
// outside a named network are only reachable by host port.
func (s *Service) readinessURL(name, hostEndpoint string) string {
	path := s.opts.ReadinessPath
	if path == "" {
		path = "/status"
	}
	viaHost := s.opts.PollViaHostPort ||
		(s.opts.DockerNetwork == "" && s.driver != nil && s.driver.BackendName() == "docker")
	if viaHost && hostEndpoint != "" {
		host := hostEndpoint
		if !strings.Contains(host, ":") {
			host = "localhost:" + host
		}
		return "http://" + host + path
	}
	return fmt.Sprintf("http://%s:%d%s", name, s.opts.ContainerPort, path)
}
