package transport

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// RESTTransport talks to the router's HTTP API over TLS with Basic auth,
// reusing a single *http.Client (and therefore its pooled, effectively
// singular, keep-alive connection to one host) across every call.
// Grounded on digitalocean/go-openvswitch/ovsdb.Client's Dial/New/Close
// lifecycle and single-connection reuse, adapted from a raw net.Conn to
// Go's idiomatic http.Client for a REST backend.
type RESTTransport struct {
	baseURL  *url.URL
	user     string
	password string
	client   *http.Client

	mu sync.Mutex
}

// NewRESTTransport builds a REST transport against host:port. verifySSL
// controls certificate validation; routers with self-signed certs are a
// realistic deployment (§4.7 does not mandate a public CA).
func NewRESTTransport(host string, port int, user, password string, verifySSL bool, timeout time.Duration) *RESTTransport {
	base := &url.URL{Scheme: "https", Host: fmt.Sprintf("%s:%d", host, port)}
	return &RESTTransport{
		baseURL:  base,
		user:     user,
		password: password,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: !verifySSL},
				MaxIdleConnsPerHost: 1,
			},
		},
	}
}

func (t *RESTTransport) do(op, method, path string, body any) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u := *t.baseURL
	u.Path = path

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindTerminal, Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, u.String(), reader)
	if err != nil {
		return nil, &Error{Kind: KindTerminal, Op: op, Err: err}
	}
	req.SetBasicAuth(t.user, t.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindRetryable, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: KindRetryable, Op: op, Raw: respBody, Err: fmt.Errorf("router returned %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, &Error{Kind: KindRouterRejected, Op: op, Raw: respBody, Err: fmt.Errorf("router rejected request: %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: KindTerminal, Op: op, Raw: respBody, Err: fmt.Errorf("router returned %d", resp.StatusCode)}
	}
	return respBody, nil
}

func (t *RESTTransport) ReadStats(queueName string) (CakeStats, error) {
	raw, err := t.do("read_stats", http.MethodGet, "/api/qdisc/"+url.PathEscape(queueName), nil)
	if err != nil {
		return CakeStats{}, err
	}
	var stats CakeStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return CakeStats{}, &Error{Kind: KindTerminal, Op: "read_stats", Raw: raw, Err: fmt.Errorf("decode stats: %w", err)}
	}
	stats.QueueName = queueName
	return stats, nil
}

func (t *RESTTransport) SetRate(queueName string, direction Direction, mbps float64) error {
	body := map[string]any{"direction": string(direction), "rate_mbps": mbps}
	_, err := t.do("set_rate", http.MethodPost, "/api/qdisc/"+url.PathEscape(queueName)+"/rate", body)
	return err
}

func (t *RESTTransport) EnableRule(ruleID string) error {
	_, err := t.do("enable_rule", http.MethodPost, "/api/rules/"+url.PathEscape(ruleID)+"/enable", nil)
	return err
}

func (t *RESTTransport) DisableRule(ruleID string) error {
	_, err := t.do("disable_rule", http.MethodPost, "/api/rules/"+url.PathEscape(ruleID)+"/disable", nil)
	return err
}

func (t *RESTTransport) Ping(host string, count int, sourceInterface string, timeout time.Duration) (PingResult, error) {
	body := map[string]any{"host": host, "count": count, "source_interface": sourceInterface, "timeout_ms": timeout.Milliseconds()}
	raw, err := t.do("ping", http.MethodPost, "/api/ping", body)
	if err != nil {
		return PingResult{}, err
	}
	var result PingResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return PingResult{}, &Error{Kind: KindTerminal, Op: "ping", Raw: raw, Err: fmt.Errorf("decode ping result: %w", err)}
	}
	return result, nil
}

func (t *RESTTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
