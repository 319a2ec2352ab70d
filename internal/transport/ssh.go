package transport

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHTransport drives the router over a single multiplexed SSH connection
// (one session channel per command), sending newline-terminated
// statements and parsing the line-oriented
// reply. Only passwordless key auth is supported per §4.7.
type SSHTransport struct {
	client *ssh.Client

	mu sync.Mutex
}

// NewSSHTransport dials host:port, authenticating with the private key at
// keyPath and validating the host key against knownHostsPath. A host-key
// mismatch is a terminal error — it is never retried.
func NewSSHTransport(host string, port int, user, keyPath, knownHostsPath string, timeout time.Duration) (*SSHTransport, error) {
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &Error{Kind: KindTerminal, Op: "dial", Err: fmt.Errorf("read ssh key %s: %w", keyPath, err)}
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, &Error{Kind: KindTerminal, Op: "dial", Err: fmt.Errorf("parse ssh key %s: %w", keyPath, err)}
	}

	hostKeyCallback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, &Error{Kind: KindTerminal, Op: "dial", Err: fmt.Errorf("load known_hosts %s: %w", knownHostsPath, err)}
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		if strings.Contains(err.Error(), "host key mismatch") || strings.Contains(err.Error(), "knownhosts") {
			return nil, &Error{Kind: KindTerminal, Op: "dial", Err: err}
		}
		return nil, &Error{Kind: KindRetryable, Op: "dial", Err: err}
	}

	return &SSHTransport{client: client}, nil
}

// run opens one session for a single command, per §4.7's "single
// multiplexed session" — the underlying *ssh.Client connection is reused
// across calls; only the lightweight session channel is per-command.
func (t *SSHTransport) run(op, command string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, err := t.client.NewSession()
	if err != nil {
		return "", &Error{Kind: KindRetryable, Op: op, Err: fmt.Errorf("open session: %w", err)}
	}
	defer session.Close()

	out, err := session.CombinedOutput(command)
	if err != nil {
		if _, ok := err.(*ssh.ExitError); ok {
			return string(out), &Error{Kind: KindRouterRejected, Op: op, Raw: out, Err: err}
		}
		return "", &Error{Kind: KindRetryable, Op: op, Raw: out, Err: err}
	}
	return string(out), nil
}

func (t *SSHTransport) ReadStats(queueName string) (CakeStats, error) {
	out, err := t.run("read_stats", fmt.Sprintf("queue print detail [find name=%s]", queueName))
	if err != nil {
		return CakeStats{}, err
	}
	stats := CakeStats{QueueName: queueName}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		switch fields[0] {
		case "backlog_packets":
			stats.BacklogPackets, _ = strconv.ParseUint(fields[1], 10, 64)
		case "dropped_packets":
			stats.DroppedPackets, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	return stats, nil
}

func (t *SSHTransport) SetRate(queueName string, direction Direction, mbps float64) error {
	// The queue object's max-limit carries both directions at once; this
	// loop only knows one side per call, so it rewrites just that side's
	// half of the field rather than both.
	_, err := t.run("set_rate", fmt.Sprintf("queue set [find name=%s] max-limit-%s=%.2fM", queueName, direction, mbps))
	return err
}

func (t *SSHTransport) EnableRule(ruleID string) error {
	_, err := t.run("enable_rule", fmt.Sprintf("steering-rule enable %s", ruleID))
	return err
}

func (t *SSHTransport) DisableRule(ruleID string) error {
	_, err := t.run("disable_rule", fmt.Sprintf("steering-rule disable %s", ruleID))
	return err
}

func (t *SSHTransport) Ping(host string, count int, sourceInterface string, timeout time.Duration) (PingResult, error) {
	cmd := fmt.Sprintf("ping -c %d -W %d", count, int(timeout.Seconds()))
	if sourceInterface != "" {
		cmd += " -I " + sourceInterface
	}
	cmd += " " + host

	out, err := t.run("ping", cmd)
	if err != nil {
		return PingResult{}, err
	}
	return PingResult{SamplesMs: parsePingTimes(out)}, nil
}

func parsePingTimes(out string) []float64 {
	var samples []float64
	for _, line := range strings.Split(out, "\n") {
		idx := strings.Index(line, "time=")
		if idx < 0 {
			continue
		}
		rest := line[idx+len("time="):]
		end := strings.IndexAny(rest, " \t")
		if end >= 0 {
			rest = rest[:end]
		}
		if v, err := strconv.ParseFloat(rest, 64); err == nil {
			samples = append(samples, v)
		}
	}
	return samples
}

func (t *SSHTransport) Close() error {
	return t.client.Close()
}
