package transport

import "fmt"

// Kind classifies a transport-level failure so callers can decide whether
// to retry without a type assertion, mirroring go-openvswitch's
// IsPortNotExist idiom.
type Kind int

const (
	// KindRetryable covers network blips, timeouts, and 5xx responses —
	// the caller's current tick should retry once, per §4.7/§7.
	KindRetryable Kind = iota
	// KindTerminal covers auth failures, bad config, and host-key
	// mismatches — retrying will not help.
	KindTerminal
	// KindRouterRejected covers a well-formed request the router refused
	// (e.g. unknown queue name, malformed rule id).
	KindRouterRejected
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindTerminal:
		return "terminal"
	case KindRouterRejected:
		return "router_rejected"
	default:
		return "unknown"
	}
}

// Error is the single typed error every transport.RouterTransport
// implementation returns for a failed operation. It carries the raw
// response/output alongside a Kind so callers branch with the Is*
// predicates below instead of type-switching on transport internals.
// Grounded on digitalocean/go-openvswitch's ovs.Error{Out, Err}.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "set_rate", "read_stats".
	Op string
	// Raw is the raw response body or command output, for logging.
	Raw []byte
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s (%s): %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a *Error whose Kind is KindRetryable.
func IsRetryable(err error) bool {
	terr, ok := err.(*Error)
	return ok && terr.Kind == KindRetryable
}

// IsTerminal reports whether err is a *Error whose Kind is KindTerminal.
func IsTerminal(err error) bool {
	terr, ok := err.(*Error)
	return ok && terr.Kind == KindTerminal
}

// IsRouterRejected reports whether err is a *Error whose Kind is
// KindRouterRejected.
func IsRouterRejected(err error) bool {
	terr, ok := err.(*Error)
	return ok && terr.Kind == KindRouterRejected
}
