package domain

import "errors"

// Sentinel errors for the session/subscription reconciliation engine.
var (
	ErrShutdownRequested     = errors.New("opcgw: shutdown requested")
	ErrSessionNotConnected   = errors.New("opcgw: session not connected")
	ErrSessionTerminal       = errors.New("opcgw: session is shut down; no further operations are legal")
	ErrDuplicatePublishing   = errors.New("opcgw: node is already published in this session")
	ErrEndpointNotFound      = errors.New("opcgw: no session registered for endpoint")
	ErrNamespaceURINotFound  = errors.New("opcgw: namespace URI not present in namespace table")
	ErrNamespaceIndexInvalid = errors.New("opcgw: namespace index out of range")
	ErrConfigReadFailed      = errors.New("opcgw: failed to read node configuration file")
	ErrInvalidConfigEntry    = errors.New("opcgw: invalid configuration entry")
	ErrNoIdentitySupplied    = errors.New("opcgw: neither NodeId nor ExpandedNodeId supplied")
)

// ServiceFault classifies an OPC UA service-result failure returned by the
// client contract (§6/§7). The core switches on fault class, never on the
// raw status code, so the OPC client adapter is the only place that needs
// to know the real gopcua status constants.
type ServiceFault int

const (
	// FaultNone indicates the call succeeded.
	FaultNone ServiceFault = iota
	// FaultSessionInvalid corresponds to BadSessionIdInvalid: the session
	// is dead and must be torn down.
	FaultSessionInvalid
	// FaultNodeUnknown corresponds to BadNodeIdInvalid/BadNodeIdUnknown: a
	// permanent, node-specific configuration error.
	FaultNodeUnknown
	// FaultOther is any other service-result failure: transient, log and
	// continue with the next item.
	FaultOther
)

// ServiceError pairs a ServiceFault classification with the underlying error
// returned by the OPC client adapter, so callers can log the detail while
// switching on the classification.
type ServiceError struct {
	Fault ServiceFault
	Err   error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return "opcgw: service fault"
	}
	return e.Err.Error()
}

func (e *ServiceError) Unwrap() error { return e.Err }
