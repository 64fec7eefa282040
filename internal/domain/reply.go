package domain

// ReplyMode selects who issues the final reply for an event.
type ReplyMode string

const (
	// ReplyModeUnified has the gateway query a backend and reply itself.
	ReplyModeUnified ReplyMode = "unified"
	// ReplyModeDelegateOld forwards the raw webhook to the legacy backend,
	// which replies using the forwarded token.
	ReplyModeDelegateOld ReplyMode = "delegate_old"
	// ReplyModeDelegateNew forwards the raw webhook to the modern backend,
	// which replies using the forwarded token.
	ReplyModeDelegateNew ReplyMode = "delegate_new"
)

// Valid reports whether m is a recognized reply mode.
func (m ReplyMode) Valid() bool {
	switch m {
	case ReplyModeUnified, ReplyModeDelegateOld, ReplyModeDelegateNew:
		return true
	}
	return false
}

// BackendStatus classifies the outcome of forwarding an event to a backend.
type BackendStatus string

const (
	// BackendOk means the backend produced reply text for the gateway to send.
	BackendOk BackendStatus = "ok"
	// BackendDelegated means the raw webhook was handed to a backend that now
	// owns the reply token; the gateway must not reply.
	BackendDelegated BackendStatus = "delegated"
	// BackendRejected means the backend refused the request (4xx or
	// success=false). Not retried.
	BackendRejected BackendStatus = "rejected"
	// BackendUnavailable means the retry budget was exhausted on timeouts,
	// transport errors, or 5xx responses.
	BackendUnavailable BackendStatus = "unavailable"
	// BackendSkipped means nothing was forwarded (destination "none" or no
	// backend URL configured).
	BackendSkipped BackendStatus = "skipped"
)

// BackendResult is the forwarder's verdict for one event.
type BackendResult struct {
	Status    BackendStatus
	Target    Destination // which backend was (or would have been) called
	ReplyText string      // set when Status == BackendOk
	Detail    string      // diagnostic detail for logs and the audit record
}

// ReplySource identifies which path produced the delivered reply.
type ReplySource string

const (
	SourceUnifiedBackend  ReplySource = "unified-backend"
	SourceLegacyDelegated ReplySource = "legacy-delegated"
	SourceModernDelegated ReplySource = "modern-delegated"
	SourceFallbackError   ReplySource = "fallback-error"
)

// ReplyState is the coordinator's terminal-state machine for one event.
type ReplyState string

const (
	ReplyPending         ReplyState = "pending"
	RepliedByCoordinator ReplyState = "replied"
	DelegatedExternally  ReplyState = "delegated"
	FailedTerminal       ReplyState = "failed"
)

// ReplyIntent is the single permitted outbound reply for an event.
// At most one intent per event ID ever reaches Delivered.
type ReplyIntent struct {
	EventID   string
	Text      string
	Source    ReplySource
	Delivered bool
}
