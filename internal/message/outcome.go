package message

// Reason explains why a delivery was rejected.
type Reason int

// Rejection reasons.
const (
	ReasonNone Reason = iota
	ReasonMissingChecksumHeader
	ReasonWriteFailure
	ReasonChecksumMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonMissingChecksumHeader:
		return "missing_checksum_header"
	case ReasonWriteFailure:
		return "write_failure"
	case ReasonChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "none"
	}
}

// Action is the broker acknowledgment an outcome maps to.
type Action int

// Broker acknowledgment actions.
const (
	ActionAck Action = iota
	ActionNack
)

func (a Action) String() string {
	if a == ActionAck {
		return "ack"
	}
	return "nack"
}

// Outcome is the result of handling one Inbound message. It holds either an
// accepted path and checksum or a rejection reason, never both; build it with
// Accept or Reject.
type Outcome struct {
	accepted bool
	reason   Reason

	// Path is the resolved output path, empty when resolution failed.
	Path string
	// Checksum is the hash computed over the content, when one was computed.
	Checksum string
	// Expected is the sha_hash header value, when present.
	Expected string
	// Err is the underlying failure for rejections caused by an error.
	Err error
}

// Accept builds an accepted outcome.
func Accept(path, checksum string) Outcome {
	return Outcome{accepted: true, Path: path, Checksum: checksum, Expected: checksum}
}

// Reject builds a rejected outcome. ReasonNone is promoted to
// ReasonWriteFailure so every rejection carries a concrete reason.
func Reject(reason Reason, path, checksum, expected string, err error) Outcome {
	if reason == ReasonNone {
		reason = ReasonWriteFailure
	}
	return Outcome{reason: reason, Path: path, Checksum: checksum, Expected: expected, Err: err}
}

// Accepted reports whether the delivery was accepted.
func (o Outcome) Accepted() bool { return o.accepted }

// Reason returns the rejection reason, ReasonNone when accepted.
func (o Outcome) Reason() Reason { return o.reason }

// Action maps the outcome onto exactly one broker action.
func (o Outcome) Action() Action {
	if o.accepted {
		return ActionAck
	}
	return ActionNack
}

func (o Outcome) String() string {
	if o.accepted {
		return "accepted " + o.Path + " (" + o.Checksum + ")"
	}
	return "rejected: " + o.reason.String()
}
