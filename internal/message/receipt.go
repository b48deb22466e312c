package message

import (
	"time"

	"github.com/ibs-source/hoover-consumer/pkg/jsonfast"
)

// Receipt records one handled delivery for downstream observers.
type Receipt struct {
	Session     string
	DeliveryTag uint64
	Action      Action
	Accepted    bool
	Reason      Reason
	Path        string
	Checksum    string
	Expected    string
	Filename    string
	Type        string
	Size        int
	HandledAt   time.Time
}

// NewReceipt builds the receipt for an outcome.
func NewReceipt(session string, msg Inbound, outcome Outcome, at time.Time) Receipt {
	filename, _ := msg.Headers.Get(HeaderFilename)
	category, _ := msg.Headers.Get(HeaderType)
	return Receipt{
		Session:     session,
		DeliveryTag: msg.DeliveryTag,
		Action:      outcome.Action(),
		Accepted:    outcome.Accepted(),
		Reason:      outcome.Reason(),
		Path:        outcome.Path,
		Checksum:    outcome.Checksum,
		Expected:    outcome.Expected,
		Filename:    filename,
		Type:        category,
		Size:        len(msg.Content),
		HandledAt:   at,
	}
}

// Fields returns the receipt as flat string fields, the shape stored in a
// Redis stream entry.
func (r Receipt) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"session":      r.Session,
		"delivery_tag": r.DeliveryTag,
		"action":       r.Action.String(),
		"accepted":     r.Accepted,
		"path":         r.Path,
		"checksum":     r.Checksum,
		"expected":     r.Expected,
		"size":         r.Size,
		"handled_at":   r.HandledAt.UTC().Format(time.RFC3339),
	}
	if !r.Accepted {
		fields["reason"] = r.Reason.String()
	}
	if r.Filename != "" {
		fields["filename"] = r.Filename
	}
	if r.Type != "" {
		fields["type"] = r.Type
	}
	return fields
}

// JSON encodes the receipt with a fixed field order.
func (r Receipt) JSON() []byte {
	b := jsonfast.New(256 + len(r.Path))
	b.BeginObject()
	b.AddStringField("session", r.Session)
	b.AddUintField("delivery_tag", r.DeliveryTag)
	b.AddStringField("action", r.Action.String())
	b.AddBoolField("accepted", r.Accepted)
	if !r.Accepted {
		b.AddStringField("reason", r.Reason.String())
	}
	b.AddStringField("path", r.Path)
	b.AddStringField("checksum", r.Checksum)
	b.AddStringField("expected", r.Expected)
	if r.Filename != "" {
		b.AddStringField("filename", r.Filename)
	}
	if r.Type != "" {
		b.AddStringField("type", r.Type)
	}
	b.AddIntField("size", r.Size)
	b.AddTimeRFC3339Field("handled_at", r.HandledAt)
	b.EndObject()

	out := make([]byte, len(b.Bytes()))
	copy(out, b.Bytes())
	return out
}
