// Package jsonfast is a small append-only JSON object builder for fixed
// schemas such as delivery receipts.
package jsonfast

import (
	"strconv"
	"time"
)

// Builder appends one flat JSON object into a reusable byte slice.
// It is not a general-purpose encoder: field names are written unescaped.
type Builder struct {
	buf    []byte
	opened bool
	first  bool
}

// New creates a new builder with initial capacity.
func New(capacity int) *Builder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Builder{
		buf:   make([]byte, 0, capacity),
		first: true,
	}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.opened = false
	b.first = true
}

// Bytes returns the underlying buffer. It is reused after Reset.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// BeginObject starts a JSON object.
func (b *Builder) BeginObject() {
	b.buf = append(b.buf, '{')
	b.opened = true
	b.first = true
}

// EndObject ends a JSON object.
func (b *Builder) EndObject() {
	if !b.opened {
		b.BeginObject()
	}
	b.buf = append(b.buf, '}')
	b.opened = false
}

// AddStringField adds a "name":"value" string field with escaping.
func (b *Builder) AddStringField(name, value string) {
	b.key(name)
	b.buf = append(b.buf, '"')
	b.escapeString(value)
	b.buf = append(b.buf, '"')
}

// AddIntField adds a "name":int field.
func (b *Builder) AddIntField(name string, v int) {
	b.key(name)
	b.buf = strconv.AppendInt(b.buf, int64(v), 10)
}

// AddUintField adds a "name":uint field.
func (b *Builder) AddUintField(name string, v uint64) {
	b.key(name)
	b.buf = strconv.AppendUint(b.buf, v, 10)
}

// AddBoolField adds a "name":true|false field.
func (b *Builder) AddBoolField(name string, v bool) {
	b.key(name)
	b.buf = strconv.AppendBool(b.buf, v)
}

// AddTimeRFC3339Field adds a "name":"YYYY-MM-DDTHH:MM:SSZ" field in UTC.
func (b *Builder) AddTimeRFC3339Field(name string, t time.Time) {
	b.key(name)
	b.buf = append(b.buf, '"')
	b.buf = t.UTC().AppendFormat(b.buf, "2006-01-02T15:04:05Z")
	b.buf = append(b.buf, '"')
}

func (b *Builder) key(name string) {
	b.sep()
	b.buf = append(b.buf, '"')
	b.buf = append(b.buf, name...)
	b.buf = append(b.buf, '"', ':')
}

func (b *Builder) sep() {
	if !b.opened {
		b.BeginObject()
		b.first = false
		return
	}
	if b.first {
		b.first = false
		return
	}
	b.buf = append(b.buf, ',')
}

// escapeString escapes JSON special characters.
func (b *Builder) escapeString(s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.buf = append(b.buf, '\\', c)
		case '\n':
			b.buf = append(b.buf, '\\', 'n')
		case '\r':
			b.buf = append(b.buf, '\\', 'r')
		case '\t':
			b.buf = append(b.buf, '\\', 't')
		default:
			if c < 0x20 {
				b.buf = append(b.buf, '\\', 'u', '0', '0', hex[c>>4], hex[c&0x0f])
			} else {
				b.buf = append(b.buf, c)
			}
		}
	}
}

const hex = "0123456789abcdef"
