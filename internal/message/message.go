// Package message provides the data structures exchanged between the broker
// session, the delivery handler and the receipt sinks.
package message

import (
	"fmt"
	"sort"
	"strconv"
)

// Payload is the canonical alias for raw message body
type Payload = []byte

// Recognised header keys.
const (
	HeaderChecksum = "sha_hash"
	HeaderFilename = "filename"
	HeaderType     = "type"
)

// Headers carries the string-valued delivery headers.
type Headers map[string]string

// Get returns the header value and whether it was present.
func (h Headers) Get(key string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h[key]
	return v, ok
}

// Keys returns the header names in sorted order.
func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HeadersFromTable converts a broker header table into Headers. String and
// byte values are copied as is; other scalar values use their decimal or
// default formatting. Nested tables and arrays are dropped.
func HeadersFromTable(table map[string]interface{}) Headers {
	if table == nil {
		return nil
	}
	headers := make(Headers, len(table))
	for k, v := range table {
		switch val := v.(type) {
		case string:
			headers[k] = val
		case []byte:
			headers[k] = string(val)
		case int:
			headers[k] = strconv.Itoa(val)
		case int8, int16, int32, int64, uint8, uint16, uint32, uint64:
			headers[k] = fmt.Sprintf("%d", val)
		case bool:
			headers[k] = strconv.FormatBool(val)
		case float32, float64:
			headers[k] = fmt.Sprintf("%v", val)
		}
	}
	return headers
}

// Inbound is one broker delivery. It is handled exactly once.
type Inbound struct {
	Content     Payload
	Headers     Headers
	DeliveryTag uint64
	AppID       string
	Redelivered bool
}
