// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

package realtime

import (
	"github.com/goccy/go-json"
)

// Reserved wire message types. Heartbeats are answered by the Conn itself
// and never reach registered listeners.
const (
	TypePing = "ping"
	TypePong = "pong"
	TypeAuth = "auth"

	// TypeRaw is the dispatch type for payloads that could not be decoded
	// as a typed message. They are forwarded, not dropped.
	TypeRaw = "raw"
)

// Message is the channel's wire envelope.
type Message struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Token string          `json:"token,omitempty"`
}

// Event is what listeners receive.
type Event struct {
	// Type is the message type, or TypeRaw for undecodable payloads.
	Type string

	// Data is the typed payload, nil for raw events.
	Data json.RawMessage

	// Raw is the full frame as received. Always set.
	Raw []byte
}

// encodeOutbound serializes an outbound value. Strings and byte slices pass
// through unchanged; everything else is JSON-encoded.
func encodeOutbound(v any) ([]byte, error) {
	switch msg := v.(type) {
	case []byte:
		return msg, nil
	case string:
		return []byte(msg), nil
	case json.RawMessage:
		return msg, nil
	default:
		return json.Marshal(v)
	}
}
