// Gridwatch - Industrial Telemetry Console Client
// Copyright 2026 Gridwatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/gridwatch-io/client-go

// Package realtime implements the client side of the console's websocket
// channel: connection lifecycle, bounded reconnection, an outbound queue
// that survives disconnects, typed event dispatch, and transparent
// heartbeat handling.
//
// A Conn moves through four states: idle before first use, connecting while
// a dial is in flight, open while the transport is live, and closed after
// any termination. Reconnection happens only after an unclean closure,
// at a fixed interval, and stops with ErrReconnectExhausted once the
// configured attempt limit is reached. A user-initiated Disconnect never
// reconnects.
//
// Messages sent while the channel is not open are queued and flushed in
// enqueue order immediately after the next successful open, ahead of any
// message sent afterwards.
//
// Errors never escape Connect; callers observe State and Err or subscribe
// to events instead:
//
//	conn := realtime.NewConn(cfg, mgr.Credential)
//	off := conn.On("telemetry", func(ev realtime.Event) { ... })
//	defer off()
//	conn.Connect()
package realtime
