// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client is the client side of the IPA event channel.
//
// A Manager owns one connection to the server. It waits for the server's
// session handshake before reporting CONNECTED, reconnects after a drop
// according to a ReconnectPolicy, and dispatches inbound events to
// subscribers in registration order. Requests are never buffered while
// disconnected.
//
// # Key Types
//
//   - Manager: connection lifecycle, requests and subscriptions
//   - View / ViewSnapshot: the view model rebuilt from events
//   - ReconnectPolicy: bounded exponential reconnection delays
//   - Transport / Conn: frame transport; WebsocketTransport for real use
//   - APIClient: REST fallback for document operations
//
// # Usage
//
//	m := client.NewManager(client.Options{Policy: client.DefaultReconnectPolicy()})
//	defer m.Close()
//	m.OnMessage(func(id string, r protocol.AIResponse) { fmt.Println(r.Text) })
//	if err := m.Connect(ctx, "http://localhost:3001"); err != nil {
//		return err
//	}
//	id, err := m.SendTurn("list my articles", nil)
package client
