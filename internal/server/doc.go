// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the IPA article store and conversational sessions
// over HTTP.
//
// # Endpoints
//
// Every REST route is also mounted under /api.
//
//   - GET    /health            - Liveness, model name, session and turn counters
//   - GET    /stats             - Article count and sizes
//   - GET    /articles          - List article names
//   - POST   /articles          - Create an article
//   - GET    /articles/{name}   - Read an article
//   - PUT    /articles/{name}   - Replace an article
//   - DELETE /articles/{name}   - Delete an article
//   - GET    /ws                - Event channel, one session per connection
//
// # Event Channel
//
// Frames are JSON envelopes {"event","id","data"}. Replies echo the id of
// the request that caused them. Inbound events are send_message,
// get_articles, get_article, delete_article and save_article.
//
// # Middleware
//
// Requests pass through panic recovery, security headers, request logging,
// CORS and a per-IP rate limit, in that order.
//
// # Usage
//
//	srv := server.New(cfg, gw, store, logger)
//	go srv.Watch(ctx)
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package server
