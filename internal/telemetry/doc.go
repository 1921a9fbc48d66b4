// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides turn analytics for the IPA server.
//
// A TurnTracker observes session state transitions and derives per-turn
// outcomes and model latency from them. Nothing is persisted and no turn
// content is recorded.
//
// # Usage
//
//	tracker := telemetry.NewTurnTracker()
//	coordinator.WithTransitionHook(tracker.Observe)
//
//	stats := tracker.Snapshot()
//	fmt.Printf("%d turns, avg %dms\n", stats.Accepted, stats.AvgLatencyMs)
package telemetry
