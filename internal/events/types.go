// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the in-process pub/sub bus that fans runtime
// events out to WebSocket subscribers and to the digest/attention
// components. Durable event history lives in internal/store; this bus
// is the live-delivery path layered on top of it.
package events

import (
	"context"
	"time"
)

// Event is one runtime occurrence. SessionID is empty for events that
// are not scoped to a single session (e.g. orchestration-level events).
type Event struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"sessionId"`
	Payload   map[string]interface{} `json:"payload"`
}

// EventHandler processes received events.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// EventFilter narrows a History query.
type EventFilter struct {
	Kinds     []string // supports trailing "." prefix wildcards, e.g. "codex.native.approval."
	SessionID string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// EventBus is the core event pub/sub system.
type EventBus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a synchronous handler for events matching pattern.
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)

	// SubscribeAsync registers an async handler with a buffered channel.
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error

	// History retrieves past events matching filter.
	History(filter EventFilter) ([]Event, error)

	// Close shuts down the event bus gracefully.
	Close() error
}

// Event kinds. Mirrors the Event.kind vocabulary: session lifecycle
// and control events, tool-native passthrough events, and
// orchestration/attention routing events.
const (
	KindInput             = "input"
	KindInterrupt         = "interrupt"
	KindStop              = "stop"
	KindKill              = "kill"
	KindSessionCreated    = "session.created"
	KindSessionExit       = "session.exit"
	KindSessionToolLink   = "session.tool_link"
	KindSessionMeta       = "session.meta"
	KindSessionGit        = "session.git"
	KindProfileStartup       = "profile.startup"
	KindProfileStartupFailed = "profile.startup_failed"
	KindOrchestrationDispatch = "orchestration.dispatch"
	KindInboxRespond      = "inbox.respond"
	KindInboxDismiss      = "inbox.dismiss"
	KindInboxTimeout      = "inbox.timeout"
	KindCodexApproval        = "codex.approval"
	KindCodexNativeUserInput = "codex.native.user_input"
	KindCodexNativeApprovalPrefix = "codex.native.approval."
	KindClaudePermission     = "claude.permission"
	KindOrchestrationQuestionPrefix = "orchestration.question."
)

// PrefixKinds are the event kinds that match by prefix rather than by
// exact string equality, per the digest snapshot rule: only these (or
// their exact-kind siblings above) should ever churn a WorkerSnapshot.
var PrefixKinds = []string{
	KindCodexNativeApprovalPrefix,
	KindOrchestrationQuestionPrefix,
}
