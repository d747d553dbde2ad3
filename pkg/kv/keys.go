package kv

import "fmt"

// Key namespaces. Every cached object lives under one of these prefixes.
const (
	// BackgroundTasksKey is the sorted set feeding the memory workers.
	BackgroundTasksKey = "memory:background_tasks"

	// AlertsKey is the capped list of threshold breaches.
	AlertsKey = "performance:alerts"

	// MetricsListMax and AlertsListMax cap the performance lists.
	MetricsListMax int64 = 1000
	AlertsListMax  int64 = 100
)

// SessionKey addresses one websocket session record.
func SessionKey(sessionID string) string {
	return "session:" + sessionID
}

// PermissionsKey addresses a user's cached permission set.
func PermissionsKey(userID string) string {
	return "permissions:user:" + userID
}

// RolesKey addresses a user's cached role set.
func RolesKey(userID string) string {
	return "roles:user:" + userID
}

// ConversationKey addresses a conversation envelope.
func ConversationKey(threadID string) string {
	return "conversation:" + threadID
}

// ConversationTurnsKey addresses a conversation's ordered turn list.
func ConversationTurnsKey(threadID string) string {
	return "conversation:" + threadID + ":turns"
}

// ConversationPattern matches all conversation envelopes.
func ConversationPattern() string {
	return "conversation:*"
}

// MemoryContextKey addresses the hydrated memory context for a thread.
func MemoryContextKey(threadID string) string {
	return "memory_context:" + threadID
}

// CheckpointKey addresses one agent-graph checkpoint.
func CheckpointKey(threadID string, step int) string {
	return fmt.Sprintf("checkpoint:%s:%d", threadID, step)
}

// CheckpointPattern matches all checkpoints of a thread, the latest
// cursor included.
func CheckpointPattern(threadID string) string {
	return fmt.Sprintf("checkpoint:%s:*", threadID)
}

// CheckpointLatestKey addresses the cursor holding a thread's highest
// checkpoint step.
func CheckpointLatestKey(threadID string) string {
	return "checkpoint:" + threadID + ":latest"
}

// MetricsKey addresses one capped performance list.
func MetricsKey(name string) string {
	return "performance:metrics:" + name
}

// ConsolidationLockKey addresses the per-user consolidation lock.
func ConsolidationLockKey(userID string) string {
	return "memory:consolidation_lock:" + userID
}

// ConsolidationMarkKey addresses the marker that throttles consolidation
// scheduling to one queued task per user per interval.
func ConsolidationMarkKey(userID string) string {
	return "memory:consolidation_mark:" + userID
}
