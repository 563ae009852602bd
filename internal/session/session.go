// Package session holds relay session state. It handles session creation,
// lookup, status transitions, and time-based eviction of short-lived sessions
// kept in memory or in Redis.
package session
