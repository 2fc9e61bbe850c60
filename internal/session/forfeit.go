package session

import "time"

// ForfeitTimers records when each primary role lost its connection.
type ForfeitTimers struct {
	since map[string]time.Time
}

func NewForfeitTimers() *ForfeitTimers {
	return &ForfeitTimers{since: make(map[string]time.Time)}
}

// MarkDisconnected keeps the earliest timestamp if role is already marked.
func (f *ForfeitTimers) MarkDisconnected(role string, at time.Time) {
	if _, ok := f.since[role]; ok {
		return
	}
	f.since[role] = at
}

func (f *ForfeitTimers) Clear(role string) { delete(f.since, role) }

// Disconnected returns the marked roles in the order given.
func (f *ForfeitTimers) Disconnected(roles []string) []string {
	var out []string
	for _, r := range roles {
		if _, ok := f.since[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Expired returns, in the order given, the roles disconnected for at least grace.
func (f *ForfeitTimers) Expired(roles []string, now time.Time, grace time.Duration) []string {
	var out []string
	for _, r := range roles {
		if at, ok := f.since[r]; ok && now.Sub(at) >= grace {
			out = append(out, r)
		}
	}
	return out
}

func (f *ForfeitTimers) AllDisconnected(roles []string) bool {
	return len(roles) > 0 && len(f.Disconnected(roles)) == len(roles)
}
