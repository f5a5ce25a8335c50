package orchestrator

import (
	"fmt"
	"sync"
)

// ProgressReporter emits step events through a buffered channel.
type ProgressReporter struct {
	mu     sync.Mutex
	ch     chan ProgressEvent
	closed bool
}

// NewProgressReporter creates a ProgressReporter with a buffered channel of size 64.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		ch: make(chan ProgressEvent, 64),
	}
}

// Emit sends a progress event in a non-blocking fashion.
// If the channel is full or the reporter is closed, the event is dropped.
func (pr *ProgressReporter) Emit(event ProgressEvent) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.closed {
		return
	}
	select {
	case pr.ch <- event:
	default:
	}
}

// Subscribe returns a read-only channel for consuming progress events.
func (pr *ProgressReporter) Subscribe() <-chan ProgressEvent {
	return pr.ch
}

// Close closes the progress event channel. Safe to call more than once.
func (pr *ProgressReporter) Close() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.closed {
		return
	}
	pr.closed = true
	close(pr.ch)
}

// FormatProgress formats a ProgressEvent as a human-readable status line.
func FormatProgress(event ProgressEvent) string {
	switch event.Status {
	case ProgressPending:
		return fmt.Sprintf("  ○ %s (pending)", event.Step)
	case ProgressWorking:
		return fmt.Sprintf("  ● %s...", event.Step)
	case ProgressComplete:
		if event.JobID != 0 {
			return fmt.Sprintf("  ✓ %s complete (storybook %d)", event.Step, event.JobID)
		}
		return fmt.Sprintf("  ✓ %s complete", event.Step)
	case ProgressFailed:
		return fmt.Sprintf("  ✗ %s failed: %s", event.Step, event.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", event.Step)
	}
}
