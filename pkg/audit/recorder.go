package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Event is a single immutable audit record. Events are hash-chained: each
// event's hash covers the previous event's hash, so rewriting history breaks
// the chain.
type Event struct {
	Timestamp    string `json:"timestamp"`
	Actor        string `json:"actor"`
	Action       string `json:"action"`
	Entity       string `json:"entity"`
	Before       string `json:"before,omitempty"`
	After        string `json:"after,omitempty"`
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
}

// Recorder appends hash-chained audit events for state transitions.
type Recorder struct {
	mu           sync.Mutex
	previousHash string
	events       []*Event
}

// NewRecorder creates a Recorder initialized with a zero hash.
func NewRecorder() *Recorder {
	return &Recorder{
		previousHash: strings.Repeat("0", 64),
	}
}

// Record appends one event. Before and after are serialized to JSON; a nil
// snapshot is recorded as empty.
func (r *Recorder) Record(actor, action, entity string, before, after any) (*Event, error) {
	beforeJSON, err := snapshotJSON(before)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize before snapshot: %w", err)
	}
	afterJSON, err := snapshotJSON(after)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize after snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	event := &Event{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Actor:        actor,
		Action:       action,
		Entity:       entity,
		Before:       beforeJSON,
		After:        afterJSON,
		PreviousHash: r.previousHash,
	}
	event.Hash = eventHash(event)

	r.previousHash = event.Hash
	r.events = append(r.events, event)
	return event, nil
}

// Events returns a copy of the recorded chain in append order.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// VerifyChain checks that a slice of events forms an unbroken hash chain.
func VerifyChain(events []*Event) bool {
	for i, event := range events {
		if i > 0 && event.PreviousHash != events[i-1].Hash {
			return false
		}
		if eventHash(event) != event.Hash {
			return false
		}
	}
	return true
}

func eventHash(e *Event) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		e.PreviousHash, e.Timestamp, e.Actor, e.Action, e.Entity, e.Before, e.After)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func snapshotJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
