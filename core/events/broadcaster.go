package events

import (
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"zusd/core/types"
)

// Envelope wraps an emitted event with the metadata indexers need to resume a
// stream: a monotonically increasing sequence, a unique identifier and a
// digest of the canonical payload.
type Envelope struct {
	Sequence uint64      `json:"sequence"`
	ID       string      `json:"id"`
	Digest   string      `json:"digest"`
	Event    types.Event `json:"event"`
}

// Broadcaster fans committed events out to subscribers while retaining a
// bounded backlog for stream resumption. A zero subscriber count never blocks
// the emitter: slow subscribers are dropped rather than stalling state
// transitions.
type Broadcaster struct {
	mu          sync.Mutex
	seq         uint64
	backlog     []Envelope
	backlogCap  int
	subscribers map[uint64]chan Envelope
	nextSubID   uint64
}

const defaultBacklogCap = 512

// NewBroadcaster constructs a broadcaster retaining up to cap envelopes of
// replayable history. Non-positive caps fall back to the default.
func NewBroadcaster(cap int) *Broadcaster {
	if cap <= 0 {
		cap = defaultBacklogCap
	}
	return &Broadcaster{
		backlogCap:  cap,
		subscribers: make(map[uint64]chan Envelope),
	}
}

// Emit assigns stream metadata to the event and delivers it to every
// subscriber. Implements the Emitter interface.
func (b *Broadcaster) Emit(evt types.Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	env := Envelope{
		Sequence: b.seq,
		ID:       uuid.NewString(),
		Digest:   digestEvent(evt),
		Event:    evt,
	}
	b.backlog = append(b.backlog, env)
	if len(b.backlog) > b.backlogCap {
		b.backlog = b.backlog[len(b.backlog)-b.backlogCap:]
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- env:
		default:
			// Subscriber is not draining; disconnect it instead of
			// blocking the emitting operation.
			close(ch)
			delete(b.subscribers, id)
		}
	}
}

// Subscribe registers a new subscriber and returns the live channel, the
// backlog of envelopes with a sequence greater than afterSeq, and a cancel
// function that must be invoked when the subscriber disconnects.
func (b *Broadcaster) Subscribe(afterSeq uint64, buffer int) (<-chan Envelope, []Envelope, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Envelope, buffer)

	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = ch
	var replay []Envelope
	for _, env := range b.backlog {
		if env.Sequence > afterSeq {
			replay = append(replay, env)
		}
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if live, ok := b.subscribers[id]; ok {
			close(live)
			delete(b.subscribers, id)
		}
		b.mu.Unlock()
	}
	return ch, replay, cancel
}

// digestEvent hashes the canonical rendering of the event so downstream
// consumers can deduplicate redeliveries. Attribute ordering is normalised
// before hashing.
func digestEvent(evt types.Event) string {
	keys := make([]string, 0, len(evt.Attributes))
	for k := range evt.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	canonical := struct {
		Type  string      `json:"type"`
		Attrs [][2]string `json:"attrs"`
	}{Type: evt.Type}
	for _, k := range keys {
		canonical.Attrs = append(canonical.Attrs, [2]string{k, evt.Attributes[k]})
	}
	payload, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
