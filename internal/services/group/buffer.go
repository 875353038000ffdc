package group

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"sealroom/internal/domain"
)

type bufferedMessage struct {
	id      string
	msg     domain.MLSMessage
	arrived time.Time
	seq     uint64
}

type buffer struct {
	entries []bufferedMessage
	nextSeq uint64
}

// MessageID is the deduplication key of msg: sha256(epoch ‖ sender ‖
// sha256(content)).
func MessageID(msg domain.MLSMessage) (string, error) {
	content, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	inner := sha256.Sum256(content)
	h := sha256.New()
	var epoch [8]byte
	binary.BigEndian.PutUint64(epoch[:], msg.Epoch)
	h.Write(epoch[:])
	h.Write([]byte(msg.Sender))
	h.Write(inner[:])
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BufferMessage holds msg until its epoch is reachable. It reports false when
// the message is already buffered.
func (e *Engine) BufferMessage(msg domain.MLSMessage) (bool, error) {
	id, err := MessageID(msg)
	if err != nil {
		return false, err
	}
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	return e.bufferLocked(bufferedMessage{id: id, msg: msg}), nil
}

// BufferedCount reports how many messages wait for groupID.
func (e *Engine) BufferedCount(groupID domain.GroupID) int {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	if b, ok := e.buffers[groupID]; ok {
		e.expireLocked(b, e.now())
		return len(b.entries)
	}
	return 0
}

// bufferLocked adds m unless its id is present. A zero arrival time marks a
// new message; re-buffered messages keep their place in arrival order.
func (e *Engine) bufferLocked(m bufferedMessage) bool {
	b, ok := e.buffers[m.msg.GroupID]
	if !ok {
		b = &buffer{}
		e.buffers[m.msg.GroupID] = b
	}
	now := e.now()
	e.expireLocked(b, now)
	for _, x := range b.entries {
		if x.id == m.id {
			return false
		}
	}
	for len(b.entries) >= e.maxBuffered {
		b.entries = b.entries[1:]
		e.metrics.AddBuffered(-1)
		e.metrics.ObserveEviction("overflow")
	}
	if m.arrived.IsZero() {
		m.arrived = now
		m.seq = b.nextSeq
		b.nextSeq++
	}
	b.entries = append(b.entries, m)
	sort.SliceStable(b.entries, func(i, j int) bool { return b.entries[i].seq < b.entries[j].seq })
	e.metrics.AddBuffered(1)
	return true
}

func (e *Engine) expireLocked(b *buffer, now time.Time) {
	cutoff := now.Add(-e.maxAge)
	kept := b.entries[:0]
	for _, m := range b.entries {
		if m.arrived.Before(cutoff) {
			e.metrics.AddBuffered(-1)
			e.metrics.ObserveEviction("expired")
			continue
		}
		kept = append(kept, m)
	}
	b.entries = kept
}

// takeReady removes and returns every message with epoch <= maxEpoch in
// processing order: epoch, handshakes first, then arrival.
func (e *Engine) takeReady(groupID domain.GroupID, maxEpoch uint64) []bufferedMessage {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	b, ok := e.buffers[groupID]
	if !ok {
		return nil
	}
	e.expireLocked(b, e.now())

	var ready []bufferedMessage
	kept := b.entries[:0]
	for _, m := range b.entries {
		if m.msg.Epoch <= maxEpoch {
			ready = append(ready, m)
			continue
		}
		kept = append(kept, m)
	}
	b.entries = kept
	e.metrics.AddBuffered(-len(ready))

	sort.SliceStable(ready, func(i, j int) bool {
		a, c := ready[i], ready[j]
		if a.msg.Epoch != c.msg.Epoch {
			return a.msg.Epoch < c.msg.Epoch
		}
		ah, ch := a.msg.Kind == domain.KindHandshake, c.msg.Kind == domain.KindHandshake
		if ah != ch {
			return ah
		}
		return a.seq < c.seq
	})
	return ready
}

func (e *Engine) rebuffer(m bufferedMessage) {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	e.bufferLocked(m)
}

// seenSet is a bounded FIFO of processed message ids.
type seenSet struct {
	mu    sync.Mutex
	limit int
	order []string
	ids   map[string]struct{}
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{limit: limit, ids: make(map[string]struct{}, limit)}
}

func (s *seenSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return
	}
	if len(s.order) >= s.limit {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	s.order = append(s.order, id)
	s.ids[id] = struct{}{}
}
