// Package patchbus implements the patch bus component (C6): a single-writer,
// multi-reader channel of tree mutations. Grounded on the teacher's
// ObserverManager/Observer fan-out (internal/application/observer, since
// deleted from this tree once its DB/HTTP/WebSocket observer variants proved
// out of scope, but its register/broadcast/buffered-channel shape is kept)
// and on gorilla/websocket for the outward-facing subscriber transport.
package patchbus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smilemakc/docengine/internal/infrastructure/logger"
	"github.com/smilemakc/docengine/pkg/docmodel"
)

// Subscriber receives every patch batch sent on the bus, in order, until it
// unsubscribes. A slow subscriber whose channel fills is dropped (its
// channel closed) rather than allowed to block Send.
type Subscriber struct {
	id string
	ch chan []docmodel.Patch
}

// Batch returns the channel of patch batches for this subscriber.
func (s *Subscriber) Batch() <-chan []docmodel.Patch { return s.ch }

// Bus owns the single tree-writer path: every patch produced by the runner
// or by a patch command funnels through Send, which applies it under a
// write lock against index, then re-broadcasts the same batch to every
// subscriber, per §4.6's single-writer/multi-reader channel model.
type Bus struct {
	mu          sync.RWMutex
	treeLock    sync.RWMutex
	index       map[string]*docmodel.Node
	subscribers map[string]*Subscriber
	bufferSize  int
	logger      *logger.Logger
}

// New constructs a Bus bound to root's current node index. The bus does not
// own root; callers must keep index in sync with any structural edits (node
// insertion/removal) outside of patch application.
func New(root *docmodel.Node, bufferSize int, log *logger.Logger) *Bus {
	return &Bus{
		index:       docmodel.Index(root),
		subscribers: make(map[string]*Subscriber),
		bufferSize:  bufferSize,
		logger:      log,
	}
}

// Reindex refreshes the node lookup after a structural mutation (e.g. an
// Include/Call splicing new content into the tree).
func (b *Bus) Reindex(root *docmodel.Node) {
	b.treeLock.Lock()
	defer b.treeLock.Unlock()
	b.index = docmodel.Index(root)
}

// Subscribe registers a new reader and returns it along with an unsubscribe
// function.
func (b *Bus) Subscribe() (*Subscriber, func()) {
	sub := &Subscriber{id: uuid.NewString(), ch: make(chan []docmodel.Patch, b.bufferSize)}
	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()
	return sub, func() { b.unsubscribe(sub.id) }
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// Send applies every patch in the batch to the tree (log-and-drop on error,
// per the invariant that unreachable patches never corrupt the tree or halt
// the writer), then fans the batch out to every subscriber. A subscriber
// whose buffer is full is dropped, matching the teacher's
// bounded-broadcast-channel behaviour for slow WebSocket clients.
func (b *Bus) Send(patches []docmodel.Patch) {
	if len(patches) == 0 {
		return
	}

	b.treeLock.Lock()
	for _, p := range patches {
		n, ok := b.index[p.NodeID]
		if !ok {
			if b.logger != nil {
				b.logger.Warn("patchbus: dropping patch for unknown node", "node", p.NodeID)
			}
			continue
		}
		if err := p.Apply(n); err != nil && b.logger != nil {
			b.logger.Warn("patchbus: dropping unapplicable patch", "node", p.NodeID, "error", err)
		}
	}
	b.treeLock.Unlock()

	b.mu.RLock()
	var slow []string
	for id, sub := range b.subscribers {
		select {
		case sub.ch <- patches:
		default:
			if b.logger != nil {
				b.logger.Warn("patchbus: dropping slow subscriber", "subscriber", id)
			}
			slow = append(slow, id)
		}
	}
	b.mu.RUnlock()
	for _, id := range slow {
		b.unsubscribe(id)
	}
}

// WriteJSONTo relays one patch batch to a websocket connection, the
// WritePump half of the hub adapted from the teacher's WebSocketHub.
func WriteJSONTo(conn *websocket.Conn, patches []docmodel.Patch) error {
	return conn.WriteJSON(patches)
}
