package coap

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPeerNotFound is returned by MemoryTransport.Send when addr names
// no registered peer.
var ErrPeerNotFound = errors.New("coap: no such peer")

// MemoryTransport is an in-process Transport for tests: peers are
// registered under a name, and Send calls the listening peer's handler
// directly on the caller's goroutine, with no serialization.
type MemoryTransport struct {
	mu   sync.Mutex
	name string
	net  *memoryNetwork
}

type memoryNetwork struct {
	mu      sync.Mutex
	peers   map[string]*MemoryTransport
	handler map[string]Handler
}

// NewMemoryNetwork creates a shared registry that NewMemoryTransport
// peers join by name.
func NewMemoryNetwork() *memoryNetwork {
	return &memoryNetwork{
		peers:   make(map[string]*MemoryTransport),
		handler: make(map[string]Handler),
	}
}

// NewMemoryTransport registers a transport named name on net.
func NewMemoryTransport(net *memoryNetwork, name string) *MemoryTransport {
	t := &MemoryTransport{name: name, net: net}
	net.mu.Lock()
	net.peers[name] = t
	net.mu.Unlock()
	return t
}

// Send invokes the addressed peer's registered handler synchronously
// and returns whatever response it produces.
func (t *MemoryTransport) Send(ctx context.Context, addr string, req *Message) (*Message, error) {
	t.net.mu.Lock()
	handler, ok := t.net.handler[addr]
	t.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, addr)
	}
	resp := handler(ctx, memoryAddr(t.name), req)
	if !req.IsConfirmable() {
		return nil, nil
	}
	return resp, nil
}

// Listen registers handler under this transport's name until ctx is
// cancelled.
func (t *MemoryTransport) Listen(ctx context.Context, addr string, handler Handler) error {
	t.net.mu.Lock()
	t.net.handler[t.name] = handler
	t.net.mu.Unlock()
	<-ctx.Done()
	t.net.mu.Lock()
	delete(t.net.handler, t.name)
	t.net.mu.Unlock()
	return nil
}

// Close removes this transport from its network.
func (t *MemoryTransport) Close() error {
	t.net.mu.Lock()
	delete(t.net.peers, t.name)
	delete(t.net.handler, t.name)
	t.net.mu.Unlock()
	return nil
}

type memoryAddr string

func (a memoryAddr) Network() string { return "memory" }
func (a memoryAddr) String() string  { return string(a) }
