package coap

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxDatagramSize bounds one read from the UDP socket. CoAP over UDP
// payloads are handed whole (spec.md §5's "Block-wise transfers
// opaquely" note); this is generous enough for any TLV object read this
// profile produces without fragmentation.
const maxDatagramSize = 64 * 1024

// Handler processes one inbound request and returns the response to
// send, or nil to send nothing (used for non-confirmable notifications
// that themselves never expect a reply).
type Handler func(ctx context.Context, from net.Addr, req *Message) *Message

// Transport sends requests and receives their responses, and (for a
// server) listens for inbound requests. UDPTransport is the real
// implementation; tests use an in-memory Transport instead.
type Transport interface {
	Send(ctx context.Context, addr string, req *Message) (*Message, error)
	Listen(ctx context.Context, addr string, handler Handler) error
	Close() error
}

// UDPTransport sends and receives CoAP messages over net.UDPConn,
// grounded on the connect/Transmit/Receive shape of a plain CoAP-over-UDP
// client: dial once, then Send blocks for the matching reply when the
// request is confirmable.
type UDPTransport struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	nextMID uint16
}

// NewUDPTransport opens a UDP socket bound to localAddr ("" for any
// port), used both to send outbound requests and to receive inbound
// ones when Listen is called on the same instance.
func NewUDPTransport(localAddr string) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("coap: resolve local addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("coap: listen udp: %w", err)
	}
	return &UDPTransport{conn: conn}, nil
}

// LocalAddr returns the transport's bound local address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Send transmits req to addr and, if req is confirmable, waits for the
// matching acknowledgement. Non-confirmable requests return (nil, nil)
// immediately after the datagram is written.
func (t *UDPTransport) Send(ctx context.Context, addr string, req *Message) (*Message, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("coap: resolve remote addr: %w", err)
	}

	req.MessageID = t.allocateMessageID()
	data, err := Encode(req)
	if err != nil {
		return nil, fmt.Errorf("coap: encode request: %w", err)
	}
	if _, err := t.conn.WriteToUDP(data, raddr); err != nil {
		return nil, fmt.Errorf("coap: write datagram: %w", err)
	}
	if !req.IsConfirmable() {
		return nil, nil
	}

	buf := make([]byte, maxDatagramSize)
	for {
		if err := t.conn.SetReadDeadline(deadlineFromContext(ctx)); err != nil {
			return nil, err
		}
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, fmt.Errorf("coap: read datagram: %w", err)
		}
		if from.String() != raddr.String() {
			continue
		}
		resp, err := Decode(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("coap: decode response: %w", err)
		}
		if resp.MessageID != req.MessageID {
			continue
		}
		return resp, nil
	}
}

// Listen reads inbound datagrams until ctx is cancelled, dispatching
// each to handler and writing back any non-nil response it returns.
// Concurrent handler invocations are supervised by an errgroup so the
// first handler error tears down the whole accept loop.
func (t *UDPTransport) Listen(ctx context.Context, addr string, handler Handler) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-ctx.Done()
		return t.conn.Close()
	})
	group.Go(func() error {
		buf := make([]byte, maxDatagramSize)
		for {
			n, from, err := t.conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("coap: read datagram: %w", err)
			}
			data := append([]byte(nil), buf[:n]...)
			group.Go(func() error {
				return t.handleDatagram(ctx, from, data, handler)
			})
		}
	})
	return group.Wait()
}

func (t *UDPTransport) handleDatagram(ctx context.Context, from *net.UDPAddr, data []byte, handler Handler) error {
	req, err := Decode(data)
	if err != nil {
		return nil
	}
	resp := handler(ctx, from, req)
	if resp == nil {
		return nil
	}
	out, err := Encode(resp)
	if err != nil {
		return fmt.Errorf("coap: encode response: %w", err)
	}
	if _, err := t.conn.WriteToUDP(out, from); err != nil {
		return fmt.Errorf("coap: write response: %w", err)
	}
	return nil
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

func (t *UDPTransport) allocateMessageID() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextMID++
	return t.nextMID
}

func deadlineFromContext(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Time{}
}
