package server

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/log"
)

// ErrCancelled is delivered to a pending reply when the target client
// is removed from the directory while a request is outstanding, per
// spec.md §5's "outstanding management requests are cancelled
// implicitly" rule. Maps to CoAP 5.03 when surfaced on the wire.
var ErrCancelled error = coap.New(coap.KindCancelled, "target client removed from directory")

// ReplyFunc receives a management reply, or the error that prevented
// one from arriving (including ErrCancelled).
type ReplyFunc func(resp *coap.Message, err error)

type pendingRequest struct {
	addr     string
	repeated bool
	reply    ReplyFunc
}

// Issuer sends management requests (Read, Observe, Write, Create,
// Execute, Delete) to registered clients and demultiplexes replies by
// CoAP token (spec.md §4.9). Each call returns immediately; completion
// is delivered asynchronously through the supplied ReplyFunc, matching
// the core's "send APIs enqueue and return immediately" model (§5) —
// the goroutine per call is this module's stand-in for that single
// cooperative event loop.
type Issuer struct {
	transport coap.Transport
	logger    log.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest // token string -> entry
}

// NewIssuer builds an Issuer that sends over transport.
func NewIssuer(transport coap.Transport, logger log.Logger) *Issuer {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Issuer{
		transport: transport,
		logger:    logger,
		pending:   make(map[string]*pendingRequest),
	}
}

func newToken() []byte {
	return []byte(uuid.New().String()[:8])
}

// dispatch allocates a fresh token, sends req, and arranges for reply
// to fire when the response arrives. When repeated is true the pending
// entry survives the first reply to keep receiving pushed notifications
// through Handle; otherwise it is discarded after firing once.
func (iss *Issuer) dispatch(ctx context.Context, addr string, req *coap.Message, repeated bool, reply ReplyFunc) []byte {
	token := newToken()
	req.Token = token

	iss.mu.Lock()
	iss.pending[string(token)] = &pendingRequest{addr: addr, repeated: repeated, reply: reply}
	iss.mu.Unlock()

	go func() {
		resp, err := iss.transport.Send(ctx, addr, req)

		iss.mu.Lock()
		_, ok := iss.pending[string(token)]
		if ok && !repeated {
			delete(iss.pending, string(token))
		}
		iss.mu.Unlock()
		if !ok {
			return // cancelled (client evicted) before the reply arrived
		}

		iss.logReply(addr, req, resp, err)
		if reply != nil {
			reply(resp, err)
		}
	}()
	return token
}

// Read issues GET path to addr.
func (iss *Issuer) Read(ctx context.Context, addr, path string, reply ReplyFunc) []byte {
	req := coap.NewRequest(coap.GET, nil)
	req.SetPath(path)
	return iss.dispatch(ctx, addr, req, false, reply)
}

// Observe issues GET path with Observe=0. onContent fires for the
// initial response and every subsequent pushed notification, until
// Unobserve is called.
func (iss *Issuer) Observe(ctx context.Context, addr, path string, onContent ReplyFunc) []byte {
	req := coap.NewRequest(coap.GET, nil)
	req.SetPath(path)
	req.AddOption(coap.OptionObserve, []byte{0})
	return iss.dispatch(ctx, addr, req, true, onContent)
}

// Unobserve removes the standing observation installed under token and
// issues GET path with Observe=1; reply fires once with the final
// content the client sends back.
func (iss *Issuer) Unobserve(ctx context.Context, addr, path string, token []byte, reply ReplyFunc) {
	iss.mu.Lock()
	delete(iss.pending, string(token))
	iss.mu.Unlock()

	req := coap.NewRequest(coap.GET, nil)
	req.SetPath(path)
	req.AddOption(coap.OptionObserve, []byte{1})
	iss.dispatch(ctx, addr, req, false, reply)
}

// Write issues PUT path with a TLV body.
func (iss *Issuer) Write(ctx context.Context, addr, path string, tlvPayload []byte, reply ReplyFunc) []byte {
	req := coap.NewRequest(coap.PUT, nil)
	req.SetPath(path)
	req.AddOption(coap.OptionContentFormat, encodeOptionUint(coap.ContentFormatTLV))
	req.Payload = tlvPayload
	return iss.dispatch(ctx, addr, req, false, reply)
}

// Create issues POST /O with a TLV body describing the new instance.
func (iss *Issuer) Create(ctx context.Context, addr string, objectID uint16, tlvPayload []byte, reply ReplyFunc) []byte {
	req := coap.NewRequest(coap.POST, nil)
	req.SetPath(strconv.Itoa(int(objectID)))
	req.AddOption(coap.OptionContentFormat, encodeOptionUint(coap.ContentFormatTLV))
	req.Payload = tlvPayload
	return iss.dispatch(ctx, addr, req, false, reply)
}

// Execute issues POST /O/I/R with optional text arguments.
func (iss *Issuer) Execute(ctx context.Context, addr, path string, args []byte, reply ReplyFunc) []byte {
	req := coap.NewRequest(coap.POST, nil)
	req.SetPath(path)
	req.Payload = args
	return iss.dispatch(ctx, addr, req, false, reply)
}

// Delete issues DELETE path.
func (iss *Issuer) Delete(ctx context.Context, addr, path string, reply ReplyFunc) []byte {
	req := coap.NewRequest(coap.DELETE, nil)
	req.SetPath(path)
	return iss.dispatch(ctx, addr, req, false, reply)
}

// Handle demultiplexes an inbound pushed notification (a message the
// client sent unprompted, carrying new content for a standing
// observation) by token. Unmatched tokens are dropped, per spec.md
// §4.9's "Demultiplexing" rule.
func (iss *Issuer) Handle(ctx context.Context, from net.Addr, msg *coap.Message) *coap.Message {
	iss.mu.Lock()
	entry, ok := iss.pending[string(msg.Token)]
	iss.mu.Unlock()
	if !ok || !entry.repeated {
		return nil
	}
	iss.logReply(entry.addr, nil, msg, nil)
	if entry.reply != nil {
		entry.reply(msg, nil)
	}
	return nil
}

// CancelForAddr cancels every outstanding request and standing
// observation issued to addr, delivering ErrCancelled to each pending
// reply. Called by the directory when addr's registration is evicted.
func (iss *Issuer) CancelForAddr(addr string) {
	iss.mu.Lock()
	var cancelled []ReplyFunc
	for token, entry := range iss.pending {
		if entry.addr == addr {
			cancelled = append(cancelled, entry.reply)
			delete(iss.pending, token)
		}
	}
	iss.mu.Unlock()

	for _, reply := range cancelled {
		if reply != nil {
			reply(nil, ErrCancelled)
		}
	}
}

func (iss *Issuer) logReply(addr string, req, resp *coap.Message, err error) {
	if err != nil {
		iss.logger.Log(log.Event{
			Layer: log.LayerDirectory, Category: log.CategoryError, LocalRole: log.RoleServer,
			RemoteAddr: addr,
			Error:      &log.ErrorEventData{Layer: log.LayerDirectory, Message: err.Error()},
		})
		return
	}
	status := ""
	if resp != nil {
		status = resp.Code.String()
	}
	method := ""
	if req != nil {
		method = req.Code.String()
	}
	iss.logger.Log(log.Event{
		Layer: log.LayerDirectory, Category: log.CategoryMessage, LocalRole: log.RoleServer,
		Direction: log.DirectionIn, RemoteAddr: addr,
		Message: &log.MessageEvent{Method: method, Status: status},
	})
}

// encodeOptionUint encodes a CoAP option's uint value in the wire's
// shortest big-endian form (RFC 7252 §3.2).
func encodeOptionUint(v uint32) []byte {
	switch {
	case v == 0:
		return nil
	case v <= 0xFF:
		return []byte{byte(v)}
	case v <= 0xFFFF:
		return []byte{byte(v >> 8), byte(v)}
	case v <= 0xFFFFFF:
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}
