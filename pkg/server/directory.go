package server

import (
	"context"
	"net"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/log"
)

// EventKind identifies a directory lifecycle transition (spec.md §4.8).
type EventKind int

const (
	EventRegister EventKind = iota
	EventUpdate
	EventTimeout
	EventUnregister
)

func (k EventKind) String() string {
	switch k {
	case EventRegister:
		return "Register"
	case EventUpdate:
		return "Update"
	case EventTimeout:
		return "Timeout"
	case EventUnregister:
		return "Unregister"
	default:
		return "Unknown"
	}
}

// Event is delivered to every registration monitor after the directory
// applies the corresponding state transition.
type Event struct {
	Kind   EventKind
	Client ClientInfo
}

// Monitor receives directory events and the user_data it was registered
// with. Identical (callback, userData) pairs deduplicate (spec.md §4.8).
type Monitor func(Event, any)

type monitorEntry struct {
	callback Monitor
	userData any
}

type registeredClient struct {
	info  ClientInfo
	timer *time.Timer
}

// Directory is the registration directory: POST /rd registers, POST
// <location> updates, DELETE <location> deregisters, and an armed
// per-client timer evicts on expiry (spec.md §4.8). Directory.Handle has
// the shape of coap.Handler.
type Directory struct {
	mu       sync.Mutex
	clients  map[string]*registeredClient // location -> record
	monitors []monitorEntry

	issuer *Issuer
	logger log.Logger
}

// NewDirectory builds an empty directory. issuer may be nil; when set,
// its pending management requests to a client are cancelled the moment
// that client's record is evicted (Timeout or Unregister), per spec.md
// §5's "outstanding management requests are cancelled implicitly" rule.
func NewDirectory(issuer *Issuer, logger log.Logger) *Directory {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Directory{
		clients: make(map[string]*registeredClient),
		issuer:  issuer,
		logger:  logger,
	}
}

// OnEvent registers a monitor. Registering the same (callback, userData)
// pair twice is a no-op; a monitor added while a notification is in
// flight only takes effect on the next event, since monitors are
// snapshotted under the directory's lock before being invoked.
func (d *Directory) OnEvent(callback Monitor, userData any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, m := range d.monitors {
		if sameFunc(m.callback, callback) && m.userData == userData {
			return
		}
	}
	d.monitors = append(d.monitors, monitorEntry{callback: callback, userData: userData})
}

func sameFunc(a, b Monitor) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// Lookup returns a snapshot of the client registered at location.
func (d *Directory) Lookup(location string) (ClientInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[location]
	if !ok {
		return ClientInfo{}, false
	}
	return c.info, true
}

// Clients returns a snapshot of every currently registered client.
func (d *Directory) Clients() []ClientInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ClientInfo, 0, len(d.clients))
	for _, c := range d.clients {
		out = append(out, c.info)
	}
	return out
}

// Handle implements coap.Handler, routing registration traffic by
// method and path: POST "rd" registers, any other POST updates, DELETE
// deregisters.
func (d *Directory) Handle(ctx context.Context, from net.Addr, req *coap.Message) *coap.Message {
	switch {
	case req.Code == coap.POST && req.Path() == "rd":
		return d.handleRegister(from, req)
	case req.Code == coap.POST:
		return d.handleUpdate(req)
	case req.Code == coap.DELETE:
		return d.handleDeregister(req)
	default:
		return coap.NewResponse(req, coap.MethodNotAllowed)
	}
}

func (d *Directory) handleRegister(from net.Addr, req *coap.Message) *coap.Message {
	query := parseQuery(req)
	name := query["ep"]
	if name == "" {
		return coap.NewResponse(req, coap.BadRequest)
	}
	lifetime := 86400 * time.Second
	if v, ok := query["lt"]; ok {
		if seconds, err := strconv.Atoi(v); err == nil {
			lifetime = time.Duration(seconds) * time.Second
		}
	}

	location := "rd/" + uuid.New().String()[:8]
	now := d.now()
	client := &registeredClient{
		info: ClientInfo{
			Name:         name,
			Location:     location,
			Addr:         addrString(from),
			Lifetime:     lifetime,
			Binding:      query["b"],
			SMS:          query["sms"],
			ObjectsPath:  query["lwm2m"],
			LinkFormat:   string(req.Payload),
			Objects:      parseLinkFormat(string(req.Payload)),
			RegisteredAt: now,
			UpdatedAt:    now,
		},
	}

	d.mu.Lock()
	client.timer = time.AfterFunc(lifetime, func() { d.expire(location) })
	d.clients[location] = client
	info := client.info
	d.mu.Unlock()

	d.notify(Event{Kind: EventRegister, Client: info})

	resp := coap.NewResponse(req, coap.Created)
	for _, seg := range strings.Split(location, "/") {
		resp.AddOption(coap.OptionLocationPath, []byte(seg))
	}
	return resp
}

func (d *Directory) handleUpdate(req *coap.Message) *coap.Message {
	location := req.Path()
	d.mu.Lock()
	client, ok := d.clients[location]
	if !ok {
		d.mu.Unlock()
		return coap.NewResponse(req, coap.NotFound)
	}
	query := parseQuery(req)
	if v, ok := query["lt"]; ok {
		if seconds, err := strconv.Atoi(v); err == nil {
			client.info.Lifetime = time.Duration(seconds) * time.Second
		}
	}
	if v, ok := query["b"]; ok {
		client.info.Binding = v
	}
	if len(req.Payload) > 0 {
		client.info.LinkFormat = string(req.Payload)
		client.info.Objects = parseLinkFormat(client.info.LinkFormat)
	}
	client.info.UpdatedAt = d.now()
	client.timer.Reset(client.info.Lifetime)
	info := client.info
	d.mu.Unlock()

	d.notify(Event{Kind: EventUpdate, Client: info})
	return coap.NewResponse(req, coap.Changed)
}

func (d *Directory) handleDeregister(req *coap.Message) *coap.Message {
	location := req.Path()
	d.mu.Lock()
	client, ok := d.clients[location]
	if !ok {
		d.mu.Unlock()
		return coap.NewResponse(req, coap.NotFound)
	}
	client.timer.Stop()
	delete(d.clients, location)
	info := client.info
	d.mu.Unlock()

	d.notify(Event{Kind: EventUnregister, Client: info})
	if d.issuer != nil {
		d.issuer.CancelForAddr(info.Addr)
	}
	return coap.NewResponse(req, coap.Deleted)
}

// expire runs on the client's expiry timer, firing when no Update
// arrived before registered_at+lifetime (refreshed by every Update).
func (d *Directory) expire(location string) {
	d.mu.Lock()
	client, ok := d.clients[location]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.clients, location)
	info := client.info
	d.mu.Unlock()

	d.notify(Event{Kind: EventTimeout, Client: info})
	if d.issuer != nil {
		d.issuer.CancelForAddr(info.Addr)
	}
}

// notify invokes every monitor in registration order, synchronously,
// per spec.md §4.8's "invokes every monitor synchronously" rule.
func (d *Directory) notify(evt Event) {
	d.mu.Lock()
	monitors := make([]monitorEntry, len(d.monitors))
	copy(monitors, d.monitors)
	d.mu.Unlock()

	for _, m := range monitors {
		m.callback(evt, m.userData)
	}

	d.logger.Log(log.Event{
		Layer:        log.LayerDirectory,
		Category:     log.CategoryState,
		LocalRole:    log.RoleServer,
		EndpointName: evt.Client.Name,
		RemoteAddr:   evt.Client.Addr,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDirectoryEntry,
			NewState: evt.Kind.String(),
		},
	})
}

func (d *Directory) now() time.Time {
	return time.Now()
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// parseQuery splits the repeated URIQuery option's "k=v" occurrences
// into a map.
func parseQuery(req *coap.Message) map[string]string {
	out := make(map[string]string)
	for _, raw := range req.Options[coap.OptionURIQuery] {
		kv := strings.SplitN(string(raw), "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}
