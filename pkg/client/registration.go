package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/connection"
	"github.com/lwm2m-go/lwm2m/pkg/log"
	"github.com/lwm2m-go/lwm2m/pkg/objectregistry"
)

// State is a registration FSM state.
type State int

const (
	StateUnregistered State = iota
	StateRegistering
	StateRegistered
	StateUpdating
	StateDeregistering
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "Unregistered"
	case StateRegistering:
		return "Registering"
	case StateRegistered:
		return "Registered"
	case StateUpdating:
		return "Updating"
	case StateDeregistering:
		return "Deregistering"
	default:
		return "Unknown"
	}
}

// BindingMode is the binding-mode query parameter negotiated at
// Register time. Only BindingU is operative; the others are accepted on
// the wire and stored for reporting, per spec.md §6.
type BindingMode string

const (
	BindingU   BindingMode = "U"
	BindingUQ  BindingMode = "UQ"
	BindingS   BindingMode = "S"
	BindingSQ  BindingMode = "SQ"
	BindingUS  BindingMode = "US"
	BindingUQS BindingMode = "UQS"
)

// updateSafetyMargin resolves spec.md §9's Open Question: how early an
// Update fires before the lifetime expires. 10% of the lifetime,
// floored at 15s and capped at 60s.
func updateSafetyMargin(lifetime time.Duration) time.Duration {
	margin := lifetime / 10
	if margin < 15*time.Second {
		margin = 15 * time.Second
	}
	if margin > 60*time.Second {
		margin = 60 * time.Second
	}
	if margin > lifetime {
		margin = lifetime
	}
	return margin
}

// ErrNotRegistered is returned by Update/Deregister when no
// registration is active.
var ErrNotRegistered = errors.New("client: not registered")

// Endpoint is one server registration: the state machine described in
// spec.md §4.5, driving Register/Update/Deregister against one known
// LWM2M server.
type Endpoint struct {
	Name        string
	ObjectsPath string
	SMS         string
	Binding     BindingMode
	Objects     *objectregistry.Registry

	transport  coap.Transport
	serverAddr string
	logger     log.Logger

	mu             sync.Mutex
	state          State
	lifetime       time.Duration
	location       string
	lastLinkFormat string
	backoff        *connection.Backoff
	updateTimer    *time.Timer
	closed         bool
	updateGroup    singleflight.Group
}

// NewEndpoint builds an Endpoint for one server, not yet registered.
func NewEndpoint(name, serverAddr string, lifetime time.Duration, objects *objectregistry.Registry, transport coap.Transport, logger log.Logger) *Endpoint {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Endpoint{
		Name:       name,
		Binding:    BindingU,
		Objects:    objects,
		transport:  transport,
		serverAddr: serverAddr,
		logger:     logger,
		state:      StateUnregistered,
		lifetime:   lifetime,
		backoff:    connection.NewBackoff(),
	}
}

// State returns the endpoint's current registration state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Location returns the server-assigned registration location path, set
// once Register succeeds.
func (e *Endpoint) Location() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.location
}

func (e *Endpoint) setState(next State, reason string) {
	old := e.state
	e.state = next
	e.logger.Log(log.Event{
		Layer:        log.LayerRegistration,
		Category:     log.CategoryState,
		LocalRole:    log.RoleClient,
		EndpointName: e.Name,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityRegistration,
			OldState: old.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

// Register sends POST /rd with the endpoint's query parameters and its
// link-format object list, retrying with exponential backoff (bounded
// by lifetime) on failure until it succeeds or the caller gives up by
// cancelling ctx.
func (e *Endpoint) Register(ctx context.Context) error {
	e.mu.Lock()
	e.setState(StateRegistering, "register requested")
	e.mu.Unlock()

	deadline := time.Now().Add(e.lifetime)
	for {
		err := e.attemptRegister(ctx)
		if err == nil {
			return nil
		}
		e.logger.Log(log.Event{
			Layer: log.LayerRegistration, Category: log.CategoryError, LocalRole: log.RoleClient,
			EndpointName: e.Name,
			Error:        &log.ErrorEventData{Layer: log.LayerRegistration, Message: err.Error()},
		})
		if time.Now().After(deadline) {
			e.mu.Lock()
			e.setState(StateUnregistered, "registration deadline exceeded")
			e.mu.Unlock()
			return fmt.Errorf("client: registration abandoned after lifetime elapsed: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.backoff.Next()):
		}
	}
}

func (e *Endpoint) attemptRegister(ctx context.Context) error {
	linkFormat := e.Objects.LinkFormat()
	req := coap.NewRequest(coap.POST, nil)
	req.SetPath("rd")
	req.AddOption(coap.OptionURIQuery, []byte("ep="+e.Name))
	req.AddOption(coap.OptionURIQuery, []byte(fmt.Sprintf("lt=%d", int(e.lifetime.Seconds()))))
	req.AddOption(coap.OptionURIQuery, []byte("b="+string(e.Binding)))
	if e.SMS != "" {
		req.AddOption(coap.OptionURIQuery, []byte("sms="+e.SMS))
	}
	req.Payload = []byte(linkFormat)

	resp, err := e.transport.Send(ctx, e.serverAddr, req)
	if err != nil {
		return err
	}
	if resp.Code != coap.Created {
		return fmt.Errorf("client: register rejected: %v", resp.Code)
	}

	location := resp.OptionPath(coap.OptionLocationPath)

	e.mu.Lock()
	e.location = location
	e.lastLinkFormat = linkFormat
	e.backoff.Reset()
	e.setState(StateRegistered, "register acknowledged")
	e.armUpdateTimer(ctx)
	e.mu.Unlock()
	return nil
}

// armUpdateTimer schedules the next Update at lifetime minus the
// safety margin. Must be called with e.mu held.
func (e *Endpoint) armUpdateTimer(ctx context.Context) {
	if e.updateTimer != nil {
		e.updateTimer.Stop()
	}
	if e.closed {
		return
	}
	delay := e.lifetime - updateSafetyMargin(e.lifetime)
	e.updateTimer = time.AfterFunc(delay, func() {
		if err := e.Update(ctx); err != nil {
			e.logger.Log(log.Event{
				Layer: log.LayerRegistration, Category: log.CategoryError, LocalRole: log.RoleClient,
				EndpointName: e.Name,
				Error:        &log.ErrorEventData{Layer: log.LayerRegistration, Message: err.Error()},
			})
		}
	})
}

// Update sends POST <location>, refreshing the registration lifetime.
// The object list is only re-sent if it changed since the last
// Register/Update (spec.md §9's Open Question resolution). Concurrent
// calls (a manual Update racing the armed update timer) coalesce into
// one outstanding request, per spec.md §8's "never two concurrent
// outstanding messages per server" invariant.
func (e *Endpoint) Update(ctx context.Context) error {
	_, err, _ := e.updateGroup.Do("update", func() (any, error) {
		return nil, e.doUpdate(ctx)
	})
	return err
}

func (e *Endpoint) doUpdate(ctx context.Context) error {
	e.mu.Lock()
	if e.location == "" {
		e.mu.Unlock()
		return ErrNotRegistered
	}
	e.setState(StateUpdating, "update scheduled")
	location := e.location
	currentLinkFormat := e.Objects.LinkFormat()
	sendBody := currentLinkFormat != e.lastLinkFormat
	e.mu.Unlock()

	req := coap.NewRequest(coap.POST, nil)
	req.SetPath(location)
	req.AddOption(coap.OptionURIQuery, []byte(fmt.Sprintf("lt=%d", int(e.lifetime.Seconds()))))
	if sendBody {
		req.Payload = []byte(currentLinkFormat)
	}

	resp, err := e.transport.Send(ctx, e.serverAddr, req)
	if err != nil {
		e.mu.Lock()
		e.setState(StateRegistered, "update failed, retaining registration")
		e.mu.Unlock()
		return err
	}
	if resp.Code == coap.NotFound {
		// Updating + 4.04 Not Found -> Unregistered, fall back to a full
		// Register (spec.md §4.5 FSM table): the server has forgotten this
		// registration (e.g. after a restart), so there is nothing left to
		// refresh and no update timer to re-arm.
		e.mu.Lock()
		e.location = ""
		e.setState(StateUnregistered, "registration not found, re-registering")
		e.mu.Unlock()
		go func() {
			if err := e.Register(ctx); err != nil {
				e.logger.Log(log.Event{
					Layer: log.LayerRegistration, Category: log.CategoryError, LocalRole: log.RoleClient,
					EndpointName: e.Name,
					Error:        &log.ErrorEventData{Layer: log.LayerRegistration, Message: err.Error()},
				})
			}
		}()
		return fmt.Errorf("client: update rejected: %v", resp.Code)
	}
	if resp.Code != coap.Changed {
		e.mu.Lock()
		e.setState(StateRegistered, "update rejected")
		e.mu.Unlock()
		return fmt.Errorf("client: update rejected: %v", resp.Code)
	}

	e.mu.Lock()
	if sendBody {
		e.lastLinkFormat = currentLinkFormat
	}
	e.setState(StateRegistered, "update acknowledged")
	e.armUpdateTimer(ctx)
	e.mu.Unlock()
	return nil
}

// Deregister sends DELETE <location> and returns the endpoint to
// Unregistered regardless of the server's response, since there is
// nothing left to retry once the application has asked to leave.
func (e *Endpoint) Deregister(ctx context.Context) error {
	e.mu.Lock()
	if e.location == "" {
		e.mu.Unlock()
		return ErrNotRegistered
	}
	e.setState(StateDeregistering, "deregister requested")
	location := e.location
	if e.updateTimer != nil {
		e.updateTimer.Stop()
	}
	e.mu.Unlock()

	req := coap.NewRequest(coap.DELETE, nil)
	req.SetPath(location)
	_, err := e.transport.Send(ctx, e.serverAddr, req)

	e.mu.Lock()
	e.location = ""
	e.lastLinkFormat = ""
	e.setState(StateUnregistered, "deregister acknowledged")
	e.mu.Unlock()
	return err
}

// Close stops any pending update timer without deregistering.
func (e *Endpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.updateTimer != nil {
		e.updateTimer.Stop()
	}
}
