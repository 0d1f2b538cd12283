package objects

import (
	"sort"
	"sync"
	"time"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/objectregistry"
	"github.com/lwm2m-go/lwm2m/pkg/resource"
	"github.com/lwm2m-go/lwm2m/pkg/tlv"
)

// ServerObjectID is the LWM2M Server object's well-known id.
const ServerObjectID uint16 = 1

// Server resource ids (LWM2M Server object, id 1).
const (
	ServerResShortServerID             uint16 = 0
	ServerResLifetime                  uint16 = 1
	ServerResDefaultMinPeriod          uint16 = 2
	ServerResDefaultMaxPeriod          uint16 = 3
	ServerResDisable                   uint16 = 4
	ServerResDisableTimeout            uint16 = 5
	ServerResNotificationStoring       uint16 = 6
	ServerResBinding                   uint16 = 7
	ServerResRegistrationUpdateTrigger uint16 = 8
)

var serverResourceTypes = map[uint16]resource.DataType{
	ServerResShortServerID:       resource.TypeInt,
	ServerResLifetime:            resource.TypeInt,
	ServerResDefaultMinPeriod:    resource.TypeInt,
	ServerResDefaultMaxPeriod:    resource.TypeInt,
	ServerResDisableTimeout:      resource.TypeInt,
	ServerResNotificationStoring: resource.TypeBool,
	ServerResBinding:             resource.TypeString,
}

// ServerInstance is one row of the Server object: the parameters
// governing this client's relationship to one registered LWM2M server.
type ServerInstance struct {
	ShortServerID       int64
	Lifetime             int64
	DefaultMinPeriod     int64
	DefaultMaxPeriod     int64
	DisableTimeout       int64
	NotificationStoring  bool
	Binding              string
}

// ServerState holds every Server instance, keyed by instance id, plus
// the hooks a running Endpoint registers so Execute on Disable or
// RegistrationUpdateTrigger can actually act rather than just flip a
// flag nobody reads.
type ServerState struct {
	mu         sync.RWMutex
	instances  map[uint16]*ServerInstance
	onDisable  func(instanceID uint16)
	onUpdate   func(instanceID uint16)
}

// NewServerState builds an empty Server state.
func NewServerState() *ServerState {
	return &ServerState{instances: make(map[uint16]*ServerInstance)}
}

// Put installs or replaces the parameters at instanceID.
func (s *ServerState) Put(instanceID uint16, inst ServerInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instanceID] = &inst
}

// Get returns a copy of the parameters at instanceID.
func (s *ServerState) Get(instanceID uint16) (ServerInstance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return ServerInstance{}, false
	}
	return *inst, true
}

// InstanceIDs returns every currently held instance id, sorted.
func (s *ServerState) InstanceIDs() []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint16, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OnDisable registers the callback Execute on the Disable resource
// invokes — typically the owning Endpoint's Deregister.
func (s *ServerState) OnDisable(fn func(instanceID uint16)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisable = fn
}

// OnRegistrationUpdateTrigger registers the callback Execute on
// RegistrationUpdateTrigger invokes — typically the owning Endpoint's
// Update.
func (s *ServerState) OnRegistrationUpdateTrigger(fn func(instanceID uint16)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// NewServerDescriptor builds the Server object descriptor.
func NewServerDescriptor(state *ServerState) *objectregistry.Descriptor {
	return &objectregistry.Descriptor{
		ID:            ServerObjectID,
		ResourceCount: ServerResRegistrationUpdateTrigger + 1,
		Capabilities: objectregistry.Capabilities{
			Create:        true,
			Read:          true,
			WriteResource: true,
			WriteTLV:      true,
			Execute:       true,
			Delete:        true,
		},
		OnCreate: func(instanceID uint16, _ any) error {
			state.Put(instanceID, ServerInstance{Lifetime: int64((24 * time.Hour).Seconds()), Binding: "U"})
			return nil
		},
		OnDelete: func(instanceID uint16, _ any) error {
			state.mu.Lock()
			delete(state.instances, instanceID)
			state.mu.Unlock()
			return nil
		},
		OnRead: func(instanceID, resourceID uint16, _ any) (any, error) {
			inst, ok := state.Get(instanceID)
			if !ok {
				return nil, coap.New(coap.KindNotFound, "server instance")
			}
			switch resourceID {
			case ServerResShortServerID:
				return inst.ShortServerID, nil
			case ServerResLifetime:
				return inst.Lifetime, nil
			case ServerResDefaultMinPeriod:
				return inst.DefaultMinPeriod, nil
			case ServerResDefaultMaxPeriod:
				return inst.DefaultMaxPeriod, nil
			case ServerResDisableTimeout:
				return inst.DisableTimeout, nil
			case ServerResNotificationStoring:
				return inst.NotificationStoring, nil
			case ServerResBinding:
				return inst.Binding, nil
			default:
				return nil, coap.New(coap.KindNotFound, "server resource")
			}
		},
		OnWriteResource: func(instanceID, resourceID uint16, value []byte, _ any) error {
			dt, known := serverResourceTypes[resourceID]
			if !known {
				return coap.New(coap.KindNotFound, "server resource")
			}
			decoded, err := decodeWriteResource(dt, value)
			if err != nil {
				return coap.New(coap.KindBadRequest, err.Error())
			}
			state.mu.Lock()
			inst, ok := state.instances[instanceID]
			if !ok {
				state.mu.Unlock()
				return coap.New(coap.KindNotFound, "server instance")
			}
			setServerField(inst, resourceID, decoded)
			state.mu.Unlock()
			return nil
		},
		OnWriteTLV: func(instanceID uint16, tlvValue any, _ any) error {
			records, ok := tlvValue.([]tlv.Record)
			if !ok {
				return coap.New(coap.KindBadRequest, "malformed TLV")
			}
			state.mu.Lock()
			defer state.mu.Unlock()
			inst, ok := state.instances[instanceID]
			if !ok {
				return coap.New(coap.KindNotFound, "server instance")
			}
			for _, rec := range records {
				dt, known := serverResourceTypes[rec.ID]
				if !known {
					continue
				}
				value, err := decodeTLVRecord(rec, dt)
				if err != nil {
					return coap.New(coap.KindBadRequest, err.Error())
				}
				setServerField(inst, rec.ID, value)
			}
			return nil
		},
		OnExecute: func(instanceID, resourceID uint16, _ []byte, _ any) error {
			switch resourceID {
			case ServerResDisable:
				state.mu.RLock()
				fn := state.onDisable
				state.mu.RUnlock()
				if fn != nil {
					fn(instanceID)
				}
				return nil
			case ServerResRegistrationUpdateTrigger:
				state.mu.RLock()
				fn := state.onUpdate
				state.mu.RUnlock()
				if fn != nil {
					fn(instanceID)
				}
				return nil
			default:
				return coap.New(coap.KindMethodNotAllowed, "server resource not executable")
			}
		},
	}
}

func setServerField(inst *ServerInstance, resourceID uint16, value any) {
	switch resourceID {
	case ServerResShortServerID:
		inst.ShortServerID = value.(int64)
	case ServerResLifetime:
		inst.Lifetime = value.(int64)
	case ServerResDefaultMinPeriod:
		inst.DefaultMinPeriod = value.(int64)
	case ServerResDefaultMaxPeriod:
		inst.DefaultMaxPeriod = value.(int64)
	case ServerResDisableTimeout:
		inst.DisableTimeout = value.(int64)
	case ServerResNotificationStoring:
		inst.NotificationStoring = value.(bool)
	case ServerResBinding:
		inst.Binding = value.(string)
	}
}
