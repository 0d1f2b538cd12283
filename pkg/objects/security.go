package objects

import (
	"sort"
	"sync"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/objectregistry"
	"github.com/lwm2m-go/lwm2m/pkg/resource"
	"github.com/lwm2m-go/lwm2m/pkg/tlv"
)

// SecurityObjectID is the LWM2M Security object's well-known id.
const SecurityObjectID uint16 = 0

// Security resource ids (LWM2M Security object, id 0).
const (
	SecurityResServerURI         uint16 = 0
	SecurityResBootstrapServer   uint16 = 1
	SecurityResSecurityMode      uint16 = 2
	SecurityResPublicKey         uint16 = 3
	SecurityResServerPublicKey   uint16 = 4
	SecurityResSecretKey         uint16 = 5
	SecurityResShortServerID     uint16 = 10
	SecurityResClientHoldOffTime uint16 = 11
)

var securityResourceTypes = map[uint16]resource.DataType{
	SecurityResServerURI:         resource.TypeString,
	SecurityResBootstrapServer:   resource.TypeBool,
	SecurityResSecurityMode:      resource.TypeInt,
	SecurityResPublicKey:         resource.TypeOpaque,
	SecurityResServerPublicKey:   resource.TypeOpaque,
	SecurityResSecretKey:         resource.TypeOpaque,
	SecurityResShortServerID:     resource.TypeInt,
	SecurityResClientHoldOffTime: resource.TypeInt,
}

// SecurityInstance is the credential set for one known LWM2M server,
// one row of the Security object.
type SecurityInstance struct {
	ServerURI         string
	BootstrapServer    bool
	SecurityMode       int64
	PublicKey          []byte
	ServerPublicKey    []byte
	SecretKey          []byte
	ShortServerID      int64
	ClientHoldOffTime  int64
}

// SecurityState holds every Security instance, keyed by instance id.
// Safe for concurrent use; the dispatcher may read from the event loop
// goroutine while a bootstrap flow writes from another.
type SecurityState struct {
	mu        sync.RWMutex
	instances map[uint16]*SecurityInstance
}

// NewSecurityState builds an empty Security state.
func NewSecurityState() *SecurityState {
	return &SecurityState{instances: make(map[uint16]*SecurityInstance)}
}

// Put installs or replaces the credential set at instanceID.
func (s *SecurityState) Put(instanceID uint16, inst SecurityInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instanceID] = &inst
}

// Get returns a copy of the credential set at instanceID.
func (s *SecurityState) Get(instanceID uint16) (SecurityInstance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instanceID]
	if !ok {
		return SecurityInstance{}, false
	}
	return *inst, true
}

// InstanceIDs returns every currently held instance id, sorted.
func (s *SecurityState) InstanceIDs() []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint16, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NewSecurityDescriptor builds the Security object descriptor. Create
// and Delete are supported so a bootstrap flow can add and remove
// server credentials at runtime; WriteTLV covers the bootstrap server's
// usual whole-instance PUT, WriteResource covers individual field
// updates.
func NewSecurityDescriptor(state *SecurityState) *objectregistry.Descriptor {
	return &objectregistry.Descriptor{
		ID:            SecurityObjectID,
		ResourceCount: SecurityResClientHoldOffTime + 1,
		Capabilities: objectregistry.Capabilities{
			Create:        true,
			Read:          true,
			WriteResource: true,
			WriteTLV:      true,
			Delete:        true,
		},
		OnCreate: func(instanceID uint16, _ any) error {
			state.Put(instanceID, SecurityInstance{})
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
				return nil, coap.New(coap.KindNotFound, "security instance")
			}
			switch resourceID {
			case SecurityResServerURI:
				return inst.ServerURI, nil
			case SecurityResBootstrapServer:
				return inst.BootstrapServer, nil
			case SecurityResSecurityMode:
				return inst.SecurityMode, nil
			case SecurityResPublicKey:
				return inst.PublicKey, nil
			case SecurityResServerPublicKey:
				return inst.ServerPublicKey, nil
			case SecurityResSecretKey:
				return inst.SecretKey, nil
			case SecurityResShortServerID:
				return inst.ShortServerID, nil
			case SecurityResClientHoldOffTime:
				return inst.ClientHoldOffTime, nil
			default:
				return nil, coap.New(coap.KindNotFound, "security resource")
			}
		},
		OnWriteResource: func(instanceID, resourceID uint16, value []byte, _ any) error {
			dt, known := securityResourceTypes[resourceID]
			if !known {
				return coap.New(coap.KindNotFound, "security resource")
			}
			decoded, err := decodeWriteResource(dt, value)
			if err != nil {
				return coap.New(coap.KindBadRequest, err.Error())
			}
			state.mu.Lock()
			inst, ok := state.instances[instanceID]
			if !ok {
				state.mu.Unlock()
				return coap.New(coap.KindNotFound, "security instance")
			}
			setSecurityField(inst, resourceID, decoded)
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
				return coap.New(coap.KindNotFound, "security instance")
			}
			for _, rec := range records {
				dt, known := securityResourceTypes[rec.ID]
				if !known {
					continue
				}
				value, err := decodeTLVRecord(rec, dt)
				if err != nil {
					return coap.New(coap.KindBadRequest, err.Error())
				}
				setSecurityField(inst, rec.ID, value)
			}
			return nil
		},
	}
}

func setSecurityField(inst *SecurityInstance, resourceID uint16, value any) {
	switch resourceID {
	case SecurityResServerURI:
		inst.ServerURI = value.(string)
	case SecurityResBootstrapServer:
		inst.BootstrapServer = value.(bool)
	case SecurityResSecurityMode:
		inst.SecurityMode = value.(int64)
	case SecurityResPublicKey:
		inst.PublicKey = value.([]byte)
	case SecurityResServerPublicKey:
		inst.ServerPublicKey = value.([]byte)
	case SecurityResSecretKey:
		inst.SecretKey = value.([]byte)
	case SecurityResShortServerID:
		inst.ShortServerID = value.(int64)
	case SecurityResClientHoldOffTime:
		inst.ClientHoldOffTime = value.(int64)
	}
}
