package objects

import (
	"sync"
	"time"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/objectregistry"
	"github.com/lwm2m-go/lwm2m/pkg/resource"
)

// DeviceObjectID is the LWM2M Device object's well-known id.
const DeviceObjectID uint16 = 3

// Device resource ids (LWM2M Device object, id 3). Only the subset
// this module exercises is declared; a real device descriptor would
// extend this table rather than replace it.
const (
	DeviceResManufacturer           uint16 = 0
	DeviceResModelNumber            uint16 = 1
	DeviceResSerialNumber           uint16 = 2
	DeviceResFirmwareVersion        uint16 = 3
	DeviceResReboot                 uint16 = 4
	DeviceResFactoryReset           uint16 = 5
	DeviceResErrorCode              uint16 = 11
	DeviceResResetErrorCode         uint16 = 12
	DeviceResCurrentTime            uint16 = 13
	DeviceResUTCOffset              uint16 = 14
	DeviceResTimezone               uint16 = 15
	DeviceResSupportedBindingModes  uint16 = 16
)

var deviceResourceTypes = map[uint16]resource.DataType{
	DeviceResManufacturer:          resource.TypeString,
	DeviceResModelNumber:           resource.TypeString,
	DeviceResSerialNumber:          resource.TypeString,
	DeviceResFirmwareVersion:       resource.TypeString,
	DeviceResErrorCode:             resource.TypeInt,
	DeviceResCurrentTime:           resource.TypeTime,
	DeviceResUTCOffset:             resource.TypeString,
	DeviceResTimezone:              resource.TypeString,
	DeviceResSupportedBindingModes: resource.TypeString,
}

// DeviceState is the single Device instance's (instance id 0 is the
// only one LWM2M allows) read-only identity plus the handful of
// writable/executable fields a real device exposes. RebootFunc and
// FactoryResetFunc are invoked from the dispatcher's goroutine — they
// must return quickly, per spec.md §5's no-blocking-callback rule.
type DeviceState struct {
	mu sync.RWMutex

	Manufacturer    string
	ModelNumber     string
	SerialNumber    string
	FirmwareVersion string
	ErrorCode       int64
	UTCOffset       string
	Timezone        string

	RebootFunc       func()
	FactoryResetFunc func()
}

// NewDeviceState builds a Device state from the identity fields every
// instance must report; the writable/executable fields start empty.
func NewDeviceState(manufacturer, modelNumber, serialNumber, firmwareVersion string) *DeviceState {
	return &DeviceState{
		Manufacturer:    manufacturer,
		ModelNumber:     modelNumber,
		SerialNumber:    serialNumber,
		FirmwareVersion: firmwareVersion,
	}
}

// NewDeviceDescriptor builds the Device object descriptor. Only
// instance 0 may ever exist; Create/Delete are unsupported since the
// Device object's single instance is provisioned once at startup by
// the registry's caller, not by a management Create.
func NewDeviceDescriptor(state *DeviceState) *objectregistry.Descriptor {
	return &objectregistry.Descriptor{
		ID:            DeviceObjectID,
		ResourceCount: DeviceResSupportedBindingModes + 1,
		Capabilities: objectregistry.Capabilities{
			Read:          true,
			WriteResource: true,
			Execute:       true,
		},
		OnRead: func(instanceID, resourceID uint16, _ any) (any, error) {
			if instanceID != 0 {
				return nil, coap.New(coap.KindNotFound, "device instance")
			}
			state.mu.RLock()
			defer state.mu.RUnlock()
			switch resourceID {
			case DeviceResManufacturer:
				return state.Manufacturer, nil
			case DeviceResModelNumber:
				return state.ModelNumber, nil
			case DeviceResSerialNumber:
				return state.SerialNumber, nil
			case DeviceResFirmwareVersion:
				return state.FirmwareVersion, nil
			case DeviceResErrorCode:
				return state.ErrorCode, nil
			case DeviceResCurrentTime:
				return time.Now(), nil
			case DeviceResUTCOffset:
				return state.UTCOffset, nil
			case DeviceResTimezone:
				return state.Timezone, nil
			case DeviceResSupportedBindingModes:
				return "U", nil
			default:
				return nil, coap.New(coap.KindNotFound, "device resource")
			}
		},
		OnWriteResource: func(instanceID, resourceID uint16, value []byte, _ any) error {
			if instanceID != 0 {
				return coap.New(coap.KindNotFound, "device instance")
			}
			switch resourceID {
			case DeviceResCurrentTime, DeviceResUTCOffset, DeviceResTimezone:
				// writable per the LWM2M Device object spec
			default:
				return coap.New(coap.KindMethodNotAllowed, "device resource not writable")
			}
			dt := deviceResourceTypes[resourceID]
			decoded, err := decodeWriteResource(dt, value)
			if err != nil {
				return coap.New(coap.KindBadRequest, err.Error())
			}
			state.mu.Lock()
			defer state.mu.Unlock()
			switch resourceID {
			case DeviceResUTCOffset:
				state.UTCOffset = decoded.(string)
			case DeviceResTimezone:
				state.Timezone = decoded.(string)
			case DeviceResCurrentTime:
				// CurrentTime is reported live from the host clock;
				// accept the write but do not adopt the value.
			}
			return nil
		},
		OnExecute: func(instanceID, resourceID uint16, _ []byte, _ any) error {
			if instanceID != 0 {
				return coap.New(coap.KindNotFound, "device instance")
			}
			state.mu.RLock()
			reboot, factoryReset := state.RebootFunc, state.FactoryResetFunc
			state.mu.RUnlock()
			switch resourceID {
			case DeviceResReboot:
				if reboot != nil {
					reboot()
				}
				return nil
			case DeviceResFactoryReset:
				if factoryReset != nil {
					factoryReset()
				}
				return nil
			case DeviceResResetErrorCode:
				state.mu.Lock()
				state.ErrorCode = 0
				state.mu.Unlock()
				return nil
			default:
				return coap.New(coap.KindMethodNotAllowed, "device resource not executable")
			}
		},
	}
}
