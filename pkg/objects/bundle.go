package objects

import "github.com/lwm2m-go/lwm2m/pkg/objectregistry"

// Bundle holds the live state backing the three mandatory objects, so
// callers can reach into it (e.g. to wire ServerState's Disable /
// RegistrationUpdateTrigger hooks to a client.Endpoint) after handing
// the descriptors to objectregistry.New.
type Bundle struct {
	Security *SecurityState
	Server   *ServerState
	Device   *DeviceState
}

// NewBundle builds fresh state and descriptors for Security, Server,
// and Device, ready to pass to objectregistry.New.
func NewBundle(manufacturer, modelNumber, serialNumber, firmwareVersion string) (*Bundle, []*objectregistry.Descriptor) {
	b := &Bundle{
		Security: NewSecurityState(),
		Server:   NewServerState(),
		Device:   NewDeviceState(manufacturer, modelNumber, serialNumber, firmwareVersion),
	}
	descriptors := []*objectregistry.Descriptor{
		NewSecurityDescriptor(b.Security),
		NewServerDescriptor(b.Server),
		NewDeviceDescriptor(b.Device),
	}
	return b, descriptors
}
