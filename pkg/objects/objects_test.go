package objects

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lwm2m-go/lwm2m/pkg/resource"
	"github.com/lwm2m-go/lwm2m/pkg/tlv"
)

func tlvRecordFor(t *testing.T, id uint16, value any) tlv.Record {
	t.Helper()
	res, err := resource.New(id, value)
	require.NoError(t, err)
	rec, err := tlv.EncodeResource(res)
	require.NoError(t, err)
	return rec
}

func TestSecurityReadWriteResourceRoundTrip(t *testing.T) {
	state := NewSecurityState()
	d := NewSecurityDescriptor(state)
	state.Put(0, SecurityInstance{})

	require.NoError(t, d.OnWriteResource(0, SecurityResServerURI, []byte("coap://server:5683"), nil))
	v, err := d.OnRead(0, SecurityResServerURI, nil)
	require.NoError(t, err)
	require.Equal(t, "coap://server:5683", v)
}

func TestSecurityReadUnknownInstanceIsNotFound(t *testing.T) {
	state := NewSecurityState()
	d := NewSecurityDescriptor(state)
	_, err := d.OnRead(9, SecurityResServerURI, nil)
	require.Error(t, err)
}

func TestSecurityWriteTLVAppliesMultipleFields(t *testing.T) {
	state := NewSecurityState()
	d := NewSecurityDescriptor(state)
	state.Put(0, SecurityInstance{})

	records := []tlv.Record{
		tlvRecordFor(t, SecurityResServerURI, "coap://server:5683"),
		tlvRecordFor(t, SecurityResBootstrapServer, false),
		tlvRecordFor(t, SecurityResShortServerID, int64(123)),
	}
	require.NoError(t, d.OnWriteTLV(0, records, nil))

	inst, ok := state.Get(0)
	require.True(t, ok)
	require.Equal(t, "coap://server:5683", inst.ServerURI)
	require.Equal(t, int64(123), inst.ShortServerID)
}

func TestSecurityCreateAndDelete(t *testing.T) {
	state := NewSecurityState()
	d := NewSecurityDescriptor(state)

	require.NoError(t, d.OnCreate(1, nil))
	_, ok := state.Get(1)
	require.True(t, ok)

	require.NoError(t, d.OnDelete(1, nil))
	_, ok = state.Get(1)
	require.False(t, ok)
}

func TestServerExecuteDisableInvokesHook(t *testing.T) {
	state := NewServerState()
	d := NewServerDescriptor(state)
	require.NoError(t, d.OnCreate(0, nil))

	var disabledInstance uint16 = 99
	state.OnDisable(func(instanceID uint16) { disabledInstance = instanceID })

	require.NoError(t, d.OnExecute(0, ServerResDisable, nil, nil))
	require.Equal(t, uint16(0), disabledInstance)
}

func TestServerExecuteRegistrationUpdateTriggerInvokesHook(t *testing.T) {
	state := NewServerState()
	d := NewServerDescriptor(state)
	require.NoError(t, d.OnCreate(0, nil))

	triggered := false
	state.OnRegistrationUpdateTrigger(func(uint16) { triggered = true })

	require.NoError(t, d.OnExecute(0, ServerResRegistrationUpdateTrigger, nil, nil))
	require.True(t, triggered)
}

func TestServerWriteResourceLifetime(t *testing.T) {
	state := NewServerState()
	d := NewServerDescriptor(state)
	require.NoError(t, d.OnCreate(0, nil))

	require.NoError(t, d.OnWriteResource(0, ServerResLifetime, []byte("120"), nil))
	v, err := d.OnRead(0, ServerResLifetime, nil)
	require.NoError(t, err)
	require.Equal(t, int64(120), v)
}

func TestServerExecuteUnknownResourceIsMethodNotAllowed(t *testing.T) {
	state := NewServerState()
	d := NewServerDescriptor(state)
	require.NoError(t, d.OnCreate(0, nil))

	require.Error(t, d.OnExecute(0, ServerResBinding, nil, nil))
}

func TestDeviceReadIdentityFields(t *testing.T) {
	state := NewDeviceState("Acme", "Widget-1", "SN123", "1.0.0")
	d := NewDeviceDescriptor(state)

	v, err := d.OnRead(0, DeviceResManufacturer, nil)
	require.NoError(t, err)
	require.Equal(t, "Acme", v)

	v, err = d.OnRead(0, DeviceResSerialNumber, nil)
	require.NoError(t, err)
	require.Equal(t, "SN123", v)
}

func TestDeviceExecuteRebootInvokesHook(t *testing.T) {
	state := NewDeviceState("Acme", "Widget-1", "SN123", "1.0.0")
	d := NewDeviceDescriptor(state)

	rebooted := false
	state.RebootFunc = func() { rebooted = true }

	require.NoError(t, d.OnExecute(0, DeviceResReboot, nil, nil))
	require.True(t, rebooted)
}

func TestDeviceExecuteResetErrorCodeClearsField(t *testing.T) {
	state := NewDeviceState("Acme", "Widget-1", "SN123", "1.0.0")
	state.ErrorCode = 7
	d := NewDeviceDescriptor(state)

	require.NoError(t, d.OnExecute(0, DeviceResResetErrorCode, nil, nil))
	v, err := d.OnRead(0, DeviceResErrorCode, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), v)
}

func TestDeviceWriteResourceRejectsReadOnlyField(t *testing.T) {
	state := NewDeviceState("Acme", "Widget-1", "SN123", "1.0.0")
	d := NewDeviceDescriptor(state)

	require.Error(t, d.OnWriteResource(0, DeviceResManufacturer, []byte("Evil Corp"), nil))
}

func TestDeviceWriteResourceTimezone(t *testing.T) {
	state := NewDeviceState("Acme", "Widget-1", "SN123", "1.0.0")
	d := NewDeviceDescriptor(state)

	require.NoError(t, d.OnWriteResource(0, DeviceResTimezone, []byte("Europe/Berlin"), nil))
	v, err := d.OnRead(0, DeviceResTimezone, nil)
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", v)
}

func TestNewBundleWiresAllThreeDescriptors(t *testing.T) {
	bundle, descriptors := NewBundle("Acme", "Widget-1", "SN123", "1.0.0")
	require.Len(t, descriptors, 3)
	require.Equal(t, "Acme", bundle.Device.Manufacturer)
}
