package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/objectregistry"
	"github.com/lwm2m-go/lwm2m/pkg/tlv"
)

type testDevice struct {
	manufacturer string
	rebootCount  int
}

func deviceObjectDescriptor(dev *testDevice) *objectregistry.Descriptor {
	return &objectregistry.Descriptor{
		ID:            3,
		ResourceCount: 5,
		Capabilities: objectregistry.Capabilities{
			Read:          true,
			WriteResource: true,
			Execute:       true,
		},
		OnRead: func(instanceID, resourceID uint16, userData any) (any, error) {
			d := userData.(*testDevice)
			switch resourceID {
			case 0:
				return d.manufacturer, nil
			case 1:
				return "model-x", nil
			default:
				return nil, coap.New(coap.KindNotFound, "resource not present")
			}
		},
		OnWriteResource: func(instanceID, resourceID uint16, value []byte, userData any) error {
			d := userData.(*testDevice)
			if resourceID != 0 {
				return coap.New(coap.KindMethodNotAllowed, "read-only resource")
			}
			d.manufacturer = string(value)
			return nil
		},
		OnExecute: func(instanceID, resourceID uint16, args []byte, userData any) error {
			d := userData.(*testDevice)
			if resourceID != 4 {
				return coap.New(coap.KindMethodNotAllowed, "not executable")
			}
			d.rebootCount++
			return nil
		},
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testDevice) {
	t.Helper()
	dev := &testDevice{manufacturer: "acme"}
	registry, err := objectregistry.New(dev, deviceObjectDescriptor(dev))
	require.NoError(t, err)
	require.NoError(t, registry.AddInstance(3, 0, nil))

	net := coap.NewMemoryNetwork()
	transport := coap.NewMemoryTransport(net, "device")
	coap.NewMemoryTransport(net, "server") // no listener: Sends to "server" fail with ErrPeerNotFound, which the dispatcher only logs

	return NewDispatcher(registry, NewTable(), transport, "server", nil), dev
}

func getRequest(p string) *coap.Message {
	req := coap.NewRequest(coap.GET, []byte("tok"))
	req.SetPath(p)
	return req
}

func TestDispatchReadResourceIsTextPlain(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Handle(context.Background(), nil, getRequest("3/0/0"))
	require.Equal(t, coap.Content, resp.Code)
	cf, _ := resp.Option(coap.OptionContentFormat)
	require.Equal(t, coap.ContentFormatText, decodeOptionUint(cf))
	require.Equal(t, "acme", string(resp.Payload))
}

func TestDispatchReadInstanceIsTLVElidingMissingResources(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Handle(context.Background(), nil, getRequest("3/0"))
	require.Equal(t, coap.Content, resp.Code)
	cf, _ := resp.Option(coap.OptionContentFormat)
	require.Equal(t, coap.ContentFormatTLV, decodeOptionUint(cf))

	records, err := tlv.Unmarshal(resp.Payload)
	require.NoError(t, err)
	require.Len(t, records, 2) // resources 2,3,4 are elided as NotFound
	require.Equal(t, uint16(0), records[0].ID)
	require.Equal(t, uint16(1), records[1].ID)
}

func TestDispatchReadUnknownObjectIsNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Handle(context.Background(), nil, getRequest("9/0"))
	require.Equal(t, coap.NotFound, resp.Code)
}

func TestDispatchWriteResourceUpdatesState(t *testing.T) {
	d, dev := newTestDispatcher(t)
	req := coap.NewRequest(coap.PUT, []byte("tok"))
	req.SetPath("3/0/0")
	req.AddOption(coap.OptionContentFormat, encodeOptionUint(coap.ContentFormatText))
	req.Payload = []byte("newvendor")

	resp := d.Handle(context.Background(), nil, req)
	require.Equal(t, coap.Changed, resp.Code)
	require.Equal(t, "newvendor", dev.manufacturer)
}

func TestDispatchWriteResourceMissingContentFormatIsBadRequest(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req := coap.NewRequest(coap.PUT, []byte("tok"))
	req.SetPath("3/0/0")
	req.Payload = []byte("x")

	resp := d.Handle(context.Background(), nil, req)
	require.Equal(t, coap.BadRequest, resp.Code)
}

func TestDispatchExecuteInvokesCallback(t *testing.T) {
	d, dev := newTestDispatcher(t)
	req := coap.NewRequest(coap.POST, []byte("tok"))
	req.SetPath("3/0/4")

	resp := d.Handle(context.Background(), nil, req)
	require.Equal(t, coap.Changed, resp.Code)
	require.Equal(t, 1, dev.rebootCount)
}

func TestDispatchExecuteUnsupportedIsMethodNotAllowed(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req := coap.NewRequest(coap.POST, []byte("tok"))
	req.SetPath("3/0/0")

	resp := d.Handle(context.Background(), nil, req)
	require.Equal(t, coap.MethodNotAllowed, resp.Code)
}

func TestDispatchDeleteRequiresInstancePath(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req := coap.NewRequest(coap.DELETE, []byte("tok"))
	req.SetPath("3")

	resp := d.Handle(context.Background(), nil, req)
	require.Equal(t, coap.BadRequest, resp.Code)
}

func TestDispatchGetObserveInstallsAndWriteNotifies(t *testing.T) {
	dev := &testDevice{manufacturer: "acme"}
	registry, err := objectregistry.New(dev, deviceObjectDescriptor(dev))
	require.NoError(t, err)
	require.NoError(t, registry.AddInstance(3, 0, nil))

	network := coap.NewMemoryNetwork()
	serverSide := coap.NewMemoryTransport(network, "server")
	deviceSide := coap.NewMemoryTransport(network, "device")

	var received []*coap.Message
	done := make(chan struct{}, 2)
	go func() {
		_ = serverSide.Listen(context.Background(), "server", func(ctx context.Context, from net.Addr, req *coap.Message) *coap.Message {
			received = append(received, req)
			done <- struct{}{}
			return nil
		})
	}()

	d := NewDispatcher(registry, NewTable(), deviceSide, "server", nil)

	observeReq := coap.NewRequest(coap.GET, []byte("obs-token"))
	observeReq.SetPath("3/0/0")
	observeReq.AddOption(coap.OptionObserve, []byte{0})
	resp := d.Handle(context.Background(), nil, observeReq)
	require.Equal(t, coap.Content, resp.Code)
	require.Equal(t, 1, d.Observations.Count())

	writeReq := coap.NewRequest(coap.PUT, []byte("tok2"))
	writeReq.SetPath("3/0/0")
	writeReq.AddOption(coap.OptionContentFormat, encodeOptionUint(coap.ContentFormatText))
	writeReq.Payload = []byte("newvendor")
	writeResp := d.Handle(context.Background(), nil, writeReq)
	require.Equal(t, coap.Changed, writeResp.Code)

	<-done
	require.Len(t, received, 1)
	require.Equal(t, "obs-token", string(received[0].Token))
	observe, ok := received[0].Option(coap.OptionObserve)
	require.True(t, ok)
	require.Equal(t, uint32(1), decodeOptionUint(observe))
}

func TestEncodeDecodeOptionUintRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 255, 256, 65535, 65536, 16777215, 4294967295} {
		require.Equal(t, v, decodeOptionUint(encodeOptionUint(v)))
	}
}

func TestNextFreeInstanceIDSkipsTaken(t *testing.T) {
	registry, err := objectregistry.New(nil, &objectregistry.Descriptor{ID: 1})
	require.NoError(t, err)
	require.NoError(t, registry.AddInstance(1, 0, nil))
	require.NoError(t, registry.AddInstance(1, 1, nil))
	require.Equal(t, uint16(2), nextFreeInstanceID(registry, 1))
}
