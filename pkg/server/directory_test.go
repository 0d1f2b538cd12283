package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
)

func registerRequest(ep string, lifetimeSeconds int, body string) *coap.Message {
	req := coap.NewRequest(coap.POST, nil)
	req.SetPath("rd")
	req.AddOption(coap.OptionURIQuery, []byte("ep="+ep))
	req.AddOption(coap.OptionURIQuery, []byte("lt="+itoa(lifetimeSeconds)))
	req.AddOption(coap.OptionURIQuery, []byte("b=U"))
	req.Payload = []byte(body)
	return req
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestDirectoryRegisterAllocatesLocationAndFiresEvent(t *testing.T) {
	dir := NewDirectory(nil, nil)
	var events []Event
	dir.OnEvent(func(e Event, _ any) { events = append(events, e) }, nil)

	resp := dir.Handle(context.Background(), nil, registerRequest("dev1", 60, "</3/0>"))
	require.Equal(t, coap.Created, resp.Code)
	require.NotEmpty(t, resp.Path())

	require.Len(t, events, 1)
	require.Equal(t, EventRegister, events[0].Kind)
	require.Equal(t, "dev1", events[0].Client.Name)
	require.Equal(t, 60*time.Second, events[0].Client.Lifetime)
	require.Equal(t, "</3/0>", events[0].Client.LinkFormat)
	require.Equal(t, []ObjectEntry{{ObjectID: 3, InstanceIDs: []uint16{0}}}, events[0].Client.Objects)

	clients := dir.Clients()
	require.Len(t, clients, 1)
}

func TestDirectoryRegisterParsesMultipleObjectsAndInstances(t *testing.T) {
	dir := NewDirectory(nil, nil)

	resp := dir.Handle(context.Background(), nil, registerRequest("dev1", 60, "</1/0>,</3/0>"))
	require.Equal(t, coap.Created, resp.Code)

	clients := dir.Clients()
	require.Len(t, clients, 1)
	require.Equal(t, []ObjectEntry{
		{ObjectID: 1, InstanceIDs: []uint16{0}},
		{ObjectID: 3, InstanceIDs: []uint16{0}},
	}, clients[0].Objects)
}

func TestDirectoryUpdateReplacesObjectsFromNewLinkFormat(t *testing.T) {
	dir := NewDirectory(nil, nil)

	regResp := dir.Handle(context.Background(), nil, registerRequest("dev1", 60, "</3/0>"))
	location := regResp.Path()

	updateReq := coap.NewRequest(coap.POST, nil)
	updateReq.SetPath(location)
	updateReq.Payload = []byte("</1/0>,</3/0>")
	updateResp := dir.Handle(context.Background(), nil, updateReq)
	require.Equal(t, coap.Changed, updateResp.Code)

	info, ok := dir.Lookup(location)
	require.True(t, ok)
	require.Equal(t, []ObjectEntry{
		{ObjectID: 1, InstanceIDs: []uint16{0}},
		{ObjectID: 3, InstanceIDs: []uint16{0}},
	}, info.Objects)
}

func TestDirectoryRegisterMissingEndpointNameIsBadRequest(t *testing.T) {
	dir := NewDirectory(nil, nil)
	req := coap.NewRequest(coap.POST, nil)
	req.SetPath("rd")
	resp := dir.Handle(context.Background(), nil, req)
	require.Equal(t, coap.BadRequest, resp.Code)
}

func TestDirectoryUpdateRefreshesLifetimeAndFiresEvent(t *testing.T) {
	dir := NewDirectory(nil, nil)
	var events []Event
	dir.OnEvent(func(e Event, _ any) { events = append(events, e) }, nil)

	regResp := dir.Handle(context.Background(), nil, registerRequest("dev1", 60, "</3/0>"))
	location := regResp.Path()

	updateReq := coap.NewRequest(coap.POST, nil)
	updateReq.SetPath(location)
	updateReq.AddOption(coap.OptionURIQuery, []byte("lt=120"))

	updResp := dir.Handle(context.Background(), nil, updateReq)
	require.Equal(t, coap.Changed, updResp.Code)

	info, ok := dir.Lookup(location)
	require.True(t, ok)
	require.Equal(t, 120*time.Second, info.Lifetime)

	require.Len(t, events, 2)
	require.Equal(t, EventUpdate, events[1].Kind)
}

func TestDirectoryUpdateUnknownLocationIsNotFound(t *testing.T) {
	dir := NewDirectory(nil, nil)
	req := coap.NewRequest(coap.POST, nil)
	req.SetPath("rd/unknown")
	resp := dir.Handle(context.Background(), nil, req)
	require.Equal(t, coap.NotFound, resp.Code)
}

func TestDirectoryDeregisterRemovesClientAndFiresEvent(t *testing.T) {
	dir := NewDirectory(nil, nil)
	var events []Event
	dir.OnEvent(func(e Event, _ any) { events = append(events, e) }, nil)

	regResp := dir.Handle(context.Background(), nil, registerRequest("dev1", 60, "</3/0>"))
	location := regResp.Path()

	delReq := coap.NewRequest(coap.DELETE, nil)
	delReq.SetPath(location)
	delResp := dir.Handle(context.Background(), nil, delReq)
	require.Equal(t, coap.Deleted, delResp.Code)

	_, ok := dir.Lookup(location)
	require.False(t, ok)
	require.Equal(t, EventUnregister, events[len(events)-1].Kind)
}

func TestDirectoryDeregisterUnknownLocationIsNotFound(t *testing.T) {
	dir := NewDirectory(nil, nil)
	req := coap.NewRequest(coap.DELETE, nil)
	req.SetPath("rd/unknown")
	resp := dir.Handle(context.Background(), nil, req)
	require.Equal(t, coap.NotFound, resp.Code)
}

func TestDirectoryExpiryFiresTimeoutAndRemovesClient(t *testing.T) {
	network := coap.NewMemoryNetwork()
	issuer := NewIssuer(coap.NewMemoryTransport(network, "server"), nil)
	dir := NewDirectory(issuer, nil)
	var events []Event
	dir.OnEvent(func(e Event, _ any) { events = append(events, e) }, nil)

	req := registerRequest("dev1", 0, "</3/0>")
	resp := dir.Handle(context.Background(), nil, req)
	require.Equal(t, coap.Created, resp.Code)

	require.Eventually(t, func() bool {
		for _, e := range events {
			if e.Kind == EventTimeout {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	_, ok := dir.Lookup(resp.Path())
	require.False(t, ok)
}

func TestDirectoryOnEventDeduplicatesIdenticalPairs(t *testing.T) {
	dir := NewDirectory(nil, nil)
	count := 0
	cb := func(e Event, _ any) { count++ }
	dir.OnEvent(cb, "user")
	dir.OnEvent(cb, "user")

	dir.Handle(context.Background(), nil, registerRequest("dev1", 60, ""))
	require.Equal(t, 1, count)
}
