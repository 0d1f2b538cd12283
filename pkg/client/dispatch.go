package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/lwm2m-go/lwm2m/pkg/coap"
	"github.com/lwm2m-go/lwm2m/pkg/log"
	"github.com/lwm2m-go/lwm2m/pkg/objectregistry"
	"github.com/lwm2m-go/lwm2m/pkg/path"
	"github.com/lwm2m-go/lwm2m/pkg/resource"
	"github.com/lwm2m-go/lwm2m/pkg/tlv"
)

// Dispatcher routes an inbound CoAP request to the object registry's
// callbacks (spec.md §4.6), and scans the observation table for
// subscribers to notify after every write, create, or delete (§4.7).
//
// Dispatcher.Handle has the shape of coap.Handler, so it can be passed
// directly to a Transport's Listen call.
type Dispatcher struct {
	Objects      *objectregistry.Registry
	Observations *Table

	transport  coap.Transport
	serverAddr string
	logger     log.Logger
}

// NewDispatcher builds a Dispatcher that serves requests against
// objects and notifies observations by sending through transport to
// serverAddr — the single management peer this profile's binding mode
// assumes (spec.md §6's Binding mode enumeration).
func NewDispatcher(objects *objectregistry.Registry, observations *Table, transport coap.Transport, serverAddr string, logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Dispatcher{
		Objects:      objects,
		Observations: observations,
		transport:    transport,
		serverAddr:   serverAddr,
		logger:       logger,
	}
}

// Handle processes one inbound CoAP request and returns the response to
// send.
func (d *Dispatcher) Handle(ctx context.Context, _ net.Addr, req *coap.Message) *coap.Message {
	p, err := path.Parse(req.Path())
	if err != nil {
		return d.errorResponse(req, coap.BadRequest, err)
	}

	switch req.Code {
	case coap.GET:
		return d.handleGet(ctx, req, p)
	case coap.PUT:
		return d.handlePut(ctx, req, p)
	case coap.POST:
		return d.handlePost(ctx, req, p)
	case coap.DELETE:
		return d.handleDelete(ctx, req, p)
	default:
		return d.errorResponse(req, coap.MethodNotAllowed, fmt.Errorf("unsupported method code %s", req.Code))
	}
}

func (d *Dispatcher) handleGet(ctx context.Context, req *coap.Message, p *path.Path) *coap.Message {
	observeValue, hasObserve := req.Option(coap.OptionObserve)

	cf, payload, err := d.readNode(p)
	if err != nil {
		return d.errorResponse(req, coap.CodeFor(err), err)
	}

	resp := coap.NewResponse(req, coap.Content)
	resp.AddOption(coap.OptionContentFormat, encodeOptionUint(cf))
	resp.Payload = payload

	if !hasObserve {
		return resp
	}

	switch decodeOptionUint(observeValue) {
	case 0:
		d.Observations.Add(p, req.Token)
		resp.AddOption(coap.OptionObserve, []byte{0})
		d.logObservationChange(p, "added")
	case 1:
		d.Observations.Remove(p, req.Token)
		d.logObservationChange(p, "removed")
	}
	return resp
}

func (d *Dispatcher) handlePut(ctx context.Context, req *coap.Message, p *path.Path) *coap.Message {
	cfBytes, ok := req.Option(coap.OptionContentFormat)
	if !ok {
		return d.errorResponse(req, coap.BadRequest, errors.New("client: write request missing content-format"))
	}

	descriptor, ok := d.Objects.Descriptor(p.ObjectID)
	if !ok {
		return d.errorResponse(req, coap.NotFound, objectregistry.ErrUnknownObject)
	}

	switch decodeOptionUint(cfBytes) {
	case coap.ContentFormatTLV:
		if !p.IsInstanceLevel() {
			return d.errorResponse(req, coap.BadRequest, errors.New("client: TLV write-replace requires an instance path"))
		}
		if !descriptor.Capabilities.WriteTLV {
			return d.errorResponse(req, coap.MethodNotAllowed, objectregistry.ErrCapabilityMissing)
		}
		records, err := tlv.Unmarshal(req.Payload)
		if err != nil {
			return d.errorResponse(req, coap.BadRequest, err)
		}
		if err := descriptor.OnWriteTLV(*p.InstanceID, records, d.Objects.UserData()); err != nil {
			return d.errorResponse(req, coap.CodeFor(err), err)
		}

	case coap.ContentFormatText, coap.ContentFormatOpaque:
		if !p.IsResourceLevel() {
			return d.errorResponse(req, coap.BadRequest, errors.New("client: write-resource requires a resource path"))
		}
		if !descriptor.Capabilities.WriteResource {
			return d.errorResponse(req, coap.MethodNotAllowed, objectregistry.ErrCapabilityMissing)
		}
		if err := descriptor.OnWriteResource(*p.InstanceID, *p.ResourceID, req.Payload, d.Objects.UserData()); err != nil {
			return d.errorResponse(req, coap.CodeFor(err), err)
		}

	case coap.ContentFormatJSON:
		return d.errorResponse(req, coap.UnsupportedContentFormat, errors.New("client: json payloads are not supported"))

	default:
		return d.errorResponse(req, coap.UnsupportedContentFormat, fmt.Errorf("client: unrecognized content-format %d", decodeOptionUint(cfBytes)))
	}

	d.notifyObservers(ctx, p)
	return coap.NewResponse(req, coap.Changed)
}

func (d *Dispatcher) handlePost(ctx context.Context, req *coap.Message, p *path.Path) *coap.Message {
	descriptor, ok := d.Objects.Descriptor(p.ObjectID)
	if !ok {
		return d.errorResponse(req, coap.NotFound, objectregistry.ErrUnknownObject)
	}

	switch {
	case p.IsObjectLevel():
		if !descriptor.Capabilities.Create {
			return d.errorResponse(req, coap.MethodNotAllowed, objectregistry.ErrCapabilityMissing)
		}
		instanceID := nextFreeInstanceID(d.Objects, p.ObjectID)
		if err := descriptor.OnCreate(instanceID, d.Objects.UserData()); err != nil {
			return d.errorResponse(req, coap.CodeFor(err), err)
		}
		if err := d.Objects.AddInstance(p.ObjectID, instanceID, nil); err != nil {
			return d.errorResponse(req, coap.InternalServerError, err)
		}

		resp := coap.NewResponse(req, coap.Created)
		resp.AddOption(coap.OptionLocationPath, []byte(strconv.Itoa(int(p.ObjectID))))
		resp.AddOption(coap.OptionLocationPath, []byte(strconv.Itoa(int(instanceID))))
		d.notifyObservers(ctx, &path.Path{ObjectID: p.ObjectID})
		return resp

	case p.IsResourceLevel():
		if !descriptor.Capabilities.Execute {
			return d.errorResponse(req, coap.MethodNotAllowed, objectregistry.ErrCapabilityMissing)
		}
		if err := descriptor.OnExecute(*p.InstanceID, *p.ResourceID, req.Payload, d.Objects.UserData()); err != nil {
			return d.errorResponse(req, coap.CodeFor(err), err)
		}
		return coap.NewResponse(req, coap.Changed)

	default:
		return d.errorResponse(req, coap.BadRequest, errors.New("client: POST requires an object or resource path"))
	}
}

func (d *Dispatcher) handleDelete(ctx context.Context, req *coap.Message, p *path.Path) *coap.Message {
	if !p.IsInstanceLevel() {
		return d.errorResponse(req, coap.BadRequest, errors.New("client: DELETE requires an instance path"))
	}
	descriptor, ok := d.Objects.Descriptor(p.ObjectID)
	if !ok {
		return d.errorResponse(req, coap.NotFound, objectregistry.ErrUnknownObject)
	}
	if !descriptor.Capabilities.Delete {
		return d.errorResponse(req, coap.MethodNotAllowed, objectregistry.ErrCapabilityMissing)
	}
	if err := descriptor.OnDelete(*p.InstanceID, d.Objects.UserData()); err != nil {
		return d.errorResponse(req, coap.CodeFor(err), err)
	}
	if err := d.Objects.RemoveInstance(p.ObjectID, *p.InstanceID); err != nil {
		return d.errorResponse(req, coap.InternalServerError, err)
	}

	d.notifyObservers(ctx, &path.Path{ObjectID: p.ObjectID})
	return coap.NewResponse(req, coap.Deleted)
}

// readNode resolves p against the object registry and returns the
// negotiated content-format and encoded payload for a Read, per
// spec.md §4.6's read fan-out rules.
func (d *Dispatcher) readNode(p *path.Path) (uint32, []byte, error) {
	descriptor, ok := d.Objects.Descriptor(p.ObjectID)
	if !ok {
		return 0, nil, coap.New(coap.KindNotFound, fmt.Sprintf("object %d", p.ObjectID))
	}
	if !descriptor.Capabilities.Read {
		return 0, nil, coap.New(coap.KindMethodNotAllowed, "read not supported")
	}

	switch {
	case p.IsObjectLevel():
		return d.readObject(descriptor, p.ObjectID)
	case p.IsInstanceLevel():
		return d.readInstance(descriptor, p.ObjectID, *p.InstanceID)
	case p.IsResourceLevel():
		return d.readResource(descriptor, p.ObjectID, *p.InstanceID, *p.ResourceID)
	default:
		return 0, nil, coap.New(coap.KindBadRequest, "resource-instance level read not supported")
	}
}

func (d *Dispatcher) readObject(descriptor *objectregistry.Descriptor, objectID uint16) (uint32, []byte, error) {
	instanceIDs, err := d.Objects.InstanceIDs(objectID)
	if err != nil {
		return 0, nil, coap.New(coap.KindNotFound, err.Error())
	}

	var records []tlv.Record
	for _, instanceID := range instanceIDs {
		children, err := d.readInstanceRecords(descriptor, objectID, instanceID)
		if err != nil {
			d.logReadError(objectID, instanceID, err)
			continue
		}
		records = append(records, tlv.Record{Kind: tlv.KindObjectInstance, ID: instanceID, Children: children})
	}
	return coap.ContentFormatTLV, tlv.Marshal(records), nil
}

func (d *Dispatcher) readInstance(descriptor *objectregistry.Descriptor, objectID, instanceID uint16) (uint32, []byte, error) {
	if _, err := d.Objects.Instance(objectID, instanceID); err != nil {
		return 0, nil, coap.New(coap.KindNotFound, err.Error())
	}
	children, err := d.readInstanceRecords(descriptor, objectID, instanceID)
	if err != nil {
		return 0, nil, err
	}
	return coap.ContentFormatTLV, tlv.Marshal(children), nil
}

// readInstanceRecords calls the read callback once per declared
// resource id, eliding any resource whose callback reports NotFound and
// logging (but not aborting on) any other per-resource error, per
// spec.md §7's "Object-callback errors abort only that sub-read".
func (d *Dispatcher) readInstanceRecords(descriptor *objectregistry.Descriptor, objectID, instanceID uint16) ([]tlv.Record, error) {
	var records []tlv.Record
	for resourceID := uint16(0); resourceID < descriptor.ResourceCount; resourceID++ {
		value, err := descriptor.OnRead(instanceID, resourceID, d.Objects.UserData())
		if err != nil {
			if coap.KindOf(err) != coap.KindNotFound {
				d.logReadError(objectID, instanceID, err)
			}
			continue
		}
		rec, err := encodeValueRecord(resourceID, value)
		if err != nil {
			d.logReadError(objectID, instanceID, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (d *Dispatcher) readResource(descriptor *objectregistry.Descriptor, objectID, instanceID, resourceID uint16) (uint32, []byte, error) {
	if _, err := d.Objects.Instance(objectID, instanceID); err != nil {
		return 0, nil, coap.New(coap.KindNotFound, err.Error())
	}
	value, err := descriptor.OnRead(instanceID, resourceID, d.Objects.UserData())
	if err != nil {
		return 0, nil, err
	}
	return encodeScalarWire(resourceID, value)
}

// encodeValueRecord wraps a callback's returned value as a TLV record,
// used for object- and instance-level reads where every resource is
// always represented in TLV regardless of type.
func encodeValueRecord(resourceID uint16, value any) (tlv.Record, error) {
	var r *resource.Resource
	var err error
	if multiple, ok := value.(map[uint16]any); ok {
		r, err = resource.NewMultiple(resourceID, multiple)
	} else {
		r, err = resource.New(resourceID, value)
	}
	if err != nil {
		return tlv.Record{}, err
	}
	return tlv.EncodeResource(r)
}

// encodeScalarWire applies single-resource content negotiation: numeric
// types and strings become text/plain, opaque stays opaque, and a
// multiple-instance resource read directly falls back to TLV (spec.md
// §4.6's read fan-out note).
func encodeScalarWire(resourceID uint16, value any) (uint32, []byte, error) {
	if multiple, ok := value.(map[uint16]any); ok {
		r, err := resource.NewMultiple(resourceID, multiple)
		if err != nil {
			return 0, nil, err
		}
		rec, err := tlv.EncodeResource(r)
		if err != nil {
			return 0, nil, err
		}
		return coap.ContentFormatTLV, tlv.Marshal([]tlv.Record{rec}), nil
	}

	r, err := resource.New(resourceID, value)
	if err != nil {
		return 0, nil, err
	}
	switch r.Type {
	case resource.TypeString:
		v, _ := r.AsString()
		return coap.ContentFormatText, []byte(v), nil
	case resource.TypeInt:
		v, _ := r.AsInt()
		return coap.ContentFormatText, []byte(strconv.FormatInt(v, 10)), nil
	case resource.TypeFloat:
		v, _ := r.AsFloat()
		return coap.ContentFormatText, []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
	case resource.TypeBool:
		v, _ := r.AsBool()
		if v {
			return coap.ContentFormatText, []byte("1"), nil
		}
		return coap.ContentFormatText, []byte("0"), nil
	case resource.TypeOpaque:
		v, _ := r.AsOpaque()
		return coap.ContentFormatOpaque, v, nil
	case resource.TypeTime:
		v, _ := r.AsTime()
		return coap.ContentFormatText, []byte(strconv.FormatInt(v.Unix(), 10)), nil
	case resource.TypeObjLink:
		v, _ := r.AsObjLink()
		return coap.ContentFormatText, []byte(fmt.Sprintf("%d:%d", v.ObjectID, v.InstanceID)), nil
	default:
		return 0, nil, coap.New(coap.KindInternalError, "resource has no encodable value")
	}
}

// notifyObservers scans the observation table for subscribers of
// changed and pushes a non-confirmable notification to each, re-reading
// the observer's own path so content negotiation matches the read that
// installed it (spec.md §4.7).
func (d *Dispatcher) notifyObservers(ctx context.Context, changed *path.Path) {
	for _, obs := range d.Observations.Matching(changed) {
		cf, payload, err := d.readNode(obs.Path)
		if err != nil {
			d.logger.Log(log.Event{
				Layer: log.LayerObservation, Category: log.CategoryError, LocalRole: log.RoleClient,
				Error: &log.ErrorEventData{Layer: log.LayerObservation, Message: err.Error(), Context: obs.Path.String()},
			})
			continue
		}

		notification := &coap.Message{
			Type:    coap.TypeNonConfirmable,
			Code:    coap.Content,
			Token:   []byte(obs.Token),
			Options: make(map[coap.OptionID][][]byte),
			Payload: payload,
		}
		notification.AddOption(coap.OptionContentFormat, encodeOptionUint(cf))
		notification.AddOption(coap.OptionObserve, encodeOptionUint(obs.Sequence()))

		if _, err := d.transport.Send(ctx, d.serverAddr, notification); err != nil {
			d.logger.Log(log.Event{
				Layer: log.LayerTransport, Category: log.CategoryError, LocalRole: log.RoleClient,
				Error: &log.ErrorEventData{Layer: log.LayerTransport, Message: err.Error(), Context: obs.Path.String()},
			})
		}
	}
}

func (d *Dispatcher) errorResponse(req *coap.Message, code coap.Code, err error) *coap.Message {
	if err != nil {
		d.logger.Log(log.Event{
			Layer: log.LayerDispatch, Category: log.CategoryError, LocalRole: log.RoleClient,
			Error: &log.ErrorEventData{Layer: log.LayerDispatch, Message: err.Error(), Context: req.Path()},
		})
	}
	return coap.NewResponse(req, code)
}

func (d *Dispatcher) logReadError(objectID, instanceID uint16, err error) {
	d.logger.Log(log.Event{
		Layer: log.LayerDispatch, Category: log.CategoryError, LocalRole: log.RoleClient,
		Error: &log.ErrorEventData{Layer: log.LayerDispatch, Message: err.Error(), Context: fmt.Sprintf("/%d/%d", objectID, instanceID)},
	})
}

func (d *Dispatcher) logObservationChange(p *path.Path, newState string) {
	d.logger.Log(log.Event{
		Layer: log.LayerObservation, Category: log.CategoryState, LocalRole: log.RoleClient,
		StateChange: &log.StateChangeEvent{Entity: log.StateEntityObservation, NewState: newState, Reason: p.String()},
	})
}

// nextFreeInstanceID picks the smallest instance id not already
// allocated under objectID, used when a Create request does not name
// one explicitly.
func nextFreeInstanceID(registry *objectregistry.Registry, objectID uint16) uint16 {
	used, _ := registry.InstanceIDs(objectID)
	taken := make(map[uint16]bool, len(used))
	for _, id := range used {
		taken[id] = true
	}
	for id := uint16(0); ; id++ {
		if !taken[id] {
			return id
		}
	}
}

// encodeOptionUint encodes v as the shortest big-endian byte sequence a
// CoAP uint option accepts (RFC 7252 §3.2), with 0 represented by an
// empty option value.
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

func decodeOptionUint(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}
