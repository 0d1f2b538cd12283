// Package resource models an LWM2M resource value: a typed scalar, or a
// multiple-instance resource holding several typed scalars keyed by
// resource-instance id.
package resource

import (
	"errors"
	"fmt"
	"time"
)

// DataType identifies the seven value shapes a TLV ResourceWithValue or
// ResourceInstance record can carry.
type DataType uint8

const (
	// TypeNone marks a resource whose type is not known out-of-band
	// (e.g. Execute arguments).
	TypeNone DataType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeOpaque
	TypeTime
	TypeObjLink
)

// String returns the data type name.
func (t DataType) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeBool:
		return "Bool"
	case TypeOpaque:
		return "Opaque"
	case TypeTime:
		return "Time"
	case TypeObjLink:
		return "ObjLink"
	default:
		return "None"
	}
}

// ObjectLink references another object instance, the value shape used by
// the ObjLink data type (e.g. Server object's "Bootstrap-Server" link).
type ObjectLink struct {
	ObjectID   uint16
	InstanceID uint16
}

// Errors returned by the typed accessors and the constructors.
var (
	ErrTypeMismatch    = errors.New("resource: type mismatch")
	ErrNotMultiple     = errors.New("resource: not a multiple-instance resource")
	ErrNotSingle       = errors.New("resource: not a single-instance resource")
	ErrUnsupportedKind = errors.New("resource: unsupported value kind")
)

// Resource is the in-memory representation of one Resource node: either a
// single typed value, or a set of typed values keyed by resource-instance
// id (a "Multiple" resource, e.g. Device's AvailablePowerSources).
type Resource struct {
	ID       uint16
	Type     DataType
	Multiple bool

	value     any
	instances map[uint16]any
}

// New builds a single-instance resource from a Go value. The DataType is
// inferred from the value's concrete type:
//
//	string       -> TypeString
//	int64 / int  -> TypeInt
//	float64      -> TypeFloat
//	bool         -> TypeBool
//	[]byte       -> TypeOpaque
//	time.Time    -> TypeTime
//	ObjectLink   -> TypeObjLink
func New(id uint16, value any) (*Resource, error) {
	dt, v, err := inferType(value)
	if err != nil {
		return nil, err
	}
	return &Resource{ID: id, Type: dt, value: v}, nil
}

// NewMultiple builds a multiple-instance resource from a map of
// resource-instance id to Go value. All values must share the same
// inferred DataType.
func NewMultiple(id uint16, values map[uint16]any) (*Resource, error) {
	if len(values) == 0 {
		return &Resource{ID: id, Multiple: true, instances: map[uint16]any{}}, nil
	}
	r := &Resource{ID: id, Multiple: true, instances: make(map[uint16]any, len(values))}
	var dt DataType
	first := true
	for riID, raw := range values {
		vdt, v, err := inferType(raw)
		if err != nil {
			return nil, err
		}
		if first {
			dt = vdt
			first = false
		} else if vdt != dt {
			return nil, fmt.Errorf("%w: instance %d is %s, want %s", ErrTypeMismatch, riID, vdt, dt)
		}
		r.instances[riID] = v
	}
	r.Type = dt
	return r, nil
}

func inferType(value any) (DataType, any, error) {
	switch v := value.(type) {
	case string:
		return TypeString, v, nil
	case int:
		return TypeInt, int64(v), nil
	case int64:
		return TypeInt, v, nil
	case float64:
		return TypeFloat, v, nil
	case bool:
		return TypeBool, v, nil
	case []byte:
		return TypeOpaque, v, nil
	case time.Time:
		return TypeTime, v, nil
	case ObjectLink:
		return TypeObjLink, v, nil
	default:
		return TypeNone, nil, fmt.Errorf("%w: %T", ErrUnsupportedKind, value)
	}
}

// AsString returns the resource's value as a string.
func (r *Resource) AsString() (string, error) {
	v, err := r.scalar(TypeString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// AsInt returns the resource's value as an int64.
func (r *Resource) AsInt() (int64, error) {
	v, err := r.scalar(TypeInt)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// AsFloat returns the resource's value as a float64.
func (r *Resource) AsFloat() (float64, error) {
	v, err := r.scalar(TypeFloat)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// AsBool returns the resource's value as a bool.
func (r *Resource) AsBool() (bool, error) {
	v, err := r.scalar(TypeBool)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// AsOpaque returns the resource's value as an opaque byte slice.
func (r *Resource) AsOpaque() ([]byte, error) {
	v, err := r.scalar(TypeOpaque)
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// AsTime returns the resource's value as a time.Time.
func (r *Resource) AsTime() (time.Time, error) {
	v, err := r.scalar(TypeTime)
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

// AsObjLink returns the resource's value as an ObjectLink.
func (r *Resource) AsObjLink() (ObjectLink, error) {
	v, err := r.scalar(TypeObjLink)
	if err != nil {
		return ObjectLink{}, err
	}
	return v.(ObjectLink), nil
}

func (r *Resource) scalar(want DataType) (any, error) {
	if r.Multiple {
		return nil, ErrNotSingle
	}
	if r.Type != want {
		return nil, fmt.Errorf("%w: resource %d is %s, want %s", ErrTypeMismatch, r.ID, r.Type, want)
	}
	return r.value, nil
}

// Instances returns the resource-instance id -> value map of a multiple
// resource, in the resource's shared DataType.
func (r *Resource) Instances() (map[uint16]any, error) {
	if !r.Multiple {
		return nil, ErrNotMultiple
	}
	return r.instances, nil
}

// InstanceIDs returns the sorted resource-instance ids of a multiple
// resource.
func (r *Resource) InstanceIDs() []uint16 {
	ids := make([]uint16, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
