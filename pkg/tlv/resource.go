package tlv

import (
	"fmt"
	"time"

	"github.com/lwm2m-go/lwm2m/pkg/resource"
)

// EncodeResource converts a resource.Resource into its Record form: a
// ResourceWithValue leaf for a single-instance resource, or a
// MultipleResources container of ResourceInstance children for a
// multiple-instance resource.
func EncodeResource(r *resource.Resource) (Record, error) {
	if !r.Multiple {
		value, err := encodeScalar(r)
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindResourceWithValue, ID: r.ID, Value: value}, nil
	}

	instances, err := r.Instances()
	if err != nil {
		return Record{}, err
	}
	children := make([]Record, 0, len(instances))
	for _, riID := range r.InstanceIDs() {
		value, err := encodeScalarValue(r.Type, instances[riID])
		if err != nil {
			return Record{}, err
		}
		children = append(children, Record{Kind: KindResourceInstance, ID: riID, Value: value})
	}
	return Record{Kind: KindMultipleResources, ID: r.ID, Children: children}, nil
}

// DecodeResource reinterprets a decoded Record's raw bytes as a
// resource.Resource of the given data type, known out-of-band from the
// object descriptor that declared this resource id.
func DecodeResource(rec Record, dataType resource.DataType) (*resource.Resource, error) {
	switch rec.Kind {
	case KindResourceWithValue, KindResourceInstance:
		v, err := decodeScalar(dataType, rec.Value)
		if err != nil {
			return nil, err
		}
		return resource.New(rec.ID, v)
	case KindMultipleResources:
		values := make(map[uint16]any, len(rec.Children))
		for _, child := range rec.Children {
			if child.Kind != KindResourceInstance {
				return nil, fmt.Errorf("%w: unexpected child kind %s in MultipleResources", ErrMalformed, child.Kind)
			}
			v, err := decodeScalar(dataType, child.Value)
			if err != nil {
				return nil, err
			}
			values[child.ID] = v
		}
		return resource.NewMultiple(rec.ID, values)
	case KindObjectInstance:
		return nil, fmt.Errorf("%w: ObjectInstance has no scalar interpretation", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, rec.Kind)
	}
}

func encodeScalar(r *resource.Resource) ([]byte, error) {
	switch r.Type {
	case resource.TypeString:
		v, err := r.AsString()
		if err != nil {
			return nil, err
		}
		return EncodeString(v), nil
	case resource.TypeInt:
		v, err := r.AsInt()
		if err != nil {
			return nil, err
		}
		return EncodeInt(v), nil
	case resource.TypeFloat:
		v, err := r.AsFloat()
		if err != nil {
			return nil, err
		}
		return EncodeFloat(v), nil
	case resource.TypeBool:
		v, err := r.AsBool()
		if err != nil {
			return nil, err
		}
		return EncodeBool(v), nil
	case resource.TypeOpaque:
		return r.AsOpaque()
	case resource.TypeTime:
		v, err := r.AsTime()
		if err != nil {
			return nil, err
		}
		return EncodeTime(v), nil
	case resource.TypeObjLink:
		v, err := r.AsObjLink()
		if err != nil {
			return nil, err
		}
		return EncodeObjLink(ObjLink{ObjectID: v.ObjectID, InstanceID: v.InstanceID}), nil
	default:
		return nil, fmt.Errorf("%w: resource %d has no type", ErrMalformed, r.ID)
	}
}

func encodeScalarValue(dataType resource.DataType, value any) ([]byte, error) {
	switch dataType {
	case resource.TypeString:
		return EncodeString(value.(string)), nil
	case resource.TypeInt:
		return EncodeInt(value.(int64)), nil
	case resource.TypeFloat:
		return EncodeFloat(value.(float64)), nil
	case resource.TypeBool:
		return EncodeBool(value.(bool)), nil
	case resource.TypeOpaque:
		return value.([]byte), nil
	case resource.TypeTime:
		return EncodeTime(value.(time.Time)), nil
	case resource.TypeObjLink:
		v := value.(resource.ObjectLink)
		return EncodeObjLink(ObjLink{ObjectID: v.ObjectID, InstanceID: v.InstanceID}), nil
	default:
		return nil, fmt.Errorf("%w: unsupported data type %s", ErrMalformed, dataType)
	}
}

func decodeScalar(dataType resource.DataType, b []byte) (any, error) {
	switch dataType {
	case resource.TypeString:
		return DecodeString(b), nil
	case resource.TypeInt:
		return DecodeInt(b)
	case resource.TypeFloat:
		return DecodeFloat(b)
	case resource.TypeBool:
		return DecodeBool(b)
	case resource.TypeOpaque:
		return b, nil
	case resource.TypeTime:
		return DecodeTime(b)
	case resource.TypeObjLink:
		link, err := DecodeObjLink(b)
		if err != nil {
			return nil, err
		}
		return resource.ObjectLink{ObjectID: link.ObjectID, InstanceID: link.InstanceID}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported data type %s", ErrMalformed, dataType)
	}
}
