package objects

import (
	"fmt"
	"strconv"
	"time"

	"github.com/lwm2m-go/lwm2m/pkg/resource"
	"github.com/lwm2m-go/lwm2m/pkg/tlv"
)

// decodeWriteResource parses a write-resource payload (text/plain for
// numeric, time (Unix seconds) and string types, raw bytes for opaque)
// into the Go value resource.New would build for dt — the inverse of the
// client dispatcher's encodeScalarWire for those types. ObjLink payloads
// are not decoded.
func decodeWriteResource(dt resource.DataType, payload []byte) (any, error) {
	switch dt {
	case resource.TypeTime:
		secs, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return nil, err
		}
		return time.Unix(secs, 0), nil
	case resource.TypeString:
		return string(payload), nil
	case resource.TypeInt:
		return strconv.ParseInt(string(payload), 10, 64)
	case resource.TypeFloat:
		return strconv.ParseFloat(string(payload), 64)
	case resource.TypeBool:
		return string(payload) == "1", nil
	case resource.TypeOpaque:
		return append([]byte(nil), payload...), nil
	default:
		return nil, fmt.Errorf("objects: unsupported write-resource type %s", dt)
	}
}

// decodeTLVRecord decodes one TLV record into a plain Go value, given
// the resource's declared DataType, ready to feed back into
// resource.New for re-encoding or to store directly.
func decodeTLVRecord(rec tlv.Record, dt resource.DataType) (any, error) {
	res, err := tlv.DecodeResource(rec, dt)
	if err != nil {
		return nil, err
	}
	switch dt {
	case resource.TypeString:
		return res.AsString()
	case resource.TypeInt:
		return res.AsInt()
	case resource.TypeFloat:
		return res.AsFloat()
	case resource.TypeBool:
		return res.AsBool()
	case resource.TypeOpaque:
		return res.AsOpaque()
	case resource.TypeTime:
		return res.AsTime()
	case resource.TypeObjLink:
		return res.AsObjLink()
	default:
		return nil, fmt.Errorf("objects: unsupported tlv type %s", dt)
	}
}
