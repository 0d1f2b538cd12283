package path

import "strings"

// Name tables for the mandatory LWM2M objects (Security, Server, Device).
// Object and resource IDs of custom objects are addressed numerically;
// name resolution only covers the objects every client and server must
// support per the bootstrap and device-management interfaces.
var (
	objectNames = map[string]uint16{
		"security": 0,
		"server":   1,
		"device":   3,
	}

	resourceNames = map[uint16]map[string]uint16{
		0: { // Security
			"lwm2mserveruri":  0,
			"bootstrapserver": 1,
			"securitymode":    2,
			"publickey":       3,
			"serverpublickey": 4,
			"secretkey":       5,
			"shortserverid":   10,
		},
		1: { // Server
			"shortserverid":       0,
			"lifetime":            1,
			"defaultminperiod":    2,
			"defaultmaxperiod":    3,
			"disable":             4,
			"disabletimeout":      5,
			"notificationstoring": 6,
			"binding":             7,
			"registrationupdatetrigger": 8,
		},
		3: { // Device
			"manufacturer":       0,
			"modelnumber":        1,
			"serialnumber":       2,
			"firmwareversion":    3,
			"reboot":             4,
			"factoryreset":       5,
			"availablepowersources": 6,
			"errorcode":          11,
			"reseterrorcode":     12,
			"currenttime":        13,
			"utcoffset":          14,
			"timezone":           15,
			"supportedbindingmodes": 16,
		},
	}
)

// ResolveObjectName resolves a mandatory object's name to its numeric ID
// (case-insensitive). Returns false for object names not in the table.
func ResolveObjectName(name string) (uint16, bool) {
	id, ok := objectNames[strings.ToLower(name)]
	return id, ok
}

// ResolveResourceName resolves a resource name to its numeric ID within a
// mandatory object (case-insensitive).
func ResolveResourceName(objectID uint16, name string) (uint16, bool) {
	names, ok := resourceNames[objectID]
	if !ok {
		return 0, false
	}
	id, ok := names[strings.ToLower(name)]
	return id, ok
}

// ObjectName returns the mandatory object's name, or "" if not in the table.
func ObjectName(objectID uint16) string {
	for name, id := range objectNames {
		if id == objectID {
			return name
		}
	}
	return ""
}

// ResourceName returns a resource's name within a mandatory object, or ""
// if the object or resource ID isn't in the table.
func ResourceName(objectID, resourceID uint16) string {
	names, ok := resourceNames[objectID]
	if !ok {
		return ""
	}
	for name, id := range names {
		if id == resourceID {
			return name
		}
	}
	return ""
}
