// Package server implements the LWM2M server-side registration
// directory and management-interface issuer.
package server

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ClientInfo is the directory's record for one registered endpoint
// (spec.md §4.8). Handed to registration monitors as a snapshot — it is
// a copy, not a live pointer into the directory's table, so it remains
// valid after the event that produced it.
type ClientInfo struct {
	Name        string
	Location    string
	Addr        string
	Lifetime    time.Duration
	Binding     string
	SMS         string
	ObjectsPath string
	LinkFormat  string
	Objects     []ObjectEntry

	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// ObjectEntry names one object a client registered along with the
// instance ids it currently carries (spec.md §3's
// "objects: [ {object_id, [instance_id]} ]" client-info shape).
type ObjectEntry struct {
	ObjectID    uint16
	InstanceIDs []uint16
}

// parseLinkFormat parses the CoRE Link Format body a Register/Update
// request carries — comma-separated "</O/I>" entries — into the
// object/instance-id set the directory exposes on ClientInfo. It is the
// server-side inverse of objectregistry.Registry.LinkFormat. Malformed
// entries are skipped rather than failing the whole parse, since a
// single bad link shouldn't hide every object the client did register
// correctly.
func parseLinkFormat(linkFormat string) []ObjectEntry {
	instancesByObject := make(map[uint16][]uint16)
	var objectOrder []uint16

	for _, link := range strings.Split(linkFormat, ",") {
		link = strings.TrimSpace(link)
		link = strings.TrimPrefix(link, "<")
		if idx := strings.IndexByte(link, '>'); idx >= 0 {
			link = link[:idx]
		}
		if link == "" {
			continue
		}
		segments := strings.Split(strings.Trim(link, "/"), "/")
		if len(segments) < 1 || len(segments) > 2 {
			continue
		}
		objectID, err := strconv.ParseUint(segments[0], 10, 16)
		if err != nil {
			continue
		}
		if _, seen := instancesByObject[uint16(objectID)]; !seen {
			objectOrder = append(objectOrder, uint16(objectID))
		}
		if len(segments) == 1 {
			continue
		}
		instanceID, err := strconv.ParseUint(segments[1], 10, 16)
		if err != nil {
			continue
		}
		instancesByObject[uint16(objectID)] = append(instancesByObject[uint16(objectID)], uint16(instanceID))
	}

	sort.Slice(objectOrder, func(i, j int) bool { return objectOrder[i] < objectOrder[j] })
	entries := make([]ObjectEntry, 0, len(objectOrder))
	for _, objectID := range objectOrder {
		instanceIDs := instancesByObject[objectID]
		sort.Slice(instanceIDs, func(i, j int) bool { return instanceIDs[i] < instanceIDs[j] })
		entries = append(entries, ObjectEntry{ObjectID: objectID, InstanceIDs: instanceIDs})
	}
	return entries
}
