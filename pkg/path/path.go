// Package path parses and formats LWM2M resource paths.
//
// An LWM2M path addresses a node in the Object/Object-Instance/Resource/
// Resource-Instance tree, e.g. "/3/0/1" (Device object, instance 0,
// Manufacturer resource). Paths may be partial: an object-level path
// ("/3") addresses every instance of the object, an instance-level path
// ("/3/0") addresses every resource of that instance.
package path

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Path errors.
var (
	ErrEmptyPath   = errors.New("empty path")
	ErrInvalidPath = errors.New("invalid path format")
	ErrOutOfRange  = errors.New("path segment out of range")
)

// Path represents a parsed LWM2M resource path.
// Format: /ObjectID[/InstanceID[/ResourceID[/ResourceInstanceID]]]
type Path struct {
	ObjectID uint16

	// InstanceID is nil for an object-level path.
	InstanceID *uint16

	// ResourceID is nil unless the path addresses a resource.
	ResourceID *uint16

	// ResourceInstanceID is nil unless the path addresses a single
	// instance of a multiple-instance resource.
	ResourceInstanceID *uint16

	// Raw stores the original input string.
	Raw string
}

// Parse parses a path string such as "/3/0/1" or "3/0/1" into a Path.
// Segment values may be decimal or, for convenience, resolved from the
// mandatory-object name tables (see ResolveObjectName/ResolveResourceName).
func Parse(input string) (*Path, error) {
	raw := input
	trimmed := strings.Trim(strings.TrimSpace(input), "/")
	if trimmed == "" {
		return nil, ErrEmptyPath
	}
	if strings.Contains(trimmed, "//") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, raw)
	}

	segments := strings.Split(trimmed, "/")
	if len(segments) > 4 {
		return nil, fmt.Errorf("%w: too many segments in %s", ErrInvalidPath, raw)
	}

	objID, err := parseObjectSegment(segments[0])
	if err != nil {
		return nil, fmt.Errorf("object: %w", err)
	}

	p := &Path{ObjectID: objID, Raw: raw}
	if len(segments) == 1 {
		return p, nil
	}

	instID, err := parseUint16Segment(segments[1])
	if err != nil {
		return nil, fmt.Errorf("instance: %w", err)
	}
	p.InstanceID = &instID
	if len(segments) == 2 {
		return p, nil
	}

	resID, err := parseResourceSegment(objID, segments[2])
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}
	p.ResourceID = &resID
	if len(segments) == 3 {
		return p, nil
	}

	riID, err := parseUint16Segment(segments[3])
	if err != nil {
		return nil, fmt.Errorf("resource instance: %w", err)
	}
	p.ResourceInstanceID = &riID
	return p, nil
}

// IsObjectLevel reports whether the path addresses only an object.
func (p *Path) IsObjectLevel() bool { return p.InstanceID == nil }

// IsInstanceLevel reports whether the path addresses an object instance
// without naming a resource.
func (p *Path) IsInstanceLevel() bool { return p.InstanceID != nil && p.ResourceID == nil }

// IsResourceLevel reports whether the path names a resource, with or
// without a resource-instance suffix.
func (p *Path) IsResourceLevel() bool { return p.ResourceID != nil }

// IsResourceInstanceLevel reports whether the path names a single instance
// of a multiple-instance resource.
func (p *Path) IsResourceInstanceLevel() bool { return p.ResourceInstanceID != nil }

// Depth returns the number of addressed segments (1-4).
func (p *Path) Depth() int {
	switch {
	case p.ResourceInstanceID != nil:
		return 4
	case p.ResourceID != nil:
		return 3
	case p.InstanceID != nil:
		return 2
	default:
		return 1
	}
}

// String returns the canonical "/O/I/R/i" form of the path.
func (p *Path) String() string {
	var sb strings.Builder
	sb.WriteString("/")
	sb.WriteString(strconv.Itoa(int(p.ObjectID)))
	if p.InstanceID == nil {
		return sb.String()
	}
	sb.WriteString("/")
	sb.WriteString(strconv.Itoa(int(*p.InstanceID)))
	if p.ResourceID == nil {
		return sb.String()
	}
	sb.WriteString("/")
	sb.WriteString(strconv.Itoa(int(*p.ResourceID)))
	if p.ResourceInstanceID == nil {
		return sb.String()
	}
	sb.WriteString("/")
	sb.WriteString(strconv.Itoa(int(*p.ResourceInstanceID)))
	return sb.String()
}

// HasPrefix reports whether p is equal to or a descendant of other, used to
// match an observation registered on an object or instance against a
// notification triggered on a more specific path.
func (p *Path) HasPrefix(other *Path) bool {
	if p.ObjectID != other.ObjectID {
		return false
	}
	if other.InstanceID == nil {
		return true
	}
	if p.InstanceID == nil || *p.InstanceID != *other.InstanceID {
		return false
	}
	if other.ResourceID == nil {
		return true
	}
	if p.ResourceID == nil || *p.ResourceID != *other.ResourceID {
		return false
	}
	if other.ResourceInstanceID == nil {
		return true
	}
	return p.ResourceInstanceID != nil && *p.ResourceInstanceID == *other.ResourceInstanceID
}

func parseObjectSegment(s string) (uint16, error) {
	if id, err := parseUint16Segment(s); err == nil {
		return id, nil
	}
	if id, ok := ResolveObjectName(s); ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidPath, s)
}

func parseResourceSegment(objectID uint16, s string) (uint16, error) {
	if id, err := parseUint16Segment(s); err == nil {
		return id, nil
	}
	if id, ok := ResolveResourceName(objectID, s); ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidPath, s)
}

func parseUint16Segment(s string) (uint16, error) {
	var v uint64
	var err error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 16)
	} else {
		v, err = strconv.ParseUint(s, 10, 16)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, s)
	}
	return uint16(v), nil
}
