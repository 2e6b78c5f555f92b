package lwm2m

import (
	"fmt"
	"strconv"
	"strings"
)

// Path addresses an object, an object instance or a resource,
// e.g. /3303, /3303/0 or /3303/0/5700.
type Path struct {
	Object   uint16
	Instance uint16
	Resource uint16

	// Depth is the number of path segments: 1 object, 2 instance, 3 resource.
	Depth int
}

// ObjectPath returns the path of an object.
func ObjectPath(object uint16) Path {
	return Path{Object: object, Depth: 1}
}

// InstancePath returns the path of an object instance.
func InstancePath(object, instance uint16) Path {
	return Path{Object: object, Instance: instance, Depth: 2}
}

// ResourcePath returns the path of a resource.
func ResourcePath(object, instance, resource uint16) Path {
	return Path{Object: object, Instance: instance, Resource: resource, Depth: 3}
}

// ParsePath parses "/3303/0/5700" style paths. The leading slash is optional.
// The reserved id 65535 is rejected.
func ParsePath(s string) (Path, error) {
	trimmed := strings.Trim(s, "/")
	if trimmed == "" {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) > 3 {
		return Path{}, fmt.Errorf("%w: %q has too many segments", ErrInvalidPath, s)
	}

	ids := make([]uint16, len(parts))
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil || n == 65535 {
			return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
		}
		ids[i] = uint16(n)
	}

	p := Path{Depth: len(ids)}
	p.Object = ids[0]
	if len(ids) > 1 {
		p.Instance = ids[1]
	}
	if len(ids) > 2 {
		p.Resource = ids[2]
	}
	return p, nil
}

// InstanceOf returns the object instance containing p.
func (p Path) InstanceOf() Path {
	return InstancePath(p.Object, p.Instance)
}

// IsResource reports whether the path addresses a single resource.
func (p Path) IsResource() bool { return p.Depth == 3 }

// String renders the path with a leading slash.
func (p Path) String() string {
	switch p.Depth {
	case 1:
		return fmt.Sprintf("/%d", p.Object)
	case 2:
		return fmt.Sprintf("/%d/%d", p.Object, p.Instance)
	case 3:
		return fmt.Sprintf("/%d/%d/%d", p.Object, p.Instance, p.Resource)
	default:
		return "/"
	}
}

// Less orders paths numerically.
func (p Path) Less(o Path) bool {
	if p.Object != o.Object {
		return p.Object < o.Object
	}
	if p.Instance != o.Instance {
		return p.Instance < o.Instance
	}
	if p.Resource != o.Resource {
		return p.Resource < o.Resource
	}
	return p.Depth < o.Depth
}
