package lwm2m

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the object instances and resources of one LwM2M endpoint.
//
// Each resource's type is fixed when it is created. Writes carrying a value
// of another type are rejected with ErrTypeMismatch.
//
// All public methods are thread-safe.
type Registry struct {
	mu        sync.RWMutex
	instances map[Path]map[uint16]*Resource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[Path]map[uint16]*Resource),
	}
}

// Define creates a resource. The initial value, if set, must match the
// declared type. Returns ErrExists if the resource is already defined.
func (r *Registry) Define(path Path, def ResourceDef) error {
	if !path.IsResource() {
		return fmt.Errorf("%w: %s is not a resource path", ErrInvalidPath, path)
	}
	if !def.Initial.IsZero() && def.Initial.Type() != def.Type {
		return fmt.Errorf("%w: initial value for %s is %s, want %s",
			ErrTypeMismatch, path, def.Initial.Type(), def.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.instance(path.InstanceOf())
	if _, ok := inst[path.Resource]; ok {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}

	ops := def.Operations
	if ops == 0 {
		ops = OpRead
	}
	inst[path.Resource] = &Resource{
		ID:         path.Resource,
		Type:       def.Type,
		Operations: ops,
		Observable: def.Observable,
		Value:      def.Initial,
	}
	return nil
}

// Write replaces the value of an existing resource and returns the updated
// resource. The stored value is left untouched on error.
func (r *Registry) Write(path Path, v Value) (Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.lookup(path)
	if err != nil {
		return Resource{}, err
	}

	converted, err := v.convertTo(res.Type)
	if err != nil {
		return Resource{}, fmt.Errorf("writing %s: %w", path, err)
	}
	res.Value = converted
	return *res, nil
}

// Put writes a value, creating the resource with the value's type when it
// does not exist yet. Resources created this way are readable and observable.
// created reports whether a new resource was defined.
func (r *Registry) Put(path Path, v Value) (res Resource, created bool, err error) {
	if !path.IsResource() {
		return Resource{}, false, fmt.Errorf("%w: %s is not a resource path", ErrInvalidPath, path)
	}
	if v.IsZero() {
		return Resource{}, false, fmt.Errorf("%w: empty value for %s", ErrInvalidPayload, path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inst := r.instance(path.InstanceOf())
	existing, ok := inst[path.Resource]
	if !ok {
		nr := &Resource{
			ID:         path.Resource,
			Type:       v.Type(),
			Operations: OpRead,
			Observable: true,
			Value:      v,
		}
		inst[path.Resource] = nr
		return *nr, true, nil
	}

	converted, err := v.convertTo(existing.Type)
	if err != nil {
		return Resource{}, false, fmt.Errorf("writing %s: %w", path, err)
	}
	existing.Value = converted
	return *existing, false, nil
}

// Get returns a copy of a resource.
func (r *Registry) Get(path Path) (Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, err := r.lookup(path)
	if err != nil {
		return Resource{}, err
	}
	return *res, nil
}

// Instances returns the paths of all object instances in numeric order.
func (r *Registry) Instances() []Path {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]Path, 0, len(r.instances))
	for p := range r.instances {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].Less(paths[j]) })
	return paths
}

// Resources returns copies of all resources of an object instance, ordered by id.
func (r *Registry) Resources(instance Path) []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst := r.instances[instance.InstanceOf()]
	out := make([]Resource, 0, len(inst))
	for _, res := range inst {
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddInstance ensures an object instance exists, even without resources.
// Used when a registration announces instances the gateway has no values for.
func (r *Registry) AddInstance(p Path) {
	if p.Depth < 2 {
		return
	}
	r.mu.Lock()
	r.instance(p.InstanceOf())
	r.mu.Unlock()
}

// instance returns the resource map of an instance, creating it.
// Callers must hold the write lock.
func (r *Registry) instance(p Path) map[uint16]*Resource {
	inst, ok := r.instances[p]
	if !ok {
		inst = make(map[uint16]*Resource)
		r.instances[p] = inst
	}
	return inst
}

func (r *Registry) lookup(path Path) (*Resource, error) {
	if !path.IsResource() {
		return nil, fmt.Errorf("%w: %s is not a resource path", ErrInvalidPath, path)
	}
	res, ok := r.instances[path.InstanceOf()][path.Resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return res, nil
}
