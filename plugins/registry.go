package plugins

// Factory instantiates a plugin against the given manager. Factories receive
// the core's API version and must return a nil plugin when they were built
// against a different one.
type Factory func(apiVersion int, manager Manager) (Plugin, error)

// Registry enumerates the available plugins and instantiates them on demand.
// A registry must never call back into the plugin manager.
type Registry interface {
	// Enumerate returns the descriptors of every available plugin. The
	// returned descriptors are immutable.
	Enumerate() []*Descriptor

	// Instantiate produces a plugin instance for descriptor. A nil plugin
	// with a nil error means the plugin declined to load, most likely an
	// API version mismatch.
	Instantiate(descriptor *Descriptor, manager Manager) (Plugin, error)

	// Release frees any resources held for descriptor after its plugin has
	// been unloaded.
	Release(descriptor *Descriptor)
}

// StaticRegistry is a registry of statically linked plugins. Plugin packages
// register a descriptor and factory, typically from an init function into
// the default registry.
type StaticRegistry struct {
	descriptors []*Descriptor
	factories   map[string]Factory
}

// NewStaticRegistry creates an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{factories: make(map[string]Factory)}
}

// Register adds a plugin to the registry.
func (r *StaticRegistry) Register(descriptor Descriptor, factory Factory) error {
	if descriptor.Identity == "" || factory == nil {
		return NewPluginError(descriptor.Identity, "register", "identity and factory are required", ErrInvalidDescriptor)
	}
	if _, ok := r.factories[descriptor.Identity]; ok {
		return NewPluginError(descriptor.Identity, "register", "identity already taken", ErrPluginAlreadyRegistered)
	}
	d := descriptor
	r.descriptors = append(r.descriptors, &d)
	r.factories[d.Identity] = factory
	return nil
}

// Enumerate implements Registry.
func (r *StaticRegistry) Enumerate() []*Descriptor {
	out := make([]*Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Instantiate implements Registry.
func (r *StaticRegistry) Instantiate(descriptor *Descriptor, manager Manager) (Plugin, error) {
	factory, ok := r.factories[descriptor.Identity]
	if !ok {
		return nil, NewPluginError(descriptor.Identity, "instantiate", "no factory registered", ErrPluginNotFound)
	}
	return factory(APIVersion, manager)
}

// Release implements Registry. Statically linked plugins hold no per-load
// resources.
func (r *StaticRegistry) Release(descriptor *Descriptor) {}

// defaultRegistry collects plugins registered at package init time.
var defaultRegistry = NewStaticRegistry()

// Register adds a plugin to the default registry. Intended to be called from
// a plugin package's init function.
func Register(descriptor Descriptor, factory Factory) error {
	return defaultRegistry.Register(descriptor, factory)
}

// DefaultRegistry returns the registry of statically linked plugins.
func DefaultRegistry() *StaticRegistry {
	return defaultRegistry
}

// FilteredRegistry narrows another registry down to an allow-list of plugin
// identities. An empty allow-list exposes every plugin.
type FilteredRegistry struct {
	inner Registry
	allow map[string]bool
}

// NewFilteredRegistry wraps inner with the given allow-list.
func NewFilteredRegistry(inner Registry, allow []string) *FilteredRegistry {
	set := make(map[string]bool, len(allow))
	for _, id := range allow {
		set[id] = true
	}
	return &FilteredRegistry{inner: inner, allow: set}
}

// Enumerate implements Registry.
func (r *FilteredRegistry) Enumerate() []*Descriptor {
	all := r.inner.Enumerate()
	if len(r.allow) == 0 {
		return all
	}
	out := make([]*Descriptor, 0, len(all))
	for _, d := range all {
		if r.allow[d.Identity] {
			out = append(out, d)
		}
	}
	return out
}

// Instantiate implements Registry.
func (r *FilteredRegistry) Instantiate(descriptor *Descriptor, manager Manager) (Plugin, error) {
	return r.inner.Instantiate(descriptor, manager)
}

// Release implements Registry.
func (r *FilteredRegistry) Release(descriptor *Descriptor) {
	r.inner.Release(descriptor)
}
