package plugins

// Descriptor is the immutable metadata identifying one available plugin.
// Produced by a Registry at startup and never mutated afterwards.
type Descriptor struct {
	// Identity is the stable unique identifier of the plugin.
	Identity string

	// Name is the human-readable display name.
	Name string

	// RequiredServices lists the bus services the plugin depends on. The
	// plugin is loaded when all of them are online and notified to unload
	// as soon as any goes offline. A plugin may only subscribe to methods
	// of services in this list.
	RequiredServices []string
}

// ContainsService reports whether service is in the required-service list.
func (d *Descriptor) ContainsService(service string) bool {
	for _, s := range d.RequiredServices {
		if s == service {
			return true
		}
	}
	return false
}
