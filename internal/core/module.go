package core

// ModuleID is a namespaced module identifier, e.g. "provider.openai_compatible"
// or "channel.wsbridge". The part before the first dot is the namespace.
type ModuleID string

// Namespace returns the ID's namespace prefix, or the whole ID when it
// has no dot.
func (id ModuleID) Namespace() string {
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			return string(id[:i])
		}
	}
	return string(id)
}

// ModuleInfo describes a registered module: its identity and how to
// construct a fresh instance.
type ModuleInfo struct {
	// ID is the unique, namespaced module identifier.
	ID ModuleID

	// New returns a new, unconfigured instance of the module.
	New func() Module
}

// Module is the minimal interface every module implements. Lifecycle
// behavior is added through the optional interfaces in lifecycle.go:
// Configurable, Provisioner, Validator, Starter, Stopper, Reloader.
type Module interface {
	ModuleInfo() ModuleInfo
}
