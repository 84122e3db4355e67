package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Optional lifecycle interfaces. A module implements whichever stages it
// needs; LoadModule and App probe for them in order:
//
//	New() → Configure() → Provision() → Validate() → Start() … Stop()

// Configurable receives the module's raw YAML config section, after
// instantiation and before Provision().
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner performs setup after configuration: defaults, shared
// service lookup and registration, resource acquisition via AppContext.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator verifies the module's configuration is complete. Runs after
// Provision() and must have no side effects.
type Validator interface {
	Validate() error
}

// Starter begins background work (goroutines, listeners, connections)
// once every module is provisioned and validated.
type Starter interface {
	Start() error
}

// Stopper releases resources. Called during shutdown in reverse start
// order.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader applies a live configuration change.
type Reloader interface {
	Reload(ctx *AppContext) error
}
