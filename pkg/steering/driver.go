// Package steering lets several backends take part in one port chain or
// steering classifier change.
//
// Every change runs in two phases. Precommit hooks run inside the store
// write transaction; an error aborts the transaction and no postcommit hook
// runs. Postcommit hooks run after the commit, once per driver in
// configured order. If a create or update postcommit fails the resource is
// deleted again and the failure is returned as a util.SteeringDriverError.
// A delete postcommit failure is returned but the resource stays deleted.
package steering

import (
	"context"

	"github.com/newtron-network/extport/pkg/store"
)

// PortChainContext is passed to port chain hooks. Drivers must not modify
// the records it returns.
type PortChainContext struct {
	current  *store.PortChain
	original *store.PortChain
}

// NewPortChainContext creates a hook context. original is nil except for
// updates.
func NewPortChainContext(current, original *store.PortChain) *PortChainContext {
	return &PortChainContext{current: current, original: original}
}

// Current is the state of the port chain after the change. For deletes it
// is the state being removed.
func (c *PortChainContext) Current() *store.PortChain { return c.current }

// Original is the state before an update. It is nil for creates and
// deletes.
func (c *PortChainContext) Original() *store.PortChain { return c.original }

// ClassifierContext is passed to steering classifier hooks.
type ClassifierContext struct {
	current  *store.SteeringClassifier
	original *store.SteeringClassifier
}

// NewClassifierContext creates a hook context. original is nil except for
// updates.
func NewClassifierContext(current, original *store.SteeringClassifier) *ClassifierContext {
	return &ClassifierContext{current: current, original: original}
}

// Current is the state of the classifier after the change.
func (c *ClassifierContext) Current() *store.SteeringClassifier { return c.current }

// Original is the state before an update, nil otherwise.
func (c *ClassifierContext) Original() *store.SteeringClassifier { return c.original }

// Driver is a steering backend. Embed Base to implement only the hooks a
// backend needs.
type Driver interface {
	Name() string
	Initialize(ctx context.Context) error

	CreatePortChainPrecommit(ctx context.Context, c *PortChainContext) error
	CreatePortChainPostcommit(ctx context.Context, c *PortChainContext) error
	UpdatePortChainPrecommit(ctx context.Context, c *PortChainContext) error
	UpdatePortChainPostcommit(ctx context.Context, c *PortChainContext) error
	DeletePortChainPrecommit(ctx context.Context, c *PortChainContext) error
	DeletePortChainPostcommit(ctx context.Context, c *PortChainContext) error

	CreateClassifierPrecommit(ctx context.Context, c *ClassifierContext) error
	CreateClassifierPostcommit(ctx context.Context, c *ClassifierContext) error
	UpdateClassifierPrecommit(ctx context.Context, c *ClassifierContext) error
	UpdateClassifierPostcommit(ctx context.Context, c *ClassifierContext) error
	DeleteClassifierPrecommit(ctx context.Context, c *ClassifierContext) error
	DeleteClassifierPostcommit(ctx context.Context, c *ClassifierContext) error
}

// Base implements every hook as a no-op.
type Base struct{}

func (Base) Initialize(context.Context) error { return nil }

func (Base) CreatePortChainPrecommit(context.Context, *PortChainContext) error  { return nil }
func (Base) CreatePortChainPostcommit(context.Context, *PortChainContext) error { return nil }
func (Base) UpdatePortChainPrecommit(context.Context, *PortChainContext) error  { return nil }
func (Base) UpdatePortChainPostcommit(context.Context, *PortChainContext) error { return nil }
func (Base) DeletePortChainPrecommit(context.Context, *PortChainContext) error  { return nil }
func (Base) DeletePortChainPostcommit(context.Context, *PortChainContext) error { return nil }

func (Base) CreateClassifierPrecommit(context.Context, *ClassifierContext) error  { return nil }
func (Base) CreateClassifierPostcommit(context.Context, *ClassifierContext) error { return nil }
func (Base) UpdateClassifierPrecommit(context.Context, *ClassifierContext) error  { return nil }
func (Base) UpdateClassifierPostcommit(context.Context, *ClassifierContext) error { return nil }
func (Base) DeleteClassifierPrecommit(context.Context, *ClassifierContext) error  { return nil }
func (Base) DeleteClassifierPostcommit(context.Context, *ClassifierContext) error { return nil }
