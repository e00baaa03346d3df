// Package noop provides a steering driver that accepts every change and
// only logs it.
package noop

import (
	"context"

	"github.com/newtron-network/extport/pkg/steering"
	"github.com/newtron-network/extport/pkg/util"
)

// Name is the driver name used in configuration.
const Name = "noop"

// Driver logs each hook at debug level.
type Driver struct {
	steering.Base
}

// New creates a noop driver.
func New() *Driver { return &Driver{} }

func (d *Driver) Name() string { return Name }

func logChain(method string, c *steering.PortChainContext) error {
	util.WithOperation(method).Debugf("port chain %s (%s)", c.Current().ID, c.Current().Name)
	return nil
}

func logClassifier(method string, c *steering.ClassifierContext) error {
	util.WithOperation(method).Debugf("steering classifier %s (%s)", c.Current().ID, c.Current().Name)
	return nil
}

func (d *Driver) Initialize(ctx context.Context) error {
	util.WithOperation(steering.MethodInitialize).Debugf("noop steering driver ready")
	return nil
}

func (d *Driver) CreatePortChainPrecommit(_ context.Context, c *steering.PortChainContext) error {
	return logChain(steering.MethodCreatePortChainPrecommit, c)
}

func (d *Driver) CreatePortChainPostcommit(_ context.Context, c *steering.PortChainContext) error {
	return logChain(steering.MethodCreatePortChainPostcommit, c)
}

func (d *Driver) UpdatePortChainPrecommit(_ context.Context, c *steering.PortChainContext) error {
	return logChain(steering.MethodUpdatePortChainPrecommit, c)
}

func (d *Driver) UpdatePortChainPostcommit(_ context.Context, c *steering.PortChainContext) error {
	return logChain(steering.MethodUpdatePortChainPostcommit, c)
}

func (d *Driver) DeletePortChainPrecommit(_ context.Context, c *steering.PortChainContext) error {
	return logChain(steering.MethodDeletePortChainPrecommit, c)
}

func (d *Driver) DeletePortChainPostcommit(_ context.Context, c *steering.PortChainContext) error {
	return logChain(steering.MethodDeletePortChainPostcommit, c)
}

func (d *Driver) CreateClassifierPrecommit(_ context.Context, c *steering.ClassifierContext) error {
	return logClassifier(steering.MethodCreateClassifierPrecommit, c)
}

func (d *Driver) CreateClassifierPostcommit(_ context.Context, c *steering.ClassifierContext) error {
	return logClassifier(steering.MethodCreateClassifierPostcommit, c)
}

func (d *Driver) UpdateClassifierPrecommit(_ context.Context, c *steering.ClassifierContext) error {
	return logClassifier(steering.MethodUpdateClassifierPrecommit, c)
}

func (d *Driver) UpdateClassifierPostcommit(_ context.Context, c *steering.ClassifierContext) error {
	return logClassifier(steering.MethodUpdateClassifierPostcommit, c)
}

func (d *Driver) DeleteClassifierPrecommit(_ context.Context, c *steering.ClassifierContext) error {
	return logClassifier(steering.MethodDeleteClassifierPrecommit, c)
}

func (d *Driver) DeleteClassifierPostcommit(_ context.Context, c *steering.ClassifierContext) error {
	return logClassifier(steering.MethodDeleteClassifierPostcommit, c)
}

var _ steering.Driver = (*Driver)(nil)
