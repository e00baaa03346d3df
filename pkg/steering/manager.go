package steering

import (
	"context"

	"github.com/newtron-network/extport/pkg/metrics"
	"github.com/newtron-network/extport/pkg/util"
)

// Hook method names, as reported in util.SteeringDriverError.
const (
	MethodInitialize                 = "initialize"
	MethodCreatePortChainPrecommit   = "create_port_chain_precommit"
	MethodCreatePortChainPostcommit  = "create_port_chain_postcommit"
	MethodUpdatePortChainPrecommit   = "update_port_chain_precommit"
	MethodUpdatePortChainPostcommit  = "update_port_chain_postcommit"
	MethodDeletePortChainPrecommit   = "delete_port_chain_precommit"
	MethodDeletePortChainPostcommit  = "delete_port_chain_postcommit"
	MethodCreateClassifierPrecommit  = "create_steering_classifier_precommit"
	MethodCreateClassifierPostcommit = "create_steering_classifier_postcommit"
	MethodUpdateClassifierPrecommit  = "update_steering_classifier_precommit"
	MethodUpdateClassifierPostcommit = "update_steering_classifier_postcommit"
	MethodDeleteClassifierPrecommit  = "delete_steering_classifier_precommit"
	MethodDeleteClassifierPostcommit = "delete_steering_classifier_postcommit"
)

// Manager dispatches each hook to every configured driver in order.
type Manager struct {
	drivers []Driver
	metrics *metrics.Metrics
}

// NewManager creates a Manager. m may be nil.
func NewManager(m *metrics.Metrics, drivers ...Driver) *Manager {
	return &Manager{drivers: drivers, metrics: m}
}

// Drivers returns the configured driver names in call order.
func (m *Manager) Drivers() []string {
	names := make([]string, 0, len(m.drivers))
	for _, d := range m.drivers {
		names = append(names, d.Name())
	}
	return names
}

// Initialize initializes every driver, stopping at the first failure.
func (m *Manager) Initialize(ctx context.Context) error {
	return m.call(MethodInitialize, false, func(d Driver) error {
		return d.Initialize(ctx)
	})
}

// call runs hook on every driver. Unless continueOnFailure is set it stops
// at the first failure; otherwise it runs them all and returns the first.
func (m *Manager) call(method string, continueOnFailure bool, hook func(Driver) error) error {
	var first error
	for _, d := range m.drivers {
		err := hook(d)
		if err == nil {
			continue
		}
		m.metrics.SteeringFailure(d.Name(), method)
		util.WithOperation(method).Errorf("Steering driver %s failed: %v", d.Name(), err)
		serr := &util.SteeringDriverError{Driver: d.Name(), Method: method, Err: err}
		if !continueOnFailure {
			return serr
		}
		if first == nil {
			first = serr
		}
	}
	return first
}

func (m *Manager) CreatePortChainPrecommit(ctx context.Context, c *PortChainContext) error {
	return m.call(MethodCreatePortChainPrecommit, false, func(d Driver) error {
		return d.CreatePortChainPrecommit(ctx, c)
	})
}

func (m *Manager) CreatePortChainPostcommit(ctx context.Context, c *PortChainContext) error {
	return m.call(MethodCreatePortChainPostcommit, false, func(d Driver) error {
		return d.CreatePortChainPostcommit(ctx, c)
	})
}

func (m *Manager) UpdatePortChainPrecommit(ctx context.Context, c *PortChainContext) error {
	return m.call(MethodUpdatePortChainPrecommit, false, func(d Driver) error {
		return d.UpdatePortChainPrecommit(ctx, c)
	})
}

func (m *Manager) UpdatePortChainPostcommit(ctx context.Context, c *PortChainContext) error {
	return m.call(MethodUpdatePortChainPostcommit, false, func(d Driver) error {
		return d.UpdatePortChainPostcommit(ctx, c)
	})
}

func (m *Manager) DeletePortChainPrecommit(ctx context.Context, c *PortChainContext) error {
	return m.call(MethodDeletePortChainPrecommit, false, func(d Driver) error {
		return d.DeletePortChainPrecommit(ctx, c)
	})
}

// DeletePortChainPostcommit runs every driver even after a failure; the
// resource is already gone.
func (m *Manager) DeletePortChainPostcommit(ctx context.Context, c *PortChainContext) error {
	return m.call(MethodDeletePortChainPostcommit, true, func(d Driver) error {
		return d.DeletePortChainPostcommit(ctx, c)
	})
}

func (m *Manager) CreateClassifierPrecommit(ctx context.Context, c *ClassifierContext) error {
	return m.call(MethodCreateClassifierPrecommit, false, func(d Driver) error {
		return d.CreateClassifierPrecommit(ctx, c)
	})
}

func (m *Manager) CreateClassifierPostcommit(ctx context.Context, c *ClassifierContext) error {
	return m.call(MethodCreateClassifierPostcommit, false, func(d Driver) error {
		return d.CreateClassifierPostcommit(ctx, c)
	})
}

func (m *Manager) UpdateClassifierPrecommit(ctx context.Context, c *ClassifierContext) error {
	return m.call(MethodUpdateClassifierPrecommit, false, func(d Driver) error {
		return d.UpdateClassifierPrecommit(ctx, c)
	})
}

func (m *Manager) UpdateClassifierPostcommit(ctx context.Context, c *ClassifierContext) error {
	return m.call(MethodUpdateClassifierPostcommit, false, func(d Driver) error {
		return d.UpdateClassifierPostcommit(ctx, c)
	})
}

func (m *Manager) DeleteClassifierPrecommit(ctx context.Context, c *ClassifierContext) error {
	return m.call(MethodDeleteClassifierPrecommit, false, func(d Driver) error {
		return d.DeleteClassifierPrecommit(ctx, c)
	})
}

// DeleteClassifierPostcommit runs every driver even after a failure.
func (m *Manager) DeleteClassifierPostcommit(ctx context.Context, c *ClassifierContext) error {
	return m.call(MethodDeleteClassifierPostcommit, true, func(d Driver) error {
		return d.DeleteClassifierPostcommit(ctx, c)
	})
}
