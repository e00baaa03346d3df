package steering

import (
	"context"
	"errors"
	"fmt"

	"github.com/newtron-network/extport/pkg/audit"
	"github.com/newtron-network/extport/pkg/metrics"
	"github.com/newtron-network/extport/pkg/store"
	"github.com/newtron-network/extport/pkg/util"
)

// Service applies port chain and classifier changes to the store and the
// steering drivers.
type Service struct {
	store   *store.Store
	manager *Manager
	audit   audit.Logger
	metrics *metrics.Metrics
	user    string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAudit sends audit events to l instead of the package default.
func WithAudit(l audit.Logger) ServiceOption {
	return func(s *Service) { s.audit = l }
}

// WithMetrics records compensations in m.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithUser sets the user recorded in audit events.
func WithUser(user string) ServiceOption {
	return func(s *Service) { s.user = user }
}

// NewService creates a Service.
func NewService(st *store.Store, m *Manager, opts ...ServiceOption) *Service {
	s := &Service{store: st, manager: m}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Drivers returns the steering driver names in call order.
func (s *Service) Drivers() []string { return s.manager.Drivers() }

func (s *Service) record(op, id string, err error) {
	e := audit.NewEvent(s.user, op, id).WithResult(err)
	var lerr error
	if s.audit != nil {
		lerr = s.audit.Log(e)
	} else {
		lerr = audit.Log(e)
	}
	if lerr != nil {
		util.Warnf("audit: %v", lerr)
	}
}

// compensate deletes a resource whose postcommit failed and returns the
// error of the compensation itself. When the delete is refused because
// the resource is still referenced and restore is set, restore puts back
// the previous version instead; the returned error then still wraps the
// refusal so callers know the resource exists.
func (s *Service) compensate(kind, id string, del, restore func() error) error {
	s.metrics.Compensation()
	log := util.WithOperation("compensate")
	log.Errorf("Postcommit failed, deleting %s %s", kind, id)
	err := del()
	s.record(audit.OpCompensatingDelete, id, err)
	if err == nil {
		return nil
	}
	log.Errorf("Compensating delete of %s %s failed: %v", kind, id, err)
	if restore == nil || !errors.Is(err, util.ErrInUse) {
		return fmt.Errorf("compensating delete of %s %s: %w", kind, id, err)
	}

	rerr := restore()
	s.record(audit.OpCompensatingRestore, id, rerr)
	if rerr != nil {
		log.Errorf("Restoring %s %s failed: %v", kind, id, rerr)
		return fmt.Errorf("compensating %s %s: %w", kind, id, errors.Join(err, rerr))
	}
	log.Warnf("Restored previous version of %s %s", kind, id)
	return fmt.Errorf("%s %s restored to its previous version: %w", kind, id, err)
}

// ============================================================================
// Port chains
// ============================================================================

// CreatePortChain stores pc and pushes it to the drivers.
func (s *Service) CreatePortChain(ctx context.Context, pc *store.PortChain) (*store.PortChain, error) {
	pc = pc.Copy()
	var sctx *PortChainContext
	err := s.store.Update(func(tx *store.Tx) error {
		if err := tx.CreatePortChain(pc); err != nil {
			return err
		}
		sctx = NewPortChainContext(pc.Copy(), nil)
		return s.manager.CreatePortChainPrecommit(ctx, sctx)
	})
	if err != nil {
		s.record(audit.OpCreatePortChain, pc.ID, err)
		return nil, err
	}

	if err := s.manager.CreatePortChainPostcommit(ctx, sctx); err != nil {
		s.record(audit.OpCreatePortChain, pc.ID, err)
		cerr := s.compensate("port chain", pc.ID, func() error { return s.DeletePortChain(ctx, pc.ID) }, nil)
		return nil, errors.Join(err, cerr)
	}
	s.record(audit.OpCreatePortChain, pc.ID, nil)
	util.WithOperation("create").Infof("Created port chain %s", pc.ID)
	return pc, nil
}

// PortChainUpdate carries the mutable fields of a port chain. Nil fields
// are left unchanged.
type PortChainUpdate struct {
	Name          *string
	Description   *string
	Ports         *[][]string
	ClassifierIDs *[]string
}

// UpdatePortChain changes a port chain and pushes the change to the
// drivers. Original() carries the state before the change.
func (s *Service) UpdatePortChain(ctx context.Context, id string, upd PortChainUpdate) (*store.PortChain, error) {
	var pc *store.PortChain
	var sctx *PortChainContext
	err := s.store.Update(func(tx *store.Tx) error {
		original, err := tx.PortChain(id)
		if err != nil {
			return err
		}
		pc = original.Copy()
		if upd.Name != nil {
			pc.Name = *upd.Name
		}
		if upd.Description != nil {
			pc.Description = *upd.Description
		}
		if upd.Ports != nil {
			pc.Ports = *upd.Ports
		}
		if upd.ClassifierIDs != nil {
			pc.ClassifierIDs = *upd.ClassifierIDs
		}
		if err := tx.UpdatePortChain(pc); err != nil {
			return err
		}
		sctx = NewPortChainContext(pc.Copy(), original)
		return s.manager.UpdatePortChainPrecommit(ctx, sctx)
	})
	if err != nil {
		s.record(audit.OpUpdatePortChain, id, err)
		return nil, err
	}

	if err := s.manager.UpdatePortChainPostcommit(ctx, sctx); err != nil {
		s.record(audit.OpUpdatePortChain, id, err)
		cerr := s.compensate("port chain", id, func() error { return s.DeletePortChain(ctx, id) }, nil)
		return nil, errors.Join(err, cerr)
	}
	s.record(audit.OpUpdatePortChain, id, nil)
	return pc, nil
}

// DeletePortChain removes a port chain. A postcommit failure is returned
// but the chain stays deleted.
func (s *Service) DeletePortChain(ctx context.Context, id string) error {
	var sctx *PortChainContext
	err := s.store.Update(func(tx *store.Tx) error {
		pc, err := tx.PortChain(id)
		if err != nil {
			return err
		}
		sctx = NewPortChainContext(pc, nil)
		if err := s.manager.DeletePortChainPrecommit(ctx, sctx); err != nil {
			return err
		}
		return tx.DeletePortChain(id)
	})
	if err == nil {
		err = s.manager.DeletePortChainPostcommit(ctx, sctx)
	}
	s.record(audit.OpDeletePortChain, id, err)
	return err
}

// GetPortChain returns one port chain.
func (s *Service) GetPortChain(id string) (*store.PortChain, error) {
	var pc *store.PortChain
	err := s.store.View(func(tx *store.ReadTx) error {
		var err error
		pc, err = tx.PortChain(id)
		return err
	})
	return pc, err
}

// ListPortChains returns every port chain.
func (s *Service) ListPortChains() []*store.PortChain {
	var out []*store.PortChain
	s.store.View(func(tx *store.ReadTx) error {
		out = tx.PortChains()
		return nil
	})
	return out
}

// ============================================================================
// Steering classifiers
// ============================================================================

// CreateClassifier stores sc and pushes it to the drivers.
func (s *Service) CreateClassifier(ctx context.Context, sc *store.SteeringClassifier) (*store.SteeringClassifier, error) {
	sc = sc.Copy()
	var sctx *ClassifierContext
	err := s.store.Update(func(tx *store.Tx) error {
		if err := tx.CreateSteeringClassifier(sc); err != nil {
			return err
		}
		sctx = NewClassifierContext(sc.Copy(), nil)
		return s.manager.CreateClassifierPrecommit(ctx, sctx)
	})
	if err != nil {
		s.record(audit.OpCreateClassifier, sc.ID, err)
		return nil, err
	}

	if err := s.manager.CreateClassifierPostcommit(ctx, sctx); err != nil {
		s.record(audit.OpCreateClassifier, sc.ID, err)
		cerr := s.compensate("steering classifier", sc.ID, func() error { return s.DeleteClassifier(ctx, sc.ID) }, nil)
		return nil, errors.Join(err, cerr)
	}
	s.record(audit.OpCreateClassifier, sc.ID, nil)
	util.WithOperation("create").Infof("Created steering classifier %s", sc.ID)
	return sc, nil
}

// ClassifierUpdate carries the mutable fields of a classifier.
type ClassifierUpdate struct {
	Name         *string
	Description  *string
	Protocol     *int
	SrcPortRange *string
	DstPortRange *string
	SrcIP        *string
	DstIP        *string
}

// UpdateClassifier changes a classifier and pushes the change to the
// drivers.
func (s *Service) UpdateClassifier(ctx context.Context, id string, upd ClassifierUpdate) (*store.SteeringClassifier, error) {
	var sc *store.SteeringClassifier
	var sctx *ClassifierContext
	err := s.store.Update(func(tx *store.Tx) error {
		original, err := tx.SteeringClassifier(id)
		if err != nil {
			return err
		}
		sc = original.Copy()
		setString(&sc.Name, upd.Name)
		setString(&sc.Description, upd.Description)
		setString(&sc.SrcPortRange, upd.SrcPortRange)
		setString(&sc.DstPortRange, upd.DstPortRange)
		setString(&sc.SrcIP, upd.SrcIP)
		setString(&sc.DstIP, upd.DstIP)
		if upd.Protocol != nil {
			sc.Protocol = *upd.Protocol
		}
		if err := tx.UpdateSteeringClassifier(sc); err != nil {
			return err
		}
		sctx = NewClassifierContext(sc.Copy(), original)
		return s.manager.UpdateClassifierPrecommit(ctx, sctx)
	})
	if err != nil {
		s.record(audit.OpUpdateClassifier, id, err)
		return nil, err
	}

	if err := s.manager.UpdateClassifierPostcommit(ctx, sctx); err != nil {
		s.record(audit.OpUpdateClassifier, id, err)
		cerr := s.compensate("steering classifier", id,
			func() error { return s.DeleteClassifier(ctx, id) },
			func() error { return s.restoreClassifier(ctx, sctx) })
		return nil, errors.Join(err, cerr)
	}
	s.record(audit.OpUpdateClassifier, id, nil)
	return sc, nil
}

// restoreClassifier writes back the version of a classifier that an update
// replaced and pushes it to the drivers. It is used when a port chain still
// references the classifier and the compensating delete is refused.
func (s *Service) restoreClassifier(ctx context.Context, failed *ClassifierContext) error {
	original := failed.Original().Copy()
	err := s.store.Update(func(tx *store.Tx) error {
		return tx.UpdateSteeringClassifier(original)
	})
	if err != nil {
		return err
	}
	return s.manager.UpdateClassifierPostcommit(ctx, NewClassifierContext(original.Copy(), failed.Current()))
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// DeleteClassifier removes a classifier no port chain references. A
// postcommit failure is returned but the classifier stays deleted.
func (s *Service) DeleteClassifier(ctx context.Context, id string) error {
	var sctx *ClassifierContext
	err := s.store.Update(func(tx *store.Tx) error {
		sc, err := tx.SteeringClassifier(id)
		if err != nil {
			return err
		}
		sctx = NewClassifierContext(sc, nil)
		if err := s.manager.DeleteClassifierPrecommit(ctx, sctx); err != nil {
			return err
		}
		return tx.DeleteSteeringClassifier(id)
	})
	if err == nil {
		err = s.manager.DeleteClassifierPostcommit(ctx, sctx)
	}
	s.record(audit.OpDeleteClassifier, id, err)
	return err
}

// GetClassifier returns one classifier.
func (s *Service) GetClassifier(id string) (*store.SteeringClassifier, error) {
	var sc *store.SteeringClassifier
	err := s.store.View(func(tx *store.ReadTx) error {
		var err error
		sc, err = tx.SteeringClassifier(id)
		return err
	})
	return sc, err
}

// ListClassifiers returns every classifier.
func (s *Service) ListClassifiers() []*store.SteeringClassifier {
	var out []*store.SteeringClassifier
	s.store.View(func(tx *store.ReadTx) error {
		out = tx.SteeringClassifiers()
		return nil
	})
	return out
}
