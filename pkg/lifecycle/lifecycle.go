// Package lifecycle drives attachment points through bind and unbind.
//
// An attachment point moves Unbound -> Attaching -> Bound on a successful
// bind and Bound -> Detaching -> Unbound on a successful unbind. A failed
// attach leaves the record Unbound with its network unchanged and Status
// ERROR; a failed detach leaves it Bound. Operations on one attachment
// point are serialized; different attachment points run in parallel.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newtron-network/extport/pkg/audit"
	"github.com/newtron-network/extport/pkg/driver"
	"github.com/newtron-network/extport/pkg/lock"
	"github.com/newtron-network/extport/pkg/metrics"
	"github.com/newtron-network/extport/pkg/store"
	"github.com/newtron-network/extport/pkg/util"
)

// Config wires an Orchestrator.
type Config struct {
	// LocalAddress is the tunnel endpoint on the virtual network side.
	LocalAddress string
	Registry     *driver.Registry
	Env          driver.Env
	// DeviceLocker serializes allocate-and-commit per device address. Nil
	// uses an in-process locker.
	DeviceLocker lock.Locker
	// Audit receives one event per operation. Nil uses the package default.
	Audit   audit.Logger
	Metrics *metrics.Metrics
	// User is recorded in audit events.
	User string
}

// Orchestrator runs lifecycle operations against a store.
type Orchestrator struct {
	store   *store.Store
	cfg     Config
	apLocks *lock.LocalLocker
}

// New creates an Orchestrator.
func New(s *store.Store, cfg Config) *Orchestrator {
	if cfg.Registry == nil {
		cfg.Registry = driver.NewRegistry()
	}
	if cfg.DeviceLocker == nil {
		cfg.DeviceLocker = lock.NewLocalLocker()
	}
	return &Orchestrator{
		store:   s,
		cfg:     cfg,
		apLocks: lock.NewLocalLocker(),
	}
}

// Store returns the orchestrator's record store.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

func (o *Orchestrator) record(e *audit.Event) {
	var err error
	if o.cfg.Audit != nil {
		err = o.cfg.Audit.Log(e)
	} else {
		err = audit.Log(e)
	}
	if err != nil {
		util.Warnf("audit: %v", err)
	}
}

// hold serializes operations on one record.
func (o *Orchestrator) hold(ctx context.Context, id string) (*lock.Lease, error) {
	return o.apLocks.Acquire(ctx, id)
}

// ============================================================================
// Attachment point records
// ============================================================================

// CreateAttachmentPoint stores a new unbound attachment point and returns it
// with its ID and index assigned.
func (o *Orchestrator) CreateAttachmentPoint(ctx context.Context, ap *store.AttachmentPoint) (*store.AttachmentPoint, error) {
	ap = ap.Copy()
	ap.NetworkID = ""
	ap.State = store.StateUnbound
	ap.Status = store.StatusBuild
	ap.Error = ""
	ap.UpdatedAt = time.Now()

	err := o.store.Update(func(tx *store.Tx) error {
		return tx.CreateAttachmentPoint(ap)
	})
	o.record(audit.NewEvent(o.cfg.User, audit.OpCreateAP, ap.ID).
		WithDevice(ap.IPAddress, ap.Driver).WithBinding("", ap.Index).WithResult(err))
	o.cfg.Metrics.ObserveOperation(audit.OpCreateAP, ap.Driver, 0, err)
	if err != nil {
		return nil, err
	}
	util.WithAttachmentPoint(ap.ID, ap.Index).Infof("Created attachment point %q (%s on %s)", ap.Name, ap.Driver, ap.IPAddress)
	return ap, nil
}

// AttachmentPointUpdate carries the mutable fields of an attachment point.
// Nil fields are left unchanged.
type AttachmentPointUpdate struct {
	Name         *string
	Description  *string
	AdminStateUp *bool
	TenantID     *string
}

// UpdateAttachmentPoint changes descriptive fields. Ownership cannot change
// while the attachment point is bound.
func (o *Orchestrator) UpdateAttachmentPoint(ctx context.Context, id string, upd AttachmentPointUpdate) (*store.AttachmentPoint, error) {
	lease, err := o.hold(ctx, id)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	var ap *store.AttachmentPoint
	err = o.store.Update(func(tx *store.Tx) error {
		var err error
		ap, err = tx.AttachmentPoint(id)
		if err != nil {
			return err
		}
		if upd.TenantID != nil && *upd.TenantID != ap.TenantID && ap.Bound() {
			return util.NewPreconditionError("update", "attachment point "+id,
				"not bound to a network", "bound to "+ap.NetworkID+", cannot change ownership")
		}
		if upd.Name != nil {
			ap.Name = *upd.Name
		}
		if upd.Description != nil {
			ap.Description = *upd.Description
		}
		if upd.TenantID != nil {
			ap.TenantID = *upd.TenantID
		}
		if upd.AdminStateUp != nil {
			ap.AdminStateUp = *upd.AdminStateUp
			if ap.State == store.StateBound {
				ap.Status = adminStatus(ap)
			}
		}
		ap.UpdatedAt = time.Now()
		return tx.UpdateAttachmentPoint(ap)
	})
	o.record(audit.NewEvent(o.cfg.User, audit.OpUpdateAP, id).WithResult(err))
	if err != nil {
		return nil, err
	}
	return ap, nil
}

// DeleteAttachmentPoint removes an unbound attachment point.
func (o *Orchestrator) DeleteAttachmentPoint(ctx context.Context, id string) error {
	lease, err := o.hold(ctx, id)
	if err != nil {
		return err
	}
	defer lease.Release()

	err = o.store.Update(func(tx *store.Tx) error {
		ap, err := tx.AttachmentPoint(id)
		if err != nil {
			return err
		}
		if ap.State != store.StateUnbound {
			return util.NewPreconditionError("delete", "attachment point "+id,
				"not bound to a network", fmt.Sprintf("state %s, network %q", ap.State, ap.NetworkID))
		}
		return tx.DeleteAttachmentPoint(id)
	})
	o.record(audit.NewEvent(o.cfg.User, audit.OpDeleteAP, id).WithResult(err))
	if err == nil {
		util.WithOperation("delete").Infof("Deleted attachment point %s", id)
	}
	return err
}

// GetAttachmentPoint returns one attachment point.
func (o *Orchestrator) GetAttachmentPoint(id string) (*store.AttachmentPoint, error) {
	var ap *store.AttachmentPoint
	err := o.store.View(func(tx *store.ReadTx) error {
		var err error
		ap, err = tx.AttachmentPoint(id)
		return err
	})
	return ap, err
}

// ListAttachmentPoints returns every attachment point ordered by index.
func (o *Orchestrator) ListAttachmentPoints() []*store.AttachmentPoint {
	var aps []*store.AttachmentPoint
	o.store.View(func(tx *store.ReadTx) error {
		aps = tx.AttachmentPoints()
		return nil
	})
	return aps
}

// ============================================================================
// Bind / Unbind
// ============================================================================

func adminStatus(ap *store.AttachmentPoint) store.Status {
	if ap.AdminStateUp {
		return store.StatusActive
	}
	return store.StatusDown
}

func (o *Orchestrator) params(ap *store.AttachmentPoint) driver.Params {
	return driver.Params{
		LocalAddress:  o.cfg.LocalAddress,
		RemoteAddress: ap.IPAddress,
		Identifier:    ap.Identifier,
		Technology:    ap.Technology,
		Index:         ap.Index,
	}
}

// runDriver constructs the attachment point's driver and runs op while
// holding the device lock.
func (o *Orchestrator) runDriver(ctx context.Context, ap *store.AttachmentPoint, op func(driver.Driver, context.Context) error) error {
	d, err := o.cfg.Registry.New(ap.Driver, o.params(ap), o.cfg.Env)
	if err != nil {
		return err
	}
	lease, err := o.cfg.DeviceLocker.Acquire(ctx, ap.IPAddress)
	if err != nil {
		return fmt.Errorf("locking device %s: %w", ap.IPAddress, err)
	}
	defer func() {
		if err := lease.Release(); err != nil {
			util.WithDevice(ap.IPAddress).Warnf("Releasing device lock: %v", err)
		}
	}()
	return op(d, ctx)
}

// transition moves a record from one state to another inside a store
// transaction, applying mutate to the loaded copy.
func (o *Orchestrator) transition(id string, mutate func(*store.Tx, *store.AttachmentPoint) error) (*store.AttachmentPoint, error) {
	var ap *store.AttachmentPoint
	err := o.store.Update(func(tx *store.Tx) error {
		var err error
		ap, err = tx.AttachmentPoint(id)
		if err != nil {
			return err
		}
		if err := mutate(tx, ap); err != nil {
			return err
		}
		ap.UpdatedAt = time.Now()
		return tx.UpdateAttachmentPoint(ap)
	})
	return ap, err
}

func (o *Orchestrator) finish(op string, ap *store.AttachmentPoint, networkID string, start time.Time, err error) {
	elapsed := time.Since(start)
	e := audit.NewEvent(o.cfg.User, op, ap.ID).
		WithDevice(ap.IPAddress, ap.Driver).
		WithBinding(networkID, ap.Index).
		WithDuration(elapsed).
		WithResult(err)
	var se *util.StepError
	if errors.As(err, &se) {
		e.WithStep(se.Step)
	}
	o.record(e)
	o.cfg.Metrics.ObserveOperation(op, ap.Driver, elapsed, err)
	o.cfg.Metrics.SetBound(o.countBound())
}

func (o *Orchestrator) countBound() int {
	n := 0
	o.store.View(func(tx *store.ReadTx) error {
		for _, ap := range tx.AttachmentPoints() {
			if ap.State == store.StateBound {
				n++
			}
		}
		return nil
	})
	return n
}

// Bind attaches an unbound attachment point to a network by running its
// driver's attach sequence. On failure the record stays unbound with
// Status ERROR and the driver error is returned.
func (o *Orchestrator) Bind(ctx context.Context, apID, networkID string) (*store.AttachmentPoint, error) {
	lease, err := o.hold(ctx, apID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	ap, err := o.transition(apID, func(tx *store.Tx, ap *store.AttachmentPoint) error {
		if ap.State != store.StateUnbound || ap.Bound() {
			return util.NewPreconditionError("bind", "attachment point "+apID,
				"not bound to a network", fmt.Sprintf("already attached to network %s", ap.NetworkID))
		}
		net, err := tx.Network(networkID)
		if err != nil {
			return err
		}
		if net.TenantID != ap.TenantID {
			return util.NewPreconditionError("bind", "attachment point "+apID,
				"network owned by the same tenant", fmt.Sprintf("network %s belongs to tenant %q", networkID, net.TenantID))
		}
		ap.State = store.StateAttaching
		ap.Status = store.StatusBuild
		ap.Error = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := util.WithAttachmentPoint(ap.ID, ap.Index)
	log.Infof("Attaching to network %s via %s on %s", networkID, ap.Driver, ap.IPAddress)

	start := time.Now()
	runErr := o.runDriver(ctx, ap, driver.Driver.Attach)

	ap, err = o.transition(apID, func(_ *store.Tx, ap *store.AttachmentPoint) error {
		if runErr != nil {
			ap.State = store.StateUnbound
			ap.Status = store.StatusError
			ap.Error = runErr.Error()
			return nil
		}
		ap.State = store.StateBound
		ap.NetworkID = networkID
		ap.Status = adminStatus(ap)
		ap.Error = ""
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording attach result: %w", err)
	}
	o.finish(audit.OpAttach, ap, networkID, start, runErr)

	if runErr != nil {
		log.Errorf("Attach failed: %v", runErr)
		return ap, runErr
	}
	log.Infof("Attached to network %s", networkID)
	return ap, nil
}

// Unbind detaches a bound attachment point from its network. External ports
// still bound through it must be unbound first. On failure the record stays
// bound with Status ERROR.
func (o *Orchestrator) Unbind(ctx context.Context, apID string) (*store.AttachmentPoint, error) {
	lease, err := o.hold(ctx, apID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	ap, err := o.transition(apID, func(tx *store.Tx, ap *store.AttachmentPoint) error {
		if ap.State != store.StateBound {
			return util.NewPreconditionError("unbind", "attachment point "+apID,
				"bound to a network", "state "+string(ap.State))
		}
		var users []string
		for _, ep := range tx.ExternalPortsOn(apID) {
			if ep.PortID != "" {
				users = append(users, "external port "+ep.ID)
			}
		}
		if len(users) > 0 {
			return util.NewInUseError("attachment point "+apID, users...)
		}
		ap.State = store.StateDetaching
		return nil
	})
	if err != nil {
		return nil, err
	}
	networkID := ap.NetworkID

	log := util.WithAttachmentPoint(ap.ID, ap.Index)
	log.Infof("Detaching from network %s via %s on %s", networkID, ap.Driver, ap.IPAddress)

	start := time.Now()
	runErr := o.runDriver(ctx, ap, driver.Driver.Detach)

	ap, err = o.transition(apID, func(_ *store.Tx, ap *store.AttachmentPoint) error {
		if runErr != nil {
			ap.State = store.StateBound
			ap.Status = store.StatusError
			ap.Error = runErr.Error()
			return nil
		}
		ap.State = store.StateUnbound
		ap.NetworkID = ""
		ap.Status = store.StatusDown
		ap.Error = ""
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording detach result: %w", err)
	}
	o.finish(audit.OpDetach, ap, networkID, start, runErr)

	if runErr != nil {
		log.Errorf("Detach failed: %v", runErr)
		return ap, runErr
	}
	log.Infof("Detached from network %s", networkID)
	return ap, nil
}

// Recover settles records left mid-operation by an interrupted agent. An
// interrupted attach is treated as failed (Unbound); an interrupted detach
// as failed (Bound). Device state may be partially applied in both cases.
func (o *Orchestrator) Recover() (int, error) {
	n := 0
	err := o.store.Update(func(tx *store.Tx) error {
		for _, ap := range tx.AttachmentPoints() {
			switch ap.State {
			case store.StateAttaching:
				ap.State = store.StateUnbound
			case store.StateDetaching:
				ap.State = store.StateBound
			default:
				continue
			}
			ap.Status = store.StatusError
			ap.Error = "operation interrupted; device may be partially configured"
			ap.UpdatedAt = time.Now()
			if err := tx.UpdateAttachmentPoint(ap); err != nil {
				return err
			}
			util.WithAttachmentPoint(ap.ID, ap.Index).Warnf("Recovered interrupted operation, now %s", ap.State)
			n++
		}
		return nil
	})
	return n, err
}
