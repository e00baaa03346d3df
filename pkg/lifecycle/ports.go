package lifecycle

import (
	"context"
	"time"

	"github.com/newtron-network/extport/pkg/audit"
	"github.com/newtron-network/extport/pkg/store"
	"github.com/newtron-network/extport/pkg/util"
)

// CreateNetwork registers a virtual network attachment points can bind to.
func (o *Orchestrator) CreateNetwork(ctx context.Context, n *store.Network) (*store.Network, error) {
	n = n.Copy()
	err := o.store.Update(func(tx *store.Tx) error {
		return tx.CreateNetwork(n)
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// DeleteNetwork removes a network nothing is bound to.
func (o *Orchestrator) DeleteNetwork(ctx context.Context, id string) error {
	return o.store.Update(func(tx *store.Tx) error {
		return tx.DeleteNetwork(id)
	})
}

// ListNetworks returns every network.
func (o *Orchestrator) ListNetworks() []*store.Network {
	var nets []*store.Network
	o.store.View(func(tx *store.ReadTx) error {
		nets = tx.Networks()
		return nil
	})
	return nets
}

// CreateExternalPort stores a new unbound external port.
func (o *Orchestrator) CreateExternalPort(ctx context.Context, ep *store.ExternalPort) (*store.ExternalPort, error) {
	ep = ep.Copy()
	ep.PortID = ""
	ep.Status = store.StatusBuild
	ep.UpdatedAt = time.Now()
	err := o.store.Update(func(tx *store.Tx) error {
		return tx.CreateExternalPort(ep)
	})
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// ExternalPortUpdate carries the mutable fields of an external port.
type ExternalPortUpdate struct {
	Name         *string
	Description  *string
	AdminStateUp *bool
	TenantID     *string
}

// UpdateExternalPort changes descriptive fields. Ownership cannot change
// while the port is bound.
func (o *Orchestrator) UpdateExternalPort(ctx context.Context, id string, upd ExternalPortUpdate) (*store.ExternalPort, error) {
	var ep *store.ExternalPort
	err := o.store.Update(func(tx *store.Tx) error {
		var err error
		ep, err = tx.ExternalPort(id)
		if err != nil {
			return err
		}
		if upd.TenantID != nil && *upd.TenantID != ep.TenantID && ep.PortID != "" {
			return util.NewPreconditionError("update", "external port "+id,
				"not bound", "bound to port "+ep.PortID+", cannot change ownership")
		}
		if upd.Name != nil {
			ep.Name = *upd.Name
		}
		if upd.Description != nil {
			ep.Description = *upd.Description
		}
		if upd.AdminStateUp != nil {
			ep.AdminStateUp = *upd.AdminStateUp
		}
		if upd.TenantID != nil {
			ep.TenantID = *upd.TenantID
		}
		ep.UpdatedAt = time.Now()
		return tx.UpdateExternalPort(ep)
	})
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// DeleteExternalPort removes an unbound external port.
func (o *Orchestrator) DeleteExternalPort(ctx context.Context, id string) error {
	return o.store.Update(func(tx *store.Tx) error {
		ep, err := tx.ExternalPort(id)
		if err != nil {
			return err
		}
		if ep.PortID != "" {
			return util.NewPreconditionError("delete", "external port "+id, "not bound", "bound to port "+ep.PortID)
		}
		return tx.DeleteExternalPort(id)
	})
}

// ListExternalPorts returns every external port.
func (o *Orchestrator) ListExternalPorts() []*store.ExternalPort {
	var eps []*store.ExternalPort
	o.store.View(func(tx *store.ReadTx) error {
		eps = tx.ExternalPorts()
		return nil
	})
	return eps
}

// BindPort creates the network-side port for an external port whose
// attachment point is bound. The port is named "port_<name>".
func (o *Orchestrator) BindPort(ctx context.Context, id string) (*store.ExternalPort, error) {
	var ep *store.ExternalPort
	err := o.store.Update(func(tx *store.Tx) error {
		var err error
		ep, err = tx.ExternalPort(id)
		if err != nil {
			return err
		}
		if ep.PortID != "" {
			return util.NewPreconditionError("bind", "external port "+id, "not bound", "already attached to port "+ep.PortID)
		}
		ap, err := tx.AttachmentPoint(ep.AttachmentPointID)
		if err != nil {
			return err
		}
		if ap.State != store.StateBound {
			return util.NewPreconditionError("bind", "external port "+id,
				"attachment point bound to a network", "attachment point "+ap.ID+" is "+string(ap.State))
		}
		vp := &store.VirtualPort{
			Name:       "port_" + ep.Name,
			NetworkID:  ap.NetworkID,
			DeviceID:   ep.ID,
			MACAddress: ep.MACAddress,
		}
		if err := tx.CreateVirtualPort(vp); err != nil {
			return err
		}
		ep.PortID = vp.ID
		ep.Status = store.StatusActive
		ep.UpdatedAt = time.Now()
		return tx.UpdateExternalPort(ep)
	})
	o.record(audit.NewEvent(o.cfg.User, audit.OpBindPort, id).WithResult(err))
	if err != nil {
		return nil, err
	}
	util.WithOperation("bind-port").Infof("External port %s bound as %s", id, ep.PortID)
	return ep, nil
}

// UnbindPort deletes the network-side port of a bound external port.
func (o *Orchestrator) UnbindPort(ctx context.Context, id string) (*store.ExternalPort, error) {
	var ep *store.ExternalPort
	err := o.store.Update(func(tx *store.Tx) error {
		var err error
		ep, err = tx.ExternalPort(id)
		if err != nil {
			return err
		}
		if ep.PortID == "" {
			return util.NewPreconditionError("unbind", "external port "+id, "bound", "no port attached")
		}
		if err := tx.DeleteVirtualPort(ep.PortID); err != nil {
			return err
		}
		ep.PortID = ""
		ep.Status = store.StatusDown
		ep.UpdatedAt = time.Now()
		return tx.UpdateExternalPort(ep)
	})
	o.record(audit.NewEvent(o.cfg.User, audit.OpUnbindPort, id).WithResult(err))
	if err != nil {
		return nil, err
	}
	return ep, nil
}
