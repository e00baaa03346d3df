package main

import (
	"fmt"
	"strconv"

	"github.com/newtron-network/extport/pkg/store"
	"github.com/newtron-network/extport/pkg/util"
)

// Records are named on the command line by ID or by name. Attachment
// points may also be named by index.

func resolveAP(ref string) (*store.AttachmentPoint, error) {
	var found *store.AttachmentPoint
	err := app.store.View(func(tx *store.ReadTx) error {
		if ap, err := tx.AttachmentPoint(ref); err == nil {
			found = ap
			return nil
		}
		if idx, err := strconv.Atoi(ref); err == nil {
			if ap, err := tx.AttachmentPointByIndex(idx); err == nil {
				found = ap
				return nil
			}
		}
		var matches []*store.AttachmentPoint
		for _, ap := range tx.AttachmentPoints() {
			if ap.Name == ref {
				matches = append(matches, ap)
			}
		}
		var err error
		found, err = single("attachment point", ref, matches)
		return err
	})
	return found, err
}

func resolveNetwork(ref string) (*store.Network, error) {
	var found *store.Network
	err := app.store.View(func(tx *store.ReadTx) error {
		if n, err := tx.Network(ref); err == nil {
			found = n
			return nil
		}
		var matches []*store.Network
		for _, n := range tx.Networks() {
			if n.Name == ref {
				matches = append(matches, n)
			}
		}
		var err error
		found, err = single("network", ref, matches)
		return err
	})
	return found, err
}

func resolveExternalPort(ref string) (*store.ExternalPort, error) {
	var found *store.ExternalPort
	err := app.store.View(func(tx *store.ReadTx) error {
		if ep, err := tx.ExternalPort(ref); err == nil {
			found = ep
			return nil
		}
		var matches []*store.ExternalPort
		for _, ep := range tx.ExternalPorts() {
			if ep.Name == ref {
				matches = append(matches, ep)
			}
		}
		var err error
		found, err = single("external port", ref, matches)
		return err
	})
	return found, err
}

func resolvePortChain(ref string) (*store.PortChain, error) {
	var matches []*store.PortChain
	for _, pc := range app.steering.ListPortChains() {
		if pc.ID == ref {
			return pc, nil
		}
		if pc.Name == ref {
			matches = append(matches, pc)
		}
	}
	return single("port chain", ref, matches)
}

func resolveClassifier(ref string) (*store.SteeringClassifier, error) {
	var matches []*store.SteeringClassifier
	for _, sc := range app.steering.ListClassifiers() {
		if sc.ID == ref {
			return sc, nil
		}
		if sc.Name == ref {
			matches = append(matches, sc)
		}
	}
	return single("steering classifier", ref, matches)
}

func single[T any](kind, ref string, matches []*T) (*T, error) {
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%s %q: %w", kind, ref, util.ErrNotFound)
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("%s name %q is ambiguous (%d matches); use the ID", kind, ref, len(matches))
}
