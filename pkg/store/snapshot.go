package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/newtron-network/extport/pkg/util"
)

// Snapshot is the serialized form of a store.
type Snapshot struct {
	NextIndex           int                   `json:"next_index"`
	AttachmentPoints    []*AttachmentPoint    `json:"attachment_points,omitempty"`
	ExternalPorts       []*ExternalPort       `json:"external_ports,omitempty"`
	Networks            []*Network            `json:"networks,omitempty"`
	VirtualPorts        []*VirtualPort        `json:"ports,omitempty"`
	PortChains          []*PortChain          `json:"port_chains,omitempty"`
	SteeringClassifiers []*SteeringClassifier `json:"steering_classifiers,omitempty"`
}

// Snapshot captures the committed contents of the store.
func (s *Store) Snapshot() *Snapshot {
	s.updateLock.Lock()
	next := s.nextIndex
	s.updateLock.Unlock()

	snap := &Snapshot{NextIndex: next}
	s.View(func(tx *ReadTx) error {
		snap.AttachmentPoints = tx.AttachmentPoints()
		snap.ExternalPorts = tx.ExternalPorts()
		snap.Networks = tx.Networks()
		snap.VirtualPorts = tx.VirtualPorts()
		snap.PortChains = tx.PortChains()
		snap.SteeringClassifiers = tx.SteeringClassifiers()
		return nil
	})
	return snap
}

// Restore replaces the contents of the store with snap. Records are
// validated and cross-checked; on error the store is left unchanged.
func (s *Store) Restore(snap *Snapshot) error {
	return s.Update(func(tx *Tx) error {
		for _, table := range []string{tablePortChain, tableClassifier, tableExternalPort, tableVirtualPort, tableAttachmentPoint, tableNetwork} {
			if _, err := tx.txn.DeleteAll(table, indexID); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}

		for _, n := range snap.Networks {
			if err := tx.CreateNetwork(n.Copy()); err != nil {
				return err
			}
		}
		for _, p := range snap.VirtualPorts {
			if err := tx.CreateVirtualPort(p.Copy()); err != nil {
				return err
			}
		}

		maxIndex := 0
		for _, ap := range snap.AttachmentPoints {
			if ap.Index < 1 {
				return util.NewValidationError(fmt.Sprintf("attachment point %s has no index", ap.ID))
			}
			if tx.first(tableAttachmentPoint, indexIndex, indexKey(ap.Index)) != nil {
				return util.NewValidationError(fmt.Sprintf("attachment point %s reuses index %d", ap.ID, ap.Index))
			}
			if err := Validate(ap); err != nil {
				return err
			}
			if err := tx.insert(tableAttachmentPoint, ap.Copy()); err != nil {
				return err
			}
			if ap.Index > maxIndex {
				maxIndex = ap.Index
			}
		}
		// Indexes are never reused, even those of deleted records.
		tx.next = snap.NextIndex
		if tx.next <= maxIndex {
			tx.next = maxIndex + 1
		}

		for _, ep := range snap.ExternalPorts {
			if err := tx.CreateExternalPort(ep.Copy()); err != nil {
				return err
			}
		}
		for _, sc := range snap.SteeringClassifiers {
			if err := tx.CreateSteeringClassifier(sc.Copy()); err != nil {
				return err
			}
		}
		for _, pc := range snap.PortChains {
			if err := tx.CreatePortChain(pc.Copy()); err != nil {
				return err
			}
		}
		return nil
	})
}

// Save writes the store to path as JSON. The file is replaced atomically.
func (s *Store) Save(path string) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a store saved with Save. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	s := New()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := s.Restore(&snap); err != nil {
		return nil, fmt.Errorf("restoring %s: %w", path, err)
	}
	return s, nil
}
