// Package store holds attachment points, external ports, networks and
// steering resources in a transactional in-memory database. Write
// transactions are serialized; a callback error aborts every change it made.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	memdb "github.com/hashicorp/go-memdb"

	"github.com/newtron-network/extport/pkg/util"
)

// Store is a concurrency-safe record store.
type Store struct {
	// updateLock must be held during an update transaction.
	updateLock sync.Mutex

	db        *memdb.MemDB
	nextIndex int
}

// New returns an empty store.
func New() *Store {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		// This shouldn't fail
		panic(err)
	}
	return &Store{db: db, nextIndex: 1}
}

// ReadTx is a consistent read-only view of the store.
type ReadTx struct {
	txn *memdb.Txn
}

// Tx is a write transaction. It also reads its own uncommitted writes.
type Tx struct {
	ReadTx
	next int
}

// View executes a read transaction.
func (s *Store) View(cb func(*ReadTx) error) error {
	txn := s.db.Txn(false)
	defer txn.Abort()
	return cb(&ReadTx{txn: txn})
}

// Update executes a write transaction. The changes are committed only if
// cb returns nil.
func (s *Store) Update(cb func(*Tx) error) error {
	s.updateLock.Lock()
	defer s.updateLock.Unlock()

	txn := s.db.Txn(true)
	tx := &Tx{ReadTx: ReadTx{txn: txn}, next: s.nextIndex}
	if err := cb(tx); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	s.nextIndex = tx.next
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, util.ErrNotFound)
}

func (tx *ReadTx) first(table, index, arg string) interface{} {
	obj, err := tx.txn.First(table, index, arg)
	if err != nil {
		// Only unknown tables or indexes fail here.
		panic(err)
	}
	return obj
}

func (tx *ReadTx) all(table, index string, args ...interface{}) []interface{} {
	it, err := tx.txn.Get(table, index, args...)
	if err != nil {
		panic(err)
	}
	var out []interface{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj)
	}
	return out
}

func (tx *Tx) insert(table string, obj interface{}) error {
	if err := tx.txn.Insert(table, obj); err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	return nil
}

func (tx *Tx) remove(table string, obj interface{}) error {
	if err := tx.txn.Delete(table, obj); err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	return nil
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// ============================================================================
// Attachment points
// ============================================================================

// AttachmentPoint returns a copy of the attachment point with the given ID.
func (tx *ReadTx) AttachmentPoint(id string) (*AttachmentPoint, error) {
	obj := tx.first(tableAttachmentPoint, indexID, id)
	if obj == nil {
		return nil, notFound("attachment point", id)
	}
	return obj.(*AttachmentPoint).Copy(), nil
}

// AttachmentPointByIndex looks an attachment point up by its index.
func (tx *ReadTx) AttachmentPointByIndex(index int) (*AttachmentPoint, error) {
	obj := tx.first(tableAttachmentPoint, indexIndex, indexKey(index))
	if obj == nil {
		return nil, notFound("attachment point index", fmt.Sprint(index))
	}
	return obj.(*AttachmentPoint).Copy(), nil
}

// AttachmentPoints lists every attachment point ordered by index.
func (tx *ReadTx) AttachmentPoints() []*AttachmentPoint {
	var out []*AttachmentPoint
	for _, obj := range tx.all(tableAttachmentPoint, indexIndex) {
		out = append(out, obj.(*AttachmentPoint).Copy())
	}
	return out
}

// AttachmentPointsOnNetwork lists the attachment points bound to a network.
func (tx *ReadTx) AttachmentPointsOnNetwork(networkID string) []*AttachmentPoint {
	var out []*AttachmentPoint
	for _, obj := range tx.all(tableAttachmentPoint, indexNetwork, networkID) {
		out = append(out, obj.(*AttachmentPoint).Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// CreateAttachmentPoint validates and inserts ap, assigning its ID (if
// empty) and the next index. ap is updated in place.
func (tx *Tx) CreateAttachmentPoint(ap *AttachmentPoint) error {
	ap.ID = newID(ap.ID)
	if tx.first(tableAttachmentPoint, indexID, ap.ID) != nil {
		return fmt.Errorf("attachment point %s: %w", ap.ID, util.ErrAlreadyExists)
	}
	ap.Index = tx.next
	if ap.Status == "" {
		ap.Status = StatusBuild
	}
	if ap.State == "" {
		ap.State = StateUnbound
	}
	if err := Validate(ap); err != nil {
		return err
	}
	if err := tx.insert(tableAttachmentPoint, ap.Copy()); err != nil {
		return err
	}
	tx.next++
	return nil
}

// UpdateAttachmentPoint replaces an existing attachment point. The index
// cannot change.
func (tx *Tx) UpdateAttachmentPoint(ap *AttachmentPoint) error {
	old, err := tx.AttachmentPoint(ap.ID)
	if err != nil {
		return err
	}
	if ap.Index != old.Index {
		return util.NewValidationError(fmt.Sprintf("index of attachment point %s is immutable (%d -> %d)", ap.ID, old.Index, ap.Index))
	}
	if err := Validate(ap); err != nil {
		return err
	}
	return tx.insert(tableAttachmentPoint, ap.Copy())
}

// DeleteAttachmentPoint removes an attachment point that has no external
// ports.
func (tx *Tx) DeleteAttachmentPoint(id string) error {
	obj := tx.first(tableAttachmentPoint, indexID, id)
	if obj == nil {
		return notFound("attachment point", id)
	}
	if eps := tx.ExternalPortsOn(id); len(eps) > 0 {
		users := make([]string, 0, len(eps))
		for _, ep := range eps {
			users = append(users, "external port "+ep.ID)
		}
		return util.NewInUseError("attachment point "+id, users...)
	}
	return tx.remove(tableAttachmentPoint, obj)
}

// ============================================================================
// External ports
// ============================================================================

// ExternalPort returns a copy of the external port with the given ID.
func (tx *ReadTx) ExternalPort(id string) (*ExternalPort, error) {
	obj := tx.first(tableExternalPort, indexID, id)
	if obj == nil {
		return nil, notFound("external port", id)
	}
	return obj.(*ExternalPort).Copy(), nil
}

// ExternalPorts lists every external port ordered by ID.
func (tx *ReadTx) ExternalPorts() []*ExternalPort {
	var out []*ExternalPort
	for _, obj := range tx.all(tableExternalPort, indexID) {
		out = append(out, obj.(*ExternalPort).Copy())
	}
	return out
}

// ExternalPortsOn lists the external ports behind an attachment point.
func (tx *ReadTx) ExternalPortsOn(apID string) []*ExternalPort {
	var out []*ExternalPort
	for _, obj := range tx.all(tableExternalPort, indexAttachmentPoint, apID) {
		out = append(out, obj.(*ExternalPort).Copy())
	}
	return out
}

// CreateExternalPort inserts ep. Its attachment point must exist.
func (tx *Tx) CreateExternalPort(ep *ExternalPort) error {
	ep.ID = newID(ep.ID)
	if tx.first(tableExternalPort, indexID, ep.ID) != nil {
		return fmt.Errorf("external port %s: %w", ep.ID, util.ErrAlreadyExists)
	}
	if ep.Status == "" {
		ep.Status = StatusBuild
	}
	if err := Validate(ep); err != nil {
		return err
	}
	if tx.first(tableAttachmentPoint, indexID, ep.AttachmentPointID) == nil {
		return util.NewDependencyError("external port "+ep.ID, "attachment point", ep.AttachmentPointID)
	}
	return tx.insert(tableExternalPort, ep.Copy())
}

// UpdateExternalPort replaces an existing external port.
func (tx *Tx) UpdateExternalPort(ep *ExternalPort) error {
	if tx.first(tableExternalPort, indexID, ep.ID) == nil {
		return notFound("external port", ep.ID)
	}
	if err := Validate(ep); err != nil {
		return err
	}
	if tx.first(tableAttachmentPoint, indexID, ep.AttachmentPointID) == nil {
		return util.NewDependencyError("external port "+ep.ID, "attachment point", ep.AttachmentPointID)
	}
	return tx.insert(tableExternalPort, ep.Copy())
}

// DeleteExternalPort removes an external port.
func (tx *Tx) DeleteExternalPort(id string) error {
	obj := tx.first(tableExternalPort, indexID, id)
	if obj == nil {
		return notFound("external port", id)
	}
	return tx.remove(tableExternalPort, obj)
}

// ============================================================================
// Networks and virtual ports
// ============================================================================

// Network returns a copy of the network with the given ID.
func (tx *ReadTx) Network(id string) (*Network, error) {
	obj := tx.first(tableNetwork, indexID, id)
	if obj == nil {
		return nil, notFound("network", id)
	}
	return obj.(*Network).Copy(), nil
}

// Networks lists every network ordered by ID.
func (tx *ReadTx) Networks() []*Network {
	var out []*Network
	for _, obj := range tx.all(tableNetwork, indexID) {
		out = append(out, obj.(*Network).Copy())
	}
	return out
}

// CreateNetwork inserts n.
func (tx *Tx) CreateNetwork(n *Network) error {
	n.ID = newID(n.ID)
	if tx.first(tableNetwork, indexID, n.ID) != nil {
		return fmt.Errorf("network %s: %w", n.ID, util.ErrAlreadyExists)
	}
	if err := Validate(n); err != nil {
		return err
	}
	return tx.insert(tableNetwork, n.Copy())
}

// DeleteNetwork removes a network nothing is bound to.
func (tx *Tx) DeleteNetwork(id string) error {
	obj := tx.first(tableNetwork, indexID, id)
	if obj == nil {
		return notFound("network", id)
	}
	var users []string
	for _, ap := range tx.AttachmentPointsOnNetwork(id) {
		users = append(users, "attachment point "+ap.ID)
	}
	for _, vp := range tx.all(tableVirtualPort, indexNetwork, id) {
		users = append(users, "port "+vp.(*VirtualPort).ID)
	}
	if len(users) > 0 {
		return util.NewInUseError("network "+id, users...)
	}
	return tx.remove(tableNetwork, obj)
}

// VirtualPort returns a copy of the virtual port with the given ID.
func (tx *ReadTx) VirtualPort(id string) (*VirtualPort, error) {
	obj := tx.first(tableVirtualPort, indexID, id)
	if obj == nil {
		return nil, notFound("port", id)
	}
	return obj.(*VirtualPort).Copy(), nil
}

// VirtualPorts lists every virtual port ordered by ID.
func (tx *ReadTx) VirtualPorts() []*VirtualPort {
	var out []*VirtualPort
	for _, obj := range tx.all(tableVirtualPort, indexID) {
		out = append(out, obj.(*VirtualPort).Copy())
	}
	return out
}

// CreateVirtualPort inserts p. Its network must exist.
func (tx *Tx) CreateVirtualPort(p *VirtualPort) error {
	p.ID = newID(p.ID)
	if tx.first(tableVirtualPort, indexID, p.ID) != nil {
		return fmt.Errorf("port %s: %w", p.ID, util.ErrAlreadyExists)
	}
	if err := Validate(p); err != nil {
		return err
	}
	if tx.first(tableNetwork, indexID, p.NetworkID) == nil {
		return util.NewDependencyError("port "+p.ID, "network", p.NetworkID)
	}
	return tx.insert(tableVirtualPort, p.Copy())
}

// DeleteVirtualPort removes a virtual port.
func (tx *Tx) DeleteVirtualPort(id string) error {
	obj := tx.first(tableVirtualPort, indexID, id)
	if obj == nil {
		return notFound("port", id)
	}
	return tx.remove(tableVirtualPort, obj)
}

// ============================================================================
// Steering resources
// ============================================================================

// PortChain returns a copy of the port chain with the given ID.
func (tx *ReadTx) PortChain(id string) (*PortChain, error) {
	obj := tx.first(tablePortChain, indexID, id)
	if obj == nil {
		return nil, notFound("port chain", id)
	}
	return obj.(*PortChain).Copy(), nil
}

// PortChains lists every port chain ordered by ID.
func (tx *ReadTx) PortChains() []*PortChain {
	var out []*PortChain
	for _, obj := range tx.all(tablePortChain, indexID) {
		out = append(out, obj.(*PortChain).Copy())
	}
	return out
}

// PortChainsUsing lists the port chains that reference a classifier.
func (tx *ReadTx) PortChainsUsing(classifierID string) []*PortChain {
	var out []*PortChain
	for _, obj := range tx.all(tablePortChain, indexClassifier, classifierID) {
		out = append(out, obj.(*PortChain).Copy())
	}
	return out
}

func (tx *Tx) checkClassifiers(pc *PortChain) error {
	for _, cid := range pc.ClassifierIDs {
		if tx.first(tableClassifier, indexID, cid) == nil {
			return util.NewDependencyError("port chain "+pc.ID, "steering classifier", cid)
		}
	}
	return nil
}

// CreatePortChain inserts pc. Every classifier it names must exist.
func (tx *Tx) CreatePortChain(pc *PortChain) error {
	pc.ID = newID(pc.ID)
	if tx.first(tablePortChain, indexID, pc.ID) != nil {
		return fmt.Errorf("port chain %s: %w", pc.ID, util.ErrAlreadyExists)
	}
	if err := Validate(pc); err != nil {
		return err
	}
	if err := tx.checkClassifiers(pc); err != nil {
		return err
	}
	return tx.insert(tablePortChain, pc.Copy())
}

// UpdatePortChain replaces an existing port chain.
func (tx *Tx) UpdatePortChain(pc *PortChain) error {
	if tx.first(tablePortChain, indexID, pc.ID) == nil {
		return notFound("port chain", pc.ID)
	}
	if err := Validate(pc); err != nil {
		return err
	}
	if err := tx.checkClassifiers(pc); err != nil {
		return err
	}
	return tx.insert(tablePortChain, pc.Copy())
}

// DeletePortChain removes a port chain.
func (tx *Tx) DeletePortChain(id string) error {
	obj := tx.first(tablePortChain, indexID, id)
	if obj == nil {
		return notFound("port chain", id)
	}
	return tx.remove(tablePortChain, obj)
}

// SteeringClassifier returns a copy of the classifier with the given ID.
func (tx *ReadTx) SteeringClassifier(id string) (*SteeringClassifier, error) {
	obj := tx.first(tableClassifier, indexID, id)
	if obj == nil {
		return nil, notFound("steering classifier", id)
	}
	return obj.(*SteeringClassifier).Copy(), nil
}

// SteeringClassifiers lists every classifier ordered by ID.
func (tx *ReadTx) SteeringClassifiers() []*SteeringClassifier {
	var out []*SteeringClassifier
	for _, obj := range tx.all(tableClassifier, indexID) {
		out = append(out, obj.(*SteeringClassifier).Copy())
	}
	return out
}

// CreateSteeringClassifier inserts sc.
func (tx *Tx) CreateSteeringClassifier(sc *SteeringClassifier) error {
	sc.ID = newID(sc.ID)
	if tx.first(tableClassifier, indexID, sc.ID) != nil {
		return fmt.Errorf("steering classifier %s: %w", sc.ID, util.ErrAlreadyExists)
	}
	if err := validateClassifier(sc); err != nil {
		return err
	}
	return tx.insert(tableClassifier, sc.Copy())
}

// UpdateSteeringClassifier replaces an existing classifier.
func (tx *Tx) UpdateSteeringClassifier(sc *SteeringClassifier) error {
	if tx.first(tableClassifier, indexID, sc.ID) == nil {
		return notFound("steering classifier", sc.ID)
	}
	if err := validateClassifier(sc); err != nil {
		return err
	}
	return tx.insert(tableClassifier, sc.Copy())
}

// DeleteSteeringClassifier removes a classifier no port chain references.
func (tx *Tx) DeleteSteeringClassifier(id string) error {
	obj := tx.first(tableClassifier, indexID, id)
	if obj == nil {
		return notFound("steering classifier", id)
	}
	if chains := tx.PortChainsUsing(id); len(chains) > 0 {
		users := make([]string, 0, len(chains))
		for _, pc := range chains {
			users = append(users, "port chain "+pc.ID)
		}
		return util.NewInUseError("steering classifier "+id, users...)
	}
	return tx.remove(tableClassifier, obj)
}
