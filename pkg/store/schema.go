package store

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableAttachmentPoint = "attachment_point"
	tableExternalPort    = "external_port"
	tableNetwork         = "network"
	tableVirtualPort     = "virtual_port"
	tablePortChain       = "port_chain"
	tableClassifier      = "steering_classifier"

	indexID              = "id"
	indexIndex           = "index"
	indexNetwork         = "network"
	indexAttachmentPoint = "attachment_point"
	indexDevice          = "device"
	indexClassifier      = "classifier"
)

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableAttachmentPoint: {
			Name: tableAttachmentPoint,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: idIndex(func(o interface{}) string { return o.(*AttachmentPoint).ID }),
				indexIndex: {
					Name:   indexIndex,
					Unique: true,
					Indexer: fieldIndexer{func(o interface{}) string {
						return indexKey(o.(*AttachmentPoint).Index)
					}},
				},
				indexNetwork: {
					Name:         indexNetwork,
					AllowMissing: true,
					Indexer:      fieldIndexer{func(o interface{}) string { return o.(*AttachmentPoint).NetworkID }},
				},
			},
		},
		tableExternalPort: {
			Name: tableExternalPort,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: idIndex(func(o interface{}) string { return o.(*ExternalPort).ID }),
				indexAttachmentPoint: {
					Name:    indexAttachmentPoint,
					Indexer: fieldIndexer{func(o interface{}) string { return o.(*ExternalPort).AttachmentPointID }},
				},
			},
		},
		tableNetwork: {
			Name: tableNetwork,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: idIndex(func(o interface{}) string { return o.(*Network).ID }),
			},
		},
		tableVirtualPort: {
			Name: tableVirtualPort,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: idIndex(func(o interface{}) string { return o.(*VirtualPort).ID }),
				indexNetwork: {
					Name:    indexNetwork,
					Indexer: fieldIndexer{func(o interface{}) string { return o.(*VirtualPort).NetworkID }},
				},
				indexDevice: {
					Name:    indexDevice,
					Indexer: fieldIndexer{func(o interface{}) string { return o.(*VirtualPort).DeviceID }},
				},
			},
		},
		tablePortChain: {
			Name: tablePortChain,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: idIndex(func(o interface{}) string { return o.(*PortChain).ID }),
				indexClassifier: {
					Name:         indexClassifier,
					AllowMissing: true,
					Indexer:      multiFieldIndexer{func(o interface{}) []string { return o.(*PortChain).ClassifierIDs }},
				},
			},
		},
		tableClassifier: {
			Name: tableClassifier,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: idIndex(func(o interface{}) string { return o.(*SteeringClassifier).ID }),
			},
		},
	},
}

func idIndex(field func(interface{}) string) *memdb.IndexSchema {
	return &memdb.IndexSchema{
		Name:    indexID,
		Unique:  true,
		Indexer: fieldIndexer{field},
	}
}

func indexKey(i int) string {
	return fmt.Sprintf("%010d", i)
}

func fromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("must provide only a single argument")
	}
	arg, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("argument must be a string: %#v", args[0])
	}
	// Add the null character as a terminator
	arg += "\x00"
	return []byte(arg), nil
}

// fieldIndexer indexes one string field. Empty values are not indexed.
type fieldIndexer struct {
	field func(interface{}) string
}

func (fi fieldIndexer) FromArgs(args ...interface{}) ([]byte, error) {
	return fromArgs(args...)
}

func (fi fieldIndexer) FromObject(obj interface{}) (bool, []byte, error) {
	v := fi.field(obj)
	if v == "" {
		return false, nil, nil
	}
	return true, []byte(v + "\x00"), nil
}

// multiFieldIndexer indexes every element of a string slice.
type multiFieldIndexer struct {
	field func(interface{}) []string
}

func (mi multiFieldIndexer) FromArgs(args ...interface{}) ([]byte, error) {
	return fromArgs(args...)
}

func (mi multiFieldIndexer) FromObject(obj interface{}) (bool, [][]byte, error) {
	vals := mi.field(obj)
	if len(vals) == 0 {
		return false, nil, nil
	}
	keys := make([][]byte, 0, len(vals))
	for _, v := range vals {
		keys = append(keys, []byte(v+"\x00"))
	}
	return true, keys, nil
}
