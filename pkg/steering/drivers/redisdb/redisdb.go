// Package redisdb publishes port chains and steering classifiers as Redis
// hashes for a data-plane agent to consume.
//
// Each resource is one hash, keyed "PORT_CHAIN|<id>" or
// "STEERING_CLASSIFIER|<id>". Writes replace the whole hash inside a
// MULTI/EXEC pipeline so a reader never sees a half-written entry.
package redisdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/extport/pkg/steering"
	"github.com/newtron-network/extport/pkg/store"
)

// Name is the driver name used in configuration.
const Name = "redis"

// Table names.
const (
	TablePortChain  = "PORT_CHAIN"
	TableClassifier = "STEERING_CLASSIFIER"
)

// change is a single hash write; nil Fields deletes the key.
type change struct {
	Table  string
	Key    string
	Fields map[string]string
}

// Driver writes postcommit state to Redis. Precommit hooks accept
// everything.
type Driver struct {
	steering.Base
	client *redis.Client
}

// New creates a driver on client.
func New(client *redis.Client) *Driver {
	return &Driver{client: client}
}

func (d *Driver) Name() string { return Name }

// Initialize checks that Redis answers.
func (d *Driver) Initialize(ctx context.Context) error {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", d.client.Options().Addr, err)
	}
	return nil
}

func (d *Driver) apply(ctx context.Context, changes ...change) error {
	pipe := d.client.TxPipeline()
	for _, c := range changes {
		redisKey := c.Table + "|" + c.Key
		pipe.Del(ctx, redisKey)
		if c.Fields == nil {
			continue
		}
		args := make([]interface{}, 0, len(c.Fields)*2)
		for k, v := range c.Fields {
			args = append(args, k, v)
		}
		pipe.HSet(ctx, redisKey, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("pipeline exec: %w", err)
	}
	return nil
}

// PortChainFields renders pc as hash fields.
func PortChainFields(pc *store.PortChain) (map[string]string, error) {
	ports := pc.Ports
	if ports == nil {
		ports = [][]string{}
	}
	hops, err := json.Marshal(ports)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"name":                 pc.Name,
		"tenant_id":            pc.TenantID,
		"description":          pc.Description,
		"ports":                string(hops),
		"steering_classifiers": strings.Join(pc.ClassifierIDs, ","),
	}, nil
}

// ClassifierFields renders sc as hash fields. Unset port ranges and
// addresses are omitted.
func ClassifierFields(sc *store.SteeringClassifier) (map[string]string, error) {
	fields := map[string]string{
		"name":      sc.Name,
		"tenant_id": sc.TenantID,
		"protocol":  strconv.Itoa(sc.Protocol),
	}
	for prefix, s := range map[string]string{"src_port": sc.SrcPortRange, "dst_port": sc.DstPortRange} {
		r, err := store.ParsePortRange(s)
		if err != nil {
			return nil, err
		}
		if r.Min == 0 {
			continue
		}
		fields[prefix+"_min"] = strconv.Itoa(r.Min)
		fields[prefix+"_max"] = strconv.Itoa(r.Max)
	}
	if sc.SrcIP != "" {
		fields["src_ip"] = sc.SrcIP
	}
	if sc.DstIP != "" {
		fields["dst_ip"] = sc.DstIP
	}
	return fields, nil
}

func (d *Driver) writeChain(ctx context.Context, pc *store.PortChain) error {
	fields, err := PortChainFields(pc)
	if err != nil {
		return err
	}
	return d.apply(ctx, change{Table: TablePortChain, Key: pc.ID, Fields: fields})
}

func (d *Driver) writeClassifier(ctx context.Context, sc *store.SteeringClassifier) error {
	fields, err := ClassifierFields(sc)
	if err != nil {
		return err
	}
	return d.apply(ctx, change{Table: TableClassifier, Key: sc.ID, Fields: fields})
}

func (d *Driver) CreatePortChainPostcommit(ctx context.Context, c *steering.PortChainContext) error {
	return d.writeChain(ctx, c.Current())
}

func (d *Driver) UpdatePortChainPostcommit(ctx context.Context, c *steering.PortChainContext) error {
	return d.writeChain(ctx, c.Current())
}

func (d *Driver) DeletePortChainPostcommit(ctx context.Context, c *steering.PortChainContext) error {
	return d.apply(ctx, change{Table: TablePortChain, Key: c.Current().ID})
}

func (d *Driver) CreateClassifierPostcommit(ctx context.Context, c *steering.ClassifierContext) error {
	return d.writeClassifier(ctx, c.Current())
}

func (d *Driver) UpdateClassifierPostcommit(ctx context.Context, c *steering.ClassifierContext) error {
	return d.writeClassifier(ctx, c.Current())
}

func (d *Driver) DeleteClassifierPostcommit(ctx context.Context, c *steering.ClassifierContext) error {
	return d.apply(ctx, change{Table: TableClassifier, Key: c.Current().ID})
}

var _ steering.Driver = (*Driver)(nil)
