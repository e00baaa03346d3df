// Package controller mirrors port chains and steering classifiers to an
// SDN controller's REST API.
//
// Creates POST {"port_chain": {...}} to <url>/port_chains, updates PUT the
// object to <url>/port_chains/<id> without its id and tenant_id, and
// deletes DELETE <url>/port_chains/<id>. Classifiers use the
// steering_classifiers collection the same way.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/newtron-network/extport/pkg/steering"
	"github.com/newtron-network/extport/pkg/util"
)

// Name is the driver name used in configuration.
const Name = "controller"

// DefaultTimeout bounds each request.
const DefaultTimeout = 10 * time.Second

// Collection names.
const (
	PortChains  = "port_chains"
	Classifiers = "steering_classifiers"
)

// Config holds the controller endpoint and credentials.
type Config struct {
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Driver sends postcommit changes to the controller.
type Driver struct {
	steering.Base
	cfg    Config
	client *http.Client
}

// New creates a driver. Initialize checks the configuration.
func New(cfg Config) *Driver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	jar, _ := cookiejar.New(nil)
	return &Driver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Jar: jar},
	}
}

func (d *Driver) Name() string { return Name }

// Initialize requires url, username and password.
func (d *Driver) Initialize(ctx context.Context) error {
	switch {
	case d.cfg.URL == "":
		return util.NewMissingKeyError("steering.controller.url")
	case d.cfg.Username == "":
		return util.NewMissingKeyError("steering.controller.username")
	case d.cfg.Password == "":
		return util.NewMissingKeyError("steering.controller.password")
	}
	return nil
}

// StatusError is a response outside 2xx that was not ignored.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// send issues one request. Status codes in ignore count as success.
func (d *Driver) send(ctx context.Context, method, path string, obj interface{}, ignore ...int) error {
	url := d.cfg.URL + "/" + path

	var body io.Reader
	if obj != nil {
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(d.cfg.Username, d.cfg.Password)

	util.WithOperation(Name).Debugf("%s %s", method, url)
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	for _, code := range ignore {
		if resp.StatusCode == code {
			util.WithOperation(Name).Debugf("%s %s: ignoring status %d", method, url, code)
			return nil
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, URL: url, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return nil
}

// object converts v to a generic map so fields can be dropped.
func object(v interface{}, drop ...string) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for _, k := range drop {
		delete(m, k)
	}
	return m, nil
}

// create POSTs v to collection. 400 means the object already exists.
func (d *Driver) create(ctx context.Context, collection, key string, v interface{}) error {
	obj, err := object(v)
	if err != nil {
		return err
	}
	return d.send(ctx, http.MethodPost, collection, map[string]interface{}{key: obj}, http.StatusBadRequest)
}

func (d *Driver) update(ctx context.Context, collection, key, id string, v interface{}) error {
	obj, err := object(v, "id", "tenant_id")
	if err != nil {
		return err
	}
	return d.send(ctx, http.MethodPut, collection+"/"+id, map[string]interface{}{key: obj}, http.StatusBadRequest)
}

// remove DELETEs an object. 404 means it is already gone.
func (d *Driver) remove(ctx context.Context, collection, id string) error {
	return d.send(ctx, http.MethodDelete, collection+"/"+id, nil, http.StatusNotFound)
}

func (d *Driver) CreatePortChainPostcommit(ctx context.Context, c *steering.PortChainContext) error {
	return d.create(ctx, PortChains, "port_chain", c.Current())
}

func (d *Driver) UpdatePortChainPostcommit(ctx context.Context, c *steering.PortChainContext) error {
	return d.update(ctx, PortChains, "port_chain", c.Current().ID, c.Current())
}

func (d *Driver) DeletePortChainPostcommit(ctx context.Context, c *steering.PortChainContext) error {
	return d.remove(ctx, PortChains, c.Current().ID)
}

func (d *Driver) CreateClassifierPostcommit(ctx context.Context, c *steering.ClassifierContext) error {
	return d.create(ctx, Classifiers, "steering_classifier", c.Current())
}

func (d *Driver) UpdateClassifierPostcommit(ctx context.Context, c *steering.ClassifierContext) error {
	return d.update(ctx, Classifiers, "steering_classifier", c.Current().ID, c.Current())
}

func (d *Driver) DeleteClassifierPostcommit(ctx context.Context, c *steering.ClassifierContext) error {
	return d.remove(ctx, Classifiers, c.Current().ID)
}

var _ steering.Driver = (*Driver)(nil)
