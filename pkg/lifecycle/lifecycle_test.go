package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newtron-network/extport/internal/testutil"
	"github.com/newtron-network/extport/pkg/audit"
	"github.com/newtron-network/extport/pkg/driver"
	"github.com/newtron-network/extport/pkg/driver/etherswitch"
	"github.com/newtron-network/extport/pkg/store"
	"github.com/newtron-network/extport/pkg/util"
)

// stub records every run and fails on demand.
type stub struct {
	mu        sync.Mutex
	params    []driver.Params
	calls     []string
	attachErr error
	detachErr error
	delay     time.Duration

	// concurrency per device address
	active    map[string]int
	maxActive int
}

func newStub() *stub {
	return &stub{active: make(map[string]int)}
}

type stubDriver struct {
	s *stub
	p driver.Params
}

func (s *stub) ctor(p driver.Params, env driver.Env) (driver.Driver, error) {
	s.mu.Lock()
	s.params = append(s.params, p)
	s.mu.Unlock()
	return &stubDriver{s: s, p: p}, nil
}

func (d *stubDriver) run(op string, err error) error {
	s := d.s
	s.mu.Lock()
	s.calls = append(s.calls, op+" "+d.p.RemoteAddress)
	s.active[d.p.RemoteAddress]++
	if n := s.active[d.p.RemoteAddress]; n > s.maxActive {
		s.maxActive = n
	}
	s.mu.Unlock()

	time.Sleep(s.delay)

	s.mu.Lock()
	s.active[d.p.RemoteAddress]--
	s.mu.Unlock()
	return err
}

func (d *stubDriver) Attach(ctx context.Context) error { return d.run("attach", d.s.attachErr) }
func (d *stubDriver) Detach(ctx context.Context) error { return d.run("detach", d.s.detachErr) }

type fixture struct {
	o     *Orchestrator
	stub  *stub
	audit *audit.MemoryLogger
	net   *store.Network
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := driver.NewRegistry()
	st := newStub()
	reg.Register("stub", st.ctor)
	mem := audit.NewMemoryLogger()
	o := New(store.New(), Config{
		LocalAddress: "192.168.1.10",
		Registry:     reg,
		Audit:        mem,
		User:         "tester",
	})
	net, err := o.CreateNetwork(context.Background(), &store.Network{Name: "blue", TenantID: "t1"})
	if err != nil {
		t.Fatalf("CreateNetwork() error = %v", err)
	}
	return &fixture{o: o, stub: st, audit: mem, net: net}
}

func (f *fixture) createAP(t *testing.T, addr string) *store.AttachmentPoint {
	t.Helper()
	ap, err := f.o.CreateAttachmentPoint(context.Background(), &store.AttachmentPoint{
		Name:         "ap-" + addr,
		TenantID:     "t1",
		AdminStateUp: true,
		IPAddress:    addr,
		Driver:       "stub",
		Identifier:   "usr=a;pwd=b;",
		Technology:   "gre",
	})
	if err != nil {
		t.Fatalf("CreateAttachmentPoint() error = %v", err)
	}
	return ap
}

func TestBindUnbind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ap := f.createAP(t, "10.0.0.2")

	bound, err := f.o.Bind(ctx, ap.ID, f.net.ID)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if bound.State != store.StateBound || bound.NetworkID != f.net.ID || bound.Status != store.StatusActive {
		t.Errorf("after bind: state=%s network=%q status=%s", bound.State, bound.NetworkID, bound.Status)
	}
	want := driver.Params{
		LocalAddress:  "192.168.1.10",
		RemoteAddress: "10.0.0.2",
		Identifier:    "usr=a;pwd=b;",
		Technology:    "gre",
		Index:         ap.Index,
	}
	if got := f.stub.params[0]; got != want {
		t.Errorf("driver params = %+v, want %+v", got, want)
	}

	unbound, err := f.o.Unbind(ctx, ap.ID)
	if err != nil {
		t.Fatalf("Unbind() error = %v", err)
	}
	if unbound.State != store.StateUnbound || unbound.NetworkID != "" {
		t.Errorf("after unbind: state=%s network=%q", unbound.State, unbound.NetworkID)
	}
	if got := strings.Join(f.stub.calls, ","); got != "attach 10.0.0.2,detach 10.0.0.2" {
		t.Errorf("driver calls = %s", got)
	}

	events, _ := f.audit.Query(audit.Filter{ResourceID: ap.ID, SuccessOnly: true})
	var ops []string
	for _, e := range events {
		ops = append(ops, e.Operation)
	}
	if got := strings.Join(ops, ","); got != "attachment-point.create,attachment-point.attach,attachment-point.detach" {
		t.Errorf("audited operations = %s", got)
	}
}

func TestBindAdminDown(t *testing.T) {
	f := newFixture(t)
	ap := f.createAP(t, "10.0.0.2")
	down := false
	if _, err := f.o.UpdateAttachmentPoint(context.Background(), ap.ID, AttachmentPointUpdate{AdminStateUp: &down}); err != nil {
		t.Fatalf("UpdateAttachmentPoint() error = %v", err)
	}
	bound, err := f.o.Bind(context.Background(), ap.ID, f.net.ID)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if bound.Status != store.StatusDown {
		t.Errorf("status = %s, want DOWN", bound.Status)
	}
}

func TestAttachFailureLeavesUnbound(t *testing.T) {
	f := newFixture(t)
	f.stub.attachErr = &util.StepError{Driver: "stub", Step: util.StepCommand, Index: 3, Err: util.ErrTimeout}
	ap := f.createAP(t, "10.0.0.2")

	got, err := f.o.Bind(context.Background(), ap.ID, f.net.ID)
	if !errors.Is(err, util.ErrTimeout) {
		t.Fatalf("Bind() error = %v, want ErrTimeout", err)
	}
	if got.State != store.StateUnbound || got.NetworkID != "" {
		t.Errorf("state=%s network=%q, want unbound with no network", got.State, got.NetworkID)
	}
	if got.Status != store.StatusError || got.Error == "" {
		t.Errorf("status=%s error=%q", got.Status, got.Error)
	}

	failed, _ := f.audit.Query(audit.Filter{Operation: audit.OpAttach, FailureOnly: true})
	if len(failed) != 1 || failed[0].Step != util.StepCommand {
		t.Errorf("failure events = %+v", failed)
	}

	// A later successful bind clears the error.
	f.stub.attachErr = nil
	got, err = f.o.Bind(context.Background(), ap.ID, f.net.ID)
	if err != nil {
		t.Fatalf("second Bind() error = %v", err)
	}
	if got.Error != "" || got.Status != store.StatusActive {
		t.Errorf("status=%s error=%q after successful retry", got.Status, got.Error)
	}
}

func TestDetachFailureLeavesBound(t *testing.T) {
	f := newFixture(t)
	ap := f.createAP(t, "10.0.0.2")
	if _, err := f.o.Bind(context.Background(), ap.ID, f.net.ID); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	f.stub.detachErr = util.NewNotFoundOnDeviceError("wifi-iface", "guest")

	got, err := f.o.Unbind(context.Background(), ap.ID)
	if !errors.Is(err, util.ErrResourceNotFound) {
		t.Fatalf("Unbind() error = %v, want ErrResourceNotFound", err)
	}
	if got.State != store.StateBound || got.NetworkID != f.net.ID || got.Status != store.StatusError {
		t.Errorf("state=%s network=%q status=%s", got.State, got.NetworkID, got.Status)
	}
}

func TestUnknownDriver(t *testing.T) {
	f := newFixture(t)
	ap, err := f.o.CreateAttachmentPoint(context.Background(), &store.AttachmentPoint{
		TenantID:   "t1",
		IPAddress:  "10.0.0.9",
		Driver:     "nosuch",
		Identifier: "a=b",
		Technology: "gre",
	})
	if err != nil {
		t.Fatalf("CreateAttachmentPoint() error = %v", err)
	}
	got, err := f.o.Bind(context.Background(), ap.ID, f.net.ID)
	if !errors.Is(err, util.ErrConfiguration) {
		t.Fatalf("Bind() error = %v, want ErrConfiguration", err)
	}
	if got.State != store.StateUnbound || got.Status != store.StatusError {
		t.Errorf("state=%s status=%s", got.State, got.Status)
	}
}

func TestBindPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ap := f.createAP(t, "10.0.0.2")

	if _, err := f.o.Bind(ctx, ap.ID, "no-such-network"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("Bind(missing network) error = %v, want ErrNotFound", err)
	}

	other, _ := f.o.CreateNetwork(ctx, &store.Network{Name: "red", TenantID: "t2"})
	if _, err := f.o.Bind(ctx, ap.ID, other.ID); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("Bind(foreign network) error = %v, want ErrPreconditionFailed", err)
	}

	if _, err := f.o.Bind(ctx, ap.ID, f.net.ID); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if _, err := f.o.Bind(ctx, ap.ID, f.net.ID); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("rebind error = %v, want ErrPreconditionFailed", err)
	}
	if len(f.stub.calls) != 1 {
		t.Errorf("driver ran %d times, want 1", len(f.stub.calls))
	}

	if _, err := f.o.Unbind(ctx, ap.ID); err != nil {
		t.Fatalf("Unbind() error = %v", err)
	}
	if _, err := f.o.Unbind(ctx, ap.ID); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("second Unbind() error = %v, want ErrPreconditionFailed", err)
	}
}

func TestRecordRulesWhileBound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ap := f.createAP(t, "10.0.0.2")
	f.o.Bind(ctx, ap.ID, f.net.ID)

	if err := f.o.DeleteAttachmentPoint(ctx, ap.ID); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("DeleteAttachmentPoint() error = %v, want ErrPreconditionFailed", err)
	}
	tenant := "t9"
	if _, err := f.o.UpdateAttachmentPoint(ctx, ap.ID, AttachmentPointUpdate{TenantID: &tenant}); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("tenant change error = %v, want ErrPreconditionFailed", err)
	}
	name := "renamed"
	got, err := f.o.UpdateAttachmentPoint(ctx, ap.ID, AttachmentPointUpdate{Name: &name})
	if err != nil || got.Name != "renamed" || got.Index != ap.Index {
		t.Errorf("rename = %+v, %v", got, err)
	}
	if err := f.o.DeleteNetwork(ctx, f.net.ID); !errors.Is(err, util.ErrInUse) {
		t.Errorf("DeleteNetwork() error = %v, want ErrInUse", err)
	}

	f.o.Unbind(ctx, ap.ID)
	if err := f.o.DeleteAttachmentPoint(ctx, ap.ID); err != nil {
		t.Errorf("DeleteAttachmentPoint() after unbind error = %v", err)
	}
}

func TestConcurrentBindSameAttachmentPoint(t *testing.T) {
	f := newFixture(t)
	f.stub.delay = 20 * time.Millisecond
	ap := f.createAP(t, "10.0.0.2")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.o.Bind(context.Background(), ap.ID, f.net.ID)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, util.ErrPreconditionFailed):
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 || len(f.stub.calls) != 1 {
		t.Errorf("successful binds = %d, driver runs = %d; want 1 and 1", ok, len(f.stub.calls))
	}
}

func TestDeviceLockSerializesSharedDevice(t *testing.T) {
	f := newFixture(t)
	f.stub.delay = 10 * time.Millisecond
	var aps []*store.AttachmentPoint
	for i := 0; i < 4; i++ {
		aps = append(aps, f.createAP(t, "10.0.0.2"))
	}

	var wg sync.WaitGroup
	for _, ap := range aps {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.o.Bind(context.Background(), id, f.net.ID); err != nil {
				t.Errorf("Bind(%s) error = %v", id, err)
			}
		}(ap.ID)
	}
	wg.Wait()

	if f.stub.maxActive != 1 {
		t.Errorf("max concurrent runs on one device = %d, want 1", f.stub.maxActive)
	}
}

func TestExternalPortBinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ap := f.createAP(t, "10.0.0.2")
	ep, err := f.o.CreateExternalPort(ctx, &store.ExternalPort{
		Name:              "printer",
		TenantID:          "t1",
		MACAddress:        "00:11:22:33:44:55",
		AttachmentPointID: ap.ID,
	})
	if err != nil {
		t.Fatalf("CreateExternalPort() error = %v", err)
	}

	if _, err := f.o.BindPort(ctx, ep.ID); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("BindPort(unbound ap) error = %v, want ErrPreconditionFailed", err)
	}

	f.o.Bind(ctx, ap.ID, f.net.ID)
	bound, err := f.o.BindPort(ctx, ep.ID)
	if err != nil {
		t.Fatalf("BindPort() error = %v", err)
	}
	f.o.Store().View(func(tx *store.ReadTx) error {
		vp, err := tx.VirtualPort(bound.PortID)
		if err != nil {
			t.Fatalf("VirtualPort() error = %v", err)
		}
		if vp.Name != "port_printer" || vp.NetworkID != f.net.ID || vp.DeviceID != ep.ID || vp.MACAddress != ep.MACAddress {
			t.Errorf("virtual port = %+v", vp)
		}
		return nil
	})
	if _, err := f.o.BindPort(ctx, ep.ID); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("second BindPort() error = %v, want ErrPreconditionFailed", err)
	}

	if _, err := f.o.Unbind(ctx, ap.ID); !errors.Is(err, util.ErrInUse) {
		t.Errorf("Unbind() with bound port error = %v, want ErrInUse", err)
	}
	if err := f.o.DeleteExternalPort(ctx, ep.ID); !errors.Is(err, util.ErrPreconditionFailed) {
		t.Errorf("DeleteExternalPort() while bound error = %v", err)
	}

	if _, err := f.o.UnbindPort(ctx, ep.ID); err != nil {
		t.Fatalf("UnbindPort() error = %v", err)
	}
	if _, err := f.o.Unbind(ctx, ap.ID); err != nil {
		t.Fatalf("Unbind() error = %v", err)
	}
	if err := f.o.DeleteExternalPort(ctx, ep.ID); err != nil {
		t.Errorf("DeleteExternalPort() error = %v", err)
	}
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	a := f.createAP(t, "10.0.0.2")
	b := f.createAP(t, "10.0.0.3")
	f.o.Bind(context.Background(), b.ID, f.net.ID)

	// Simulate an agent that stopped mid-operation.
	f.o.Store().Update(func(tx *store.Tx) error {
		ap, _ := tx.AttachmentPoint(a.ID)
		ap.State = store.StateAttaching
		tx.UpdateAttachmentPoint(ap)
		ap, _ = tx.AttachmentPoint(b.ID)
		ap.State = store.StateDetaching
		return tx.UpdateAttachmentPoint(ap)
	})

	n, err := f.o.Recover()
	if err != nil || n != 2 {
		t.Fatalf("Recover() = %d, %v", n, err)
	}
	got, _ := f.o.GetAttachmentPoint(a.ID)
	if got.State != store.StateUnbound || got.Status != store.StatusError {
		t.Errorf("a: state=%s status=%s", got.State, got.Status)
	}
	got, _ = f.o.GetAttachmentPoint(b.ID)
	if got.State != store.StateBound || got.NetworkID != f.net.ID {
		t.Errorf("b: state=%s network=%q", got.State, got.NetworkID)
	}
}

func TestEtherswitchEndToEnd(t *testing.T) {
	sw := testutil.NewFakeSwitch("cisco", 8)
	before := sw.Snapshot()
	dialer := testutil.NewDialer()
	dialer.Add("10.0.0.2", sw)

	reg := driver.NewRegistry()
	etherswitch.Register(reg)
	o := New(store.New(), Config{
		LocalAddress: "192.168.1.10",
		Registry:     reg,
		Env:          driver.Env{Dialer: dialer},
		Audit:        audit.NewMemoryLogger(),
	})
	ctx := context.Background()
	net, _ := o.CreateNetwork(ctx, &store.Network{Name: "blue"})
	ap, err := o.CreateAttachmentPoint(ctx, &store.AttachmentPoint{
		IPAddress:  "10.0.0.2",
		Driver:     etherswitch.Name,
		Identifier: "usr=admin;pwd=cisco;port=3;",
		Technology: "gre",
	})
	if err != nil {
		t.Fatalf("CreateAttachmentPoint() error = %v", err)
	}

	if _, err := o.Bind(ctx, ap.ID, net.ID); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if sw.VLANs[ap.Index+etherswitch.TagOffset] == "" {
		t.Errorf("VLAN %d not created", ap.Index+etherswitch.TagOffset)
	}
	if _, err := o.Unbind(ctx, ap.ID); err != nil {
		t.Fatalf("Unbind() error = %v", err)
	}
	if after := sw.Snapshot(); after != before {
		t.Errorf("switch configuration differs after unbind:\n%s\n---\n%s", before, after)
	}
	if dialer.Leaked() != 0 {
		t.Errorf("leaked sessions = %d", dialer.Leaked())
	}
}
