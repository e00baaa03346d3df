package main

import (
	"errors"
	"reflect"
	"testing"

	"github.com/newtron-network/extport/pkg/config"
	"github.com/newtron-network/extport/pkg/lock"
	"github.com/newtron-network/extport/pkg/store"
	"github.com/newtron-network/extport/pkg/util"
)

func TestWithKey(t *testing.T) {
	tests := []struct {
		in, key, value, want string
	}{
		{"usr=admin;port=Fa0/4", "pwd", "s3cret", "usr=admin;port=Fa0/4;pwd=s3cret"},
		{"usr=admin;pwd=old;port=1", "pwd", "new", "usr=admin;port=1;pwd=new"},
		{"", "pwd", "x", "pwd=x"},
		{"usr=admin;", "ssid_pass", "p", "usr=admin;ssid_pass=p"},
	}
	for _, tt := range tests {
		if got := withKey(tt.in, tt.key, tt.value); got != tt.want {
			t.Errorf("withKey(%q, %q) = %q, want %q", tt.in, tt.key, got, tt.want)
		}
	}
}

func TestMaskIdentifier(t *testing.T) {
	got := maskIdentifier("usr=admin;pwd=s3cret;ssid_name=guest;ssid_pass=hunter2")
	want := "usr=admin;pwd=****;ssid_name=guest;ssid_pass=****"
	if got != want {
		t.Errorf("maskIdentifier() = %q, want %q", got, want)
	}
}

func TestParseHops(t *testing.T) {
	got := parseHops([]string{"a", "b, c", "d,,"})
	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseHops() = %v, want %v", got, want)
	}
}

func TestParseAdminState(t *testing.T) {
	for in, want := range map[string]bool{"up": true, "UP": true, "": true, "down": false} {
		got, err := parseAdminState(in)
		if err != nil || got != want {
			t.Errorf("parseAdminState(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseAdminState("sideways"); err == nil {
		t.Error("parseAdminState() accepted an invalid state")
	}
}

func TestNewRegistry(t *testing.T) {
	names := newRegistry().Names()
	want := map[string]bool{"etherswitch": true, "openwrt": true}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v", names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected driver %q", n)
		}
	}
}

func TestNewSteeringDrivers(t *testing.T) {
	a := &App{cfg: config.Default()}
	a.cfg.Steering.Drivers = []string{"noop", "controller", "redis"}
	drivers, err := a.newSteeringDrivers()
	if err != nil {
		t.Fatalf("newSteeringDrivers: %v", err)
	}
	var names []string
	for _, d := range drivers {
		names = append(names, d.Name())
	}
	if !reflect.DeepEqual(names, []string{"noop", "controller", "redis"}) {
		t.Errorf("driver order = %v", names)
	}
	if len(a.closers) != 1 {
		t.Errorf("closers = %d, want the redis client", len(a.closers))
	}
	for _, c := range a.closers {
		c()
	}

	a.cfg.Steering.Drivers = []string{"odl"}
	if _, err := a.newSteeringDrivers(); !errors.Is(err, util.ErrConfiguration) {
		t.Errorf("unknown driver error = %v", err)
	}
}

func TestNewLocker(t *testing.T) {
	a := &App{cfg: config.Default()}
	l, err := a.newLocker()
	if err != nil {
		t.Fatalf("newLocker: %v", err)
	}
	if _, ok := l.(*lock.LocalLocker); !ok {
		t.Errorf("default locker = %T", l)
	}

	a.cfg.Lock.Backend = config.LockRedis
	a.cfg.Lock.RedisAddr = "127.0.0.1:1"
	l, err = a.newLocker()
	if err != nil {
		t.Fatalf("newLocker: %v", err)
	}
	if _, ok := l.(*lock.RedisLocker); !ok {
		t.Errorf("redis locker = %T", l)
	}
	for _, c := range a.closers {
		c()
	}
}

func TestResolve(t *testing.T) {
	saved := app.store
	defer func() { app.store = saved }()
	app.store = store.New()

	var sw1, dup1 *store.AttachmentPoint
	err := app.store.Update(func(tx *store.Tx) error {
		for _, name := range []string{"sw1", "dup", "dup"} {
			ap := &store.AttachmentPoint{
				Name:       name,
				IPAddress:  "192.0.2.1",
				Driver:     "etherswitch",
				Identifier: "usr=a",
				Technology: "gre",
			}
			if err := tx.CreateAttachmentPoint(ap); err != nil {
				return err
			}
			switch {
			case name == "sw1":
				sw1 = ap
			case dup1 == nil:
				dup1 = ap
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	for _, ref := range []string{sw1.ID, "sw1", "1"} {
		got, err := resolveAP(ref)
		if err != nil || got.ID != sw1.ID {
			t.Errorf("resolveAP(%q) = %v, %v", ref, got, err)
		}
	}
	if got, err := resolveAP(dup1.ID); err != nil || got.Index != 2 {
		t.Errorf("resolveAP(dup ID) = %v, %v", got, err)
	}
	if _, err := resolveAP("dup"); err == nil {
		t.Error("ambiguous name should fail")
	}
	if _, err := resolveAP("missing"); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("missing = %v, want ErrNotFound", err)
	}
}
