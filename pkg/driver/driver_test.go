package driver

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/newtron-network/extport/pkg/session"
	"github.com/newtron-network/extport/pkg/util"
)

func TestParseIdentifier(t *testing.T) {
	id, err := ParseIdentifier("usr=admin;pwd=s3cr=t;port=3;extra=ignored;")
	if err != nil {
		t.Fatalf("ParseIdentifier() error = %v", err)
	}
	if want := []string{"usr", "pwd", "port", "extra"}; !reflect.DeepEqual(id.Keys(), want) {
		t.Errorf("Keys() = %v, want %v", id.Keys(), want)
	}
	if v, _ := id.Get("pwd"); v != "s3cr=t" {
		t.Errorf("Get(pwd) = %q, want %q", v, "s3cr=t")
	}
	if err := id.RequireAll("usr", "pwd", "port"); err != nil {
		t.Errorf("RequireAll() error = %v", err)
	}
	if got := id.GetOr("comm", "telnet"); got != "telnet" {
		t.Errorf("GetOr(comm) = %q", got)
	}
	if got := id.String(); got != "extra=ignored;port=3;pwd=****;usr=admin;" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseIdentifierWithoutTrailingSemicolon(t *testing.T) {
	id, err := ParseIdentifier(" usr = admin;port=3")
	if err != nil {
		t.Fatalf("ParseIdentifier() error = %v", err)
	}
	if v, ok := id.Get("usr"); !ok || v != " admin" {
		t.Errorf("Get(usr) = %q, %v", v, ok)
	}
	if n, ok, err := id.Int("port"); !ok || err != nil || n != 3 {
		t.Errorf("Int(port) = %d, %v, %v", n, ok, err)
	}
}

func TestParseIdentifierMalformed(t *testing.T) {
	tests := []struct {
		in  string
		key string
	}{
		{"usr=a;garbage;", "garbage"},
		{"usr=a;usr=b;", "usr"},
		{"=x;", ""},
	}
	for _, tt := range tests {
		_, err := ParseIdentifier(tt.in)
		if !errors.Is(err, util.ErrConfiguration) {
			t.Errorf("ParseIdentifier(%q) error = %v, want ErrConfiguration", tt.in, err)
			continue
		}
		var ce *util.ConfigError
		if errors.As(err, &ce) && ce.Key != tt.key {
			t.Errorf("ParseIdentifier(%q) key = %q, want %q", tt.in, ce.Key, tt.key)
		}
	}
}

func TestIdentifierMissingVersusMalformed(t *testing.T) {
	id, err := ParseIdentifier("usr=admin;pwd=;port=x;")
	if err != nil {
		t.Fatalf("ParseIdentifier() error = %v", err)
	}

	var ce *util.ConfigError
	if _, err := id.Require("ssid_name"); !errors.As(err, &ce) || !ce.Missing || ce.Key != "ssid_name" {
		t.Errorf("Require(absent) = %v", err)
	}
	if _, err := id.Require("pwd"); !errors.As(err, &ce) || ce.Missing || ce.Key != "pwd" {
		t.Errorf("Require(empty) = %v", err)
	}
	if _, ok, err := id.Int("port"); !ok || !errors.As(err, &ce) || ce.Missing {
		t.Errorf("Int(non-numeric) = %v, %v", ok, err)
	}
	if _, ok, err := id.Int("iface"); ok || err != nil {
		t.Errorf("Int(absent) = %v, %v", ok, err)
	}
}

type nopDriver struct{}

func (nopDriver) Attach(context.Context) error { return nil }
func (nopDriver) Detach(context.Context) error { return nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("alpha", func(p Params, env Env) (Driver, error) {
		called = true
		return nopDriver{}, nil
	})

	ctor, ok := r.Resolve("alpha")
	if !ok {
		t.Fatal("Resolve(alpha) not found")
	}
	if _, err := ctor(Params{}, Env{}); err != nil || !called {
		t.Errorf("constructor error = %v, called = %v", err, called)
	}

	if ctor, ok := r.Resolve("beta"); ok || ctor != nil {
		t.Error("Resolve(beta) returned a constructor")
	}
	if _, err := r.New("beta", Params{}, Env{}); !errors.Is(err, util.ErrConfiguration) {
		t.Errorf("New(beta) error = %v, want ErrConfiguration", err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"alpha"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	ctor := func(Params, Env) (Driver, error) { return nopDriver{}, nil }
	r.Register("alpha", ctor)
	defer func() {
		if recover() == nil {
			t.Error("second Register did not panic")
		}
	}()
	r.Register("alpha", ctor)
}

func TestStepFailure(t *testing.T) {
	inner := &util.StepError{Step: util.StepCommand, Index: 4, Err: util.ErrDriver}
	err := StepFailure("openwrt", "10.0.0.2", util.StepAllocate, inner)
	if err != inner || inner.Driver != "openwrt" || inner.Device != "10.0.0.2" {
		t.Errorf("StepFailure(StepError) = %+v", err)
	}

	err = StepFailure("openwrt", "10.0.0.2", util.StepAllocate, util.NewNotFoundOnDeviceError("zone", "lan"))
	var se *util.StepError
	if !errors.As(err, &se) || se.Step != util.StepAllocate {
		t.Fatalf("StepFailure() = %v", err)
	}
	if !errors.Is(err, util.ErrResourceNotFound) {
		t.Errorf("StepFailure() lost the cause: %v", err)
	}
	if StepFailure("x", "y", util.StepParse, nil) != nil {
		t.Error("StepFailure(nil) != nil")
	}
}

func TestOpenFailure(t *testing.T) {
	d := session.DialerFunc(func(ctx context.Context, address string, creds session.Credentials) (session.Channel, error) {
		return nil, &session.ConnectionError{Address: address, Err: errors.New("refused")}
	})
	_, err := Open(context.Background(), d, "etherswitch", "10.0.0.9", session.Credentials{})
	var se *util.StepError
	if !errors.As(err, &se) || se.Step != util.StepOpen || se.Driver != "etherswitch" {
		t.Fatalf("Open() error = %v", err)
	}
	if !errors.Is(err, util.ErrConnection) {
		t.Errorf("Open() error = %v, want ErrConnection", err)
	}
}
