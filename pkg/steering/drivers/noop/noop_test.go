package noop

import (
	"context"
	"testing"

	"github.com/newtron-network/extport/pkg/steering"
	"github.com/newtron-network/extport/pkg/store"
)

func TestDriver_AcceptsEverything(t *testing.T) {
	st := store.New()
	mgr := steering.NewManager(nil, New())
	svc := steering.NewService(st, mgr, steering.WithAudit(nil))
	ctx := context.Background()

	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	sc, err := svc.CreateClassifier(ctx, &store.SteeringClassifier{Name: "any"})
	if err != nil {
		t.Fatalf("CreateClassifier: %v", err)
	}
	pc, err := svc.CreatePortChain(ctx, &store.PortChain{Name: "pc", ClassifierIDs: []string{sc.ID}})
	if err != nil {
		t.Fatalf("CreatePortChain: %v", err)
	}
	if err := svc.DeletePortChain(ctx, pc.ID); err != nil {
		t.Fatalf("DeletePortChain: %v", err)
	}
	if err := svc.DeleteClassifier(ctx, sc.ID); err != nil {
		t.Fatalf("DeleteClassifier: %v", err)
	}
	if got := mgr.Drivers(); len(got) != 1 || got[0] != Name {
		t.Errorf("Drivers() = %v", got)
	}
}
