package core

import (
	"context"
	"testing"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := NewRuntime(RuntimeConfig{
		Mana:       ManaLedgerConfig{DefaultMaxCapacity: 1000, DefaultBaseRegenRate: 0},
		QueueDepth: 16,
	}, nil, nil, nil)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return rt
}

func TestRuntimeStartShutdownIsIdempotent(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := rt.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := rt.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestRuntimeDispatchManaBalanceAndSpend(t *testing.T) {
	rt := newTestRuntime(t)
	caller := Did{Method: "key", ID: "caller"}
	rt.Mana.SetBalance(caller, 100)

	res := rt.Dispatch(context.Background(), HostCall{Capability: HostManaBalance, Caller: caller})
	if res.Err != nil {
		t.Fatalf("mana_balance: %v", res.Err)
	}
	if res.Value.(uint64) != 100 {
		t.Fatalf("balance = %v, want 100", res.Value)
	}

	res = rt.Dispatch(context.Background(), HostCall{
		Capability: HostManaSpend,
		Caller:     caller,
		Args:       map[string]interface{}{"amount": uint64(40)},
	})
	if res.Err != nil {
		t.Fatalf("mana_spend: %v", res.Err)
	}
	if got := rt.Mana.Balance(caller); got != 60 {
		t.Fatalf("balance after spend = %d, want 60", got)
	}
}

func TestRuntimeDispatchDagPutAndGet(t *testing.T) {
	rt := newTestRuntime(t)
	author := Did{Method: "key", ID: "author"}
	block := &DagBlock{Data: []byte("hello"), AuthorDid: author}

	putRes := rt.Dispatch(context.Background(), HostCall{
		Capability: HostDagPut,
		Args:       map[string]interface{}{"block": block},
	})
	if putRes.Err != nil {
		t.Fatalf("dag_put: %v", putRes.Err)
	}
	cid := putRes.Value.(Cid)

	getRes := rt.Dispatch(context.Background(), HostCall{
		Capability: HostDagGet,
		Args:       map[string]interface{}{"cid": cid},
	})
	if getRes.Err != nil {
		t.Fatalf("dag_get: %v", getRes.Err)
	}
	got := getRes.Value.(*DagBlock)
	if string(got.Data) != "hello" {
		t.Fatalf("data = %q, want hello", got.Data)
	}
}

func TestRuntimeDispatchUnknownCapability(t *testing.T) {
	rt := newTestRuntime(t)
	res := rt.Dispatch(context.Background(), HostCall{Capability: "not_a_real_capability"})
	if !isErr(res.Err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", res.Err)
	}
}
