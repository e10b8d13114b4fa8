package core

import (
	"context"
	"testing"
)

func TestExecuteModuleRejectsInvalidBytecode(t *testing.T) {
	rt := newTestRuntime(t)
	caller := Did{Method: "key", ID: "caller"}
	_, err := rt.ExecuteModule(context.Background(), caller, []byte("not a wasm module"))
	if err == nil {
		t.Fatal("expected an error compiling invalid wasm bytecode")
	}
}
