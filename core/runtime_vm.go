package core

// WASM Host ABI execution: loads a compiled module and runs its `_start`
// entrypoint, giving it a single `host_call` import through which every
// Runtime capability in runtime.go is reachable. Grounded on the teacher's
// virtual_machine.go HeavyVM (wasmer.NewEngine/Store/Module/Instance, a
// registerHost import table, and a hostCtx carrying the module's linear
// memory), generalised from the teacher's opcode-gas VM to the spec's
// capability-dispatch ABI: one generic host_call(cap_ptr, cap_len, args_ptr,
// args_len, out_ptr, out_cap) -> i32 function instead of many opcode-specific
// host functions.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// ModuleReceipt mirrors the teacher's Receipt shape for a single WASM
// invocation: whether it trapped, and any error text.
type ModuleReceipt struct {
	Success bool
	Error   string
}

// hostVMCtx carries everything a host_call needs to serve a request from
// inside the running module: the module's own linear memory (resolved after
// instantiation, since it isn't available at import-registration time), the
// runtime to dispatch into, and the caller's Did for mana/accounting
// attribution.
type hostVMCtx struct {
	mem     *wasmer.Memory
	rt      *Runtime
	caller  Did
	ctx     context.Context
	lastErr error
}

// ExecuteModule loads a WASM module's bytes and runs its `_start` export,
// wiring a single host_call import back into the Runtime's Dispatch table.
// The module is expected to encode HostCall.Args as JSON and pass the bytes
// through the shared linear memory; the result is written back the same way.
func (r *Runtime) ExecuteModule(ctx context.Context, caller Did, code []byte) (ModuleReceipt, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	mod, err := wasmer.NewModule(store, code)
	if err != nil {
		return ModuleReceipt{}, fmt.Errorf("core: compile wasm module: %w", err)
	}

	hctx := &hostVMCtx{rt: r, caller: caller, ctx: ctx}
	imports := registerHostImports(store, hctx)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return ModuleReceipt{}, fmt.Errorf("core: instantiate wasm module: %w", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return ModuleReceipt{}, errors.New("core: wasm module exports no memory")
	}
	hctx.mem = mem

	start, err := instance.Exports.GetFunction("_start")
	if err != nil {
		return ModuleReceipt{}, errors.New("core: wasm module exports no _start")
	}

	rec := ModuleReceipt{Success: true}
	if _, err := start(); err != nil {
		rec.Success = false
		rec.Error = err.Error()
	} else if hctx.lastErr != nil {
		rec.Success = false
		rec.Error = hctx.lastErr.Error()
	}
	return rec, nil
}

// registerHostImports builds the single host_call import, translating the
// module's (capability, caller-supplied args) request into a Runtime.Dispatch
// call and copying the JSON-encoded result back into the module's memory.
func registerHostImports(store *wasmer.Store, h *hostVMCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	read := func(ptr, ln int32) []byte {
		if ln <= 0 {
			return nil
		}
		data := h.mem.Data()
		out := make([]byte, ln)
		copy(out, data[ptr:ptr+ln])
		return out
	}
	write := func(ptr, cap int32, payload []byte) int32 {
		if len(payload) > int(cap) {
			return -1
		}
		data := h.mem.Data()
		copy(data[ptr:], payload)
		return int32(len(payload))
	}

	hostCall := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(
				wasmer.ValueKind(wasmer.I32), // cap_ptr
				wasmer.ValueKind(wasmer.I32), // cap_len
				wasmer.ValueKind(wasmer.I32), // args_ptr
				wasmer.ValueKind(wasmer.I32), // args_len
				wasmer.ValueKind(wasmer.I32), // out_ptr
				wasmer.ValueKind(wasmer.I32), // out_cap
			),
			wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32)),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			capName := string(read(args[0].I32(), args[1].I32()))
			argBytes := read(args[2].I32(), args[3].I32())

			var callArgs map[string]interface{}
			if len(argBytes) > 0 {
				if err := json.Unmarshal(argBytes, &callArgs); err != nil {
					h.lastErr = fmt.Errorf("core: decode host_call args: %w", err)
					return []wasmer.Value{wasmer.NewI32(-1)}, nil
				}
			}

			res := h.rt.Dispatch(h.ctx, HostCall{
				Capability: HostCapability(capName),
				Caller:     h.caller,
				Args:       callArgs,
			})
			if res.Err != nil {
				h.lastErr = res.Err
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}

			encoded, err := json.Marshal(res.Value)
			if err != nil {
				h.lastErr = fmt.Errorf("core: encode host_call result: %w", err)
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			n := write(args[4].I32(), args[5].I32(), encoded)
			return []wasmer.Value{wasmer.NewI32(n)}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_call": hostCall,
	})
	return imports
}
