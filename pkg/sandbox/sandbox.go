// Package sandbox implements the Script Sandbox of spec.md §4.7: a
// single-threaded embedded interpreter that runs user-supplied
// configurator, extractor and formatter scripts with a bounded wall-clock
// timeout and a fixed host-object surface.
//
// Grounded on the teacher's (ignatij/goflow) worker-pool shape — a fresh
// interpreter per call and a timeout enforced from the host side — but
// built on dop251/goja rather than the
// teacher's task-function registry, since the scripts here are JS source
// supplied by tracker owners, not Go closures. No corpus repo embeds a
// script engine; goja is named per DESIGN.md rather than grounded on a
// pack file.
package sandbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/retrack-dev/retrack/pkg/errkind"
)

// EntryPoint names one of the three fixed script roles of spec.md §9:
// "no open-world polymorphism crosses the sandbox boundary".
type EntryPoint string

const (
	EntryConfigurator EntryPoint = "configurator"
	EntryExtractor    EntryPoint = "extractor"
	EntryFormatter    EntryPoint = "formatter"
)

// defaultTimeout bounds a script call when the caller supplies none.
const defaultTimeout = 5 * time.Second

// defaultResultCap bounds the serialized size of a script's return value,
// goja has no hard memory ceiling API, so this is the best-effort
// approximation of spec.md §4.7's "memory cap" documented in DESIGN.md.
const defaultResultCap = 4 << 20 // 4 MiB

// Options tunes a single script invocation.
type Options struct {
	Timeout   time.Duration
	ResultCap int
}

// Run compiles and evaluates source as a single JS expression/module body,
// binding the identifier "context" to ctx (round-tripped through JSON so
// the script never sees a Go value directly), and returns the script's
// result decoded into a generic Go value.
//
// source is a plain script body over the bound context: the value of its
// last expression statement (a bare expression, or a call such as
// run(context)) is its return value. Run does not call a function the
// script evaluates to, and module syntax such as import or export is not
// accepted. Run does not interpret entry beyond tagging error messages —
// callers (pkg/executor, pkg/actions) supply the context shape for
// configurator/extractor/formatter scripts.
func Run(entry EntryPoint, source string, ctx interface{}, opts Options) (interface{}, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ResultCap <= 0 {
		opts.ResultCap = defaultResultCap
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	sealHostSurface(vm)

	ctxJSON, err := json.Marshal(ctx)
	if err != nil {
		return nil, errkind.Terminalf("%s: marshal context: %v", entry, err)
	}
	var ctxValue interface{}
	if err := json.Unmarshal(ctxJSON, &ctxValue); err != nil {
		return nil, errkind.Terminalf("%s: unmarshal context: %v", entry, err)
	}
	if err := vm.Set("context", ctxValue); err != nil {
		return nil, errkind.Terminalf("%s: bind context: %v", entry, err)
	}
	if err := bindHostFunctions(vm); err != nil {
		return nil, errkind.Terminalf("%s: bind host functions: %v", entry, err)
	}

	if err := rejectImports(source); err != nil {
		return nil, errkind.Classify(fmt.Errorf("%s: %v", entry, err), errkind.ScriptForbiddenImport)
	}

	program, err := goja.Compile(string(entry), wrapSource(source), false)
	if err != nil {
		return nil, errkind.Terminalf("%s: compile: %v", entry, err)
	}

	timer := time.AfterFunc(opts.Timeout, func() {
		vm.Interrupt(fmt.Sprintf("%s: execution was terminated due to timeout %dms", entry, opts.Timeout.Milliseconds()))
	})
	defer timer.Stop()

	result, runErr := vm.RunProgram(program)
	if runErr != nil {
		return nil, classifyRunErr(entry, runErr)
	}

	exported := result.Export()
	encoded, err := json.Marshal(exported)
	if err != nil {
		return nil, errkind.Terminalf("%s: result not JSON-serializable: %v", entry, err)
	}
	if len(encoded) > opts.ResultCap {
		return nil, errkind.Terminalf("%s: result exceeds %d byte cap", entry, opts.ResultCap)
	}

	// A script emitting undefined/no value decodes to nil here, which is
	// the host-side realization of spec.md §8's "revision content is null".
	var out interface{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, errkind.Terminalf("%s: decode result: %v", entry, err)
	}
	return out, nil
}

// wrapSource wraps the script body in a block statement, whose completion
// value is that of its last expression statement, so a bare expression,
// a `function run(context) {...}; run(context)` pattern, or a sequence of
// statements ending in an expression all produce a usable result.
func wrapSource(source string) string {
	return "{\n" + source + "\n}"
}

func classifyRunErr(entry EntryPoint, err error) error {
	if ie, ok := err.(*goja.InterruptedError); ok {
		return errkind.Classify(fmt.Errorf("%v", ie.Value()), errkind.ScriptTimeout)
	}
	if ex, ok := err.(*goja.Exception); ok {
		return errkind.Classify(fmt.Errorf("%s: %s", entry, ex.Error()), errkind.Terminal)
	}
	return errkind.Terminalf("%s: %v", entry, err)
}

// sealHostSurface deletes the eval and Function globals. It does not
// freeze or seal any prototype the way the scraper worker does (spec.md
// §4.4), so the Function constructor stays reachable through an existing
// function's constructor property.
func sealHostSurface(vm *goja.Runtime) {
	for _, name := range []string{"eval", "Function"} {
		_ = vm.GlobalObject().Delete(name)
	}
}

// bindHostFunctions exposes the pure capabilities of spec.md §4.7:
// encode/decode for byte strings and a deferred-timer primitive. No file,
// network, or environment access is bound.
func bindHostFunctions(vm *goja.Runtime) error {
	if err := vm.Set("encode", hostEncode); err != nil {
		return err
	}
	if err := vm.Set("decode", hostDecode); err != nil {
		return err
	}
	// sleep is a no-op placeholder for the deferred-timer primitive: goja
	// is synchronous and single-threaded per call, so a real sleep would
	// just burn the host's timeout budget. It returns at once without
	// waiting, and no host code reads a delay value from a script's result.
	return vm.Set("sleep", func(ms int64) {})
}
