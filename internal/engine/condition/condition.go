package condition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
)

// Evaluator runs edge-condition expressions in a sandboxed JavaScript
// runtime. A condition reads the workflow context and yields a boolean;
// anything else is treated as not matching. Failures never abort the
// run: a broken condition simply routes nothing.
type Evaluator struct {
	timeout time.Duration
	pool    *vmPool
}

func NewEvaluator(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Evaluator{
		timeout: timeout,
		pool:    newVMPool(8),
	}
}

// Evaluate returns the boolean outcome of expression against data. An
// empty expression is vacuously true. Evaluation errors, timeouts and
// non-boolean results all evaluate to false.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, data map[string]interface{}) bool {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return true
	}

	result, err := e.run(ctx, expression, data)
	if err != nil {
		log.Warn().Err(err).Str("condition", expression).Msg("Condition evaluation failed, treating as false")
		return false
	}

	b, ok := result.(bool)
	if !ok {
		log.Warn().Str("condition", expression).Msgf("Condition returned non-boolean %T, treating as false", result)
		return false
	}
	return b
}

// CheckSyntax compiles the expression without running it.
func (e *Evaluator) CheckSyntax(expression string) error {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil
	}
	_, err := goja.Compile("condition", "("+expression+")", true)
	if err != nil {
		return fmt.Errorf("invalid condition %q: %w", expression, err)
	}
	return nil
}

// Check evaluates the expression against an empty scope and reports
// errors intrinsic to the expression itself: syntax errors and
// references to names outside {trigger, context, vars}. TypeErrors
// from dereferencing data that only exists once a run has produced it
// are expected on the empty scope and pass the check. Used at publish
// time.
func (e *Evaluator) Check(ctx context.Context, expression string) error {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil
	}
	_, err := e.run(ctx, expression, map[string]interface{}{
		"trigger": map[string]interface{}{},
		"context": map[string]interface{}{},
		"vars":    map[string]interface{}{},
	})
	if err != nil {
		if isDataAbsence(err) {
			return nil
		}
		return fmt.Errorf("invalid condition %q: %w", expression, err)
	}
	return nil
}

// isDataAbsence reports whether the error is a thrown TypeError, the
// signature of a property access on not-yet-populated context data.
func isDataAbsence(err error) bool {
	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return false
	}
	return strings.HasPrefix(exc.Value().String(), "TypeError")
}

func (e *Evaluator) run(ctx context.Context, expression string, data map[string]interface{}) (interface{}, error) {
	vm := e.pool.get()
	defer e.pool.put(vm)

	timer := time.AfterFunc(e.timeout, func() {
		vm.Interrupt("condition timeout exceeded")
	})
	defer timer.Stop()

	for k, v := range data {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("failed to bind %q: %w", k, err)
		}
	}

	var result interface{}
	var execErr error

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("condition panic: %v", r)
			}
		}()

		val, err := vm.RunString("(" + expression + ")")
		if err != nil {
			execErr = err
			return
		}
		if val != nil && !goja.IsUndefined(val) && !goja.IsNull(val) {
			result = val.Export()
		}
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt("context cancelled")
		<-done
		return nil, ctx.Err()
	case <-done:
		return result, execErr
	}
}

type vmPool struct {
	pool chan *goja.Runtime
}

func newVMPool(size int) *vmPool {
	p := &vmPool{pool: make(chan *goja.Runtime, size)}
	for i := 0; i < size; i++ {
		p.pool <- p.createVM()
	}
	return p
}

func (p *vmPool) createVM() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	// Recursion is capped outright; statement count and allocations are
	// bounded indirectly by the wall-clock interrupt.
	vm.SetMaxCallStackSize(10)

	// Conditions read data; they never define or invoke code.
	_ = vm.Set("eval", goja.Undefined())
	_ = vm.Set("Function", goja.Undefined())

	return vm
}

func (p *vmPool) get() *goja.Runtime {
	select {
	case vm := <-p.pool:
		return vm
	default:
		return p.createVM()
	}
}

func (p *vmPool) put(vm *goja.Runtime) {
	vm.ClearInterrupt()

	// Drop bindings from the previous evaluation.
	globals := vm.GlobalObject()
	for _, k := range globals.Keys() {
		_ = globals.Delete(k)
	}

	select {
	case p.pool <- vm:
	default:
	}
}
