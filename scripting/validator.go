// Package scripting runs JavaScript match validators with goja.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// Match is the candidate a validator sees as the global `match`.
type Match struct {
	Text  string
	Page  int
	Start int
	End   int
}

// Validator is a compiled predicate. It is safe for concurrent use; each
// call runs on a pooled runtime.
type Validator struct {
	prog *goja.Program
	pool sync.Pool
}

// CompileValidator compiles src, an expression or statement list whose
// completion value decides whether a match is kept.
func CompileValidator(src string) (*Validator, error) {
	prog, err := goja.Compile("validate", src, false)
	if err != nil {
		return nil, fmt.Errorf("compile validator: %w", err)
	}
	v := &Validator{prog: prog}
	v.pool.New = func() any { return newRuntime() }
	return v, nil
}

func newRuntime() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	_ = vm.Set("luhn", Luhn)
	return vm
}

// Accept runs the validator for m. The run is interrupted when ctx is done.
func (v *Validator) Accept(ctx context.Context, m Match) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	vm := v.pool.Get().(*goja.Runtime)

	done, exited := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := v.run(vm, m)
	close(done)
	<-exited
	vm.ClearInterrupt()
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			// the runtime may hold partial state; let it go
			if cause, ok := interrupted.Value().(error); ok {
				return false, cause
			}
			return false, context.Canceled
		}
		v.pool.Put(vm)
		return false, fmt.Errorf("validator: %w", err)
	}
	v.pool.Put(vm)
	return val.ToBoolean(), nil
}

func (v *Validator) run(vm *goja.Runtime, m Match) (goja.Value, error) {
	if err := vm.Set("match", m); err != nil {
		return nil, err
	}
	return vm.RunProgram(v.prog)
}

// Luhn reports whether the digits of s pass the Luhn checksum. Spaces and
// dashes are ignored; any other non-digit fails.
func Luhn(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		switch {
		case c == ' ' || c == '-':
			continue
		case c < '0' || c > '9':
			return false
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n > 1 && sum%10 == 0
}
