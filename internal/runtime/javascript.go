package runtime

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dop251/goja"
)

const defaultMaxLogBytes = 64 * 1024

// JavaScript executes ECMAScript 5.1+ source on an embedded interpreter.
// Every context gets its own virtual machine, so guests share no state.
type JavaScript struct{}

func NewJavaScript() *JavaScript { return &JavaScript{} }

func (j *JavaScript) Name() string { return "javascript" }

func (j *JavaScript) Validate(code string) error {
	if !utf8.ValidString(code) {
		return errors.New("source is not valid UTF-8")
	}
	return nil
}

func (j *JavaScript) NewContext(opts Options) (Context, error) {
	if opts.MaxLogBytes <= 0 {
		opts.MaxLogBytes = defaultMaxLogBytes
	}

	ctx := &jsContext{
		vm:   goja.New(),
		logs: &logBuffer{max: opts.MaxLogBytes},
	}
	if err := ctx.applyPolicy(opts); err != nil {
		return nil, err
	}
	return ctx, nil
}

type jsContext struct {
	mu     sync.Mutex // guards closed and vm against a late Interrupt
	vm     *goja.Runtime
	logs   *logBuffer
	prog   *goja.Program
	closed bool
}

// applyPolicy installs the capability-limited console and strips host
// facilities the tier does not grant. Removal happens before any guest code
// runs, so guests cannot recover a stripped global.
func (c *jsContext) applyPolicy(opts Options) error {
	if opts.Allows(FeatureConsole) {
		console := c.vm.NewObject()
		logFn := func(call goja.FunctionCall) goja.Value {
			c.logs.writeLine(call.Arguments)
			return goja.Undefined()
		}
		for _, name := range []string{"log", "error", "warn", "info"} {
			if err := console.Set(name, logFn); err != nil {
				return fmt.Errorf("installing console.%s: %w", name, err)
			}
		}
		if err := c.vm.Set("console", console); err != nil {
			return fmt.Errorf("installing console: %w", err)
		}
	}

	if !opts.Allows(FeatureDate) {
		if err := c.vm.Set("Date", goja.Undefined()); err != nil {
			return fmt.Errorf("removing Date: %w", err)
		}
	}
	if !opts.Allows(FeatureRandom) {
		_, err := c.vm.RunString(`Math.random = function() { throw new Error("Math.random is not available at this tier"); };`)
		if err != nil {
			return fmt.Errorf("removing Math.random: %w", err)
		}
	}
	return nil
}

func (c *jsContext) Compile(code string) error {
	prog, err := goja.Compile("code.js", code, false)
	if err != nil {
		return fmt.Errorf("compile error: %w", err)
	}
	c.prog = prog
	return nil
}

func (c *jsContext) Run() (string, error) {
	if c.prog == nil {
		return "", errors.New("run before compile")
	}

	value, err := c.vm.RunProgram(c.prog)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return "", cause
			}
			return "", fmt.Errorf("interrupted: %v", interrupted.Value())
		}
		var exception *goja.Exception
		if errors.As(err, &exception) {
			return "", fmt.Errorf("uncaught exception: %s", exception.Value().String())
		}
		return "", err
	}

	return renderValue(value), nil
}

// Interrupt stops the running program. A no-op after Close: timeout timers
// fire from their own goroutine and may land after the run is torn down.
func (c *jsContext) Interrupt(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.vm.Interrupt(cause)
}

func (c *jsContext) Logs() string {
	return c.logs.String()
}

func (c *jsContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.prog = nil
	c.vm = nil
	return nil
}

// renderValue turns the program's completion value into output. Undefined
// and null render as empty so scripts that only log produce only their logs.
func renderValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// logBuffer accumulates console output up to a byte cap. Drops silently once
// full; a truncation marker is appended exactly once.
type logBuffer struct {
	mu        sync.Mutex
	buf       strings.Builder
	max       int
	truncated bool
}

func (b *logBuffer) writeLine(args []goja.Value) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	line := strings.Join(parts, " ") + "\n"

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return
	}
	if b.buf.Len()+len(line) > b.max {
		remaining := b.max - b.buf.Len()
		if remaining > 0 {
			b.buf.WriteString(line[:remaining])
		}
		b.buf.WriteString("\n[output truncated]")
		b.truncated = true
		return
	}
	b.buf.WriteString(line)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
