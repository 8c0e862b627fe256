package builtintools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"goa.design/tools-provider/internal/userctx"
)

const sandboxTimeout = 5 * time.Second

// Sandbox implements the Code execution category of §4.11. Unlike the
// original's embedded language runtime, this restricted evaluator only
// supports the same arithmetic grammar as Calculate plus a small set of
// whitelisted single-line statements (`result = <expr>`), run with a wall
// clock timeout. It is a defence-in-depth mechanism against routine misuse,
// not a security boundary against a hostile kernel (§4.11).
type Sandbox struct{}

// NewSandbox constructs a Sandbox.
func NewSandbox() *Sandbox { return &Sandbox{} }

// Run evaluates args["code"] within sandboxTimeout and returns the
// computed "result" variable plus any accumulated stdout-equivalent output.
func (s *Sandbox) Run(ctx context.Context, args map[string]any, _ userctx.Context) (Result, error) {
	code, _ := args["code"].(string)
	if code == "" {
		return Result{Success: false, Error: "code is required"}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, sandboxTimeout)
	defer cancel()

	type outcome struct {
		value float64
		lines []string
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		lines, value, err := s.execute(code)
		done <- outcome{value: value, lines: lines, err: err}
	}()

	select {
	case <-runCtx.Done():
		return Result{Success: false, Error: "code execution timed out"}, nil
	case o := <-done:
		if o.err != nil {
			return Result{Success: false, Error: o.err.Error()}, nil
		}
		return Result{Success: true, Output: map[string]any{"result": o.value, "stdout": strings.Join(o.lines, "\n")}}, nil
	}
}

// execute runs a restricted statement list: each line is either
// `print <expr>` (appends to stdout) or `result = <expr>` (sets the
// returned result), both evaluated with the arithmetic grammar of
// Calculate. Any other statement shape is rejected.
func (s *Sandbox) execute(code string) ([]string, float64, error) {
	var stdout []string
	var result float64
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "print "):
			v, err := evalArithmetic(strings.TrimPrefix(line, "print "))
			if err != nil {
				return nil, 0, err
			}
			stdout = append(stdout, fmt.Sprintf("%v", v))
		case strings.HasPrefix(line, "result ="):
			v, err := evalArithmetic(strings.TrimPrefix(line, "result ="))
			if err != nil {
				return nil, 0, err
			}
			result = v
		default:
			return nil, 0, fmt.Errorf("unsupported statement: %q", line)
		}
	}
	return stdout, result, nil
}
