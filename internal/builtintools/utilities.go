package builtintools

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"goa.design/tools-provider/internal/userctx"
)

// CurrentTime returns the current time in an optionally requested format
// (defaulting to RFC3339) and timezone (defaulting to UTC).
func CurrentTime(_ context.Context, args map[string]any, _ userctx.Context) (Result, error) {
	loc := time.UTC
	if tz, ok := args["timezone"].(string); ok && tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			return Result{Success: false, Error: "unknown timezone: " + tz}, nil
		}
	}
	now := time.Now().In(loc)
	format := time.RFC3339
	if f, ok := args["format"].(string); ok && f != "" {
		format = f
	}
	return Result{Success: true, Output: now.Format(format)}, nil
}

// Calculate evaluates a restricted arithmetic expression against a fixed
// symbol table (+ - * / % ^ parentheses and unary minus) — no free
// evaluation of arbitrary code (§4.11).
func Calculate(_ context.Context, args map[string]any, _ userctx.Context) (Result, error) {
	expr, _ := args["expression"].(string)
	if expr == "" {
		return Result{Success: false, Error: "expression is required"}, nil
	}
	value, err := evalArithmetic(expr)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true, Output: value}, nil
}

// GenerateUUID returns a new random (v4) UUID.
func GenerateUUID(_ context.Context, _ map[string]any, _ userctx.Context) (Result, error) {
	return Result{Success: true, Output: uuid.NewString()}, nil
}

// EncodeText performs base64/url/html/hex encode or decode of a text input.
func EncodeText(_ context.Context, args map[string]any, _ userctx.Context) (Result, error) {
	text, _ := args["text"].(string)
	encoding, _ := args["encoding"].(string)
	direction, _ := args["direction"].(string)
	if direction == "" {
		direction = "encode"
	}

	var out string
	var err error
	switch strings.ToLower(encoding) {
	case "base64":
		if direction == "decode" {
			var b []byte
			b, err = base64.StdEncoding.DecodeString(text)
			out = string(b)
		} else {
			out = base64.StdEncoding.EncodeToString([]byte(text))
		}
	case "url":
		if direction == "decode" {
			out, err = url.QueryUnescape(text)
		} else {
			out = url.QueryEscape(text)
		}
	case "html":
		if direction == "decode" {
			out = html.UnescapeString(text)
		} else {
			out = html.EscapeString(text)
		}
	case "hex":
		if direction == "decode" {
			var b []byte
			b, err = hex.DecodeString(text)
			out = string(b)
		} else {
			out = hex.EncodeToString([]byte(text))
		}
	default:
		return Result{Success: false, Error: "unsupported encoding: " + encoding}, nil
	}
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true, Output: out}, nil
}

// AskHuman surfaces a human-in-the-loop prompt. The built-in runner cannot
// itself block on a WebSocket round trip, so it reports a pending outcome
// the Conversation Orchestrator recognizes and resolves out of band.
func AskHuman(_ context.Context, args map[string]any, _ userctx.Context) (Result, error) {
	question, _ := args["question"].(string)
	if question == "" {
		return Result{Success: false, Error: "question is required"}, nil
	}
	return Result{Success: true, Output: map[string]any{"status": "pending_human_response", "question": question}}, nil
}

// evalArithmetic implements a small recursive-descent parser over
// + - * / % ^ and parentheses with a fixed numeric symbol table.
func evalArithmetic(expr string) (float64, error) {
	p := &arithParser{input: strings.TrimSpace(expr)}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected trailing input at position %d", p.pos)
	}
	return v, nil
}

type arithParser struct {
	input string
	pos   int
}

func (p *arithParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *arithParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *arithParser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v += rhs
		case '-':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v -= rhs
		default:
			return v, nil
		}
	}
}

func (p *arithParser) parseTerm() (float64, error) {
	v, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			rhs, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			v *= rhs
		case '/':
			p.pos++
			rhs, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			v /= rhs
		case '%':
			p.pos++
			rhs, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			v = float64(int64(v) % int64(rhs))
		default:
			return v, nil
		}
	}
}

func (p *arithParser) parsePower() (float64, error) {
	v, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		rhs, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		result := 1.0
		for i := 0; i < int(rhs); i++ {
			result *= v
		}
		return result, nil
	}
	return v, nil
}

func (p *arithParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parseAtom()
}

func (p *arithParser) parseAtom() (float64, error) {
	if p.peek() == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("expected closing parenthesis at position %d", p.pos)
		}
		p.pos++
		return v, nil
	}
	start := p.pos
	p.skipSpace()
	start = p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", p.pos)
	}
	return strconv.ParseFloat(p.input[start:p.pos], 64)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
