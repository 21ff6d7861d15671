// Package cmdparse turns one line of workload text into a command.Cmd.
// It is deliberately thin and mechanical, mirroring the teacher's
// cmd/docdbsh/parser package: a single Parse entry point, no lookahead,
// no validation beyond shape and integer parsing. The engine never sees
// raw text, only the typed command.Cmd values this package produces.
package cmdparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/availkv/availkv/internal/command"
)

// ParseLine parses one workload line, e.g. "begin(T1)", "R(T1,x2)",
// "W(T1,x2,101)", "end(T1)", "fail(3)", "recover(3)", "dump()".
// Blank lines and lines beginning with "//" or "#" are treated as
// comments and return (nil, nil) so callers can skip them without
// advancing the logical clock.
func ParseLine(line string) (command.Cmd, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
		return nil, nil
	}

	open := strings.IndexByte(trimmed, '(')
	close := strings.LastIndexByte(trimmed, ')')
	if open < 0 || close < open {
		return nil, fmt.Errorf("malformed command %q: missing parentheses", trimmed)
	}

	name := strings.TrimSpace(trimmed[:open])
	argsStr := strings.TrimSpace(trimmed[open+1 : close])
	var args []string
	if argsStr != "" {
		for _, a := range strings.Split(argsStr, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}

	switch name {
	case "begin":
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		return command.Begin{Txn: args[0]}, nil
	case "R":
		if err := arity(args, 2); err != nil {
			return nil, err
		}
		v, err := ParseVar(args[1])
		if err != nil {
			return nil, err
		}
		return command.Read{Txn: args[0], Var: v}, nil
	case "W":
		if err := arity(args, 3); err != nil {
			return nil, err
		}
		v, err := ParseVar(args[1])
		if err != nil {
			return nil, err
		}
		val, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, fmt.Errorf("malformed write value %q: %w", args[2], err)
		}
		return command.Write{Txn: args[0], Var: v, Value: val}, nil
	case "end":
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		return command.End{Txn: args[0]}, nil
	case "fail":
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		s, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("malformed site id %q: %w", args[0], err)
		}
		return command.Fail{Site: s}, nil
	case "recover":
		if err := arity(args, 1); err != nil {
			return nil, err
		}
		s, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("malformed site id %q: %w", args[0], err)
		}
		return command.Recover{Site: s}, nil
	case "dump":
		if err := arity(args, 0); err != nil {
			return nil, err
		}
		return command.Dump{}, nil
	default:
		return nil, fmt.Errorf("unrecognized command %q", name)
	}
}

func arity(args []string, want int) error {
	if len(args) != want {
		return fmt.Errorf("expected %d argument(s), got %d", want, len(args))
	}
	return nil
}

// ParseVar parses a variable token like "x3" into its integer index.
func ParseVar(tok string) (int, error) {
	if !strings.HasPrefix(tok, "x") {
		return 0, fmt.Errorf("malformed variable %q: must start with 'x'", tok)
	}
	n, err := strconv.Atoi(tok[1:])
	if err != nil {
		return 0, fmt.Errorf("malformed variable %q: %w", tok, err)
	}
	return n, nil
}
