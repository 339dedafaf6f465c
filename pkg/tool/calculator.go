package tool

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/expr-lang/expr"
)

type calculatorArgs struct {
	Expression string `json:"expression" jsonschema:"required,description=Math expression to evaluate (e.g. 2 + 2 or sqrt(16))"`
}

// CalculatorResult is returned by the calculator tool
type CalculatorResult struct {
	Expression string `json:"expression"`
	Result     any    `json:"result"`
	Success    bool   `json:"success"`
}

var calculatorEnv = map[string]any{
	"pi": math.Pi,
	"e":  math.E,
}

var unaryMath = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"log":   math.Log,
	"log10": math.Log10,
	"exp":   math.Exp,
}

func calculatorOptions() []expr.Option {
	opts := []expr.Option{
		expr.Env(calculatorEnv),
		expr.MaxNodes(500),
	}
	for name, fn := range unaryMath {
		opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(params))
			}
			x, err := toFloat(params[0])
			if err != nil {
				return nil, err
			}
			return fn(x), nil
		}))
	}
	opts = append(opts, expr.Function("pow", func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("pow expects 2 arguments, got %d", len(params))
		}
		x, err := toFloat(params[0])
		if err != nil {
			return nil, err
		}
		y, err := toFloat(params[1])
		if err != nil {
			return nil, err
		}
		return math.Pow(x, y), nil
	}))
	return opts
}

// Evaluate computes an arithmetic expression. It supports + - * / % ** and
// the functions abs, round, min, max, sum, pow, sqrt, sin, cos, tan, log,
// log10, exp, floor and ceil, plus the constants pi and e.
func Evaluate(expression string) (any, error) {
	if expression == "" {
		return nil, errors.New("expression is empty")
	}
	program, err := expr.Compile(expression, calculatorOptions()...)
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	out, err := expr.Run(program, calculatorEnv)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	switch v := out.(type) {
	case int, int64, float64:
		if f, _ := toFloat(v); math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("undefined result for %q", expression)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("expression did not produce a number: %T", out)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

func newCalculator() Tool {
	return MustFunctionTool("calculator", "Evaluate mathematical expressions safely",
		func(_ context.Context, args calculatorArgs) (any, error) {
			result, err := Evaluate(args.Expression)
			if err != nil {
				return nil, err
			}
			return CalculatorResult{Expression: args.Expression, Result: result, Success: true}, nil
		})
}
