package config

import (
	"context"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]interface{}
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name:   "simple arithmetic",
			script: `result = 2 + 2`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["result"] != int64(4) {
					t.Errorf("expected result=4, got %v", sr.Output["result"])
				}
			},
		},
		{
			name:   "use input variables",
			script: `doubled = count * 2`,
			input:  map[string]interface{}{"count": 5},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["doubled"] != int64(10) {
					t.Errorf("expected doubled=10, got %v", sr.Output["doubled"])
				}
			},
		},
		{
			name: "functions are not exported",
			script: `
def make_list(n):
    result = []
    for i in range(n):
        result.append(i * 2)
    return result

output = make_list(5)
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if _, ok := sr.Output["make_list"]; ok {
					t.Error("functions should not appear in the output")
				}
				output, ok := sr.Output["output"].([]interface{})
				if !ok || len(output) != 5 || output[4] != int64(8) {
					t.Errorf("unexpected output: %v", sr.Output["output"])
				}
			},
		},
		{
			name: "private globals are hidden",
			script: `
_secret = "x"
visible = _secret + "y"
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if _, ok := sr.Output["_secret"]; ok {
					t.Error("underscore globals should be hidden")
				}
				if sr.Output["visible"] != "xy" {
					t.Errorf("expected visible=xy, got %v", sr.Output["visible"])
				}
			},
		},
		{
			name:   "struct builtin",
			script: `point = struct(x = 1, y = "two")`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				point, ok := sr.Output["point"].(map[string]interface{})
				if !ok || point["x"] != int64(1) || point["y"] != "two" {
					t.Errorf("unexpected struct conversion: %v", sr.Output["point"])
				}
			},
		},
		{
			name:   "tuples become lists",
			script: `pair = ("a", 1)`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				pair, ok := sr.Output["pair"].([]interface{})
				if !ok || len(pair) != 2 {
					t.Errorf("unexpected tuple conversion: %v", sr.Output["pair"])
				}
			},
		},
		{
			name:    "syntax error",
			script:  `invalid syntax here`,
			wantErr: true,
		},
		{
			name:    "runtime error",
			script:  `result = undefined_variable`,
			wantErr: true,
		},
		{
			name:    "non-string dict keys",
			script:  `result = {1: "a"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, "test.star", tt.script, tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				if result.Error == "" {
					t.Error("expected the error to be recorded on the result")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(100 * time.Millisecond)

	script := `
def slow_function():
    result = 0
    for i in range(100000000):
        result = result + i
    return result

output = slow_function()
`

	start := time.Now()
	result, err := evaluator.Evaluate(context.Background(), "slow.star", script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if result.Error == "" {
		t.Error("expected timeout error in result")
	}
	if time.Since(start) > 10*time.Second {
		t.Error("evaluation should have been cancelled promptly")
	}
}

func TestStarlarkEvaluator_ContextCancel(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	script := `
def spin():
    n = 0
    for i in range(100000000):
        n += 1
    return n

output = spin()
`
	if _, err := evaluator.Evaluate(ctx, "spin.star", script, nil); err == nil {
		t.Error("expected cancelled context to stop the script")
	}
}

func TestStarlarkEvaluator_TypeConversion(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	input := map[string]interface{}{
		"enabled": true,
		"count":   42,
		"price":   19.5,
		"name":    "test",
		"items":   []interface{}{"a", "b", "c"},
		"names":   []string{"x", "y"},
		"config":  map[string]interface{}{"host": "localhost", "port": 8080},
		"missing": nil,
	}
	script := `
b = enabled and True
i = count + 8
f = price * 2
s = name + "-suffix"
n = len(items) + len(names)
c = config["host"] + ":" + str(config["port"])
m = missing == None
`
	result, err := evaluator.Evaluate(context.Background(), "types.star", script, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]interface{}{
		"b": true,
		"i": int64(50),
		"f": 39.0,
		"s": "test-suffix",
		"n": int64(5),
		"c": "localhost:8080",
		"m": true,
	}
	for k, v := range want {
		if result.Output[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, result.Output[k])
		}
	}
}

func TestStarlarkEvaluator_PrintIsSuppressed(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	result, err := evaluator.Evaluate(context.Background(), "print.star", `
print("this should not appear")
result = "done"
`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output["result"] != "done" {
		t.Errorf("expected result='done', got %v", result.Output["result"])
	}
}

func TestStarlarkEvaluator_UnsupportedInput(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	_, err := evaluator.Evaluate(context.Background(), "bad.star", `x = 1`, map[string]interface{}{
		"ch": make(chan int),
	})
	if err == nil {
		t.Error("expected unsupported input type to fail")
	}
}
