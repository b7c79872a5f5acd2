package blocks

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/chazu/blockvm/engine"
)

// Operators implements arithmetic, comparison, logic and string reporters.
// Rand is used by operator_random; the global source is used when nil.
type Operators struct {
	Rand *rand.Rand
}

// Name implements engine.Package
func (Operators) Name() string { return "operators" }

// Primitives implements engine.Package
func (o Operators) Primitives() map[string]engine.Primitive {
	return map[string]engine.Primitive{
		"operator_add":       reporter(arith(func(a, b float64) float64 { return a + b })),
		"operator_subtract":  reporter(arith(func(a, b float64) float64 { return a - b })),
		"operator_multiply":  reporter(arith(func(a, b float64) float64 { return a * b })),
		"operator_divide":    reporter(arith(func(a, b float64) float64 { return a / b })),
		"operator_lt":        reporter(compare(func(c float64) bool { return c < 0 })),
		"operator_equals":    reporter(compare(func(c float64) bool { return c == 0 })),
		"operator_gt":        reporter(compare(func(c float64) bool { return c > 0 })),
		"operator_and":       reporter(o.and),
		"operator_or":        reporter(o.or),
		"operator_not":       reporter(o.not),
		"operator_random":    reporter(o.random),
		"operator_join":      reporter(o.join),
		"operator_letter_of": reporter(o.letterOf),
		"operator_length":    reporter(o.length),
		"operator_contains":  reporter(o.contains),
		"operator_mod":       reporter(o.mod),
		"operator_round":     reporter(o.round),
		"operator_mathop":    reporter(o.mathop),
	}
}

func arith(op func(a, b float64) float64) func(engine.Args, *engine.BlockUtility) engine.Value {
	return func(args engine.Args, _ *engine.BlockUtility) engine.Value {
		return engine.Number(op(args.Number("NUM1"), args.Number("NUM2")))
	}
}

func compare(test func(c float64) bool) func(engine.Args, *engine.BlockUtility) engine.Value {
	return func(args engine.Args, _ *engine.BlockUtility) engine.Value {
		return engine.Bool(test(engine.Compare(args.Value("OPERAND1"), args.Value("OPERAND2"))))
	}
}

func (Operators) and(args engine.Args, _ *engine.BlockUtility) engine.Value {
	return engine.Bool(args.Bool("OPERAND1") && args.Bool("OPERAND2"))
}

func (Operators) or(args engine.Args, _ *engine.BlockUtility) engine.Value {
	return engine.Bool(args.Bool("OPERAND1") || args.Bool("OPERAND2"))
}

func (Operators) not(args engine.Args, _ *engine.BlockUtility) engine.Value {
	return engine.Bool(!args.Bool("OPERAND"))
}

func (o Operators) randFloat() float64 {
	if o.Rand != nil {
		return o.Rand.Float64()
	}
	return rand.Float64()
}

func (o Operators) random(args engine.Args, _ *engine.BlockUtility) engine.Value {
	from, to := args.Value("FROM"), args.Value("TO")
	low, high := from.ToNumber(), to.ToNumber()
	if low > high {
		low, high = high, low
	}
	if low == high {
		return engine.Number(low)
	}
	// Two integer bounds give an integer result.
	if from.IsInt() && to.IsInt() {
		return engine.Number(low + math.Floor(o.randFloat()*(high+1-low)))
	}
	return engine.Number(o.randFloat()*(high-low) + low)
}

func (Operators) join(args engine.Args, _ *engine.BlockUtility) engine.Value {
	return engine.String(args.String("STRING1") + args.String("STRING2"))
}

func (Operators) letterOf(args engine.Args, _ *engine.BlockUtility) engine.Value {
	index := int(args.Number("LETTER")) - 1
	str := []rune(args.String("STRING"))
	if index < 0 || index >= len(str) {
		return engine.String("")
	}
	return engine.String(string(str[index]))
}

func (Operators) length(args engine.Args, _ *engine.BlockUtility) engine.Value {
	return engine.Number(float64(len([]rune(args.String("STRING")))))
}

func (Operators) contains(args engine.Args, _ *engine.BlockUtility) engine.Value {
	haystack := strings.ToLower(args.String("STRING1"))
	needle := strings.ToLower(args.String("STRING2"))
	return engine.Bool(strings.Contains(haystack, needle))
}

func (Operators) mod(args engine.Args, _ *engine.BlockUtility) engine.Value {
	n, modulus := args.Number("NUM1"), args.Number("NUM2")
	result := math.Mod(n, modulus)
	// The result takes the sign of the modulus.
	if result/modulus < 0 {
		result += modulus
	}
	return engine.Number(result)
}

func (Operators) round(args engine.Args, _ *engine.BlockUtility) engine.Value {
	return engine.Number(math.Floor(args.Number("NUM") + 0.5))
}

func roundTo10(x float64) float64 {
	return math.Round(x*1e10) / 1e10
}

func (Operators) mathop(args engine.Args, _ *engine.BlockUtility) engine.Value {
	n := args.Number("NUM")
	switch strings.ToLower(args.String("OPERATOR")) {
	case "abs":
		return engine.Number(math.Abs(n))
	case "floor":
		return engine.Number(math.Floor(n))
	case "ceiling":
		return engine.Number(math.Ceil(n))
	case "sqrt":
		return engine.Number(math.Sqrt(n))
	case "sin":
		return engine.Number(roundTo10(math.Sin(math.Pi * n / 180)))
	case "cos":
		return engine.Number(roundTo10(math.Cos(math.Pi * n / 180)))
	case "tan":
		return engine.Number(tan(n))
	case "asin":
		return engine.Number(math.Asin(n) * 180 / math.Pi)
	case "acos":
		return engine.Number(math.Acos(n) * 180 / math.Pi)
	case "atan":
		return engine.Number(math.Atan(n) * 180 / math.Pi)
	case "ln":
		return engine.Number(math.Log(n))
	case "log":
		return engine.Number(math.Log10(n))
	case "e ^":
		return engine.Number(math.Exp(n))
	case "10 ^":
		return engine.Number(math.Pow(10, n))
	}
	return engine.Number(0)
}

// tan is exact at the asymptotes
func tan(deg float64) float64 {
	deg = math.Mod(deg, 360)
	switch deg {
	case -270, 90:
		return math.Inf(1)
	case -90, 270:
		return math.Inf(-1)
	}
	return roundTo10(math.Tan(math.Pi * deg / 180))
}
