// Package engine is the execution core for block scripts: it turns a
// workspace document into a block graph, runs scripts as cooperative
// threads on a fixed tick, and dispatches hats and broadcasts.
package engine

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// ValueType represents the type of a script value
type ValueType int

const (
	TypeUndefined ValueType = iota
	TypeNumber
	TypeString
	TypeBool
	TypeList
)

func (t ValueType) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeList:
		return "list"
	default:
		return "undefined"
	}
}

// Value is the Go representation of a script value. The zero Value is
// undefined, which is what command blocks report.
type Value struct {
	Type ValueType
	Num  float64
	Str  string
	Bool bool
	List *List
}

func (Value) isResult() {}

// Undefined returns the undefined value
func Undefined() Value {
	return Value{}
}

// Number creates a number value
func Number(n float64) Value {
	return Value{Type: TypeNumber, Num: n}
}

// String creates a string value
func String(s string) Value {
	return Value{Type: TypeString, Str: s}
}

// Bool creates a boolean value
func Bool(b bool) Value {
	return Value{Type: TypeBool, Bool: b}
}

// ListValue wraps a list
func ListValue(l *List) Value {
	return Value{Type: TypeList, List: l}
}

// IsUndefined returns true if nothing was reported
func (v Value) IsUndefined() bool {
	return v.Type == TypeUndefined
}

// jsNumber converts like JavaScript's Number(); ok is false for NaN.
func (v Value) jsNumber() (float64, bool) {
	switch v.Type {
	case TypeNumber:
		return v.Num, !math.IsNaN(v.Num)
	case TypeBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case TypeString:
		return parseNumber(v.Str)
	default:
		return math.NaN(), false
	}
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1), true
	case "-Infinity":
		return math.Inf(-1), true
	}
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return math.NaN(), false
		}
		return float64(n), true
	}
	// ParseFloat accepts spellings JavaScript rejects.
	lower := strings.ToLower(s)
	if strings.Contains(lower, "inf") || strings.Contains(lower, "nan") || strings.Contains(lower, "_") {
		return math.NaN(), false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN(), false
	}
	return f, true
}

// ToNumber casts to a number; anything that is not a number becomes 0
func (v Value) ToNumber() float64 {
	n, ok := v.jsNumber()
	if !ok {
		return 0
	}
	return n
}

// ToBoolean casts to a boolean. The strings "", "0" and "false" (in any
// case) are false.
func (v Value) ToBoolean() bool {
	switch v.Type {
	case TypeBool:
		return v.Bool
	case TypeNumber:
		return v.Num != 0 && !math.IsNaN(v.Num)
	case TypeString:
		if v.Str == "" || v.Str == "0" || strings.ToLower(v.Str) == "false" {
			return false
		}
		return true
	case TypeList:
		return true
	default:
		return false
	}
}

// ToString casts to a string
func (v Value) ToString() string {
	switch v.Type {
	case TypeNumber:
		return formatNumber(v.Num)
	case TypeString:
		return v.Str
	case TypeBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case TypeList:
		return v.List.String()
	default:
		return ""
	}
}

func formatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "Infinity"
	case math.IsInf(n, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func isWhiteSpace(v Value) bool {
	return v.Type == TypeString && strings.TrimSpace(v.Str) == ""
}

// Compare orders two values the way the block language does: numerically
// when both sides are numbers, otherwise by case-insensitive string order.
// The result is negative, zero or positive.
func Compare(a, b Value) float64 {
	n1, ok1 := a.jsNumber()
	n2, ok2 := b.jsNumber()
	if n1 == 0 && isWhiteSpace(a) {
		ok1 = false
	} else if n2 == 0 && isWhiteSpace(b) {
		ok2 = false
	}
	if !ok1 || !ok2 {
		s1 := strings.ToLower(a.ToString())
		s2 := strings.ToLower(b.ToString())
		switch {
		case s1 < s2:
			return -1
		case s1 > s2:
			return 1
		}
		return 0
	}
	if (math.IsInf(n1, 1) && math.IsInf(n2, 1)) || (math.IsInf(n1, -1) && math.IsInf(n2, -1)) {
		return 0
	}
	return n1 - n2
}

// IsInt reports whether the value holds a whole number
func (v Value) IsInt() bool {
	switch v.Type {
	case TypeNumber:
		return !math.IsNaN(v.Num) && v.Num == math.Trunc(v.Num)
	case TypeBool:
		return true
	case TypeString:
		return !strings.Contains(v.Str, ".")
	}
	return false
}

// List is a mutable list variable value
type List struct {
	Items []Value
}

// NewList creates a new empty list
func NewList() *List {
	return &List{Items: make([]Value, 0)}
}

// Push adds an item to the end of the list
func (l *List) Push(v Value) {
	l.Items = append(l.Items, v)
}

// At returns the 1-based item, or undefined when out of range
func (l *List) At(idx int) Value {
	if l == nil || idx < 1 || idx > len(l.Items) {
		return Undefined()
	}
	return l.Items[idx-1]
}

// Delete removes the 1-based item
func (l *List) Delete(idx int) {
	if l == nil || idx < 1 || idx > len(l.Items) {
		return
	}
	l.Items = append(l.Items[:idx-1], l.Items[idx:]...)
}

// Insert puts v at the 1-based position idx, shifting later items
func (l *List) Insert(idx int, v Value) {
	if l == nil || idx < 1 || idx > len(l.Items)+1 {
		return
	}
	l.Items = slices.Insert(l.Items, idx-1, v)
}

// Set replaces the 1-based item
func (l *List) Set(idx int, v Value) {
	if l == nil || idx < 1 || idx > len(l.Items) {
		return
	}
	l.Items[idx-1] = v
}

// Clear removes every item
func (l *List) Clear() {
	if l != nil {
		l.Items = make([]Value, 0)
	}
}

// IndexOf returns the 1-based position of the first item equal to v, or 0
func (l *List) IndexOf(v Value) int {
	if l == nil {
		return 0
	}
	for i, item := range l.Items {
		if Compare(item, v) == 0 {
			return i + 1
		}
	}
	return 0
}

// Len returns the length of the list
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Items)
}

// Contains reports whether any item compares equal to v
func (l *List) Contains(v Value) bool {
	if l == nil {
		return false
	}
	for _, item := range l.Items {
		if Compare(item, v) == 0 {
			return true
		}
	}
	return false
}

// String joins the items with spaces, or with nothing when every item is
// a single character.
func (l *List) String() string {
	if l == nil || len(l.Items) == 0 {
		return ""
	}
	parts := make([]string, len(l.Items))
	allSingle := true
	for i, item := range l.Items {
		parts[i] = item.ToString()
		if len([]rune(parts[i])) != 1 {
			allSingle = false
		}
	}
	if allSingle {
		return strings.Join(parts, "")
	}
	return strings.Join(parts, " ")
}
