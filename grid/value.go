package grid

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind uint8

// Value kinds.
const (
	KindAbsent Kind = iota
	KindMarker
	KindBool
	KindNumber
	KindStr
	KindSymbol
	KindRef
	KindURI
	KindDateTime
	KindList
	KindDict
	KindCoord
	KindRaw
)

var kindNames = [...]string{
	KindAbsent:   "absent",
	KindMarker:   "marker",
	KindBool:     "bool",
	KindNumber:   "number",
	KindStr:      "str",
	KindSymbol:   "symbol",
	KindRef:      "ref",
	KindURI:      "uri",
	KindDateTime: "dateTime",
	KindList:     "list",
	KindDict:     "dict",
	KindCoord:    "coord",
	KindRaw:      "raw",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// DateTimeLayout is the UTC millisecond layout used when date-times are written.
const DateTimeLayout = "2006-01-02T15:04:05.000Z"

// Value is a single grid cell. The zero Value is absent.
type Value struct {
	kind Kind
	b    bool
	n    float64
	lat  float64
	s    string // str, symbol name, ref id, uri, raw or number literal
	unit string
	dis  string
	t    time.Time
	list []Value
	dict *Dict
}

// Absent returns the absent value.
func Absent() Value { return Value{} }

// Marker returns the marker value.
func Marker() Value { return Value{kind: KindMarker} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a number with an optional unit.
func Number(n float64, unit string) Value { return Value{kind: KindNumber, n: n, unit: unit} }

// Str returns a string value.
func Str(s string) Value { return Value{kind: KindStr, s: s} }

// Symbol returns a symbol value. A leading ^ is dropped.
func Symbol(name string) Value { return Value{kind: KindSymbol, s: strings.TrimPrefix(name, "^")} }

// Ref returns a reference with an optional display name. A leading @ is dropped.
func Ref(id, dis string) Value {
	return Value{kind: KindRef, s: strings.TrimPrefix(id, "@"), dis: dis}
}

// URI returns a URI value.
func URI(u string) Value { return Value{kind: KindURI, s: u} }

// DateTime returns a date-time value.
func DateTime(t time.Time) Value { return Value{kind: KindDateTime, t: t} }

// List returns a list value.
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// DictOf wraps a dictionary. A nil dict becomes an empty one.
func DictOf(d *Dict) Value {
	if d == nil {
		d = &Dict{}
	}
	return Value{kind: KindDict, dict: d}
}

// Coord returns a geographic coordinate.
func Coord(lat, lng float64) Value { return Value{kind: KindCoord, lat: lat, n: lng} }

// Raw returns an unparsed literal that is written back verbatim.
func Raw(lit string) Value { return Value{kind: KindRaw, s: lit} }

// numberLiteral builds a number that remembers the literal it was read from.
func numberLiteral(n float64, unit, lit string) Value {
	return Value{kind: KindNumber, n: n, unit: unit, s: lit}
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v holds no value.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Truth returns the boolean payload.
func (v Value) Truth() bool { return v.b }

// Float returns the number payload, or the longitude of a coordinate.
func (v Value) Float() float64 { return v.n }

// Unit returns the unit of a number.
func (v Value) Unit() string { return v.unit }

// Text returns the string payload: the string itself, the symbol name,
// the ref id, the uri, or the raw literal.
func (v Value) Text() string { return v.s }

// Dis returns the display name attached to a ref.
func (v Value) Dis() string { return v.dis }

// Time returns the date-time payload.
func (v Value) Time() time.Time { return v.t }

// Items returns the list payload.
func (v Value) Items() []Value { return v.list }

// Dict returns the dictionary payload.
func (v Value) Dict() *Dict { return v.dict }

// LatLng returns the coordinate payload.
func (v Value) LatLng() (lat, lng float64) { return v.lat, v.n }

// Display renders the value the way it is shown to users. Absent is empty.
func (v Value) Display() string {
	switch v.kind {
	case KindAbsent:
		return ""
	case KindMarker:
		return "M"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		if v.s != "" {
			return v.s
		}
		return FormatNumber(v.n) + v.unit
	case KindStr, KindURI, KindRaw:
		return v.s
	case KindSymbol:
		return "^" + v.s
	case KindRef:
		if v.dis != "" {
			return "@" + v.s + " " + strconv.Quote(v.dis)
		}
		return "@" + v.s
	case KindDateTime:
		return v.t.UTC().Format(DateTimeLayout)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.Display()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindDict:
		return v.dict.Display()
	case KindCoord:
		return "C(" + FormatNumber(v.lat) + "," + FormatNumber(v.n) + ")"
	}
	return ""
}

// FormatNumber writes a float the short way, using INF, -INF and NaN for the
// special values.
func FormatNumber(n float64) string {
	switch {
	case math.IsInf(n, 1):
		return "INF"
	case math.IsInf(n, -1):
		return "-INF"
	case math.IsNaN(n):
		return "NaN"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// ParseNumber reads a number literal with an optional trailing unit,
// such as "72.5", "-3e2" or "60000ms".
func ParseNumber(lit string) (Value, bool) {
	switch lit {
	case "INF":
		return numberLiteral(math.Inf(1), "", lit), true
	case "-INF":
		return numberLiteral(math.Inf(-1), "", lit), true
	case "NaN":
		return numberLiteral(math.NaN(), "", lit), true
	}

	i := 0
	if i < len(lit) && lit[i] == '-' {
		i++
	}
	start := i
	for i < len(lit) && (isDigit(lit[i]) || lit[i] == '_') {
		i++
	}
	if i == start || !isDigit(lit[start]) {
		return Value{}, false
	}
	if i+1 < len(lit) && lit[i] == '.' && isDigit(lit[i+1]) {
		i++
		for i < len(lit) && (isDigit(lit[i]) || lit[i] == '_') {
			i++
		}
	}
	if i+1 < len(lit) && (lit[i] == 'e' || lit[i] == 'E') {
		j := i + 1
		if j < len(lit) && (lit[j] == '+' || lit[j] == '-') {
			j++
		}
		if j < len(lit) && isDigit(lit[j]) {
			for j < len(lit) && isDigit(lit[j]) {
				j++
			}
			i = j
		}
	}

	unit := lit[i:]
	if unit != "" && !isUnitStart(unit[0]) {
		return Value{}, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(lit[:i], "_", ""), 64)
	if err != nil {
		return Value{}, false
	}
	return numberLiteral(n, unit, lit), true
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isUnitStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		c == '%' || c == '_' || c == '/' || c == '$' || c >= 0x80
}
