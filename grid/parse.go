package grid

import (
	"strings"
	"time"
)

// Type is the user-facing classification of a cell.
type Type string

// Cell classifications.
const (
	TypeMarker     Type = "Marker"
	TypeBool       Type = "Bool"
	TypeString     Type = "String"
	TypeArray      Type = "Array"
	TypeSymbol     Type = "Symbol"
	TypeReference  Type = "Reference"
	TypeURI        Type = "URI"
	TypeNumber     Type = "Number"
	TypeDateTime   Type = "DateTime"
	TypeDictionary Type = "Dictionary"
	TypeCoord      Type = "Coord"
)

// TypeOf classifies a value. Text values are sniffed by prefix: [ is an
// array, ^ a symbol, @ a reference, http a URI.
func TypeOf(v Value) Type {
	switch v.kind {
	case KindAbsent, KindMarker:
		return TypeMarker
	case KindBool:
		return TypeBool
	case KindNumber:
		return TypeNumber
	case KindSymbol:
		return TypeSymbol
	case KindRef:
		return TypeReference
	case KindURI:
		return TypeURI
	case KindDateTime:
		return TypeDateTime
	case KindList:
		return TypeArray
	case KindDict:
		return TypeDictionary
	case KindCoord:
		return TypeCoord
	}

	s := v.s
	switch {
	case strings.HasPrefix(s, "["):
		return TypeArray
	case strings.HasPrefix(s, "^"):
		return TypeSymbol
	case strings.HasPrefix(s, "@"):
		return TypeReference
	case strings.HasPrefix(s, "http"):
		return TypeURI
	case v.kind == KindRaw && strings.HasPrefix(s, "{"):
		return TypeDictionary
	}
	return TypeString
}

// Classify turns a command-line literal into a typed value. Empty text is
// absent, numbers keep their literal, @ and ^ prefixes make refs and
// symbols, ISO date-times and http URIs are recognised, other text that
// starts with a digit passes through raw, and anything else is a string.
func Classify(lit string) Value {
	switch {
	case lit == "":
		return Value{}
	case lit[0] == '@':
		return ParseRef(lit)
	case lit[0] == '^':
		return Symbol(lit)
	}
	if v, ok := ParseNumber(lit); ok {
		return v
	}
	if t, ok := ParseDateTime(lit); ok {
		return DateTime(t)
	}
	switch {
	case isDigit(lit[0]):
		return Raw(lit)
	case strings.HasPrefix(lit, "http"):
		return URI(lit)
	}
	return Str(lit)
}

// ParseDateTime accepts an ISO 8601 date-time whose character at offset 10
// is T. Anything after the first space (a timezone name) is ignored.
func ParseDateTime(lit string) (time.Time, bool) {
	if len(lit) <= 10 || lit[10] != 'T' {
		return time.Time{}, false
	}
	if i := strings.IndexByte(lit, ' '); i >= 0 {
		lit = lit[:i]
	}
	t, err := time.Parse(time.RFC3339Nano, lit)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseRef reads @id with an optional quoted display name.
func ParseRef(lit string) Value {
	id, rest, _ := strings.Cut(lit, " ")
	rest = strings.TrimSpace(rest)
	if len(rest) >= 2 && rest[0] == '"' && rest[len(rest)-1] == '"' {
		rest = rest[1 : len(rest)-1]
	}
	return Ref(id, rest)
}

// Parse builds a one-row grid from "name=value,name2=value2". Only the first
// = separates a name from its value, so values may contain =. A name with
// no value yields an absent cell.
func Parse(pairs string) *Grid {
	g := New()
	if pairs == "" {
		return g
	}
	for _, pair := range strings.Split(pairs, ",") {
		name, value, _ := strings.Cut(pair, "=")
		if name == "" {
			continue
		}
		g.Add(name, Classify(value))
	}
	return g
}
