package codec

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/c360studio/haystack/grid"
)

// JSON is the application/json codec using _kind tagged values.
type JSON struct{}

// ContentType implements Codec.
func (JSON) ContentType() string { return ContentJSON }

type jsonCol struct {
	Name string `json:"name"`
}

type jsonGrid struct {
	Kind string           `json:"_kind"`
	Meta map[string]any   `json:"meta"`
	Cols []jsonCol        `json:"cols"`
	Rows []map[string]any `json:"rows"`
}

type jsonInput struct {
	Kind string                     `json:"_kind"`
	Meta map[string]json.RawMessage `json:"meta"`
	Cols []jsonCol                  `json:"cols"`
	Rows []map[string]any           `json:"rows"`
}

// Encode renders g as a JSON grid. A grid without columns gets a single
// "empty" column.
func (JSON) Encode(g *grid.Grid, version string) (string, error) {
	doc := jsonGrid{
		Kind: "grid",
		Meta: map[string]any{"ver": version},
		Cols: []jsonCol{},
		Rows: []map[string]any{},
	}
	for _, name := range g.MetaNames() {
		if name == "ver" {
			continue
		}
		if v, ok := toJSON(g.Meta(name)); ok {
			doc.Meta[name] = v
		} else {
			doc.Meta[name] = markerJSON()
		}
	}

	if g.Cols() == 0 {
		doc.Cols = append(doc.Cols, jsonCol{Name: "empty"})
	}
	names := g.Names()
	for _, name := range names {
		doc.Cols = append(doc.Cols, jsonCol{Name: name})
	}
	for y := 0; y < g.Rows(); y++ {
		row := make(map[string]any, len(names))
		for x, name := range names {
			if v, ok := toJSON(g.Raw(x, y)); ok {
				row[name] = v
			}
		}
		doc.Rows = append(doc.Rows, row)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal grid: %w", err)
	}
	return string(data), nil
}

func markerJSON() map[string]any {
	return map[string]any{"_kind": "marker"}
}

// toJSON converts a value. Absent values report false and are omitted.
func toJSON(v grid.Value) (any, bool) {
	switch v.Kind() {
	case grid.KindAbsent:
		return nil, false
	case grid.KindMarker:
		return markerJSON(), true
	case grid.KindBool:
		return v.Truth(), true
	case grid.KindNumber:
		out := map[string]any{"_kind": "number"}
		switch n := v.Float(); {
		case math.IsInf(n, 0), math.IsNaN(n):
			out["val"] = grid.FormatNumber(n)
		default:
			out["val"] = n
		}
		if v.Unit() != "" {
			out["unit"] = v.Unit()
		}
		return out, true
	case grid.KindStr, grid.KindRaw:
		return v.Text(), true
	case grid.KindSymbol:
		return map[string]any{"_kind": "symbol", "val": v.Text()}, true
	case grid.KindRef:
		out := map[string]any{"_kind": "ref", "val": v.Text()}
		if v.Dis() != "" {
			out["dis"] = v.Dis()
		}
		return out, true
	case grid.KindURI:
		return map[string]any{"_kind": "uri", "val": v.Text()}, true
	case grid.KindDateTime:
		return map[string]any{"_kind": "dateTime", "val": v.Display()}, true
	case grid.KindCoord:
		lat, lng := v.LatLng()
		return map[string]any{"_kind": "coord", "lat": lat, "lng": lng}, true
	case grid.KindList:
		items := v.Items()
		out := make([]any, 0, len(items))
		for _, item := range items {
			if j, ok := toJSON(item); ok {
				out = append(out, j)
			} else {
				out = append(out, nil)
			}
		}
		return out, true
	case grid.KindDict:
		d := v.Dict()
		out := make(map[string]any, d.Len())
		for _, name := range d.Names() {
			if j, ok := toJSON(d.Get(name)); ok {
				out[name] = j
			}
		}
		return out, true
	}
	return nil, false
}

// Decode parses a JSON grid.
func (JSON) Decode(text string) (*grid.Grid, string, error) {
	var doc jsonInput
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, "", NewGridError("decode json: %v", err)
	}
	if doc.Kind != "grid" {
		return nil, "", NewGridError("expected _kind grid, got %q", doc.Kind)
	}

	g := grid.New()
	for _, name := range slices.Sorted(maps.Keys(doc.Meta)) {
		var raw any
		if err := json.Unmarshal(doc.Meta[name], &raw); err != nil {
			return nil, "", NewGridError("decode meta %s: %v", name, err)
		}
		g.SetMeta(name, fromJSON(raw))
	}
	if g.HasMeta("err") {
		msg := g.Meta("dis").Display()
		if msg == "" {
			msg = "server error"
		}
		return g, msg, nil
	}

	if len(doc.Cols) == 1 && doc.Cols[0].Name == "empty" && len(doc.Rows) == 0 {
		return g, "", nil
	}
	for _, col := range doc.Cols {
		g.AddColumn(col.Name)
	}
	for _, row := range doc.Rows {
		for _, col := range doc.Cols {
			g.Add(col.Name, fromJSON(row[col.Name]))
		}
	}
	return g, "", nil
}

// fromJSON converts a decoded JSON value. Objects without a known _kind
// become dictionaries.
func fromJSON(raw any) grid.Value {
	switch v := raw.(type) {
	case nil:
		return grid.Absent()
	case bool:
		return grid.Bool(v)
	case float64:
		return grid.Number(v, "")
	case string:
		return grid.Str(v)
	case []any:
		items := make([]grid.Value, len(v))
		for i, item := range v {
			items[i] = fromJSON(item)
		}
		return grid.List(items...)
	case map[string]any:
		return fromTagged(v)
	}
	return grid.Raw(fmt.Sprint(raw))
}

func fromTagged(obj map[string]any) grid.Value {
	str := func(name string) string {
		s, _ := obj[name].(string)
		return s
	}
	num := func(name string) float64 {
		switch n := obj[name].(type) {
		case float64:
			return n
		case string:
			if v, ok := grid.ParseNumber(n); ok {
				return v.Float()
			}
		}
		return 0
	}

	switch obj["_kind"] {
	case "marker":
		return grid.Marker()
	case "number":
		return grid.Number(num("val"), str("unit"))
	case "symbol":
		return grid.Symbol(str("val"))
	case "ref":
		return grid.Ref(str("val"), str("dis"))
	case "uri":
		return grid.URI(str("val"))
	case "coord":
		return grid.Coord(num("lat"), num("lng"))
	case "dateTime":
		if t, ok := grid.ParseDateTime(str("val")); ok {
			return grid.DateTime(t)
		}
		return grid.Raw(str("val"))
	}

	d := grid.NewDict()
	for _, name := range slices.Sorted(maps.Keys(obj)) {
		if name == "_kind" {
			continue
		}
		d.Set(name, fromJSON(obj[name]))
	}
	return grid.DictOf(d)
}
