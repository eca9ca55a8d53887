package grid

import "strings"

// Dict is an insertion-ordered name/value map. The zero Dict is empty and
// ready to use.
type Dict struct {
	names []string
	vals  map[string]Value
}

// NewDict returns an empty dictionary.
func NewDict() *Dict { return &Dict{} }

// Set stores a value, keeping the position of an existing name.
func (d *Dict) Set(name string, v Value) {
	if d.vals == nil {
		d.vals = make(map[string]Value)
	}
	if _, ok := d.vals[name]; !ok {
		d.names = append(d.names, name)
	}
	d.vals[name] = v
}

// Get returns the value for name, or absent.
func (d *Dict) Get(name string) Value {
	if d == nil {
		return Value{}
	}
	return d.vals[name]
}

// Has reports whether name was set.
func (d *Dict) Has(name string) bool {
	if d == nil {
		return false
	}
	_, ok := d.vals[name]
	return ok
}

// Delete removes name.
func (d *Dict) Delete(name string) {
	if !d.Has(name) {
		return
	}
	delete(d.vals, name)
	for i, n := range d.names {
		if n == name {
			d.names = append(d.names[:i], d.names[i+1:]...)
			break
		}
	}
}

// Names returns the names in insertion order.
func (d *Dict) Names() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.names)
}

// Display renders the dictionary as {name:value ...}, with markers bare.
func (d *Dict) Display() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range d.Names() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(name)
		v := d.vals[name]
		if v.kind != KindMarker && v.kind != KindAbsent {
			b.WriteByte(':')
			b.WriteString(v.Display())
		}
	}
	b.WriteByte('}')
	return b.String()
}
