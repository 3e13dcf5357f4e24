package etw

import (
	"fmt"
	"strconv"
)

// ValueKind tells which member of a Value is set.
type ValueKind uint8

const (
	KindScalar ValueKind = iota // Prop holds a number, GUID, binary, time...
	KindString                  // Prop holds text
	KindArray                   // Elements
	KindStruct                  // Members
)

func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	}
	return "ValueKind(" + strconv.Itoa(int(k)) + ")"
}

// Value is one decoded property value.
type Value struct {
	Kind     ValueKind
	Prop     *Property // KindScalar, KindString
	Elements []Value   // KindArray
	Members  []Field   // KindStruct
}

// Field is a named value, in schema order.
type Field struct {
	Name  string
	Index int // property index in the schema
	Value Value
}

// EventData is the decoded UserData of a record.
type EventData struct {
	Fields []Field
	// Remaining holds UserData bytes left after the last property.
	Remaining []byte
}

// AppendJSON appends the value as JSON. Scalars follow their OutType,
// arrays become JSON arrays and structs JSON objects in member order.
func (v *Value) AppendJSON(dst []byte) ([]byte, error) {
	switch v.Kind {
	case KindScalar, KindString:
		if v.Prop == nil {
			return append(dst, "null"...), nil
		}
		return v.Prop.decodeToJSON(dst)

	case KindArray:
		dst = append(dst, '[')
		for i := range v.Elements {
			if i > 0 {
				dst = append(dst, ',')
			}
			var err error
			if dst, err = v.Elements[i].AppendJSON(dst); err != nil {
				return dst, err
			}
		}
		return append(dst, ']'), nil

	case KindStruct:
		return appendFieldsJSON(dst, v.Members, nil)
	}
	return dst, fmt.Errorf("%w: value kind %v", ErrUnsupportedType, v.Kind)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.AppendJSON(make([]byte, 0, 64))
}

// String returns the formatted scalar, or the JSON form of arrays and structs.
func (v *Value) String() string {
	if v.Prop != nil {
		s, err := v.Prop.FormatToString()
		if err != nil {
			return ""
		}
		return s
	}
	b, err := v.AppendJSON(nil)
	if err != nil {
		return ""
	}
	return string(b)
}

// appendFieldsJSON writes fields as a JSON object. A non nil keep filters
// the fields by name. Values that fail to format are written as
// "failed to parse" so one bad field does not drop the object.
func appendFieldsJSON(dst []byte, fields []Field, keep func(string) bool) ([]byte, error) {
	dst = append(dst, '{')
	first := true
	for i := range fields {
		f := &fields[i]
		if keep != nil && !keep(f.Name) {
			continue
		}
		if !first {
			dst = append(dst, ',')
		}
		first = false
		dst = strconv.AppendQuote(dst, f.Name)
		dst = append(dst, ':')

		mark := len(dst)
		out, err := f.Value.AppendJSON(dst)
		if err != nil {
			out = append(dst[:mark], `"failed to parse"`...)
		}
		dst = out
	}
	return append(dst, '}'), nil
}

// Get returns the top-level field called name.
func (d *EventData) Get(name string) (*Value, error) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i].Value, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProperty, name)
}

func (d *EventData) prop(name string) (*Property, error) {
	v, err := d.Get(name)
	if err != nil {
		return nil, err
	}
	if v.Prop == nil {
		return nil, fmt.Errorf("%w: %q is a %v", ErrUnsupportedType, name, v.Kind)
	}
	return v.Prop, nil
}

// GetString returns the formatted value of the top-level property name.
func (d *EventData) GetString(name string) (string, error) {
	p, err := d.prop(name)
	if err != nil {
		return "", err
	}
	return p.FormatToString()
}

// GetUInt returns the top-level property name as uint64.
func (d *EventData) GetUInt(name string) (uint64, error) {
	p, err := d.prop(name)
	if err != nil {
		return 0, err
	}
	return p.GetUInt()
}

// GetInt returns the top-level property name as int64.
func (d *EventData) GetInt(name string) (int64, error) {
	p, err := d.prop(name)
	if err != nil {
		return 0, err
	}
	return p.GetInt()
}

// GetFloat returns the top-level property name as float64.
func (d *EventData) GetFloat(name string) (float64, error) {
	p, err := d.prop(name)
	if err != nil {
		return 0, err
	}
	return p.GetFloat()
}

// AppendJSON appends the fields as one JSON object.
func (d *EventData) AppendJSON(dst []byte) ([]byte, error) {
	return appendFieldsJSON(dst, d.Fields, nil)
}

// MarshalJSON implements json.Marshaler.
func (d *EventData) MarshalJSON() ([]byte, error) {
	return d.AppendJSON(make([]byte, 0, 256))
}
