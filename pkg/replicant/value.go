package replicant

import "fmt"

// Value is the attribute value domain of a Tuple. It is sealed: only Scalar,
// Reference and ReferenceList implement it.
type Value interface {
	isValue()
}

// Scalar is a plain attribute value (string, int64, float64, bool, nil, or a
// structured value that is passed through untouched).
type Scalar struct {
	V interface{}
}

func (Scalar) isValue() {}

// Reference tags a foreign key so that it can be translated into a local id
// when the tuple is loaded.
type Reference struct {
	Type string
	ID   interface{}
}

func (Reference) isValue() {}

// Identity returns the identity of the referenced record.
func (r Reference) Identity() Identity {
	return NewIdentity(r.Type, r.ID)
}

// ReferenceList tags a collection of ids of a single type. Only the
// many-to-many relation record carries one.
type ReferenceList struct {
	Type string
	IDs  []interface{}
}

func (ReferenceList) isValue() {}

// S wraps v as a Scalar.
func S(v interface{}) Scalar {
	return Scalar{V: v}
}

// Ref builds a Reference.
func Ref(typ string, id interface{}) Reference {
	return Reference{Type: typ, ID: id}
}

// Refs builds a ReferenceList.
func Refs(typ string, ids ...interface{}) ReferenceList {
	if ids == nil {
		ids = []interface{}{}
	}
	return ReferenceList{Type: typ, IDs: ids}
}

// Attribute is a single named value in a Tuple.
type Attribute struct {
	Name  string
	Value Value
}

// Attributes is an ordered mapping of field names to values. Order is the
// order in which fields were read from the source.
type Attributes []Attribute

// Get returns the value for name.
func (a Attributes) Get(name string) (Value, bool) {
	for _, attr := range a {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return nil, false
}

// Set replaces the value for name in place, or appends it.
func (a *Attributes) Set(name string, v Value) {
	for i := range *a {
		if (*a)[i].Name == name {
			(*a)[i].Value = v
			return
		}
	}
	*a = append(*a, Attribute{Name: name, Value: v})
}

// Names returns field names in order.
func (a Attributes) Names() []string {
	names := make([]string, 0, len(a))
	for _, attr := range a {
		names = append(names, attr.Name)
	}
	return names
}

// Clone returns a shallow copy; ReferenceList id slices are copied.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for i, attr := range a {
		if l, ok := attr.Value.(ReferenceList); ok {
			l.IDs = append([]interface{}(nil), l.IDs...)
			attr.Value = l
		}
		out[i] = attr
	}
	return out
}

// Describe formats a value for debug logging.
func Describe(v Value) string {
	switch v := v.(type) {
	case Scalar:
		return fmt.Sprintf("%v", v.V)
	case Reference:
		return fmt.Sprintf("ref(%s:%v)", v.Type, v.ID)
	case ReferenceList:
		return fmt.Sprintf("refs(%s:%v)", v.Type, v.IDs)
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("<%T>", v)
	}
}
