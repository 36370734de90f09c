package starbind

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"go.starlark.net/starlark"

	"github.com/memctl/memctl/pkg/proc"
	"github.com/memctl/memctl/service/api"
)

// toStarlark converts a Go value, usually something returned by the
// service, into a starlark.Value. Structs and slices are wrapped rather
// than copied.
func toStarlark(v interface{}) starlark.Value {
	switch v := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return v
	case bool:
		return starlark.Bool(v)
	case string:
		return starlark.String(v)
	case []byte:
		return starlark.Bytes(v)
	case float32:
		return starlark.Float(v)
	case float64:
		return starlark.Float(v)
	case time.Time:
		return starlark.String(v.Format(time.RFC3339))
	case api.Location:
		return starlark.String(v.String())
	case error:
		return starlark.String(v.Error())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return starlark.MakeUint64(rv.Uint())
	case reflect.Ptr:
		if rv.IsNil() {
			return starlark.None
		}
		if rv.Elem().Kind() == reflect.Struct {
			return apiStruct{rv.Elem()}
		}
	case reflect.Struct:
		return apiStruct{rv}
	case reflect.Slice:
		return apiList{rv}
	}
	return starlark.String(fmt.Sprint(v))
}

// valueToStarlark converts a value read from the target into the
// starlark value of the same type: an int, a float, a string or bytes.
func valueToStarlark(v *api.Value) (starlark.Value, error) {
	k, err := proc.ParseKind(v.Kind)
	if err != nil {
		return nil, err
	}
	switch k {
	case proc.KindByte, proc.KindInt32, proc.KindInt64:
		n, err := strconv.ParseInt(v.Text, 10, 64)
		if err != nil {
			return nil, err
		}
		return starlark.MakeInt64(n), nil
	case proc.KindFloat32, proc.KindFloat64:
		f, err := strconv.ParseFloat(v.Text, 64)
		if err != nil {
			return nil, err
		}
		return starlark.Float(f), nil
	case proc.KindString:
		return starlark.String(v.Text), nil
	}
	return starlark.Bytes(v.Bytes), nil
}

// starlarkToText returns the textual form of a value to write, the inverse
// of valueToStarlark.
func starlarkToText(v starlark.Value) (string, error) {
	switch v := v.(type) {
	case starlark.String:
		return string(v), nil
	case starlark.Int:
		return v.String(), nil
	case starlark.Float:
		return strconv.FormatFloat(float64(v), 'g', -1, 64), nil
	case starlark.Bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case starlark.Bytes:
		return fmt.Sprintf("%x", string(v)), nil
	}
	return "", fmt.Errorf("can not write a value of type %s", v.Type())
}

var errUnhashable = fmt.Errorf("unhashable")

// apiList is a read-only starlark sequence backed by a Go slice.
type apiList struct {
	rv reflect.Value
}

var (
	_ starlark.Indexable = apiList{}
	_ starlark.Sequence  = apiList{}
)

func (l apiList) String() string        { return fmt.Sprint(l.rv.Interface()) }
func (l apiList) Type() string          { return l.rv.Type().String() }
func (l apiList) Truth() starlark.Bool  { return l.rv.Len() > 0 }
func (l apiList) Hash() (uint32, error) { return 0, errUnhashable }
func (l apiList) Len() int              { return l.rv.Len() }

// Freeze is a no-op, the underlying slice is never modified.
func (l apiList) Freeze() {}

func (l apiList) Index(i int) starlark.Value {
	return toStarlark(l.rv.Index(i).Interface())
}

func (l apiList) Iterate() starlark.Iterator {
	return &apiListIter{list: l}
}

type apiListIter struct {
	list apiList
	i    int
}

func (it *apiListIter) Next(p *starlark.Value) bool {
	if it.i >= it.list.Len() {
		return false
	}
	*p = it.list.Index(it.i)
	it.i++
	return true
}

func (it *apiListIter) Done() {}

// apiStruct exposes the exported fields of a Go struct as starlark
// attributes.
type apiStruct struct {
	rv reflect.Value
}

var _ starlark.HasAttrs = apiStruct{}

func (s apiStruct) String() string        { return fmt.Sprintf("%+v", s.rv.Interface()) }
func (s apiStruct) Type() string          { return s.rv.Type().String() }
func (s apiStruct) Truth() starlark.Bool  { return true }
func (s apiStruct) Hash() (uint32, error) { return 0, errUnhashable }

func (s apiStruct) Freeze() {}

func (s apiStruct) Attr(name string) (starlark.Value, error) {
	f, ok := s.rv.Type().FieldByName(name)
	if !ok || !f.IsExported() {
		// nil, nil makes starlark report a missing attribute
		return nil, nil
	}
	return toStarlark(s.rv.FieldByIndex(f.Index).Interface()), nil
}

func (s apiStruct) AttrNames() []string {
	var names []string
	for _, f := range reflect.VisibleFields(s.rv.Type()) {
		if f.IsExported() && !f.Anonymous {
			names = append(names, f.Name)
		}
	}
	return names
}
