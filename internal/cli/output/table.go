package output

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
)

// TableFormatter renders values as aligned columns.
type TableFormatter struct {
	NoHeaders bool
}

func (f TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}
	var t *Table
	switch v := data.(type) {
	case *Table:
		t = v
	case Table:
		t = &v
	case string:
		_, err := fmt.Fprintln(w, v)
		return err
	default:
		var ok bool
		if t, ok = toTable(reflect.ValueOf(data)); !ok {
			return JSONFormatter{}.Format(w, data)
		}
	}
	return t.render(w, f.NoHeaders)
}

// Table is a header row plus data rows.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

func (t *Table) render(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !noHeaders && len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func toTable(v reflect.Value) (*Table, bool) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return &Table{}, true
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		t := &Table{Headers: []string{"FIELD", "VALUE"}}
		for _, f := range fieldsOf(v.Type()) {
			t.AddRow(f.name, cell(v.Field(f.index)))
		}
		return t, true
	case reflect.Map:
		t := &Table{Headers: []string{"KEY", "VALUE"}}
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return cell(keys[i]) < cell(keys[j]) })
		for _, k := range keys {
			t.AddRow(cell(k), cell(v.MapIndex(k)))
		}
		return t, true
	case reflect.Slice, reflect.Array:
		return sliceTable(v)
	default:
		return nil, false
	}
}

// sliceTable renders a slice of structs with one column per field.
func sliceTable(v reflect.Value) (*Table, bool) {
	elem := v.Type().Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		t := &Table{Headers: []string{"VALUE"}}
		for i := 0; i < v.Len(); i++ {
			t.AddRow(cell(v.Index(i)))
		}
		return t, true
	}

	fields := fieldsOf(elem)
	t := &Table{}
	for _, f := range fields {
		t.Headers = append(t.Headers, strings.ToUpper(f.name))
	}
	for i := 0; i < v.Len(); i++ {
		row := reflect.Indirect(v.Index(i))
		cells := make([]string, 0, len(fields))
		for _, f := range fields {
			if row.IsValid() {
				cells = append(cells, cell(row.Field(f.index)))
			} else {
				cells = append(cells, "-")
			}
		}
		t.AddRow(cells...)
	}
	return t, true
}

type field struct {
	name  string
	index int
}

// fieldsOf lists exported fields named by their json tag. Fields tagged
// json:"-" are skipped.
func fieldsOf(t reflect.Type) []field {
	var out []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag, _, _ := strings.Cut(sf.Tag.Get("json"), ","); tag == "-" {
			continue
		} else if tag != "" {
			name = tag
		}
		out = append(out, field{name: name, index: i})
	}
	return out
}

func cell(v reflect.Value) string {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return "-"
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return "-"
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	switch v.Kind() {
	case reflect.String:
		if v.Len() == 0 {
			return "-"
		}
		return v.String()
	case reflect.Slice, reflect.Map, reflect.Struct, reflect.Array:
		b, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprint(v.Interface())
		}
		return string(b)
	default:
		return fmt.Sprint(v.Interface())
	}
}
