// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ndl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stockparfait/datalink/table"
	"github.com/stockparfait/errors"
)

// Value is an arbitrary value of a table cell, as decoded by encoding/json.
type Value = interface{}

// ValueLoader is the interface that a row type of a specific table must
// implement.
type ValueLoader interface {
	Load(v []Value, s Schema) error
}

// SchemaField is the schema definition for a single table column.
type SchemaField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema definition for a table.
type Schema []SchemaField

// Equal tests two schemas for exact equality, including the field ordering.
func (s Schema) Equal(s2 Schema) bool {
	if len(s) != len(s2) {
		return false
	}
	for i, f := range s {
		if f != s2[i] {
			return false
		}
	}
	return true
}

// SubsetOf tests if s is a subset of s2, regardless of the order.
func (s Schema) SubsetOf(s2 Schema) bool {
	m := make(map[string]string)
	for _, f := range s2 {
		m[f.Name] = f.Type
	}
	for _, f := range s {
		if tp2, ok := m[f.Name]; !ok || f.Type != tp2 {
			return false
		}
	}
	return true
}

// MapFields creates a map of {field name -> field index} in the schema.
func (s Schema) MapFields() map[string]int {
	res := make(map[string]int)
	for i, f := range s {
		res[f.Name] = i
	}
	return res
}

// Names of the columns, in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// String prints a string representation of the schema.
func (s Schema) String() string {
	fields := []string{}
	for _, f := range s {
		fields = append(fields, fmt.Sprintf("%s: %s", f.Name, f.Type))
	}
	return "{" + strings.Join(fields, ", ") + "}"
}

// PageData holds the rows and the schema of a table page.
type PageData struct {
	Data    [][]Value `json:"data"`
	Columns Schema    `json:"columns"`
}

// Meta is the page metadata.
type Meta struct {
	NextCursorID *string `json:"next_cursor_id"`
}

// Cursor of the next page, or "" if this is the last page.
func (m Meta) Cursor() string {
	if m.NextCursorID == nil {
		return ""
	}
	return *m.NextCursorID
}

// Page is a single page of datatable results, as returned by the API.
type Page struct {
	Datatable PageData `json:"datatable"`
	Meta      Meta     `json:"meta"`
}

// TestTablePage generates the JSON string in a format as returned by the table
// API. An empty cursor marks the last page. For use in tests.
func TestTablePage(data [][]Value, schema Schema, cursor string) (string, error) {
	p := Page{Datatable: PageData{Data: data, Columns: schema}}
	if cursor != "" {
		p.Meta.NextCursorID = &cursor
	}
	bytes, err := json.Marshal(&p)
	return string(bytes), err
}

// Datatable is the result of a possibly multi-page query.
type Datatable struct {
	Columns   Schema
	Data      [][]Value
	Meta      Meta // metadata of the last page
	Pages     int  // number of pages fetched
	Truncated bool // more pages were available but not fetched
}

// Len is the number of rows.
func (d *Datatable) Len() int {
	return len(d.Data)
}

// Load the i-th row into row.
func (d *Datatable) Load(i int, row ValueLoader) error {
	if i < 0 || i >= len(d.Data) {
		return errors.Reason("row index %d out of range [0..%d)", i, len(d.Data))
	}
	if err := row.Load(d.Data[i], d.Columns); err != nil {
		return errors.Annotate(err, "failed to load row %d", i)
	}
	return nil
}

// Table converts the result to a table.Table for printing or CSV export.
func (d *Datatable) Table() *table.Table {
	t := table.NewTable(d.Columns.Names()...)
	for _, r := range d.Data {
		t.AddRow(table.Values(r))
	}
	return t
}

// Accumulator merges pages, in order, into a Datatable. Pages themselves are
// not modified.
type Accumulator struct {
	columns Schema
	data    [][]Value
	meta    Meta
	pages   int
}

// Add a page. Its rows are appended after the rows of previous pages, and its
// metadata replaces theirs.
func (a *Accumulator) Add(p *Page) {
	if a.pages == 0 || len(p.Datatable.Columns) > 0 {
		a.columns = p.Datatable.Columns
	}
	a.data = append(a.data, p.Datatable.Data...)
	a.meta = p.Meta
	a.pages++
}

// Datatable returns the merged result so far.
func (a *Accumulator) Datatable() *Datatable {
	return &Datatable{
		Columns: a.columns,
		Data:    a.data,
		Meta:    a.meta,
		Pages:   a.pages,
	}
}

// Assemble merges the pages into a single Datatable.
func Assemble(pages ...*Page) *Datatable {
	var a Accumulator
	for _, p := range pages {
		a.Add(p)
	}
	return a.Datatable()
}
