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

// Package table is the tabular output of query results: a header and a list
// of rows, rendered as CSV or as human-readable text.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/stockparfait/errors"

	pretty "github.com/jedib0t/go-pretty/v6/table"
)

// Row interface that a table row representation must implement.
type Row interface {
	CSV() []string // an encoding/csv compatible row representation
}

// Values is a Row of arbitrary JSON-decoded cell values.
type Values []interface{}

var _ Row = Values{}

// CSV implements Row.
func (v Values) CSV() []string {
	res := make([]string, len(v))
	for i, x := range v {
		res[i] = FormatValue(x)
	}
	return res
}

// FormatValue converts a JSON-decoded value to its text form. Null becomes an
// empty string, and whole numbers are printed without a decimal point.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// Table container.
type Table struct {
	Header []string // optional, may be nil
	Rows   []Row
}

// NewTable creates a new Table with optional column headers. When present, the
// number of headers must match the number of elements in each Row.
func NewTable(header ...string) *Table {
	return &Table{Header: header}
}

// AddRow adds one or more rows to the table.
func (t *Table) AddRow(rows ...Row) {
	t.Rows = append(t.Rows, rows...)
}

// Params are parameters for printing or exporting Table data.
type Params struct {
	Rows        int  // max. number of rows to write; 0 = unlimited (default)
	NoHeader    bool // whether to print the header, default - yes
	MaxColWidth int  // for WriteText only; 0 = unlimited, otherwise must be >= 4
}

// rows returns the CSV form of the rows to write, checking their sizes.
func (t *Table) rows(p Params) ([][]string, error) {
	n := len(t.Rows)
	if p.Rows > 0 && p.Rows < n {
		n = p.Rows
	}
	width := -1
	if !p.NoHeader && len(t.Header) > 0 {
		width = len(t.Header)
	}
	res := make([][]string, n)
	for i := 0; i < n; i++ {
		row := t.Rows[i].CSV()
		if width < 0 {
			width = len(row)
		}
		if len(row) != width {
			return nil, errors.Reason("row %d size [%d] != expected size [%d]",
				i, len(row), width)
		}
		res[i] = row
	}
	return res, nil
}

// WriteCSV writes the table to w in CSV format.
func (t *Table) WriteCSV(w io.Writer, p Params) error {
	rows, err := t.rows(p)
	if err != nil {
		return errors.Annotate(err, "invalid table")
	}
	cw := csv.NewWriter(w)
	if !p.NoHeader && len(t.Header) > 0 {
		if err := cw.Write(t.Header); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
	}
	if err := cw.WriteAll(rows); err != nil {
		return errors.Annotate(err, "failed to write rows")
	}
	return nil
}

func prettyRow(row []string) pretty.Row {
	r := make(pretty.Row, len(row))
	for i, s := range row {
		r[i] = s
	}
	return r
}

// WriteText writes the table as text formatted for ease of reading.
func (t *Table) WriteText(w io.Writer, p Params) error {
	if p.MaxColWidth != 0 && p.MaxColWidth < 4 {
		return errors.Reason("MaxColWidth [%d] must be 0 or >= 4", p.MaxColWidth)
	}
	rows, err := t.rows(p)
	if err != nil {
		return errors.Annotate(err, "invalid table")
	}
	tw := pretty.NewWriter()
	style := pretty.StyleLight
	style.Format.Header = text.FormatDefault
	tw.SetStyle(style)

	cols := 0
	if !p.NoHeader && len(t.Header) > 0 {
		tw.AppendHeader(prettyRow(t.Header))
		cols = len(t.Header)
	}
	for _, r := range rows {
		tw.AppendRow(prettyRow(r))
		cols = len(r)
	}
	if p.MaxColWidth > 0 {
		configs := make([]pretty.ColumnConfig, cols)
		for i := range configs {
			configs[i] = pretty.ColumnConfig{
				Number:           i + 1,
				WidthMax:         p.MaxColWidth,
				WidthMaxEnforcer: text.Trim,
			}
		}
		tw.SetColumnConfigs(configs)
	}
	if _, err := fmt.Fprintln(w, tw.Render()); err != nil {
		return errors.Annotate(err, "failed to write table")
	}
	return nil
}
