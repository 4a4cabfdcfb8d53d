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
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/exp/slices"
)

// MaxPerPage is the largest page size the server accepts.
const MaxPerPage = 10000

// TableQuery is a builder for a datatable query. All the builder methods
// create a deep copy of the query, leaving the original intact.
type TableQuery struct {
	table   string // a fully qualified table name, e.g. ZACKS/FC
	filters []queryFilter
	options queryOptions
	params  url.Values // extra parameters passed verbatim
}

// queryFilterKind is the suffix of the filter parameter name.
type queryFilterKind string

// Values for the queryFilterKind.
const (
	queryFilterEq = queryFilterKind("")
	queryFilterLt = queryFilterKind(".lt")
	queryFilterGt = queryFilterKind(".gt")
	queryFilterLe = queryFilterKind(".lte")
	queryFilterGe = queryFilterKind(".gte")
)

type queryFilter struct {
	Kind   queryFilterKind
	Column string
	Values []string // only equality can have multiple values
}

type queryOptions struct {
	Columns  []string // if non-nil, return only these columns
	PerPage  int      // 0 = server default
	CursorID string
	Export   bool // request a bulk download handle instead of data
}

// NewTableQuery creates a query for the table, e.g. "ZACKS/FC".
func NewTableQuery(table string) *TableQuery {
	return &TableQuery{table: table}
}

// Table name of the query.
func (q *TableQuery) Table() string {
	return q.table
}

// Copy creates a deep copy of the query.
func (q *TableQuery) Copy() *TableQuery {
	q2 := TableQuery{table: q.table, options: q.options}
	q2.options.Columns = slices.Clone(q.options.Columns)
	q2.filters = make([]queryFilter, len(q.filters))
	for i, f := range q.filters {
		q2.filters[i] = queryFilter{f.Kind, f.Column, slices.Clone(f.Values)}
	}
	if q.params != nil {
		q2.params = make(url.Values)
		for k, v := range q.params {
			q2.params[k] = slices.Clone(v)
		}
	}
	return &q2
}

func (q *TableQuery) addFilter(kind queryFilterKind, column string, values ...string) *TableQuery {
	q2 := q.Copy()
	q2.filters = append(q2.filters, queryFilter{kind, column, values})
	return q2
}

// Equal requires the column to equal one of the values.
func (q *TableQuery) Equal(column string, values ...string) *TableQuery {
	return q.addFilter(queryFilterEq, column, values...)
}

// Lt requires column < value.
func (q *TableQuery) Lt(column, value string) *TableQuery {
	return q.addFilter(queryFilterLt, column, value)
}

// Gt requires column > value.
func (q *TableQuery) Gt(column, value string) *TableQuery {
	return q.addFilter(queryFilterGt, column, value)
}

// Le requires column <= value.
func (q *TableQuery) Le(column, value string) *TableQuery {
	return q.addFilter(queryFilterLe, column, value)
}

// Ge requires column >= value.
func (q *TableQuery) Ge(column, value string) *TableQuery {
	return q.addFilter(queryFilterGe, column, value)
}

// Columns restricts the result to these columns.
func (q *TableQuery) Columns(columns ...string) *TableQuery {
	q2 := q.Copy()
	q2.options.Columns = columns
	return q2
}

// PerPage sets the page size, clamped to [0..MaxPerPage].
func (q *TableQuery) PerPage(size int) *TableQuery {
	if size < 0 {
		size = 0
	}
	if size > MaxPerPage {
		size = MaxPerPage
	}
	q2 := q.Copy()
	q2.options.PerPage = size
	return q2
}

// Cursor sets the cursor ID of the page to fetch.
func (q *TableQuery) Cursor(cursor string) *TableQuery {
	q2 := q.Copy()
	q2.options.CursorID = cursor
	return q2
}

// Export requests a bulk download of the query results.
func (q *TableQuery) Export() *TableQuery {
	q2 := q.Copy()
	q2.options.Export = true
	return q2
}

// Param adds an arbitrary query parameter, e.g. for table-specific options.
func (q *TableQuery) Param(key string, values ...string) *TableQuery {
	q2 := q.Copy()
	if q2.params == nil {
		q2.params = make(url.Values)
	}
	q2.params[key] = append(q2.params[key], values...)
	return q2
}

// Path of the table data relative to the base URL.
func (q *TableQuery) Path() string {
	return "datatables/" + q.table + ".json"
}

// Values returns the query parameters. Each call creates a new object, so the
// caller is free to modify it.
func (q *TableQuery) Values() url.Values {
	v := make(url.Values)
	for k, vals := range q.params {
		v[k] = slices.Clone(vals)
	}
	for _, f := range q.filters {
		v[f.Column+string(f.Kind)] = []string{strings.Join(f.Values, ",")}
	}
	if q.options.Columns != nil {
		v["qopts.columns"] = []string{strings.Join(q.options.Columns, ",")}
	}
	if q.options.PerPage != 0 {
		v["qopts.per_page"] = []string{fmt.Sprintf("%d", q.options.PerPage)}
	}
	if q.options.CursorID != "" {
		v["qopts.cursor_id"] = []string{q.options.CursorID}
	}
	if q.options.Export {
		v["qopts.export"] = []string{"true"}
	}
	return v
}
