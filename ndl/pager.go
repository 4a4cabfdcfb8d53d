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
	"context"

	"github.com/stockparfait/datalink/apierr"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

// Pager fetches the pages of a datatable query one at a time, following the
// server's cursor.
//
// At most Config.PageLimit continuation pages are requested: when yet another
// page is available after that, Next fails with apierr.KindLimitExceeded. When
// the caller did not ask to paginate, the pager stops after the first page with
// a warning instead, and Truncated() reports true.
type Pager struct {
	client    *Client
	query     *TableQuery
	paginate  bool
	cursor    string
	pageCount int // continuation pages requested so far
	fetched   int
	done      bool
	truncated bool
}

// NewPager creates a pager for the query. No requests are made until Next.
func (c *Client) NewPager(q *TableQuery, paginate bool) *Pager {
	return &Pager{client: c, query: q, paginate: paginate}
}

// Pages is the number of pages fetched so far.
func (p *Pager) Pages() int {
	return p.fetched
}

// Truncated reports whether more pages were available when the pager stopped.
func (p *Pager) Truncated() bool {
	return p.truncated
}

// readPage fetches one page at the current cursor.
func (p *Pager) readPage(ctx context.Context) (*Page, error) {
	q := p.query
	if p.cursor != "" {
		q = q.Cursor(p.cursor)
	}
	var page Page
	err := p.client.ExecuteJSON(ctx, &Request{Path: q.Path(), Params: q.Values()}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// Next fetches the next page. It returns nil, nil when there are no more pages
// to fetch.
func (p *Pager) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}
	page, err := p.readPage(ctx)
	if err != nil {
		p.done = true
		if _, ok := apierr.As(err); ok {
			return nil, err
		}
		return nil, errors.Annotate(err, "failed to query page %d", p.fetched+1)
	}
	p.fetched++
	cursor := page.Meta.Cursor()
	logging.Infof(ctx, "Nasdaq Data Link: fetched page %d of %s with %d rows; cursor: %s",
		p.fetched, p.query.Table(), len(page.Datatable.Data), cursor)

	if cursor == "" {
		p.done = true
		return page, nil
	}
	if p.pageCount >= p.client.config.PageLimit {
		p.done = true
		return nil, apierr.New(apierr.KindLimitExceeded,
			"This call exceeds the amount of data that GetTable allows (page limit %d). "+
				"Please use the following link in your browser, which will download the full "+
				"results as a CSV file: %s/datatables/%s?qopts.export=true&api_key=%s . "+
				"See the API documentation for more info: "+
				"https://docs.data.nasdaq.com/docs/in-depth-usage-1#section-download-an-entire-table",
			p.client.config.PageLimit, p.client.config.URL(), p.query.Table(),
			p.client.config.APIKey)
	}
	if !p.paginate {
		p.done = true
		p.truncated = true
		logging.Warningf(ctx, "%s has more than %d page(s) of data. "+
			"To request more pages, enable pagination. For more information see "+
			"https://docs.data.nasdaq.com/docs/large-table-download",
			p.query.Table(), p.fetched)
		return page, nil
	}
	p.pageCount++
	p.cursor = cursor
	return page, nil
}

// FetchAll runs the query, following the cursor when paginate is true, and
// merges all the pages into one Datatable. See Pager for the page limit.
func (c *Client) FetchAll(ctx context.Context, q *TableQuery, paginate bool) (*Datatable, error) {
	p := c.NewPager(q, paginate)
	var acc Accumulator
	for {
		page, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		if page == nil {
			break
		}
		acc.Add(page)
	}
	d := acc.Datatable()
	d.Truncated = p.Truncated()
	return d, nil
}

// GetTable runs FetchAll with the Client from the context.
func GetTable(ctx context.Context, q *TableQuery, paginate bool) (*Datatable, error) {
	c := GetClient(ctx)
	if c == nil {
		return nil, errors.Reason("GetTable: no client in context")
	}
	return c.FetchAll(ctx, q, paginate)
}
