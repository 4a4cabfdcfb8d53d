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
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/stockparfait/datalink/apierr"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/fetch"
	"github.com/stockparfait/logging"
)

// TableStatus is a part of DatatableMeta.
type TableStatus struct {
	RefreshedAt     time.Time `json:"refreshed_at"`
	Status          string    `json:"status"`
	ExpectedAt      string    `json:"expected_at"`
	UpdateFrequency string    `json:"update_frequency"`
}

// TableVersion is a part of DatatableMeta.
type TableVersion struct {
	Code        string `json:"code"`
	Default     bool   `json:"default"`
	Description string `json:"description"`
}

// DatatableMeta describes a datatable.
type DatatableMeta struct {
	VendorCode  string       `json:"vendor_code"`
	TableCode   string       `json:"datatable_code"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Schema      Schema       `json:"columns"`
	Filters     []string     `json:"filters"`
	PrimaryKey  []string     `json:"primary_key"`
	Premium     bool         `json:"premium"`
	Status      TableStatus  `json:"status"`
	Version     TableVersion `json:"data_version"`
}

// TableMetadata is the format returned by the metadata API.
type TableMetadata struct {
	Datatable DatatableMeta `json:"datatable"`
}

// TableMetadata fetches the metadata of the table, e.g. "ZACKS/FC".
func (c *Client) TableMetadata(ctx context.Context, table string) (*TableMetadata, error) {
	var tm TableMetadata
	r := &Request{Path: "datatables/" + table + "/metadata.json"}
	if err := c.ExecuteJSON(ctx, r, &tm); err != nil {
		return nil, err
	}
	return &tm, nil
}

// Values of BulkDownloadHandle.Status.
const (
	StatusFresh        = "fresh"
	StatusRegenerating = "regenerating"
	StatusCreating     = "creating"
)

// bulkDownloadResponse is the JSON returned for a qopts.export=true query.
type bulkDownloadResponse struct {
	Data struct {
		File struct {
			Link         string `json:"link"`
			Status       string `json:"status"`
			SnapshotTime string `json:"data_snapshot_time"`
		} `json:"file"`
		Datatable struct {
			LastRefreshedTime string `json:"last_refreshed_time"`
		} `json:"datatable"`
	} `json:"datatable_bulk_download"`
}

// BulkDownloadHandle describes an export of a table query. The file is ready
// for download when Status is StatusFresh.
type BulkDownloadHandle struct {
	Link              string
	Status            string
	SnapshotTime      string
	LastRefreshedTime string
}

// Ready reports whether the exported file can be downloaded.
func (h *BulkDownloadHandle) Ready() bool {
	return h.Status == StatusFresh && h.Link != ""
}

// BulkDownload requests an export of the query results, all pages included.
func (c *Client) BulkDownload(ctx context.Context, q *TableQuery) (*BulkDownloadHandle, error) {
	var b bulkDownloadResponse
	q = q.Export()
	if err := c.ExecuteJSON(ctx, &Request{Path: q.Path(), Params: q.Values()}, &b); err != nil {
		return nil, err
	}
	return &BulkDownloadHandle{
		Link:              b.Data.File.Link,
		Status:            b.Data.File.Status,
		SnapshotTime:      b.Data.File.SnapshotTime,
		LastRefreshedTime: b.Data.Datatable.LastRefreshedTime,
	}, nil
}

// WaitBulkDownload polls BulkDownload every interval until the export is
// ready or ctx is done.
func (c *Client) WaitBulkDownload(ctx context.Context, q *TableQuery, interval time.Duration) (*BulkDownloadHandle, error) {
	for {
		h, err := c.BulkDownload(ctx, q)
		if err != nil {
			return nil, err
		}
		if h.Ready() {
			return h, nil
		}
		logging.Infof(ctx, "export of %s is %s, checking again in %s",
			q.Table(), h.Status, interval)
		select {
		case <-ctx.Done():
			return nil, errors.Annotate(ctx.Err(), "waiting for export of %s", q.Table())
		case <-time.After(interval):
		}
	}
}

// CSVReader streams the rows of a CSV file. Call Close to release its
// resources.
type CSVReader struct {
	reader  *csv.Reader
	closers []io.Closer
}

// Read the next CSV row. It returns nil, io.EOF when there are no more rows.
func (r *CSVReader) Read() ([]string, error) {
	return r.reader.Read()
}

// Close the reader, releasing resources in reverse order of acquisition.
func (r *CSVReader) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i].Close()
	}
	r.closers = nil
}

// BulkDownloadCSV downloads the zip archive pointed to by the handle into
// memory and returns a reader of the single CSV file it contains. The link is
// pre-signed and is fetched without the API key.
func BulkDownloadCSV(ctx context.Context, h *BulkDownloadHandle) (*CSVReader, error) {
	resp, err := fetch.GetRetry(ctx, h.Link, nil, nil)
	if err != nil {
		return nil, errors.Annotate(err, "failed to initiate download")
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, errors.Annotate(err, "failed to read response body")
	}
	r := bytes.NewReader(data)
	z, err := zip.NewReader(r, r.Size())
	if err != nil {
		return nil, errors.Annotate(err, "failed to read zip archive")
	}
	if len(z.File) != 1 {
		names := make([]string, len(z.File))
		for i, f := range z.File {
			names[i] = f.Name
		}
		return nil, errors.Reason("archive contains %d files (expected 1):\n  %s",
			len(z.File), strings.Join(names, "\n  "))
	}
	rc, err := z.File[0].Open()
	if err != nil {
		return nil, errors.Annotate(err, "failed to open file in archive '%s'", z.File[0].Name)
	}
	return &CSVReader{reader: csv.NewReader(rc), closers: []io.Closer{rc}}, nil
}

// databaseDataPath is the bulk download path of a database.
func databaseDataPath(database string) string {
	return "databases/" + database + "/data"
}

// DatabaseBulkDownloadURL is the URL for downloading an entire database, with
// the API key and version as query parameters. It can be handed over to other
// tools.
func (c *Client) DatabaseBulkDownloadURL(database string, params url.Values) string {
	return c.URL(&Request{Path: databaseDataPath(database), Params: params, KeyInQuery: true})
}

// DownloadDatabase writes the bulk download of the database to dest. When dest
// is a directory, the file is named after the last element of the final
// download URL. It returns the path of the written file.
func (c *Client) DownloadDatabase(ctx context.Context, database, dest string, params url.Values) (string, error) {
	if dest == "" {
		return "", apierr.New(apierr.KindGeneric,
			"a file or folder path is required to download database %s", database)
	}
	resp, err := c.do(ctx, &Request{Path: databaseDataPath(database), Params: params})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	filePath := dest
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		filePath = filepath.Join(dest, path.Base(resp.Request.URL.Path))
	}
	f, err := os.Create(filePath)
	if err != nil {
		return "", errors.Annotate(err, "failed to create '%s'", filePath)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", errors.Annotate(err, "failed to download database %s", database)
	}
	if err := f.Close(); err != nil {
		return "", errors.Annotate(err, "failed to close '%s'", filePath)
	}
	logging.Infof(ctx, "downloaded database %s to %s", database, filePath)
	return filePath, nil
}
