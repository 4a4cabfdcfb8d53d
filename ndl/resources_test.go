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
	"io"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stockparfait/datalink/apierr"
	"github.com/stockparfait/datalink/config"
	"github.com/stockparfait/fetch"

	. "github.com/smartystreets/goconvey/convey"
)

func testZip(files map[string]string) string {
	var buf bytes.Buffer
	z := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := z.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := io.WriteString(w, content); err != nil {
			panic(err)
		}
	}
	if err := z.Close(); err != nil {
		panic(err)
	}
	return buf.String()
}

func bulkJSON(status, link string) string {
	return `{
  "datatable_bulk_download": {
      "file": {
        "link": "` + link + `",
        "status": "` + status + `",
        "data_snapshot_time": "2017-04-26 14:33:02 UTC"
      },
      "datatable": {
        "last_refreshed_time": "2017-10-12 09:03:36 UTC"
      }
    }
}`
}

func TestResources(t *testing.T) {
	t.Parallel()

	Convey("Metadata", t, func() {
		metaJSON := `
			{"datatable":{
			 "vendor_code":"TEST",
			 "datatable_code":"TABLE",
			 "name":"A test table",
			 "description":null,
			 "columns":[
					{"name":"foo","type":"String"},
					{"name":"bar","type":"double"}],
			 "filters":["foo"],
			 "primary_key":["bar"],
			 "premium":true,
			 "status":{
					"refreshed_at":"2020-04-09T22:51:22.000Z",
					"status":"ON TIME",
					"expected_at":"*",
					"update_frequency":"CONTINUOUS"},
			 "data_version":{"code":"1","default":true,"description":null}
			}}`
		expected := TableMetadata{Datatable: DatatableMeta{
			VendorCode: "TEST",
			TableCode:  "TABLE",
			Name:       "A test table",
			Schema:     Schema{{Name: "foo", Type: "String"}, {Name: "bar", Type: "double"}},
			Filters:    []string{"foo"},
			PrimaryKey: []string{"bar"},
			Premium:    true,
			Status: TableStatus{
				RefreshedAt:     time.Date(2020, 4, 9, 22, 51, 22, 0, time.UTC),
				Status:          "ON TIME",
				ExpectedAt:      "*",
				UpdateFrequency: "CONTINUOUS",
			},
			Version: TableVersion{Code: "1", Default: true},
		}}
		var sr sleepRecorder
		server := newScriptServer(ok(metaJSON))
		defer server.Close()
		client := newTestClient(server.Server, &sr, nil)

		fetched, err := client.TableMetadata(context.Background(), "TEST/TABLE")
		So(err, ShouldBeNil)
		So(fetched, ShouldResemble, &expected)
		So(server.Requests()[0].Path, ShouldEqual, "/api/v3/datatables/TEST/TABLE/metadata.json")
	})

	Convey("Bulk download", t, func() {
		ctx := context.Background()
		var sr sleepRecorder
		q := NewTableQuery("TEST/TABLE").Equal("ticker", "AA")

		Convey("returns the handle", func() {
			server := newScriptServer(ok(bulkJSON("regenerating", "https://test.url")))
			defer server.Close()
			client := newTestClient(server.Server, &sr, nil)

			h, err := client.BulkDownload(ctx, q)
			So(err, ShouldBeNil)
			So(h, ShouldResemble, &BulkDownloadHandle{
				Link:              "https://test.url",
				Status:            "regenerating",
				SnapshotTime:      "2017-04-26 14:33:02 UTC",
				LastRefreshedTime: "2017-10-12 09:03:36 UTC",
			})
			So(h.Ready(), ShouldBeFalse)
			query := server.Requests()[0].Query
			So(query.Get("qopts.export"), ShouldEqual, "true")
			So(query.Get("ticker"), ShouldEqual, "AA")
		})

		Convey("waits until ready", func() {
			server := newScriptServer(
				ok(bulkJSON("creating", "")),
				ok(bulkJSON("regenerating", "https://test.url")),
				ok(bulkJSON("fresh", "https://test.url")))
			defer server.Close()
			client := newTestClient(server.Server, &sr, nil)

			h, err := client.WaitBulkDownload(ctx, q, time.Millisecond)
			So(err, ShouldBeNil)
			So(h.Ready(), ShouldBeTrue)
			So(len(server.Requests()), ShouldEqual, 3)
		})

		Convey("stops waiting when cancelled", func() {
			server := newScriptServer(ok(bulkJSON("creating", "")))
			defer server.Close()
			client := newTestClient(server.Server, &sr, nil)

			cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_, err := client.WaitBulkDownload(cctx, q, time.Hour)
			So(err, ShouldNotBeNil)
		})

		Convey("propagates API errors", func() {
			server := newScriptServer(errorResponse(403, "QEPx04"))
			defer server.Close()
			client := newTestClient(server.Server, &sr, nil)

			_, err := client.BulkDownload(ctx, q)
			So(apierr.IsKind(err, apierr.KindForbidden), ShouldBeTrue)
		})
	})

	Convey("BulkDownloadCSV", t, func() {
		server := fetch.NewTestServer()
		defer server.Close()
		ctx := fetch.UseClient(context.Background(), server.Client())
		h := &BulkDownloadHandle{Link: server.URL() + "/file.zip", Status: StatusFresh}

		Convey("reads the single CSV file", func() {
			server.ResponseBody = []string{testZip(map[string]string{
				"table.csv": "num,str\n1,one\n2,two\n",
			})}
			r, err := BulkDownloadCSV(ctx, h)
			So(err, ShouldBeNil)
			defer r.Close()

			var rows [][]string
			for {
				row, err := r.Read()
				if err == io.EOF {
					break
				}
				So(err, ShouldBeNil)
				rows = append(rows, row)
			}
			So(rows, ShouldResemble, [][]string{{"num", "str"}, {"1", "one"}, {"2", "two"}})
			So(server.RequestPath, ShouldEqual, "/file.zip")
		})

		Convey("rejects multiple files", func() {
			server.ResponseBody = []string{testZip(map[string]string{
				"a.csv": "x\n",
				"b.csv": "y\n",
			})}
			_, err := BulkDownloadCSV(ctx, h)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "archive contains 2 files")
		})

		Convey("rejects non-zip content", func() {
			server.ResponseBody = []string{"not a zip"}
			_, err := BulkDownloadCSV(ctx, h)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Database download", t, func() {
		ctx := context.Background()

		Convey("URL carries the key and version", func() {
			c := config.New()
			c.APIKey = "k"
			c.APIVersion = "2015-04-09"
			client, err := NewClient(c)
			So(err, ShouldBeNil)
			So(client.DatabaseBulkDownloadURL("NSE", url.Values{"download_type": {"partial"}}),
				ShouldEqual,
				"https://data.nasdaq.com/api/v3/databases/NSE/data?api_key=k&api_version=2015-04-09&download_type=partial")
			So(client.DatabaseBulkDownloadURL("NSE", nil), ShouldEqual,
				"https://data.nasdaq.com/api/v3/databases/NSE/data?api_key=k&api_version=2015-04-09")
		})

		Convey("writes the file", func() {
			var sr sleepRecorder
			server := newScriptServer(ok("zip content"))
			defer server.Close()
			client := newTestClient(server.Server, &sr, nil)
			dir := t.TempDir()

			Convey("into a directory", func() {
				p, err := client.DownloadDatabase(ctx, "NSE", dir, nil)
				So(err, ShouldBeNil)
				So(p, ShouldEqual, filepath.Join(dir, "data"))
				b, err := os.ReadFile(p)
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, "zip content")

				r := server.Requests()[0]
				So(r.Path, ShouldEqual, "/api/v3/databases/NSE/data")
				So(r.Header.Get("x-api-token"), ShouldEqual, testKey)
			})

			Convey("into a named file", func() {
				dest := filepath.Join(dir, "nse.zip")
				p, err := client.DownloadDatabase(ctx, "NSE", dest, url.Values{
					"download_type": {"partial"}})
				So(err, ShouldBeNil)
				So(p, ShouldEqual, dest)
				b, err := os.ReadFile(dest)
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, "zip content")
				So(server.Requests()[0].Query.Get("download_type"), ShouldEqual, "partial")
			})

			Convey("requires a destination", func() {
				_, err := client.DownloadDatabase(ctx, "NSE", "", nil)
				So(apierr.IsKind(err, apierr.KindGeneric), ShouldBeTrue)
				So(len(server.Requests()), ShouldEqual, 0)
			})

			Convey("propagates API errors", func() {
				server404 := newScriptServer(errorResponse(404, "QECx02"))
				defer server404.Close()
				client404 := newTestClient(server404.Server, &sr, nil)
				_, err := client404.DownloadDatabase(ctx, "NSE", dir, nil)
				So(apierr.IsKind(err, apierr.KindNotFound), ShouldBeTrue)
			})
		})
	})
}
