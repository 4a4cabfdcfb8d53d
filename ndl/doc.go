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

// Package ndl is a client for the Nasdaq Data Link (NDL) API.
//
// Official documentation is at https://docs.data.nasdaq.com/docs/tables-1 .
//
// A Client is created from a config.Config snapshot. Every request goes through
// a retrying transport (see package retry), and failures are reported as
// *apierr.Error with a Kind derived from the API error code.
//
// Each NDL table has a schema, which is the list of column names and their
// types, in the order they appear in the table. The schema of the original
// table is available via TableMetadata(). Each page of results also includes
// its schema, which may be a subset of the full schema if only a subset of
// columns was requested.
//
// The server returns up to 10K rows per page, with a cursor for the next
// page. Pager follows the cursor one page at a time, and FetchAll merges the
// pages into a single Datatable, subject to the configured page limit. Larger
// tables are better exported in bulk with BulkDownload.
package ndl
