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

// Command datalink queries Nasdaq Data Link tables from the command line.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/stockparfait/datalink/apikey"
	"github.com/stockparfait/datalink/config"
	"github.com/stockparfait/datalink/ndl"
	"github.com/stockparfait/datalink/table"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

// Flags common to all the commands.
type Flags struct {
	Config   string // TOML configuration file; empty = defaults
	KeyFile  string // default: ~/.nasdaq/data_link_apikey
	LogLevel string
}

type app struct {
	flags  Flags
	out    io.Writer
	config *config.Config
}

// setup configures logging and loads the configuration.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	var level logging.Level
	if err := level.Set(a.flags.LogLevel); err != nil {
		return errors.Annotate(err, "invalid --log-level")
	}
	ctx := logging.Use(cmd.Context(), logging.DefaultGoLogger(level))
	cmd.SetContext(ctx)

	if a.flags.Config == "" {
		a.config = config.New()
		return nil
	}
	c, err := config.Load(a.flags.Config)
	if err != nil {
		return errors.Annotate(err, "failed to load config")
	}
	a.config = c
	return nil
}

// client creates an API client, resolving the API key unless the
// configuration already has one.
func (a *app) client(ctx context.Context) (*ndl.Client, error) {
	c := a.config.Copy()
	if c.APIKey == "" {
		key, err := apikey.ResolveContext(ctx, a.flags.KeyFile)
		if err != nil {
			return nil, errors.Annotate(err, "failed to resolve API key")
		}
		c.APIKey = key
	}
	if c.APIKey == "" {
		logging.Warningf(ctx, "no API key found; requests are anonymous")
	}
	return ndl.NewClient(c)
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:               "datalink",
		Short:             "Query Nasdaq Data Link tables",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.flags.Config, "config", "",
		"TOML configuration file")
	root.PersistentFlags().StringVar(&a.flags.KeyFile, "key-file", "",
		"API key file (default: "+apikey.DefaultFile()+")")
	root.PersistentFlags().StringVar(&a.flags.LogLevel, "log-level", "info",
		"Log level: debug, info, warning, error")

	root.AddCommand(a.keyCmd(), a.tableCmd(), a.metadataCmd(), a.exportCmd())
	return root
}

func (a *app) keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the API key",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "save KEY",
		Short: "Save the API key to the key file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := a.flags.KeyFile
			if file == "" {
				file = apikey.DefaultFile()
			}
			if err := apikey.Save(args[0], file); err != nil {
				return errors.Annotate(err, "failed to save API key")
			}
			fmt.Fprintf(a.out, "API key saved to %s\n", file)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the API key in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := a.config.APIKey
			if key == "" {
				var err error
				if key, err = apikey.ResolveContext(cmd.Context(), a.flags.KeyFile); err != nil {
					return err
				}
			}
			if key == "" {
				fmt.Fprintln(a.out, "no API key")
				return nil
			}
			fmt.Fprintln(a.out, key)
			return nil
		},
	})
	return cmd
}

// parseFilter splits "column=v1,v2" into the column and its values.
func parseFilter(s string) (string, []string, error) {
	col, vals, ok := strings.Cut(s, "=")
	if !ok || col == "" || vals == "" {
		return "", nil, errors.Reason("filter must be column=value[,value...]: '%s'", s)
	}
	return col, strings.Split(vals, ","), nil
}

type queryFlags struct {
	equal    []string
	lt       []string
	gt       []string
	le       []string
	ge       []string
	columns  []string
	perPage  int
	paginate bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringArrayVar(&f.equal, "filter", nil, "equality filter column=v1,v2 (repeatable)")
	fs.StringArrayVar(&f.lt, "lt", nil, "column=value: column < value")
	fs.StringArrayVar(&f.gt, "gt", nil, "column=value: column > value")
	fs.StringArrayVar(&f.le, "le", nil, "column=value: column <= value")
	fs.StringArrayVar(&f.ge, "ge", nil, "column=value: column >= value")
	fs.StringSliceVar(&f.columns, "columns", nil, "columns to return")
	fs.IntVar(&f.perPage, "per-page", 0, "rows per page; 0 = server default")
	fs.BoolVar(&f.paginate, "paginate", false, "fetch all pages")
}

// query builds the table query from the flags.
func (f *queryFlags) query(code string) (*ndl.TableQuery, error) {
	q := ndl.NewTableQuery(code)
	for _, s := range f.equal {
		col, vals, err := parseFilter(s)
		if err != nil {
			return nil, err
		}
		q = q.Equal(col, vals...)
	}
	cmps := []struct {
		values []string
		add   func(q *ndl.TableQuery, col, val string) *ndl.TableQuery
	}{
		{f.lt, (*ndl.TableQuery).Lt},
		{f.gt, (*ndl.TableQuery).Gt},
		{f.le, (*ndl.TableQuery).Le},
		{f.ge, (*ndl.TableQuery).Ge},
	}
	for _, c := range cmps {
		for _, s := range c.values {
			col, vals, err := parseFilter(s)
			if err != nil {
				return nil, err
			}
			if len(vals) != 1 {
				return nil, errors.Reason("comparison takes a single value: '%s'", s)
			}
			q = c.add(q, col, vals[0])
		}
	}
	if len(f.columns) > 0 {
		q = q.Columns(f.columns...)
	}
	if f.perPage > 0 {
		q = q.PerPage(f.perPage)
	}
	return q, nil
}

func writeTable(w io.Writer, t *table.Table, format string, p table.Params) error {
	switch format {
	case "csv":
		return t.WriteCSV(w, p)
	case "text":
		return t.WriteText(w, p)
	}
	return errors.Reason("unsupported format '%s', must be text or csv", format)
}

func (a *app) tableCmd() *cobra.Command {
	var qf queryFlags
	var format string
	var params table.Params
	cmd := &cobra.Command{
		Use:   "table CODE",
		Short: "Print the rows of a datatable, e.g. ZACKS/FC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			q, err := qf.query(args[0])
			if err != nil {
				return err
			}
			client, err := a.client(ctx)
			if err != nil {
				return err
			}
			d, err := client.FetchAll(ctx, q, qf.paginate)
			if err != nil {
				return err
			}
			return writeTable(a.out, d.Table(), format, params)
		},
	}
	qf.register(cmd)
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or csv")
	cmd.Flags().IntVar(&params.Rows, "rows", 0, "max. rows to print; 0 = all")
	cmd.Flags().IntVar(&params.MaxColWidth, "max-width", 0, "max. column width for text")
	cmd.Flags().BoolVar(&params.NoHeader, "no-header", false, "omit the header")
	return cmd
}

func (a *app) metadataCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "metadata CODE",
		Short: "Print the description and columns of a datatable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.client(ctx)
			if err != nil {
				return err
			}
			m, err := client.TableMetadata(ctx, args[0])
			if err != nil {
				return err
			}
			d := m.Datatable
			fmt.Fprintf(a.out, "%s/%s: %s\n", d.VendorCode, d.TableCode, d.Name)
			if d.Description != "" {
				fmt.Fprintln(a.out, d.Description)
			}
			fmt.Fprintf(a.out, "Status: %s, refreshed at %s, updated: %s\n",
				d.Status.Status, d.Status.RefreshedAt.Format(time.RFC3339),
				d.Status.UpdateFrequency)
			fmt.Fprintf(a.out, "Filters: %s\n", strings.Join(d.Filters, ", "))
			fmt.Fprintf(a.out, "Primary key: %s\n", strings.Join(d.PrimaryKey, ", "))

			t := table.NewTable("Column", "Type")
			for _, f := range d.Schema {
				t.AddRow(table.Values{f.Name, f.Type})
			}
			return writeTable(a.out, t, format, table.Params{})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or csv")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var qf queryFlags
	var out string
	var database bool
	var downloadType string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "export CODE",
		Short: "Download a table export as CSV, or an entire database with --database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.client(ctx)
			if err != nil {
				return err
			}
			if database {
				var params url.Values
				if downloadType != "" {
					params = url.Values{"download_type": {downloadType}}
				}
				p, err := client.DownloadDatabase(ctx, args[0], out, params)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "database %s saved to %s\n", args[0], p)
				return nil
			}
			q, err := qf.query(args[0])
			if err != nil {
				return err
			}
			return a.exportTable(ctx, client, q, out, interval)
		},
	}
	qf.register(cmd)
	cmd.Flags().StringVar(&out, "out", "", "output file or folder; default: stdout for tables")
	cmd.Flags().BoolVar(&database, "database", false, "CODE is a database to download entirely")
	cmd.Flags().StringVar(&downloadType, "download-type", "",
		"database download type, e.g. partial")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second,
		"how often to check whether a table export is ready")
	return cmd
}

// exportTable waits for the table export and copies its CSV rows to out, or
// to the app's output when out is empty.
func (a *app) exportTable(ctx context.Context, client *ndl.Client, q *ndl.TableQuery, out string, interval time.Duration) error {
	h, err := client.WaitBulkDownload(ctx, q, interval)
	if err != nil {
		return err
	}
	r, err := ndl.BulkDownloadCSV(ctx, h)
	if err != nil {
		return errors.Annotate(err, "failed to download export of %s", q.Table())
	}
	defer r.Close()

	w := a.out
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return errors.Annotate(err, "failed to create '%s'", out)
		}
		defer f.Close()
		w = f
	}
	cw := csv.NewWriter(w)
	rows := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Annotate(err, "failed to read row %d", rows)
		}
		if err := cw.Write(row); err != nil {
			return errors.Annotate(err, "failed to write row %d", rows)
		}
		rows++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Annotate(err, "failed to write CSV")
	}
	logging.Infof(ctx, "exported %d rows of %s", rows, q.Table())
	return nil
}

func main() {
	ctx := context.Background()
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		ctx := logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Warningf(ctx, "failed to load .env: %s", err.Error())
	}
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
