package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"go.nownabe.dev/tripload/tripfile"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <uri>...",
		Short: "Print the physical Parquet schema of trip files",
		Long: `probe prints the physical column types of each file and lists columns
whose type differs between files, which is what sends a materialization
down the fallback path.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, uris []string) error {
			ctx := cmd.Context()

			opener, closeOpener, err := newOpener(ctx, configFrom(ctx), uris...)
			if err != nil {
				return err
			}
			defer closeOpener()

			schemas := make([][]tripfile.Column, len(uris))
			p := message.NewPrinter(language.English)
			w := cmd.OutOrStdout()

			for i, uri := range uris {
				f, err := opener.Open(ctx, uri)
				if err != nil {
					return err
				}
				schemas[i] = f.Columns()
				p.Fprintf(w, "%s (%d rows)\n", uri, f.NumRows())
				_ = f.Close()

				printColumns(w, schemas[i])
			}

			printDrift(w, uris, schemas)

			return nil
		},
	}
}

func printColumns(w io.Writer, cols []tripfile.Column) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range cols {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.Name, c.Physical, c.Logical)
	}
	_ = tw.Flush()
}

// drift returns, per column name, the distinct physical types seen across
// files, for columns with more than one.
func drift(schemas [][]tripfile.Column) map[string][]string {
	seen := map[string]map[string]bool{}
	for _, cols := range schemas {
		for _, c := range cols {
			if seen[c.Name] == nil {
				seen[c.Name] = map[string]bool{}
			}
			seen[c.Name][c.Physical] = true
		}
	}

	out := map[string][]string{}
	for name, types := range seen {
		if len(types) < 2 {
			continue
		}
		for t := range types {
			out[name] = append(out[name], t)
		}
		sort.Strings(out[name])
	}

	return out
}

func printDrift(w io.Writer, uris []string, schemas [][]tripfile.Column) {
	if len(uris) < 2 {
		return
	}

	d := drift(schemas)
	if len(d) == 0 {
		fmt.Fprintln(w, "no type drift")
		return
	}

	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "type drift:")
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %s\n", name, strings.Join(d[name], ", "))
	}
}
