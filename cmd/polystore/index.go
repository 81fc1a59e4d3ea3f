package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/filter"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage secondary indexes",
	}

	var def store.IndexDefinition
	var params []string
	create := &cobra.Command{
		Use:   "create TABLE NAME",
		Short: "Create an index and wait until it is usable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, p, err := openDriver()
			if err != nil {
				return err
			}
			defer driver.Close()
			def.Table, def.Name = p.Namespace+args[0], args[1]
			if len(params) > 0 {
				def.StorageParams = map[string]string{}
				for _, kv := range params {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return errors.Errorf("storage parameter %q is not key=value", kv)
					}
					def.StorageParams[k] = v
				}
			}
			if err := driver.CreateIndex(cmd.Context(), &def); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "index %s ready on %s\n", def.Name, def.Table)
			return nil
		},
	}
	create.Flags().StringSliceVar(&def.Columns, "columns", nil, "indexed columns or dotted paths, in order")
	create.Flags().BoolVar(&def.Unique, "unique", false, "reject duplicate keys")
	create.Flags().StringVar(&def.Where, "where", "", "partial index predicate")
	create.Flags().StringVar(&def.Method, "method", "", "backend index method, e.g. btree, gin or keyword")
	create.Flags().StringSliceVar(&params, "with", nil, "storage parameter key=value")
	create.Flags().StringVar(&def.Tablespace, "tablespace", "", "tablespace for the index")
	_ = create.MarkFlagRequired("columns")

	drop := &cobra.Command{
		Use:   "drop TABLE NAME",
		Short: "Drop an index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, p, err := openDriver()
			if err != nil {
				return err
			}
			defer driver.Close()
			return driver.DropIndex(cmd.Context(), p.Namespace+args[0], args[1])
		},
	}

	list := &cobra.Command{
		Use:   "list TABLE",
		Short: "List the indexes of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, p, err := openDriver()
			if err != nil {
				return err
			}
			defer driver.Close()
			infos, err := driver.ListIndexes(cmd.Context(), p.Namespace+args[0])
			if err != nil {
				return err
			}
			return printIndexes(cmd.OutOrStdout(), infos)
		},
	}

	describe := &cobra.Command{
		Use:   "describe TABLE NAME",
		Short: "Show one index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, p, err := openDriver()
			if err != nil {
				return err
			}
			defer driver.Close()
			info, err := driver.DescribeIndex(cmd.Context(), p.Namespace+args[0], args[1])
			if err != nil {
				return err
			}
			if info == nil {
				return errors.Errorf("index %s not found on %s", args[1], args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}

	cmd.AddCommand(create, drop, list, describe)
	return cmd
}

func printIndexes(out io.Writer, infos []*store.IndexInfo) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOLUMNS\tUNIQUE\tMETHOD\tSIZE")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\n", info.Name, strings.Join(info.Columns, ","), info.Unique, info.Method, info.SizeBytes)
	}
	return w.Flush()
}

func newExplainCmd() *cobra.Command {
	var raw, expr string
	cmd := &cobra.Command{
		Use:   "explain TABLE",
		Short: "Print the native translation of a filter",
		Example: `  polystore explain messages --filter '{"threadId":"t1","createdAt":{"$gte":"2024-01-01T00:00:00Z"}}'
  polystore explain agents --expr "metadata.team == 'core' && status == 'published'"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFilterInput(raw, expr)
			if err != nil {
				return err
			}
			driver, p, err := openDriver()
			if err != nil {
				return err
			}
			defer driver.Close()
			// Drivers resolve column types from the registered schemas.
			s := store.New(driver, p)
			if err := s.Init(cmd.Context()); err != nil {
				return err
			}
			plan, err := driver.Explain(p.Namespace+args[0], f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plan)
			return nil
		},
	}
	cmd.Flags().StringVar(&raw, "filter", "", "filter as a JSON document")
	cmd.Flags().StringVar(&expr, "expr", "", "filter as a CEL expression")
	cmd.MarkFlagsMutuallyExclusive("filter", "expr")
	return cmd
}

func parseFilterInput(raw, expr string) (filter.Filter, error) {
	switch {
	case expr != "":
		return filter.ParseExpression(expr)
	case raw != "":
		var f filter.Filter
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, errors.Wrap(err, "filter is not a JSON object")
		}
		return f, nil
	default:
		return filter.Filter{}, nil
	}
}
