package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/stevemurr/knowledge-vault/ingest"
	"github.com/stevemurr/knowledge-vault/store"
)

func (a *app) namespaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "namespace",
		Aliases: []string{"ns"},
		Short:   "Create, delete and list namespaces",
	}
	cmd.AddCommand(a.namespaceCreateCmd(), a.namespaceDeleteCmd(), a.namespaceListCmd())
	return cmd
}

func (a *app) namespaceCreateCmd() *cobra.Command {
	var (
		noInitial bool
		data      []string
		flags     ingestFlags
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a namespace, optionally filled from source files",
		Long: `Create a namespace. With --data, the given files and directories are read,
cut into overlapping chunks and added as documents; if any source cannot be
read nothing is created. Unless disabled in the config or with
--no-initial-snapshot, an "initial_creation" snapshot is then taken.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				in      *ingest.Ingester
				sources []ingest.Source
				rep     ingest.Report
			)
			if len(data) > 0 {
				var err error
				if in, err = a.ingester(cmd, &flags); err != nil {
					return err
				}
				if sources, err = in.Prepare(cmd.Context(), data); err != nil {
					return err
				}
			} else if cmd.Flags().Changed("chunk-size") || cmd.Flags().Changed("overlap") || cmd.Flags().Changed("include") {
				return fmt.Errorf("%w: --chunk-size, --overlap and --include need --data", errUsage)
			}
			r, err := a.open()
			if err != nil {
				return err
			}
			co := store.CreateOptions{InitialSnapshot: a.cfg.InitialSnapshot && !noInitial}
			if in != nil {
				co.Populate = func(ds *store.DocumentStore) (err error) {
					rep, err = in.Add(cmd.Context(), ds, sources)
					return err
				}
			}
			ds, err := r.CreateWith(args[0], co)
			if err != nil {
				return err
			}
			out := map[string]any{"namespace": ds.Name(), "initial_snapshot": co.InitialSnapshot}
			if in != nil {
				out["ingested"] = rep
			}
			return a.emit(out, func(w io.Writer) {
				fmt.Fprintf(w, "created namespace %s\n", ds.Name())
				if in != nil {
					printReport(w, rep)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&noInitial, "no-initial-snapshot", false, "do not take the initial snapshot")
	cmd.Flags().StringArrayVar(&data, "data", nil, "source file or directory to ingest, repeatable")
	flags.register(cmd)
	return cmd
}

func (a *app) namespaceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a namespace with all its documents and snapshots",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			if err := r.Delete(args[0]); err != nil {
				return err
			}
			return a.emit(map[string]any{"namespace": args[0], "deleted": true}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted namespace %s\n", args[0])
			})
		},
	}
}

func (a *app) namespaceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List namespaces",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			names, err := r.List()
			if err != nil {
				return err
			}
			return a.emit(names, func(w io.Writer) {
				if len(names) == 0 {
					fmt.Fprintln(w, "no namespaces")
					return
				}
				for _, name := range names {
					fmt.Fprintln(w, name)
				}
			})
		},
	}
}
