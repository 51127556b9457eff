package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stevemurr/knowledge-vault/archive"
	"github.com/stevemurr/knowledge-vault/store"
)

func (a *app) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot",
		Aliases: []string{"snap"},
		Short:   "Create, inspect, restore and archive snapshots",
	}
	cmd.AddCommand(
		a.snapshotCreateCmd(),
		a.snapshotListCmd(),
		a.snapshotShowCmd(),
		a.snapshotRollbackCmd(),
		a.snapshotDeleteCmd(),
		a.snapshotExportCmd(),
		a.snapshotImportCmd(),
		a.snapshotArchivedCmd(),
		a.snapshotUnarchiveCmd(),
	)
	return cmd
}

func (a *app) snapshotCreateCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create <namespace>",
		Short: "Snapshot the current documents",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.namespace(args[0])
			if err != nil {
				return err
			}
			id, err := ds.CreateSnapshot(description)
			if err != nil {
				return err
			}
			return a.emit(map[string]string{"namespace": ds.Name(), "snapshot": id}, func(w io.Writer) {
				fmt.Fprintln(w, id)
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "snapshot description")
	return cmd
}

func (a *app) snapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <namespace>",
		Short: "List snapshots, newest first",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.namespace(args[0])
			if err != nil {
				return err
			}
			infos, err := ds.ListSnapshots()
			if err != nil {
				return err
			}
			return a.emit(infos, func(w io.Writer) {
				if len(infos) == 0 {
					fmt.Fprintln(w, "no snapshots")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREATED\tDOCS\tDESCRIPTION")
				for _, info := range infos {
					if info.Unavailable {
						fmt.Fprintf(tw, "%s\t-\t-\t%s\n", info.ID, info.Description)
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", info.ID, info.CreatedAt.Format(time.RFC3339), info.DocumentCount, info.Description)
				}
				_ = tw.Flush()
			})
		},
	}
}

func (a *app) snapshotShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <namespace> <id>",
		Short: "Print a snapshot with its documents",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.namespace(args[0])
			if err != nil {
				return err
			}
			snap, err := ds.Snapshot(args[1])
			if err != nil {
				return err
			}
			return a.emit(snap, func(w io.Writer) {
				fmt.Fprintf(w, "id:          %s\n", snap.ID)
				fmt.Fprintf(w, "created:     %s\n", snap.CreatedAt.Format(time.RFC3339Nano))
				fmt.Fprintf(w, "description: %s\n", snap.Description)
				printDocs(w, snap.Documents)
			})
		},
	}
}

func (a *app) snapshotRollbackCmd() *cobra.Command {
	var safety bool
	cmd := &cobra.Command{
		Use:   "rollback <namespace> <id>",
		Short: "Replace the current documents with a snapshot",
		Long: `Replace the current documents with the content of a snapshot. The current
state is discarded unless --safety-snapshot is given, which snapshots it first.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.namespace(args[0])
			if err != nil {
				return err
			}
			id := args[1]
			// Resolve the target first so a bad id does not leave a stray
			// safety snapshot behind.
			if _, err := ds.Snapshot(id); err != nil {
				return err
			}
			var safetyID string
			if safety {
				safetyID, err = ds.CreateSnapshot("before rollback to " + id)
				if err != nil {
					return err
				}
			}
			if err := ds.Rollback(id); err != nil {
				return err
			}
			out := map[string]string{"namespace": ds.Name(), "snapshot": id}
			if safetyID != "" {
				out["safety_snapshot"] = safetyID
			}
			return a.emit(out, func(w io.Writer) {
				if safetyID != "" {
					fmt.Fprintf(w, "saved current state as %s\n", safetyID)
				}
				fmt.Fprintf(w, "rolled back %s to %s\n", ds.Name(), id)
			})
		},
	}
	cmd.Flags().BoolVar(&safety, "safety-snapshot", false, "snapshot the current state before rolling back")
	return cmd
}

func (a *app) snapshotDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <namespace> <id>",
		Short: "Delete one snapshot",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.namespace(args[0])
			if err != nil {
				return err
			}
			if err := ds.DeleteSnapshot(args[1]); err != nil {
				return err
			}
			return a.emit(map[string]string{"namespace": ds.Name(), "deleted": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted snapshot %s\n", args[1])
			})
		},
	}
}

// archiver builds the archive configured in the archive section. Buckets
// are only created when writing.
func (a *app) archiver(ctx context.Context, write bool) (*archive.Archiver, error) {
	ac := a.cfg.Archive
	var sink archive.Sink
	switch ac.Kind {
	case "minio":
		client, err := archive.DialMinio(archive.MinioOptions{
			Endpoint:  ac.Endpoint,
			AccessKey: ac.AccessKey,
			SecretKey: ac.SecretKey,
			Secure:    ac.Secure,
		})
		if err != nil {
			return nil, err
		}
		ms := archive.NewMinioSink(client, ac.Bucket, ac.Prefix)
		if write {
			if err := ms.EnsureBucket(ctx); err != nil {
				return nil, fmt.Errorf("archive: bucket %s: %w", ac.Bucket, err)
			}
		}
		sink = ms
	default:
		sink = archive.NewDirSink(ac.Dir, nil)
	}
	return archive.New(sink, archive.WithConcurrency(ac.Concurrency), archive.WithLogger(a.logger)), nil
}

func printKeys(w io.Writer, keys []string) {
	if len(keys) == 0 {
		fmt.Fprintln(w, "no bundles")
		return
	}
	for _, k := range keys {
		fmt.Fprintln(w, k)
	}
}

func (a *app) snapshotExportCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "export <namespace> [id]",
		Short: "Copy snapshots to the configured archive",
		Args:  rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 2) {
				return fmt.Errorf("%w: give either a snapshot id or --all", errUsage)
			}
			ds, err := a.namespace(args[0])
			if err != nil {
				return err
			}
			arc, err := a.archiver(cmd.Context(), true)
			if err != nil {
				return err
			}
			var keys []string
			if all {
				keys, err = arc.ExportAll(cmd.Context(), ds)
			} else {
				var key string
				key, err = arc.Export(cmd.Context(), ds, args[1])
				keys = []string{key}
			}
			if err != nil {
				return err
			}
			return a.emit(keys, func(w io.Writer) { printKeys(w, keys) })
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "export every snapshot of the namespace")
	return cmd
}

func (a *app) snapshotImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <namespace> <key>",
		Short: "Record an archived bundle as a new snapshot",
		Long: `Fetch a bundle from the configured archive and record it as a new snapshot
of the namespace. The current documents are not changed; roll back to the new
snapshot to restore them.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.namespace(args[0])
			if err != nil {
				return err
			}
			arc, err := a.archiver(cmd.Context(), false)
			if err != nil {
				return err
			}
			id, err := arc.Import(cmd.Context(), ds, args[1])
			if err != nil {
				return err
			}
			return a.emit(map[string]string{"namespace": ds.Name(), "snapshot": id, "key": args[1]}, func(w io.Writer) {
				fmt.Fprintln(w, id)
			})
		},
	}
}

func (a *app) snapshotArchivedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archived <namespace>",
		Short: "List archived bundles of a namespace",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.ValidateName(args[0]); err != nil {
				return err
			}
			arc, err := a.archiver(cmd.Context(), false)
			if err != nil {
				return err
			}
			keys, err := arc.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if keys == nil {
				keys = []string{}
			}
			return a.emit(keys, func(w io.Writer) { printKeys(w, keys) })
		},
	}
}

func (a *app) snapshotUnarchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unarchive <namespace> <key>",
		Short: "Delete an archived bundle",
		Long: `Delete a bundle from the configured archive. Snapshots in the namespace are
not touched. Deleting a key that is not archived succeeds.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.ValidateName(args[0]); err != nil {
				return err
			}
			arc, err := a.archiver(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := arc.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return a.emit(map[string]string{"namespace": args[0], "deleted": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %s\n", args[1])
			})
		},
	}
}
