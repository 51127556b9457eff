package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stevemurr/knowledge-vault/agent"
)

func (a *app) docCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Add, list and search documents of a namespace",
	}
	cmd.AddCommand(a.docAddCmd(), a.docListCmd(), a.docQueryCmd())
	return cmd
}

func (a *app) docAddCmd() *cobra.Command {
	var (
		files []string
		flags ingestFlags
	)
	cmd := &cobra.Command{
		Use:   "add <namespace> [text...]",
		Short: "Add a document, or chunks of source files with --file",
		Long: `Add a document made of the remaining arguments joined with spaces. With
--file, the given files and directories are cut into overlapping chunks and
each chunk is added instead; chunks already present are skipped.`,
		Args: minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) > 0 {
				if len(args) > 1 {
					return fmt.Errorf("%w: give either text or --file", errUsage)
				}
				return a.addFiles(cmd, args[0], files, &flags)
			}
			if len(args) < 2 {
				return fmt.Errorf("%w: no text to add", errUsage)
			}
			ds, err := a.namespace(args[0])
			if err != nil {
				return err
			}
			res, err := ds.AddItem(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return a.emit(map[string]any{"namespace": ds.Name(), "result": res.String()}, func(w io.Writer) {
				fmt.Fprintln(w, res)
			})
		},
	}
	cmd.Flags().StringArrayVar(&files, "file", nil, "source file or directory to ingest, repeatable")
	flags.register(cmd)
	return cmd
}

func (a *app) addFiles(cmd *cobra.Command, namespace string, files []string, flags *ingestFlags) error {
	in, err := a.ingester(cmd, flags)
	if err != nil {
		return err
	}
	ds, err := a.namespace(namespace)
	if err != nil {
		return err
	}
	rep, err := in.Ingest(cmd.Context(), ds, files)
	if err != nil {
		return err
	}
	return a.emit(map[string]any{"namespace": ds.Name(), "ingested": rep}, func(w io.Writer) {
		printReport(w, rep)
	})
}

func printDocs(w io.Writer, docs []string) {
	if len(docs) == 0 {
		fmt.Fprintln(w, "no documents")
		return
	}
	for i, d := range docs {
		fmt.Fprintf(w, "%d. %s\n", i+1, d)
	}
}

func (a *app) docListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <namespace>",
		Short: "Print the current documents in insertion order",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.namespace(args[0])
			if err != nil {
				return err
			}
			docs, err := ds.Items()
			if err != nil {
				return err
			}
			return a.emit(docs, func(w io.Writer) { printDocs(w, docs) })
		},
	}
}

func (a *app) docQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <namespace> [text]",
		Short: "Print documents containing text, ignoring case",
		Args:  rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.namespace(args[0])
			if err != nil {
				return err
			}
			var text string
			if len(args) == 2 {
				text = args[1]
			}
			docs, err := ds.Query(text)
			if err != nil {
				return err
			}
			return a.emit(docs, func(w io.Writer) { printDocs(w, docs) })
		},
	}
}

func (a *app) askCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "ask <namespace> <question...>",
		Short: "Answer a question from the documents of a namespace",
		Args:  minArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.open()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("top-k") {
				topK = a.cfg.Retrieval.TopK
			}
			ag := agent.New(agent.NewLocalRetriever(r), agent.TemplateGenerator{}, a.logger)
			ans, err := ag.Ask(cmd.Context(), args[0], strings.Join(args[1:], " "), topK)
			if err != nil {
				return err
			}
			return a.emit(ans, func(w io.Writer) { fmt.Fprintln(w, strings.TrimRight(ans.Text, "\n")) })
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of documents to retrieve (default from config)")
	return cmd
}
