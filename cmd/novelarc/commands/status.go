package commands

import (
	"fmt"
	"os"

	"novelarc/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <book-id>",
	Short: "Shows per-chapter resolution and archive state for a book.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setup()
		defer e.archive.Close()
		ctx := cmd.Context()

		book, err := e.archive.LoadBook(ctx, args[0])
		if err != nil {
			serviceutil.Fatal("failed to load structural index, run catalog first", err)
		}
		indexes, err := e.archive.Indexes(ctx, book.ID)
		if err != nil {
			serviceutil.Fatal("failed to list archived chapters", err)
		}
		archived := map[int]bool{}
		for _, idx := range indexes {
			archived[idx] = true
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetTitle("%s / %s", book.Name, book.Author)
		t.AppendHeader(table.Row{"#", "Chapter", "Resolved", "Archived"})

		resolved := 0
		for _, c := range book.Chapters() {
			if c.Resolved() {
				resolved++
			}
			t.AppendRow(table.Row{c.Index, c.Title, c.Resolved(), archived[c.Index]})
		}
		t.AppendFooter(table.Row{
			"", "total",
			formatCount(resolved, len(book.Chapters())),
			formatCount(len(indexes), len(book.Chapters())),
		})
		t.Render()
	},
}

func formatCount(n, total int) string {
	return fmt.Sprintf("%d/%d", n, total)
}
