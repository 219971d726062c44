package commands

import (
	"log/slog"

	"novelarc/lib/scrapers/novel"
	"novelarc/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(catalogCmd)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog <book-id>",
	Short: "Fetches the structural index of a book and saves it to the archive.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setup()
		defer e.archive.Close()
		ctx := cmd.Context()

		catalog := novel.NewCatalog(e.client)
		book, err := catalog.Fetch(ctx, args[0])
		if err != nil {
			serviceutil.Fatal("failed to fetch catalog", err)
		}

		err = e.archive.SaveBook(ctx, book)
		if err != nil {
			serviceutil.Fatal("failed to save structural index", err)
		}

		slog.Info("saved structural index",
			"book", book.Name, "chapters", len(book.Chapters()))
	},
}
