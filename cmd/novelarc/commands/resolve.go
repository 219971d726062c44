package commands

import (
	"log/slog"

	"novelarc/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resolveCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <book-id>",
	Short: "Fills in real addresses for placeholder chapters in a saved structural index.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setup()
		defer e.archive.Close()
		ctx := cmd.Context()

		book, err := e.archive.LoadBook(ctx, args[0])
		if err != nil {
			serviceutil.Fatal("failed to load structural index, run catalog first", err)
		}

		cache := e.openPageCache()
		if cache != nil {
			defer cache.Close()
		}
		resolver := e.newResolver(cache)

		results := resolver.ResolveAll(ctx, book)

		// chapters that did resolve are persisted even when others failed
		err = e.archive.SaveBook(ctx, book)
		if err != nil {
			serviceutil.Fatal("failed to save structural index", err)
		}

		failed := 0
		for _, res := range results {
			if res.Err != nil {
				failed++
			}
		}
		slog.Info("resolution finished",
			"book", book.Name, "attempted", len(results), "failed", failed)
	},
}
