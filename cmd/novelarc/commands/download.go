package commands

import (
	"fmt"
	"log/slog"
	"time"

	"novelarc/lib/render"
	"novelarc/lib/scrapers/novel"
	"novelarc/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

var (
	downloadChapter *int
	downloadForce   *bool
	noHeadless      *bool
)

func init() {
	downloadChapter = downloadCmd.Flags().Int("chapter", 0, "Download a single chapter by index instead of the whole book.")
	downloadForce = downloadCmd.Flags().Bool("force", false, "Redownload chapters that are already archived.")
	noHeadless = downloadCmd.Flags().Bool("no-headless", false, "Show the browser window.")
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download <book-id> [--chapter <index>] [--force]",
	Short: "Renders, assembles and archives chapter content for a book.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := setup()
		defer e.archive.Close()
		ctx := cmd.Context()

		book, err := e.archive.LoadBook(ctx, args[0])
		if err != nil {
			serviceutil.Fatal("failed to load structural index, run catalog first", err)
		}

		// fill in any placeholder addresses first so assembly sees as
		// many reachable chapters as possible
		if hasPlaceholders(book) {
			cache := e.openPageCache()
			if cache != nil {
				defer cache.Close()
			}
			e.newResolver(cache).ResolveAll(ctx, book)
			err = e.archive.SaveBook(ctx, book)
			if err != nil {
				serviceutil.Fatal("failed to save structural index", err)
			}
		}

		session, err := render.NewBrowserSession(ctx, render.BrowserOptions{
			Headless: !*noHeadless,
		})
		if err != nil {
			serviceutil.Fatal("failed to start rendering session", err)
		}
		defer session.Close()

		detector := render.NewDetector(session, render.DetectorOptions{
			Gate:             e.gate,
			LoadTimeout:      time.Duration(e.cfg.LoadTimeoutMs) * time.Millisecond,
			StabilizeTimeout: time.Duration(e.cfg.StabilizeMs) * time.Millisecond,
		})
		assembler, err := novel.NewAssembler(novel.AssemblerOptions{
			Detector:    detector,
			Client:      e.client,
			Archive:     e.archive,
			MaxSubPages: e.cfg.MaxSubPages,
			Force:       *downloadForce,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize assembler", err)
		}

		if *downloadChapter > 0 {
			chapter := book.ChapterByIndex(*downloadChapter)
			if chapter == nil {
				serviceutil.Fatal("no such chapter", fmt.Errorf("index %d", *downloadChapter))
			}
			res := assembler.Assemble(ctx, book.ID, chapter)
			if res.Err != nil {
				serviceutil.Fatal("failed to assemble chapter", res.Err)
			}
			slog.Info("chapter done", "index", res.Index, "status", res.Status)
			return
		}

		out := assembler.AssembleAll(ctx, book)
		slog.Info("download finished",
			"book", book.Name,
			"assembled", out.Count(novel.StatusAssembled),
			"skipped", out.Count(novel.StatusSkipped),
			"failed", out.Count(novel.StatusFailed),
		)
	},
}

func hasPlaceholders(book *novel.Book) bool {
	for _, c := range book.Chapters() {
		if c.NeedsResolve {
			return true
		}
	}
	return false
}
