package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/folio-reader/folio/internal/search"
	"github.com/spf13/cobra"
)

var (
	flagBackward bool
	flagFrom     int
)

func init() {
	searchCmd.Flags().BoolVar(&flagBackward, "backward", false, "walk the pages backward")
	searchCmd.Flags().IntVar(&flagFrom, "from", 1, "page to start at, negative values count from the end")
}

var searchCmd = &cobra.Command{
	Use:   "search <file> <query>",
	Short: "search walks every page once, starting at --from and wrapping around",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := openSession(ctx, config, args[0], flagMetrics)
		if err != nil {
			return err
		}
		dir := search.Forward
		if flagBackward {
			dir = search.Backward
		}
		start := flagFrom - 1
		if flagFrom < 0 {
			start = flagFrom
		}
		err = runSearch(ctx, cmd.OutOrStdout(), sess, args[1], dir, start)
		return errors.Join(err, sess.Close(ctx))
	},
}

func runSearch(ctx context.Context, w io.Writer, sess *session, query string, dir search.Direction, start int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	e := search.New(sess.sched, sess.doc)
	e.Start(query, dir, start, search.Callbacks{
		OnProgress: func(page int) {
			slog.DebugContext(ctx, "searching", "page", page)
		},
		OnResult: func(hit *search.Hit) {
			r := hit.Focused()
			fmt.Fprintf(w, "page %d: %d match(es), focus at %.0f,%.0f\n", hit.Page+1, len(hit.Rects), r.X0, r.Y0)
		},
		OnComplete: func(first *search.Hit) {
			if first == nil {
				fmt.Fprintf(w, "%q not found\n", query)
			} else {
				fmt.Fprintf(w, "first match of %q on page %d\n", query, first.Page+1)
			}
			done <- nil
		},
		OnCancelled: func() {
			done <- context.Canceled
		},
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		e.Stop()
		<-done
		return ctx.Err()
	}
}
