package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/folio-reader/folio/internal/controller"
	"github.com/folio-reader/folio/internal/engine"
	"github.com/spf13/cobra"
)

var flagTextPages []int

func init() {
	textCmd.Flags().IntSliceVar(&flagTextPages, "pages", nil, "pages to print, default is all of them")
}

var textCmd = &cobra.Command{
	Use:   "text <file>",
	Short: "text prints the text, links and annotations of the pages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := openSession(ctx, config, args[0], flagMetrics)
		if err != nil {
			return err
		}
		pages := make([]int, 0, len(flagTextPages))
		for _, p := range flagTextPages {
			pages = append(pages, p-1)
		}
		if len(pages) == 0 {
			for p := range sess.doc.PageCount() {
				pages = append(pages, p)
			}
		}
		err = runText(ctx, cmd.OutOrStdout(), sess, pages)
		return errors.Join(err, sess.Close(ctx))
	},
}

func runText(ctx context.Context, w io.Writer, sess *session, pages []int) error {
	content := controller.NewContent(sess.sched, sess.doc, config.PoolSize())
	j, err := content.LoadPages(pages, nil)
	if err != nil {
		return err
	}
	res, err := wait(ctx, j)
	if err != nil {
		return err
	}
	for _, pc := range res {
		fmt.Fprintf(w, "--- page %d\n", pc.Page+1)
		for _, line := range pc.Lines {
			words := make([]string, len(line.Words))
			for i, word := range line.Words {
				words[i] = word.Text
			}
			fmt.Fprintln(w, strings.Join(words, " "))
		}
		for _, l := range pc.Links {
			switch l.Kind {
			case engine.LinkInternal:
				fmt.Fprintf(w, "link: page %d\n", l.Page+1)
			default:
				fmt.Fprintf(w, "link: %s\n", l.URI)
			}
		}
		for _, a := range pc.Annotations {
			fmt.Fprintf(w, "%s #%d: %s\n", a.Type, a.ObjectNumber, a.Text)
		}
	}
	return nil
}
