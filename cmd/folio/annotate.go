package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/folio-reader/folio/internal/controller"
	"github.com/folio-reader/folio/internal/engine"
	"github.com/spf13/cobra"
)

var (
	flagNotePage int
	flagNoteText string
	flagNoteAt   []float32
	flagNoteOut  string
)

func init() {
	annotateCmd.Flags().IntVar(&flagNotePage, "page", 1, "page to annotate")
	annotateCmd.Flags().StringVar(&flagNoteText, "text", "", "note contents")
	annotateCmd.Flags().Float32SliceVar(&flagNoteAt, "at", []float32{10, 10}, "note position x,y")
	annotateCmd.Flags().StringVar(&flagNoteOut, "out", "", "where to save, default is the input file")
	_ = annotateCmd.MarkFlagRequired("text")
}

var annotateCmd = &cobra.Command{
	Use:   "annotate <file>",
	Short: "annotate adds a text note to a page and saves the document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(flagNoteAt) != 2 {
			return fmt.Errorf("--at needs exactly two values, got %d", len(flagNoteAt))
		}
		ctx := cmd.Context()
		sess, err := openSession(ctx, config, args[0], flagMetrics)
		if err != nil {
			return err
		}
		out := flagNoteOut
		if out == "" {
			out = args[0]
		}
		at := engine.Point{X: flagNoteAt[0], Y: flagNoteAt[1]}
		err = runAnnotate(ctx, cmd.OutOrStdout(), sess, flagNotePage-1, at, flagNoteText, out)
		return errors.Join(err, sess.Close(ctx))
	},
}

func runAnnotate(ctx context.Context, w io.Writer, sess *session, page int, at engine.Point, text, out string) error {
	notes := controller.NewAnnotations(sess.sched, sess.doc, sess.dirty)
	j, err := notes.AddText(page, []engine.Point{at}, text, nil)
	if err != nil {
		return err
	}
	if _, err := wait(ctx, j); err != nil {
		return fmt.Errorf("adding note: %w", err)
	}

	sj, err := sess.save.Save(out, nil)
	if err != nil {
		return err
	}
	if _, err := wait(ctx, sj); err != nil {
		return fmt.Errorf("saving %s: %w", out, err)
	}
	fmt.Fprintf(w, "note added to page %d, saved to %s\n", page+1, out)
	return nil
}
