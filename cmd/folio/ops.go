package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/folio-reader/folio/internal/pdfops"
	"github.com/spf13/cobra"
)

var flagKeyBits int

func init() {
	encryptCmd.Flags().IntVar(&flagKeyBits, "bits", 256, "key length: 40, 128 or 256")

	opsCmd.AddCommand(
		opCommand("merge <a> <b> <out>", "merge concatenates two documents", 3, func(args []string) pdfops.Op {
			return pdfops.Merge{A: args[0], B: args[1], Out: args[2]}
		}),
		opCommand("extract <in> <pages> <out>", "extract copies the selected pages, e.g. 1-3,7", 3, func(args []string) pdfops.Op {
			return pdfops.Extract{In: args[0], PageSpec: args[1], Out: args[2]}
		}),
		opCommand("rotate <in> <expr> <out>", "rotate turns pages, e.g. +90:1-2", 3, func(args []string) pdfops.Op {
			return pdfops.Rotate{In: args[0], Expr: args[1], Out: args[2]}
		}),
		opCommand("linearize <in> <out>", "linearize optimizes a document for web viewing", 2, func(args []string) pdfops.Op {
			return pdfops.Linearize{In: args[0], Out: args[1]}
		}),
		opCommand("decrypt <in> <password> <out>", "decrypt removes the encryption", 3, func(args []string) pdfops.Op {
			return pdfops.Decrypt{In: args[0], Password: args[1], Out: args[2]}
		}),
		assembleCmd,
		encryptCmd,
		rawCmd,
	)
}

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "ops runs structural operations through qpdf, enable them with qpdf.enabled",
}

var assembleCmd = &cobra.Command{
	Use:   "assemble <out> <file> <pages> [<file> <pages>...]",
	Short: "assemble builds a document from page selections of several files",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOp(cmd, pdfops.Assemble{Out: args[0], Selections: args[1:]})
	},
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt <in> <user-password> <owner-password> <out>",
	Short: "encrypt protects a document with passwords",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOp(cmd, pdfops.Encrypt{
			In:            args[0],
			UserPassword:  args[1],
			OwnerPassword: args[2],
			KeyBits:       flagKeyBits,
			Out:           args[3],
		})
	},
}

var rawCmd = &cobra.Command{
	Use:   "raw -- <qpdf args>...",
	Short: "raw passes the arguments to qpdf as they are",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := openSession(ctx, config, "", flagMetrics)
		if err != nil {
			return err
		}
		if !sess.toolkit.Run(ctx, args) {
			err = errors.New("qpdf failed, see the log for details")
		}
		return errors.Join(err, sess.Close(ctx))
	},
}

func opCommand(use, short string, nargs int, build func(args []string) pdfops.Op) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOp(cmd, build(args))
		},
	}
}

func withOp(cmd *cobra.Command, op pdfops.Op) error {
	ctx := cmd.Context()
	sess, err := openSession(ctx, config, "", flagMetrics)
	if err != nil {
		return err
	}
	err = runOp(ctx, cmd.OutOrStdout(), sess, op)
	return errors.Join(err, sess.Close(ctx))
}

func runOp(ctx context.Context, w io.Writer, sess *session, op pdfops.Op) error {
	j, err := sess.save.Structural(op, nil)
	if err != nil {
		return err
	}
	if _, err := wait(ctx, j); err != nil {
		var opErr *pdfops.OpError
		if errors.As(err, &opErr) {
			slog.ErrorContext(ctx, "qpdf failed", "op", opErr.Op, "command_log", opErr.CommandLog)
		}
		return err
	}
	fmt.Fprintf(w, "%s: wrote %s\n", op.Name(), op.Output())
	return nil
}
