package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/folio-reader/folio/internal/alert"
	"github.com/folio-reader/folio/internal/engine"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts <file> <script.yaml>",
	Short: "alerts raises the scripted alerts in a document and answers them",
	Long: `alerts replays a YAML list of alerts through the alert exchange, e.g.

- title: Save changes?
  icon: question
  buttons: yes_no
  press: yes`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("opening alert script: %w", err)
		}
		script, err := loadScript(f)
		_ = f.Close()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		sess, err := openSession(ctx, config, args[0], flagMetrics)
		if err != nil {
			return err
		}
		err = runAlerts(ctx, cmd.OutOrStdout(), sess, script)
		return errors.Join(err, sess.Close(ctx))
	},
}

type scriptedAlert struct {
	Title   string `yaml:"title"`
	Message string `yaml:"message"`
	Icon    string `yaml:"icon"`
	Buttons string `yaml:"buttons"`
	Press   string `yaml:"press"`
}

type scriptStep struct {
	alert engine.Alert
	press engine.AlertButton
}

var (
	icons = map[string]engine.AlertIcon{
		"":         engine.AlertIconStatus,
		"error":    engine.AlertIconError,
		"warning":  engine.AlertIconWarning,
		"question": engine.AlertIconQuestion,
		"status":   engine.AlertIconStatus,
	}
	buttonSets = map[string]engine.AlertButtons{
		"":              engine.AlertButtonsOk,
		"ok":            engine.AlertButtonsOk,
		"ok_cancel":     engine.AlertButtonsOkCancel,
		"yes_no":        engine.AlertButtonsYesNo,
		"yes_no_cancel": engine.AlertButtonsYesNoCancel,
	}
	buttons = map[string]engine.AlertButton{
		"none":   engine.AlertButtonNone,
		"ok":     engine.AlertButtonOk,
		"cancel": engine.AlertButtonCancel,
		"no":     engine.AlertButtonNo,
		"yes":    engine.AlertButtonYes,
	}
)

func loadScript(r io.Reader) ([]scriptStep, error) {
	var raw []scriptedAlert
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing alert script: %w", err)
	}

	steps := make([]scriptStep, 0, len(raw))
	for i, a := range raw {
		icon, ok := icons[a.Icon]
		if !ok {
			return nil, fmt.Errorf("alert %d: unknown icon %q", i+1, a.Icon)
		}
		set, ok := buttonSets[a.Buttons]
		if !ok {
			return nil, fmt.Errorf("alert %d: unknown buttons %q", i+1, a.Buttons)
		}
		press := a.Press
		if press == "" {
			press = "ok"
		}
		pressed, ok := buttons[press]
		if !ok {
			return nil, fmt.Errorf("alert %d: unknown button %q", i+1, a.Press)
		}
		steps = append(steps, scriptStep{
			alert: engine.Alert{
				Title:   a.Title,
				Message: a.Message,
				Icon:    icon,
				Buttons: set,
			},
			press: pressed,
		})
	}
	return steps, nil
}

func runAlerts(ctx context.Context, w io.Writer, sess *session, script []scriptStep) error {
	ex := alert.New(sess.sched, sess.doc)
	replied := make(chan error, 1)
	next := 0
	err := ex.Start(func(a engine.Alert) {
		a.Pressed = script[next].press
		next++
		fmt.Fprintf(w, "alert %q answered with %s\n", a.Title, buttonName(a.Pressed))
		replied <- ex.Reply(a)
	})
	if err != nil {
		return err
	}

	for _, step := range script {
		if err = sess.doc.PushAlert(ctx, step.alert); err != nil {
			break
		}
		select {
		case err = <-replied:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			break
		}
	}
	return errors.Join(err, ex.Shutdown(ctx))
}

func buttonName(b engine.AlertButton) string {
	for name, v := range buttons {
		if v == b {
			return name
		}
	}
	return fmt.Sprintf("button(%d)", b)
}
