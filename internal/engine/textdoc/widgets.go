package textdoc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/folio-reader/folio/internal/engine"
)

func (d *Doc) WidgetAreas(ctx context.Context, page int) ([]engine.Rect, error) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	if _, err := d.page(page); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]engine.Rect, 0, len(d.fields[page]))
	for _, f := range d.fields[page] {
		out = append(out, f.rect)
	}
	return out, nil
}

// PassClick focuses the field under (x, y), or clears the focus when there is none.
func (d *Doc) PassClick(ctx context.Context, page int, x, y float32) (engine.PassClickResult, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if _, err := d.page(page); err != nil {
		return engine.PassClickResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return engine.PassClickResult{}, err
	}
	d.focused = nil
	for i, f := range d.fields[page] {
		if !f.rect.Contains(x, y) {
			continue
		}
		d.focused = &focus{page: page, index: i}
		return engine.PassClickResult{
			Kind:     f.kind,
			Text:     f.value,
			Options:  slices.Clone(f.options),
			Selected: slices.Clone(f.selected),
			Signed:   f.signer != "",
		}, nil
	}
	return engine.PassClickResult{Kind: engine.WidgetNone}, nil
}

// focusedField must be called with the write lock held
func (d *Doc) focusedField(kind engine.WidgetKind) (*field, error) {
	if d.focused == nil {
		return nil, engine.ErrNoFocusedWidget
	}
	f := d.fields[d.focused.page][d.focused.index]
	if f.kind != kind {
		return nil, fmt.Errorf("focused field %s has a different kind: %w", f.name, engine.ErrNoFocusedWidget)
	}
	return f, nil
}

// SetWidgetText reports whether the value of the focused text field changed.
func (d *Doc) SetWidgetText(ctx context.Context, page int, text string) (bool, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f, err := d.focusedField(engine.WidgetText)
	if err != nil {
		return false, err
	}
	if d.focused.page != page {
		return false, fmt.Errorf("field %s is on page %d: %w", f.name, d.focused.page, engine.ErrNoFocusedWidget)
	}
	if f.value == text {
		return false, nil
	}
	f.value = text
	return true, nil
}

func (d *Doc) SetWidgetChoice(ctx context.Context, selection []string) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := d.focusedField(engine.WidgetChoice)
	if err != nil {
		return err
	}
	for _, s := range selection {
		if !slices.Contains(f.options, s) {
			return fmt.Errorf("field %s has no option %q", f.name, s)
		}
	}
	f.selected = slices.Clone(selection)
	return nil
}

func (d *Doc) CheckFocusedSignature(ctx context.Context) (string, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := d.focusedField(engine.WidgetSignature)
	if err != nil {
		return "", err
	}
	if f.signer == "" {
		return "not signed", nil
	}
	return "signed by " + f.signer, nil
}

// SignFocusedSignature signs the focused field with the key stored in keyFile.
// It reports false when the password is rejected.
func (d *Doc) SignFocusedSignature(ctx context.Context, keyFile, password string) (bool, error) {
	if _, err := os.Stat(keyFile); err != nil {
		return false, fmt.Errorf("reading key: %w", err)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f, err := d.focusedField(engine.WidgetSignature)
	if err != nil {
		return false, err
	}
	if password == "" {
		return false, nil
	}
	f.signer = filepath.Base(keyFile)
	return true, nil
}
