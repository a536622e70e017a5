// Package textdoc is an in-process document engine over paginated plain text,
// the layout pdftotext produces: pages are separated by form feeds and every
// character occupies one fixed cell.
//
// Form fields are written inline as {{name}} (text), {{choice:name=a|b}} and
// {{sig:name}}. Tokens like https://... and page:N become links.
package textdoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/folio-reader/folio/internal/engine"
	"gopkg.in/yaml.v3"
)

const (
	CharWidth  = 6
	LineHeight = 12

	minWidth  = 612
	minHeight = 792

	alertQueue = 64
)

var (
	reField = regexp.MustCompile(`\{\{(?:(sig|choice):)?([A-Za-z0-9_]+)(?:=([^}]*))?\}\}`)
	reURI   = regexp.MustCompile(`https?://\S+`)
	rePage  = regexp.MustCompile(`page:(\d+)`)
)

type field struct {
	name     string
	kind     engine.WidgetKind
	rect     engine.Rect
	value    string
	options  []string
	selected []string
	signer   string
}

type focus struct {
	page  int
	index int
}

// Doc is safe for concurrent use; every call is serialized on an internal lock.
type Doc struct {
	mx      sync.RWMutex
	pages   [][]string
	annots  map[int][]engine.Annotation
	fields  map[int][]*field
	focused *focus
	nextObj int64

	dirty atomic.Bool

	alerts    chan engine.Alert
	closed    chan struct{}
	closeOnce sync.Once
	replyMx   sync.Mutex
	replies   []engine.Alert
}

// Parse reads a form feed separated document. A trailing empty page is dropped.
func Parse(r io.Reader) (*Doc, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return New(splitPages(string(b))...), nil
}

// Open parses the document at path together with the annotation sidecar
// written by Save, if present.
func Open(path string) (*Doc, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := Parse(f)
	if err != nil {
		return nil, err
	}
	if err := d.loadSidecar(sidecarPath(path)); err != nil {
		return nil, err
	}
	return d, nil
}

func New(pages ...string) *Doc {
	d := &Doc{
		annots:  make(map[int][]engine.Annotation),
		fields:  make(map[int][]*field),
		nextObj: 1,
		alerts:  make(chan engine.Alert, alertQueue),
		closed:  make(chan struct{}),
	}
	for i, p := range pages {
		lines := strings.Split(strings.TrimSuffix(p, "\n"), "\n")
		d.pages = append(d.pages, lines)
		d.fields[i] = parseFields(lines)
	}
	return d
}

func splitPages(s string) []string {
	if s == "" {
		return nil
	}
	pages := strings.Split(s, "\f")
	if strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	for i := range pages {
		pages[i] = strings.TrimPrefix(pages[i], "\n")
	}
	return pages
}

func parseFields(lines []string) []*field {
	var out []*field
	for y, line := range lines {
		for _, m := range reField.FindAllStringSubmatchIndex(line, -1) {
			f := &field{
				name: line[m[4]:m[5]],
				rect: cellRect(line, y, m[0], m[1]),
				kind: engine.WidgetText,
			}
			if m[2] >= 0 {
				switch line[m[2]:m[3]] {
				case "sig":
					f.kind = engine.WidgetSignature
				case "choice":
					f.kind = engine.WidgetChoice
				}
			}
			if m[6] >= 0 {
				arg := line[m[6]:m[7]]
				if f.kind == engine.WidgetChoice {
					f.options = strings.Split(arg, "|")
				} else {
					f.value = arg
				}
			}
			out = append(out, f)
		}
	}
	return out
}

// cellRect returns the rectangle covering bytes [from, to) of line y.
func cellRect(line string, y, from, to int) engine.Rect {
	x0 := utf8.RuneCountInString(line[:from])
	x1 := x0 + utf8.RuneCountInString(line[from:to])
	return engine.Rect{
		X0: float32(x0 * CharWidth),
		Y0: float32(y * LineHeight),
		X1: float32(x1 * CharWidth),
		Y1: float32((y + 1) * LineHeight),
	}
}

func (d *Doc) PageCount() int {
	d.mx.RLock()
	defer d.mx.RUnlock()
	return len(d.pages)
}

func (d *Doc) PageSize(page int) (engine.Size, error) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	lines, err := d.page(page)
	if err != nil {
		return engine.Size{}, err
	}
	return pageSize(lines), nil
}

func pageSize(lines []string) engine.Size {
	cols := 0
	for _, l := range lines {
		cols = max(cols, utf8.RuneCountInString(l))
	}
	return engine.Size{
		W: float32(max(minWidth, cols*CharWidth)),
		H: float32(max(minHeight, len(lines)*LineHeight)),
	}
}

// page must be called with the lock held
func (d *Doc) page(page int) ([]string, error) {
	if page < 0 || page >= len(d.pages) {
		return nil, fmt.Errorf("page %d of %d: %w", page, len(d.pages), engine.ErrPageRange)
	}
	return d.pages[page], nil
}

// SearchPage matches query case insensitively and returns one rectangle per
// occurrence in reading order.
func (d *Doc) SearchPage(ctx context.Context, page int, query string) ([]engine.Rect, error) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	lines, err := d.page(page)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}
	var hits []engine.Rect
	for y, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lower := strings.ToLower(line)
		for off := 0; off < len(lower); {
			i := strings.Index(lower[off:], q)
			if i < 0 {
				break
			}
			from := off + i
			hits = append(hits, cellRect(lower, y, from, from+len(q)))
			off = from + len(q)
		}
	}
	return hits, nil
}

func (d *Doc) TextLines(ctx context.Context, page int) ([]engine.TextLine, error) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	lines, err := d.page(page)
	if err != nil {
		return nil, err
	}
	out := make([]engine.TextLine, 0, len(lines))
	for y, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, engine.TextLine{Words: words(line, y)})
	}
	return out, nil
}

func words(line string, y int) []engine.TextWord {
	var out []engine.TextWord
	start := -1
	for i, r := range line {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, engine.TextWord{Rect: cellRect(line, y, start, i), Text: line[start:i]})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, engine.TextWord{Rect: cellRect(line, y, start, len(line)), Text: line[start:]})
	}
	return out
}

func (d *Doc) Links(ctx context.Context, page int) ([]engine.Link, error) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	lines, err := d.page(page)
	if err != nil {
		return nil, err
	}
	var out []engine.Link
	for y, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, m := range reURI.FindAllStringIndex(line, -1) {
			out = append(out, engine.Link{
				Rect: cellRect(line, y, m[0], m[1]),
				Kind: engine.LinkExternal,
				URI:  line[m[0]:m[1]],
			})
		}
		for _, m := range rePage.FindAllStringSubmatchIndex(line, -1) {
			n, err := strconv.Atoi(line[m[2]:m[3]])
			if err != nil || n < 1 || n > len(d.pages) {
				continue
			}
			out = append(out, engine.Link{
				Rect: cellRect(line, y, m[0], m[1]),
				Kind: engine.LinkInternal,
				Page: n - 1,
			})
		}
	}
	return out, nil
}

func (d *Doc) Annotations(ctx context.Context, page int) ([]engine.Annotation, error) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	if _, err := d.page(page); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(d.annots[page]), nil
}

func (d *Doc) AddMarkupAnnotation(ctx context.Context, page int, quads []engine.Point, typ engine.AnnotationType) error {
	if !typ.Markup() {
		return fmt.Errorf("annotation type %s is not a markup", typ)
	}
	if len(quads) == 0 || len(quads)%4 != 0 {
		return fmt.Errorf("markup needs quadruples of points, got %d", len(quads))
	}
	return d.add(ctx, page, engine.Annotation{
		Rect:  bounds(quads),
		Type:  typ,
		Quads: slices.Clone(quads),
	})
}

func (d *Doc) AddTextAnnotation(ctx context.Context, page int, quads []engine.Point, contents string) error {
	if len(quads) == 0 {
		return errors.New("text annotation needs a position")
	}
	return d.add(ctx, page, engine.Annotation{
		Rect:  bounds(quads),
		Type:  engine.AnnotText,
		Text:  contents,
		Quads: slices.Clone(quads),
	})
}

func (d *Doc) AddInkAnnotation(ctx context.Context, page int, arcs [][]engine.Point) error {
	var all []engine.Point
	for _, a := range arcs {
		all = append(all, a...)
	}
	if len(all) == 0 {
		return errors.New("ink annotation needs at least one point")
	}
	cp := make([][]engine.Point, len(arcs))
	for i, a := range arcs {
		cp[i] = slices.Clone(a)
	}
	return d.add(ctx, page, engine.Annotation{
		Rect: bounds(all),
		Type: engine.AnnotInk,
		Arcs: cp,
	})
}

func (d *Doc) add(ctx context.Context, page int, a engine.Annotation) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if _, err := d.page(page); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.ObjectNumber = d.nextObj
	d.nextObj++
	d.annots[page] = append(d.annots[page], a)
	return nil
}

func (d *Doc) DeleteAnnotation(ctx context.Context, page int, index int) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if _, err := d.page(page); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	list := d.annots[page]
	if index < 0 || index >= len(list) {
		return fmt.Errorf("index %d on page %d: %w", index, page, engine.ErrAnnotation)
	}
	d.annots[page] = slices.Delete(list, index, index+1)
	return nil
}

func (d *Doc) DeleteAnnotationByObjectNumber(ctx context.Context, page int, objectNumber int64) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if _, err := d.page(page); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	list := d.annots[page]
	i := slices.IndexFunc(list, func(a engine.Annotation) bool { return a.ObjectNumber == objectNumber })
	if i < 0 {
		return fmt.Errorf("object %d on page %d: %w", objectNumber, page, engine.ErrAnnotation)
	}
	d.annots[page] = slices.Delete(list, i, i+1)
	return nil
}

func bounds(pts []engine.Point) engine.Rect {
	r := engine.Rect{X0: pts[0].X, Y0: pts[0].Y, X1: pts[0].X, Y1: pts[0].Y}
	for _, p := range pts[1:] {
		r.X0 = min(r.X0, p.X)
		r.Y0 = min(r.Y0, p.Y)
		r.X1 = max(r.X1, p.X)
		r.Y1 = max(r.Y1, p.Y)
	}
	return r
}

func (d *Doc) MarkDirty() {
	d.dirty.Store(true)
}

func (d *Doc) Dirty() bool {
	return d.dirty.Load()
}

// Save writes the pages to path and annotations to a YAML sidecar next to it.
// The dirty flag is cleared on success.
func (d *Doc) Save(ctx context.Context, path string) error {
	d.mx.RLock()
	var buf bytes.Buffer
	for i, lines := range d.pages {
		if i > 0 {
			buf.WriteByte('\f')
		}
		buf.WriteString(strings.Join(lines, "\n"))
		buf.WriteByte('\n')
	}
	side := d.sidecar()
	d.mx.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFile(path, buf.Bytes()); err != nil {
		return err
	}
	sp := sidecarPath(path)
	if len(side) == 0 {
		if err := os.Remove(sp); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	} else {
		b, err := yaml.Marshal(side)
		if err != nil {
			return fmt.Errorf("encoding annotations: %w", err)
		}
		if err := writeFile(sp, b); err != nil {
			return err
		}
	}
	d.dirty.Store(false)
	return nil
}

func writeFile(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Close makes pending and future WaitForAlert calls return a nil alert.
func (d *Doc) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

var _ engine.Document = (*Doc)(nil)
