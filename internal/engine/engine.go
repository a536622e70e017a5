// Package engine declares what the coordination layer consumes from a document
// engine. Implementations are expected to serialize access to the document
// internally; every call may block and accepts a context acting as the abort cookie.
package engine

import (
	"context"
	"errors"
	"image"
)

var (
	ErrPageRange       = errors.New("page out of range")
	ErrNoFocusedWidget = errors.New("no focused widget")
	ErrAnnotation      = errors.New("annotation not found")
)

// Rect is an axis aligned rectangle in document space.
type Rect struct {
	X0, Y0, X1, Y1 float32
}

func (r Rect) Empty() bool {
	return r.X0 >= r.X1 || r.Y0 >= r.Y1
}

func (r Rect) Contains(x, y float32) bool {
	return x >= r.X0 && x < r.X1 && y >= r.Y0 && y < r.Y1
}

type Point struct {
	X, Y float32
}

type Size struct {
	W, H float32
}

// Region selects the patch of a page scaled to PageW x PageH that Render draws.
type Region struct {
	PageW, PageH   int
	PatchX, PatchY int
	PatchW, PatchH int
}

type TextWord struct {
	Rect
	Text string
}

type TextLine struct {
	Words []TextWord
}

type LinkKind int

const (
	LinkInternal LinkKind = iota
	LinkExternal
	LinkRemote
)

type Link struct {
	Rect
	Kind LinkKind
	Page int    // target of LinkInternal
	URI  string // target of LinkExternal
}

type AnnotationType int

const (
	AnnotText AnnotationType = iota
	AnnotLink
	AnnotFreeText
	AnnotHighlight
	AnnotUnderline
	AnnotSquiggly
	AnnotStrikeOut
	AnnotInk
	AnnotWidget
)

func (t AnnotationType) String() string {
	switch t {
	case AnnotText:
		return "text"
	case AnnotLink:
		return "link"
	case AnnotFreeText:
		return "freetext"
	case AnnotHighlight:
		return "highlight"
	case AnnotUnderline:
		return "underline"
	case AnnotSquiggly:
		return "squiggly"
	case AnnotStrikeOut:
		return "strikeout"
	case AnnotInk:
		return "ink"
	case AnnotWidget:
		return "widget"
	default:
		return "unknown"
	}
}

// Markup reports whether t can be created from text selection quad points.
func (t AnnotationType) Markup() bool {
	switch t {
	case AnnotHighlight, AnnotUnderline, AnnotSquiggly, AnnotStrikeOut:
		return true
	}
	return false
}

type Annotation struct {
	Rect
	Type         AnnotationType
	Text         string
	ObjectNumber int64
	Quads        []Point
	Arcs         [][]Point
}

type WidgetKind int

const (
	WidgetNone WidgetKind = iota
	WidgetText
	WidgetChoice
	WidgetSignature
)

// PassClickResult tells the caller what kind of interaction a click on a form
// field requires.
type PassClickResult struct {
	Changed  bool
	Kind     WidgetKind
	Text     string
	Options  []string
	Selected []string
	Signed   bool
}

type AlertIcon int

const (
	AlertIconError AlertIcon = iota
	AlertIconWarning
	AlertIconQuestion
	AlertIconStatus
)

type AlertButtons int

const (
	AlertButtonsOk AlertButtons = iota
	AlertButtonsOkCancel
	AlertButtonsYesNo
	AlertButtonsYesNoCancel
)

type AlertButton int

const (
	AlertButtonNone AlertButton = iota
	AlertButtonOk
	AlertButtonCancel
	AlertButtonNo
	AlertButtonYes
)

// Alert is a script driven dialog request. The engine stays blocked until
// ReplyToAlert is called with Pressed filled in.
type Alert struct {
	Title   string
	Message string
	Icon    AlertIcon
	Buttons AlertButtons
	Pressed AlertButton
}

type Pager interface {
	PageCount() int
	PageSize(page int) (Size, error)
}

type Renderer interface {
	Render(ctx context.Context, page int, region Region) (*image.RGBA, error)
}

type Searcher interface {
	Pager
	SearchPage(ctx context.Context, page int, query string) ([]Rect, error)
}

type ContentReader interface {
	TextLines(ctx context.Context, page int) ([]TextLine, error)
	Links(ctx context.Context, page int) ([]Link, error)
	Annotations(ctx context.Context, page int) ([]Annotation, error)
}

type AnnotationEditor interface {
	AddMarkupAnnotation(ctx context.Context, page int, quads []Point, typ AnnotationType) error
	AddTextAnnotation(ctx context.Context, page int, quads []Point, contents string) error
	AddInkAnnotation(ctx context.Context, page int, arcs [][]Point) error
	DeleteAnnotation(ctx context.Context, page int, index int) error
	DeleteAnnotationByObjectNumber(ctx context.Context, page int, objectNumber int64) error
}

type WidgetEditor interface {
	WidgetAreas(ctx context.Context, page int) ([]Rect, error)
	SetWidgetText(ctx context.Context, page int, text string) (bool, error)
	SetWidgetChoice(ctx context.Context, selection []string) error
	PassClick(ctx context.Context, page int, x, y float32) (PassClickResult, error)
}

type Signer interface {
	CheckFocusedSignature(ctx context.Context) (string, error)
	SignFocusedSignature(ctx context.Context, keyFile, password string) (bool, error)
}

// AlertSource blocks in WaitForAlert until the document raises an alert. A nil
// alert with a nil error means the source was shut down.
type AlertSource interface {
	WaitForAlert(ctx context.Context) (*Alert, error)
	ReplyToAlert(alert Alert) error
}

type Dirtier interface {
	MarkDirty()
	Dirty() bool
}

type Saver interface {
	Dirtier
	Save(ctx context.Context, path string) error
}

// Document is the full capability set of an opened document.
type Document interface {
	Searcher
	Renderer
	ContentReader
	AnnotationEditor
	WidgetEditor
	Signer
	AlertSource
	Saver
}
