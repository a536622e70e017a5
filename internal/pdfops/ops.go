package pdfops

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/folio-reader/folio/internal/model"
)

// Op is one structural operation. Args validates the operation and returns
// the qpdf arguments, without the binary name.
type Op interface {
	Name() string
	Output() string
	Args() ([]string, error)
}

func invalid(op, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", op, fmt.Sprintf(format, args...), model.ErrInvalidInput)
}

func required(op string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return invalid(op, "%s is required", pairs[i])
		}
	}
	return nil
}

type Merge struct {
	A, B, Out string
}

func (Merge) Name() string     { return "merge" }
func (m Merge) Output() string { return m.Out }

func (m Merge) Args() ([]string, error) {
	if err := required("merge", "first input", m.A, "second input", m.B, "output", m.Out); err != nil {
		return nil, err
	}
	return []string{"--empty", "--pages", m.A, m.B, "--", m.Out}, nil
}

// Extract copies the pages selected by PageSpec ("1-2,5") into Out.
type Extract struct {
	In, PageSpec, Out string
}

func (Extract) Name() string     { return "extract" }
func (e Extract) Output() string { return e.Out }

func (e Extract) Args() ([]string, error) {
	if err := required("extract", "input", e.In, "page selection", e.PageSpec, "output", e.Out); err != nil {
		return nil, err
	}
	return []string{e.In, "--pages", e.In, e.PageSpec, "--", e.Out}, nil
}

// Assemble builds Out from Selections, a flat list of alternating
// input path and page selection.
type Assemble struct {
	Selections []string
	Out        string
}

func (Assemble) Name() string     { return "assemble" }
func (a Assemble) Output() string { return a.Out }

func (a Assemble) Args() ([]string, error) {
	if len(a.Selections) == 0 || len(a.Selections)%2 != 0 {
		return nil, invalid("assemble", "selections must be path and page pairs, got %d values", len(a.Selections))
	}
	if err := required("assemble", "output", a.Out); err != nil {
		return nil, err
	}
	if slices.ContainsFunc(a.Selections, func(s string) bool { return strings.TrimSpace(s) == "" }) {
		return nil, invalid("assemble", "empty selection value")
	}
	args := make([]string, 0, len(a.Selections)+4)
	args = append(args, "--empty", "--pages")
	args = append(args, a.Selections...)
	return append(args, "--", a.Out), nil
}

// Rotate applies a qpdf rotation expression such as "+90:1,3-5".
type Rotate struct {
	In, Expr, Out string
}

func (Rotate) Name() string     { return "rotate" }
func (r Rotate) Output() string { return r.Out }

func (r Rotate) Args() ([]string, error) {
	if err := required("rotate", "input", r.In, "rotation", r.Expr, "output", r.Out); err != nil {
		return nil, err
	}
	return []string{r.In, "--rotate=" + r.Expr, "--", r.Out}, nil
}

type Linearize struct {
	In, Out string
}

func (Linearize) Name() string     { return "linearize" }
func (l Linearize) Output() string { return l.Out }

func (l Linearize) Args() ([]string, error) {
	if err := required("linearize", "input", l.In, "output", l.Out); err != nil {
		return nil, err
	}
	return []string{"--linearize", l.In, "--", l.Out}, nil
}

// Encrypt protects In with the given passwords. KeyBits defaults to 256.
type Encrypt struct {
	In            string
	UserPassword  string
	OwnerPassword string
	KeyBits       int
	Out           string
}

func (Encrypt) Name() string     { return "encrypt" }
func (e Encrypt) Output() string { return e.Out }

func (e Encrypt) Args() ([]string, error) {
	if err := required("encrypt", "input", e.In, "output", e.Out); err != nil {
		return nil, err
	}
	bits := e.KeyBits
	if bits == 0 {
		bits = 256
	}
	switch bits {
	case 40, 128, 256:
	default:
		return nil, invalid("encrypt", "unsupported key length %d", bits)
	}
	return []string{"--encrypt", e.UserPassword, e.OwnerPassword, strconv.Itoa(bits), "--", e.In, e.Out}, nil
}

func (e Encrypt) redact(args []string) []string {
	out := slices.Clone(args)
	out[1], out[2] = "***", "***"
	return out
}

type Decrypt struct {
	In, Password, Out string
}

func (Decrypt) Name() string     { return "decrypt" }
func (d Decrypt) Output() string { return d.Out }

func (d Decrypt) Args() ([]string, error) {
	if err := required("decrypt", "input", d.In, "output", d.Out); err != nil {
		return nil, err
	}
	return []string{"--password=" + d.Password, "--decrypt", d.In, d.Out}, nil
}

func (d Decrypt) redact(args []string) []string {
	out := slices.Clone(args)
	out[0] = "--password=***"
	return out
}

// redacter is implemented by operations whose arguments carry secrets.
type redacter interface {
	redact(args []string) []string
}
