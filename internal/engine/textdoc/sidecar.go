package textdoc

import (
	"errors"
	"fmt"
	"os"

	"github.com/folio-reader/folio/internal/engine"
	"gopkg.in/yaml.v3"
)

type point struct {
	X float32 `yaml:"x"`
	Y float32 `yaml:"y"`
}

type annotation struct {
	Page   int       `yaml:"page"`
	Type   string    `yaml:"type"`
	Object int64     `yaml:"object"`
	Text   string    `yaml:"text,omitempty"`
	Quads  []point   `yaml:"quads,omitempty"`
	Arcs   [][]point `yaml:"arcs,omitempty"`
}

func sidecarPath(path string) string {
	return path + ".annots.yaml"
}

// sidecar must be called with the lock held
func (d *Doc) sidecar() []annotation {
	var out []annotation
	for page := range d.pages {
		for _, a := range d.annots[page] {
			s := annotation{
				Page:   page,
				Type:   a.Type.String(),
				Object: a.ObjectNumber,
				Text:   a.Text,
				Quads:  toPoints(a.Quads),
			}
			for _, arc := range a.Arcs {
				s.Arcs = append(s.Arcs, toPoints(arc))
			}
			out = append(out, s)
		}
	}
	return out
}

func (d *Doc) loadSidecar(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var list []annotation
	if err := yaml.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	d.mx.Lock()
	defer d.mx.Unlock()
	for _, s := range list {
		if _, err := d.page(s.Page); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		typ, ok := parseType(s.Type)
		if !ok {
			return fmt.Errorf("parsing %s: unknown annotation type %q", path, s.Type)
		}
		a := engine.Annotation{
			Type:         typ,
			Text:         s.Text,
			ObjectNumber: s.Object,
			Quads:        fromPoints(s.Quads),
		}
		var all []engine.Point
		all = append(all, a.Quads...)
		for _, arc := range s.Arcs {
			pts := fromPoints(arc)
			a.Arcs = append(a.Arcs, pts)
			all = append(all, pts...)
		}
		if len(all) > 0 {
			a.Rect = bounds(all)
		}
		d.annots[s.Page] = append(d.annots[s.Page], a)
		d.nextObj = max(d.nextObj, s.Object+1)
	}
	return nil
}

func parseType(s string) (engine.AnnotationType, bool) {
	for t := engine.AnnotText; t <= engine.AnnotWidget; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

func toPoints(pts []engine.Point) []point {
	if len(pts) == 0 {
		return nil
	}
	out := make([]point, len(pts))
	for i, p := range pts {
		out[i] = point{X: p.X, Y: p.Y}
	}
	return out
}

func fromPoints(pts []point) []engine.Point {
	if len(pts) == 0 {
		return nil
	}
	out := make([]engine.Point, len(pts))
	for i, p := range pts {
		out[i] = engine.Point{X: p.X, Y: p.Y}
	}
	return out
}
