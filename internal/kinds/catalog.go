package kinds

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/paulmach/orb"

	"github.com/roach88/cadlog/internal/ir"
)

//go:embed catalog.cue
var catalogSource []byte

// Geometry type names used in the inputs list of a kind.
const (
	GeomPoint = "point"
	GeomLine  = "line"
)

// ApplyFunc derives output geometries from input geometries.
// It must be deterministic: same inputs and params, same outputs.
type ApplyFunc func(inputs []orb.Geometry, params ir.IRObject) ([]orb.Geometry, error)

var applyFuncs = map[string]ApplyFunc{
	"new_point":       applyNewPoint,
	"offset_point":    applyOffsetPoint,
	"new_line":        applyNewLine,
	"subdivide_line":  applySubdivideLine,
	"intersect_lines": applyIntersectLines,
}

// Kind is one entry of the catalog.
type Kind struct {
	Name   string
	Inputs []string // geometry type per input, in order

	def   cue.Value
	apply ApplyFunc
}

// Catalog holds every known kind. It is immutable after NewCatalog.
type Catalog struct {
	kinds map[string]*Kind
}

// NewCatalog compiles the embedded CUE catalog.
func NewCatalog() (*Catalog, error) {
	ctx := cuecontext.New()
	root := ctx.CompileBytes(catalogSource, cue.Filename("catalog.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile kind catalog: %w", formatCUEError(err))
	}

	iter, err := root.LookupPath(cue.ParsePath("kinds")).Fields()
	if err != nil {
		return nil, fmt.Errorf("kind catalog: %w", formatCUEError(err))
	}

	c := &Catalog{kinds: make(map[string]*Kind)}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		apply, ok := applyFuncs[name]
		if !ok {
			return nil, fmt.Errorf("kind %q has no apply function", name)
		}

		inputs, err := parseInputs(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("kind %q: %w", name, err)
		}

		c.kinds[name] = &Kind{
			Name:   name,
			Inputs: inputs,
			def:    iter.Value(),
			apply:  apply,
		}
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on error.
// The catalog is embedded, so a failure is a build defect.
func MustCatalog() *Catalog {
	c, err := NewCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

func parseInputs(def cue.Value) ([]string, error) {
	list, err := def.LookupPath(cue.ParsePath("inputs")).List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	inputs := []string{}
	for list.Next() {
		s, err := list.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if s != GeomPoint && s != GeomLine {
			return nil, fmt.Errorf("unknown input geometry %q", s)
		}
		inputs = append(inputs, s)
	}
	return inputs, nil
}

// Lookup returns the kind with the given name.
func (c *Catalog) Lookup(name string) (*Kind, error) {
	k, ok := c.kinds[name]
	if !ok {
		return nil, ir.NewError(ir.ErrCodeNotFound, "unknown operation kind %q", name)
	}
	return k, nil
}

// Names returns kind names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.kinds))
	for name := range c.kinds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// fill unifies the kind definition with concrete parameters.
func (k *Kind) fill(params ir.IRObject) cue.Value {
	if params == nil {
		params = ir.IRObject{}
	}
	return k.def.FillPath(cue.ParsePath("params"), params.ToNative())
}

// Validate checks parameter shape against the kind schema. It does not
// look at geometry: a well-formed parameter set may still fail to apply.
func (k *Kind) Validate(params ir.IRObject) error {
	p := k.fill(params).LookupPath(cue.ParsePath("params"))
	if err := p.Err(); err != nil {
		return k.validationError(err)
	}
	if err := p.Validate(cue.Concrete(true)); err != nil {
		return k.validationError(err)
	}
	return nil
}

func (k *Kind) validationError(err error) error {
	return &ir.EditError{
		Code:    ir.ErrCodeValidation,
		Message: fmt.Sprintf("invalid parameters for %s", k.Name),
		Details: map[string]string{"cue": strings.TrimSpace(cueerrors.Details(err, nil))},
		Err:     formatCUEError(err),
	}
}

// Arity returns the number of features the kind produces for params.
// Params must already be valid.
func (k *Kind) Arity(params ir.IRObject) (int, error) {
	n, err := k.fill(params).LookupPath(cue.ParsePath("outputs")).Int64()
	if err != nil {
		return 0, k.validationError(err)
	}
	return int(n), nil
}

// Apply validates params, checks input geometry types and runs the kind.
func (k *Kind) Apply(inputs []orb.Geometry, params ir.IRObject) ([]orb.Geometry, error) {
	if err := k.Validate(params); err != nil {
		return nil, err
	}
	if len(inputs) != len(k.Inputs) {
		return nil, fmt.Errorf("%s takes %d inputs, got %d", k.Name, len(k.Inputs), len(inputs))
	}
	for i, g := range inputs {
		if !geometryIs(g, k.Inputs[i]) {
			return nil, fmt.Errorf("%s input %d: expected %s, got %T", k.Name, i, k.Inputs[i], g)
		}
	}

	out, err := k.apply(inputs, params)
	if err != nil {
		return nil, err
	}

	want, err := k.Arity(params)
	if err != nil {
		return nil, err
	}
	if len(out) != want {
		return nil, fmt.Errorf("%s produced %d outputs, expected %d", k.Name, len(out), want)
	}
	return out, nil
}

func geometryIs(g orb.Geometry, typ string) bool {
	switch typ {
	case GeomPoint:
		_, ok := g.(orb.Point)
		return ok
	case GeomLine:
		ls, ok := g.(orb.LineString)
		return ok && len(ls) == 2
	}
	return false
}

// formatCUEError keeps the first CUE error, with its position when known.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if pos := cueerrors.Positions(first); len(pos) > 0 && pos[0].IsValid() {
		return fmt.Errorf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), first.Error())
	}
	return first
}
