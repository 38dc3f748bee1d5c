package kinds

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadlog/internal/ir"
)

func TestCatalogNames(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)
	assert.Equal(t, []string{"intersect_lines", "new_line", "new_point", "offset_point", "subdivide_line"}, c.Names())
}

func TestCatalogLookupUnknown(t *testing.T) {
	c := MustCatalog()
	_, err := c.Lookup("fillet")
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))
}

func TestKindInputs(t *testing.T) {
	c := MustCatalog()

	tests := map[string][]string{
		"new_point":       {},
		"offset_point":    {GeomPoint},
		"new_line":        {GeomPoint, GeomPoint},
		"subdivide_line":  {GeomLine},
		"intersect_lines": {GeomLine, GeomLine},
	}
	for name, want := range tests {
		k, err := c.Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, want, k.Inputs, name)
	}
}

func TestValidate(t *testing.T) {
	c := MustCatalog()

	tests := []struct {
		name   string
		kind   string
		params ir.IRObject
		valid  bool
	}{
		{"point ok", "new_point", ir.IRObject{"x": ir.IRInt(1000), "y": ir.IRInt(-500)}, true},
		{"point missing y", "new_point", ir.IRObject{"x": ir.IRInt(1000)}, false},
		{"point string coord", "new_point", ir.IRObject{"x": ir.IRString("1"), "y": ir.IRInt(0)}, false},
		{"point extra field", "new_point", ir.IRObject{"x": ir.IRInt(0), "y": ir.IRInt(0), "z": ir.IRInt(0)}, false},
		{"line no params", "new_line", ir.IRObject{}, true},
		{"line nil params", "new_line", nil, true},
		{"line unexpected param", "new_line", ir.IRObject{"width": ir.IRInt(1)}, false},
		{"subdivide ok", "subdivide_line", ir.IRObject{"parts": ir.IRInt(3)}, true},
		{"subdivide too few", "subdivide_line", ir.IRObject{"parts": ir.IRInt(1)}, false},
		{"offset ok", "offset_point", ir.IRObject{"dx": ir.IRInt(0), "dy": ir.IRInt(250)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := c.Lookup(tt.kind)
			require.NoError(t, err)

			err = k.Validate(tt.params)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, ir.IsValidation(err))
		})
	}
}

func TestArityDependsOnParams(t *testing.T) {
	c := MustCatalog()
	sub, err := c.Lookup("subdivide_line")
	require.NoError(t, err)

	n, err := sub.Arity(ir.IRObject{"parts": ir.IRInt(4)})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	pt, err := c.Lookup("new_point")
	require.NoError(t, err)
	n, err = pt.Arity(ir.IRObject{"x": ir.IRInt(0), "y": ir.IRInt(0)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplyChecksInputs(t *testing.T) {
	c := MustCatalog()
	k, err := c.Lookup("new_line")
	require.NoError(t, err)

	_, err = k.Apply([]orb.Geometry{orb.Point{0, 0}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "takes 2 inputs")

	_, err = k.Apply([]orb.Geometry{orb.Point{0, 0}, orb.LineString{{0, 0}, {1, 1}}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected point")
}

func TestApplyRejectsInvalidParams(t *testing.T) {
	c := MustCatalog()
	k, err := c.Lookup("new_point")
	require.NoError(t, err)

	_, err = k.Apply(nil, ir.IRObject{"x": ir.IRInt(1)})
	require.Error(t, err)
	assert.True(t, ir.IsValidation(err))
}
