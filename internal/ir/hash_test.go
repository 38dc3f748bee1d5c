package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOperation() Operation {
	return Operation{
		ID:      "op-1",
		Seq:     1,
		Kind:    "new_point",
		Outputs: []FeatureID{"f-1"},
		Params:  IRObject{"x": IRInt(1000), "y": IRInt(2000)},
		Status:  StatusActive,
		Author:  "alice",
	}
}

func TestOperationDigestDeterministic(t *testing.T) {
	op := sampleOperation()

	d1, err := OperationDigest(op)
	require.NoError(t, err)
	d2, err := OperationDigest(op.Clone())
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestOperationDigestCoversEveryAttribute(t *testing.T) {
	base := MustDigest(DomainOperation, sampleOperation().CanonicalObject())

	mutations := map[string]func(*Operation){
		"status":     func(op *Operation) { op.Status = StatusSuperseded },
		"params":     func(op *Operation) { op.Params["x"] = IRInt(1001) },
		"seq":        func(op *Operation) { op.Seq = 2 },
		"outputs":    func(op *Operation) { op.Outputs = []FeatureID{"f-2"} },
		"inputs":     func(op *Operation) { op.Inputs = []FeatureID{"f-0"} },
		"supersedes": func(op *Operation) { op.Supersedes = "op-0" },
		"author":     func(op *Operation) { op.Author = "bob" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			op := sampleOperation()
			mutate(&op)
			d, err := OperationDigest(op)
			require.NoError(t, err)
			assert.NotEqual(t, base, d)
		})
	}
}

func TestDomainSeparation(t *testing.T) {
	v := IRObject{"a": IRInt(1)}
	assert.NotEqual(t, MustDigest(DomainOperation, v), MustDigest(DomainState, v))
}

func TestHashWithDomainNullSeparator(t *testing.T) {
	// "ab" + 0x00 + "c" must differ from "a" + 0x00 + "bc".
	assert.NotEqual(t, hashWithDomain("ab", []byte("c")), hashWithDomain("a", []byte("bc")))
}

func TestDigestRejectsFloats(t *testing.T) {
	_, err := Digest(DomainState, map[string]any{"x": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), DomainState)

	assert.Panics(t, func() { MustDigest(DomainState, 1.5) })
}
