package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/cadlog/internal/depindex"
	"github.com/roach88/cadlog/internal/ir"
)

// parseParams builds operation parameters. A --params JSON object replaces
// base; key=value pairs are then layered on top. Values parse as integers
// or booleans where possible, otherwise strings.
func parseParams(base ir.IRObject, jsonText string, pairs []string) (ir.IRObject, error) {
	params := base.Clone()
	if jsonText != "" {
		params = ir.IRObject{}
		if err := json.Unmarshal([]byte(jsonText), &params); err != nil {
			return nil, fmt.Errorf("invalid --params JSON: %w", err)
		}
	}
	if params == nil {
		params = ir.IRObject{}
	}

	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", p)
		}
		params[key] = ir.ParseScalar(strings.TrimSpace(value))
	}
	return params, nil
}

func toFeatureIDs(ids []string) []ir.FeatureID {
	if ids == nil {
		return nil
	}
	out := make([]ir.FeatureID, len(ids))
	for i, id := range ids {
		out[i] = ir.FeatureID(id)
	}
	return out
}

// targetFrom picks a feature argument or an --target-op operation.
func targetFrom(args []string, op string) (depindex.Target, error) {
	switch {
	case len(args) == 1 && op != "":
		return depindex.Target{}, fmt.Errorf("give either a feature id or --target-op, not both")
	case len(args) == 1:
		return depindex.FeatureTarget(ir.FeatureID(args[0])), nil
	case op != "":
		return depindex.OpTarget(ir.OpID(op)), nil
	default:
		return depindex.Target{}, fmt.Errorf("a feature id or --target-op is required")
	}
}
