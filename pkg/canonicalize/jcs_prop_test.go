package canonicalize

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// mergeInput builds a mixed-type tool input from homogeneous maps.
func mergeInput(strs map[string]string, nums map[string]float64, flags map[string]bool) map[string]any {
	input := make(map[string]any, len(strs)+len(nums)+len(flags))
	for k, v := range strs {
		input[k] = v
	}
	for k, v := range nums {
		input["n_"+k] = v
	}
	for k, v := range flags {
		input["b_"+k] = v
	}
	return input
}

func TestFingerprintProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	strGen := gen.MapOf(gen.AlphaString(), gen.AlphaString())
	numGen := gen.MapOf(gen.AlphaString(), gen.Float64Range(-1e9, 1e9))
	boolGen := gen.MapOf(gen.AlphaString(), gen.Bool())

	properties.Property("identical inputs fingerprint identically", prop.ForAll(
		func(tool string, strs map[string]string, nums map[string]float64, flags map[string]bool) bool {
			input := mergeInput(strs, nums, flags)
			a, err := Fingerprint(tool, input)
			if err != nil {
				return false
			}
			// Rebuild the map so iteration order differs.
			copied := make(map[string]any, len(input))
			for k, v := range input {
				copied[k] = v
			}
			b, err := Fingerprint(tool, copied)
			return err == nil && a == b && len(a) == 32
		},
		gen.AlphaString(),
		strGen, numGen, boolGen,
	))

	properties.Property("tool name participates in the fingerprint", prop.ForAll(
		func(tool string, strs map[string]string, nums map[string]float64, flags map[string]bool) bool {
			input := mergeInput(strs, nums, flags)
			a, err := Fingerprint(tool, input)
			if err != nil {
				return false
			}
			b, err := Fingerprint(tool+"x", input)
			return err == nil && a != b
		},
		gen.AlphaString(),
		strGen, numGen, boolGen,
	))

	properties.TestingRun(t)
}
