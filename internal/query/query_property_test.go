package query

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/zeekshard/zeekshard/pkg/types"
)

// TestProperty_ExactMatch checks that a wildcard-free field:value term
// matches exactly the rows whose value equals value ignoring case.
func TestProperty_ExactMatch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("field:value is case-insensitive equality", prop.ForAll(
		func(values []string, needle string) bool {
			rows := make([]types.Record, len(values))
			for i, v := range values {
				rows[i] = types.Record{{Name: "f", Value: v}}
			}
			got, err := Filter(rows, `f:"`+needle+`"`)
			if err != nil {
				return false
			}
			want := 0
			for _, v := range values {
				if strings.EqualFold(v, needle) {
					want++
				}
			}
			return len(got) == want
		},
		gen.SliceOf(gen.OneGenOf(gen.AlphaString(), gen.Const("Ab"), gen.Const("aB"))),
		gen.OneGenOf(gen.AlphaString(), gen.Const("ab")),
	))

	properties.Property("* alone matches every row", prop.ForAll(
		func(values []string) bool {
			rows := make([]types.Record, len(values))
			for i, v := range values {
				rows[i] = types.Record{{Name: "f", Value: v}}
			}
			got, err := Filter(rows, "*")
			return err == nil && len(got) == len(rows)
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}
