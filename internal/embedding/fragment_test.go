package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFragmentsOrderAndSplitting(t *testing.T) {
	got := Fragments("Beach vacation", "A week in Spain",
		"We flew to Barcelona. Ate paella; swam daily! Then home?")
	assert.Equal(t, []string{
		"Beach vacation",
		"A week in Spain",
		"We flew to Barcelona",
		"Ate paella",
		"swam daily",
		"Then home",
	}, got)
}

func TestFragmentsDropsEmptyPieces(t *testing.T) {
	got := Fragments("  Title  ", "", "...  ,,, one.. two ;; ")
	assert.Equal(t, []string{"Title", "one", "two"}, got)
}

func TestFragmentsAllEmpty(t *testing.T) {
	assert.Empty(t, Fragments("", "", "?!.,"))
}

func TestFragmentsDeterministic(t *testing.T) {
	a := Fragments("t", "s", "one. two. three.")
	b := Fragments("t", "s", "one. two. three.")
	assert.Equal(t, a, b)
}
