package vision

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelSets(t *testing.T) {
	assert.Len(t, DomainAge.Labels(), 7)
	assert.Len(t, DomainGender.Labels(), 2)
	assert.Len(t, DomainExpression.Labels(), 7)
	assert.Equal(t, "61+", AgeLabels[6])
	assert.Equal(t, "Neutral", ExpressionLabels[6])
	assert.Nil(t, Domain("mood").Labels())
}

func TestInterpret(t *testing.T) {
	tests := []struct {
		name      string
		domain    Domain
		probs     []float32
		wantLabel string
		wantConf  float32
	}{
		{"clear male", DomainGender, []float32{0.92, 0.08}, "Male", 0.92},
		{"female", DomainGender, []float32{0.3, 0.7}, "Female", 0.7},
		{"tie goes to lowest index", DomainGender, []float32{0.5, 0.5}, "Male", 0.5},
		{"age bucket", DomainAge, []float32{0.1, 0.2, 0.4, 0.1, 0.1, 0.05, 0.05}, "21-30", 0.4},
		{"expression", DomainExpression, []float32{0.1, 0.05, 0.05, 0.5, 0.1, 0.1, 0.1}, "Happy", 0.5},
		{"unnormalized logits", DomainExpression, []float32{-2, 1, 3.5, 0, 0, 0, 3.4}, "Fear", 3.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Interpret(tt.domain, tt.probs)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, got.Label)
			assert.Equal(t, tt.wantConf, got.Confidence)
			require.Len(t, got.Scores, len(tt.probs))
			for i, s := range got.Scores {
				assert.Equal(t, tt.domain.Labels()[i], s.Label)
			}
		})
	}
}

func TestInterpret_Errors(t *testing.T) {
	_, err := Interpret(DomainGender, []float32{0.1, 0.2, 0.7})
	assert.ErrorIs(t, err, ErrLabelIndexOutOfRange)

	_, err = Interpret(DomainAge, nil)
	assert.ErrorIs(t, err, ErrLabelIndexOutOfRange)

	_, err = Interpret(Domain("mood"), []float32{1})
	assert.Error(t, err)
}

func TestInterpret_NonFinite(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name  string
		probs []float32
	}{
		{"single nan", []float32{nan, 0.4}},
		{"all nan", []float32{nan, nan}},
		{"positive inf", []float32{0.1, inf}},
		{"negative inf", []float32{-inf, 0.9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Interpret(DomainGender, tt.probs)
			assert.ErrorIs(t, err, ErrNonFiniteOutput)
			assert.Empty(t, got.Label)
			assert.Nil(t, got.Scores)
		})
	}
}

func TestParseDomain(t *testing.T) {
	d, err := ParseDomain("expression")
	require.NoError(t, err)
	assert.Equal(t, DomainExpression, d)
	assert.Equal(t, Shape{1, 48, 48, 1}, d.InputShape())
	assert.Equal(t, Shape{1, 224, 224, 3}, DomainGender.InputShape())

	_, err = ParseDomain("ethnicity")
	assert.Error(t, err)
}
