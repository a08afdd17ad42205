package vision

import "fmt"

// Domain is one of the three classification tasks run on every face.
type Domain string

const (
	DomainAge        Domain = "age"
	DomainGender     Domain = "gender"
	DomainExpression Domain = "expression"
)

// Domains lists every domain in aggregation order.
var Domains = []Domain{DomainAge, DomainGender, DomainExpression}

// Label sets are ordered to match the model output index.
var (
	AgeLabels        = []string{"0-10", "11-20", "21-30", "31-40", "41-50", "51-60", "61+"}
	GenderLabels     = []string{"Male", "Female"}
	ExpressionLabels = []string{"Angry", "Disgust", "Fear", "Happy", "Sad", "Surprised", "Neutral"}
)

// Labels returns the fixed ordered label set of the domain, or nil for an unknown domain.
func (d Domain) Labels() []string {
	switch d {
	case DomainAge:
		return AgeLabels
	case DomainGender:
		return GenderLabels
	case DomainExpression:
		return ExpressionLabels
	default:
		return nil
	}
}

// Classes is the model's declared output class count.
func (d Domain) Classes() int {
	return len(d.Labels())
}

// InputSize is the square edge length of the model input.
// Age and gender use MobileNet-style 224px inputs, expression a 48px custom CNN.
func (d Domain) InputSize() int {
	if d == DomainExpression {
		return 48
	}
	return 224
}

// Channels is 1 for the grayscale expression model, 3 otherwise.
func (d Domain) Channels() int {
	if d == DomainExpression {
		return 1
	}
	return 3
}

// InputShape is the NHWC tensor shape the domain's model expects.
func (d Domain) InputShape() Shape {
	return Shape{1, d.InputSize(), d.InputSize(), d.Channels()}
}

// Valid reports whether d is a known domain.
func (d Domain) Valid() bool {
	return d.Labels() != nil
}

// ParseDomain converts a string into a Domain.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown domain %q", s)
	}
	return d, nil
}
