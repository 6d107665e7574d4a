package numeric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigamma(t *testing.T) {
	// Reference values from the Euler-Mascheroni constant and the
	// standard digamma recurrence/reflection identities.
	cases := []struct {
		x, want float64
	}{
		{1.0, -0.5772156649015329},
		{2.0, 0.4227843350984671},
		{0.5, -1.9635100260214235},
		{5.0, 1.5061176684318005},
		{10.0, 2.2517525890667211},
		{0.1, -10.423754943278239},
		{100.0, 4.6001618527380874},
	}

	for _, c := range cases {
		got := Digamma(c.x)
		assert.InDelta(t, c.want, got, 1e-6)
	}
}

func TestDigammaRecurrence(t *testing.T) {
	// psi(x+1) - psi(x) == 1/x for all x > 0.
	for _, x := range []float64{0.3, 1.7, 4.2, 9.9} {
		assert.InDelta(t, 1/x, Digamma(x+1)-Digamma(x), 1e-8)
	}
}
