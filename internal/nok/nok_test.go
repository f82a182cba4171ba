package nok

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	cases := map[float64]string{
		0:       "0 kr",
		999:     "999 kr",
		1000:    "1_000 kr",
		100000:  "100_000 kr",
		1250000: "1_250_000 kr",
		1500.5:  "1_500,5 kr",
		12.3456: "12,346 kr",
		-2000:   "-2_000 kr",
	}
	for in, want := range cases {
		want = strings.ReplaceAll(want, "_", groupSep)
		assert.Equal(t, want, Format(in), "format %v", in)
	}
}

func TestNumberIgnoresNaN(t *testing.T) {
	assert.Equal(t, "0", Number(0))
	zero := 0.0
	assert.Equal(t, "0", Number(zero/zero))
}
