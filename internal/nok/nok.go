// Package nok formats kroner amounts the way the exercise displays them.
package nok

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// groupSep is the no-break space used by nb-NO digit grouping.
const groupSep = "\u00a0"

// Format renders n with nb-NO grouping, up to three decimals and a " kr" suffix.
func Format(n float64) string {
	return Number(n) + " kr"
}

// Number renders n with nb-NO grouping and decimal comma, no suffix.
func Number(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return "0"
	}
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	milli := int64(math.Round(n * 1000))
	whole, frac := milli/1000, milli%1000

	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	b.WriteString(sign)
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteString(groupSep)
		}
		b.WriteRune(r)
	}
	if frac > 0 {
		b.WriteString(",")
		b.WriteString(strings.TrimRight(fmt.Sprintf("%03d", frac), "0"))
	}
	return b.String()
}
