package engine

import (
	"fmt"
	"strings"

	"github.com/dreamware/hybridlife/internal/cluster"
)

// Wire converts r to the JSON form workers report to the coordinator.
func (r Result) Wire() cluster.SizeResult {
	return cluster.SizeResult{
		Size:       r.Size,
		Correct:    r.Correct,
		Setup:      r.Setup.Seconds(),
		Compute:    r.Compute.Seconds(),
		Validation: r.Validation.Seconds(),
		Total:      r.Total.Seconds(),
	}
}

// Verdict is the banner line for a result.
func Verdict(correct bool) string {
	if correct {
		return "**Ok, RESULTADO CORRETO**"
	}
	return "**Nok, RESULTADO ERRADO**"
}

// Report renders r as the two-line console report: verdict, then size,
// group shape and phase timings in seconds.
func (r Result) Report() string {
	var b strings.Builder
	b.WriteString(Verdict(r.Correct))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "tam=%d; procs=%d; threads=%d; total=%d; tempos: init=%7.7f, comp=%7.7f, fim=%7.7f, tot=%7.7f",
		r.Size, r.Workers, r.Lanes, r.Workers*r.Lanes,
		r.Setup.Seconds(), r.Compute.Seconds(), r.Validation.Seconds(), r.Total.Seconds())
	return b.String()
}
