package summaries

import (
	"time"

	"github.com/daybook-labs/daybook/backend/internal/analyzer"
)

// timeOfDayLayout renders a coarse 12-hour wall-clock signal, e.g. "9:41 AM".
const timeOfDayLayout = "3:04 PM"

// buildAnalysisContext derives the auxiliary metadata handed to the
// analyzer. Pure function of its inputs; existing may be nil.
func buildAnalysisContext(existing *Summary, isSynthetic, isEdit bool, now time.Time) analyzer.Context {
	return analyzer.Context{
		IsSynthetic:         isSynthetic,
		IsEdit:              isEdit,
		TimeOfDay:           now.Format(timeOfDayLayout),
		HasPreviousAnalysis: existing != nil && existing.HasAnalysis(),
	}
}
