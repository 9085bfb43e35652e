package usecase

import (
	"fmt"
	"strings"

	"BillScanner/internal/domain"
)

const digestTopBills = 5

// BuildDigest summarizes a merged run for chat notifications. fresh is the number
// of analyses not yet published before, or negative when unknown.
func BuildDigest(run domain.Run, records []domain.EnrichedRecord, fresh int) string {
	var analyzed, failed, missing, findings int
	for _, rec := range records {
		switch rec.State() {
		case domain.AnalysisComplete:
			analyzed++
			findings += rec.IssueCount
		case domain.AnalysisUnusable:
			failed++
		default:
			missing++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Bill scan %s\n", run)
	fmt.Fprintf(&b, "Bills: %d\nAnalyzed: %d\nFailed: %d\nNot analyzed: %d\nFindings: %d\n",
		len(records), analyzed, failed, missing, findings)
	if fresh >= 0 {
		fmt.Fprintf(&b, "New analyses: %d\n", fresh)
	}

	shown := 0
	for _, rec := range records {
		if shown == digestTopBills || rec.IssueCount == 0 {
			break
		}
		if shown == 0 {
			b.WriteString("\nMost issues:\n")
		}
		fmt.Fprintf(&b, "- %s %s (%s)\n", rec.ID, rec.Title, rec.DetailLabel())
		shown++
	}

	return strings.TrimRight(b.String(), "\n")
}
