package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"BillScanner/internal/domain"
)

const titleWidth = 60

var header = []string{"BILL", "STATUS", "SPONSOR", "ANALYSIS", "TITLE"}

// WriteTable prints one line per record with columns padded by display width,
// so sponsor names and titles with wide characters stay aligned.
func WriteTable(w io.Writer, records []domain.EnrichedRecord) error {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, header)
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ID,
			rec.Status,
			rec.Sponsor,
			rec.DetailLabel(),
			runewidth.Truncate(rec.Title, titleWidth, "..."),
		})
	}

	widths := make([]int, len(header))
	for _, row := range rows {
		for i, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	for _, row := range rows {
		var sb strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
			sb.WriteString("  ")
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(sb.String(), " ")); err != nil {
			return err
		}
	}
	return nil
}

// Summary is a one-line count of analysis states.
func Summary(records []domain.EnrichedRecord) string {
	var complete, unusable, absent, findings int
	for _, rec := range records {
		switch rec.State() {
		case domain.AnalysisComplete:
			complete++
			findings += rec.IssueCount
		case domain.AnalysisUnusable:
			unusable++
		default:
			absent++
		}
	}
	return fmt.Sprintf("%d bills, %d analyzed, %d failed, %d not analyzed, %d findings",
		len(records), complete, unusable, absent, findings)
}
