package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"BillScanner/internal/ports"
)

// ErrSponsorNotFound means the detail page lacks the expected bill table layout.
var ErrSponsorNotFound = errors.New("sponsor cell not found")

const sponsorPrefix = "by "

// DetailEnricher reads a bill's sponsor from its detail page.
type DetailEnricher struct {
	client  Doer
	baseURL string
}

var _ ports.SponsorSource = (*DetailEnricher)(nil)

// NewDetailEnricher expects the rate-limited client; detail links are resolved against baseURL.
func NewDetailEnricher(client Doer, baseURL string) *DetailEnricher {
	return &DetailEnricher{client: client, baseURL: baseURL}
}

// Sponsor fetches the detail page and returns the sponsor name, possibly empty.
func (d *DetailEnricher) Sponsor(ctx context.Context, detailLink string) (string, error) {
	target, err := resolveLink(d.baseURL, detailLink)
	if err != nil {
		return "", err
	}

	doc, err := fetchDocument(ctx, d.client, target)
	if err != nil {
		return "", fmt.Errorf("detail %s: %w", detailLink, err)
	}

	sponsor, err := extractSponsor(doc)
	if err != nil {
		return "", fmt.Errorf("detail %s: %w", detailLink, err)
	}
	return sponsor, nil
}

func extractSponsor(doc *goquery.Document) (string, error) {
	table := doc.Find("table.bill-table").First()
	if table.Length() == 0 {
		return "", ErrSponsorNotFound
	}

	cells := table.Find("tr").First().Find("td")
	if cells.Length() < 3 {
		return "", ErrSponsorNotFound
	}

	text := cellText(cells.Eq(2))
	text = strings.TrimPrefix(text, sponsorPrefix)
	return strings.TrimSpace(text), nil
}
