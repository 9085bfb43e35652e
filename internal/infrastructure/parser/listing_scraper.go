package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"BillScanner/internal/domain"
	"BillScanner/internal/ports"
)

// ListingOptions locates the session listing and the per-bill documents.
type ListingOptions struct {
	ListingURL          string
	Session             string
	DocumentURLTemplate string
	// HeaderTables is the number of leading mini-data tables that hold page chrome, not bills.
	HeaderTables int
}

// ListingScraper parses the session listing page into partial bill records.
type ListingScraper struct {
	client Doer
	opts   ListingOptions
	logger *slog.Logger
}

var _ ports.ListingSource = (*ListingScraper)(nil)

// NewListingScraper wires the client used for the single listing fetch.
func NewListingScraper(client Doer, opts ListingOptions, log *slog.Logger) *ListingScraper {
	return &ListingScraper{client: client, opts: opts, logger: log}
}

// Scrape fetches the listing once and returns one record per distinct bill identifier.
func (s *ListingScraper) Scrape(ctx context.Context) ([]domain.BillRecord, error) {
	if s.opts.ListingURL == "" {
		return nil, fmt.Errorf("listing url is not configured")
	}

	doc, err := fetchDocument(ctx, s.client, s.opts.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.opts.ListingURL, err)
	}

	bills := s.extractBills(doc)
	s.debug("listing parsed", "bills", len(bills))
	return bills, nil
}

func (s *ListingScraper) extractBills(doc *goquery.Document) []domain.BillRecord {
	tables := doc.Find("table.mini-data-table")
	if tables.Length() <= s.opts.HeaderTables {
		return nil
	}
	tables = tables.Slice(s.opts.HeaderTables, goquery.ToEnd)

	var (
		bills   []domain.BillRecord
		seen    = map[string]struct{}{}
		skipped int
	)

	tables.Each(func(_ int, table *goquery.Selection) {
		row := table.Find(`tr[id^="bill"]`).First()
		if row.Length() == 0 {
			return
		}

		bill, ok := parseBillRow(row, s.opts)
		if !ok {
			skipped++
			return
		}
		if _, dup := seen[bill.ID]; dup {
			return
		}
		seen[bill.ID] = struct{}{}
		bills = append(bills, bill)
	})

	if skipped > 0 {
		s.debug("skipped malformed bill rows", "count", skipped)
	}
	return bills
}

// parseBillRow needs the anchor cell, the title cell and the status cell; the
// identifier comes from the detail link rather than the display text.
func parseBillRow(row *goquery.Selection, opts ListingOptions) (domain.BillRecord, bool) {
	cells := row.Find("td")
	if cells.Length() < 4 {
		return domain.BillRecord{}, false
	}

	href, ok := cells.Eq(0).Find("a[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return domain.BillRecord{}, false
	}

	id := BillIDFromLink(href)
	if id == "" {
		return domain.BillRecord{}, false
	}

	return domain.BillRecord{
		ID:          id,
		Title:       cellText(cells.Eq(1)),
		Status:      cellText(cells.Eq(3)),
		DetailLink:  strings.TrimSpace(href),
		DocumentURL: DocumentURL(opts.DocumentURLTemplate, opts.Session, id),
	}, true
}

// BillIDFromLink returns the last path segment of a detail link, e.g. H0001
// for /sessioninfo/2025/legislation/H0001/.
func BillIDFromLink(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}
	clean := strings.TrimRight(u.Path, "/")
	if clean == "" {
		return ""
	}
	id := path.Base(clean)
	if id == "." || id == "/" {
		return ""
	}
	return id
}

// DocumentURL expands {session} and {bill} in the document URL template.
func DocumentURL(template, session, id string) string {
	return strings.NewReplacer("{session}", session, "{bill}", id).Replace(template)
}

func (s *ListingScraper) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
