// Package export renders stores as CSV or XLSX and optionally uploads the
// file to a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/storefront-contact-crawler/internal/crawler"
	"github.com/JakeFAU/storefront-contact-crawler/internal/store"
)

// Format selects the file type.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const sheetName = "Stores"

// ParseFormat accepts "csv" or "xlsx", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", store.ErrInvalidInput, s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Header is the column order of every export.
var Header = []string{
	"id", "app_name", "store_name", "country", "base_url", "status", "confidence", "provider",
	"emails", "raw_email_count", "candidate_urls", "rating", "review_date", "usage_duration",
	"last_error", "updated_at",
}

// Row flattens st into Header order.
func Row(st store.Store) []string {
	confidence := ""
	if st.Confidence != nil {
		confidence = strconv.FormatFloat(*st.Confidence, 'f', 2, 64)
	}
	rating := ""
	if st.Rating > 0 {
		rating = strconv.Itoa(st.Rating)
	}
	updated := ""
	if !st.UpdatedAt.IsZero() {
		updated = st.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		strconv.FormatInt(st.ID, 10), st.AppName, st.Name, st.Country, st.URL, string(st.Status),
		confidence, st.Provider, strings.Join(st.Emails, "; "), strconv.Itoa(len(st.RawEmails)),
		strings.Join(st.CandidateURLs, " "), rating, st.ReviewDate, st.UsageDuration, st.LastError, updated,
	}
}

// Write renders stores to w in format f.
func Write(w io.Writer, stores []store.Store, f Format) error {
	switch f {
	case FormatXLSX:
		return writeXLSX(w, stores)
	default:
		return writeCSV(w, stores)
	}
}

func writeCSV(w io.Writer, stores []store.Store) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, st := range stores {
		if err := cw.Write(Row(st)); err != nil {
			return fmt.Errorf("write csv row %d: %w", st.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, stores []store.Store) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := setRow(f, 1, Header); err != nil {
		return err
	}
	for i, st := range stores {
		if err := setRow(f, i+2, Row(st)); err != nil {
			return err
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	if err := f.SetSheetRow(sheetName, cell, &vals); err != nil {
		return fmt.Errorf("set row %d: %w", row, err)
	}
	return nil
}

// Source lists stores.
type Source interface {
	ListStores(ctx context.Context, f store.StoreFilter) ([]store.Store, error)
}

// BlobStore persists export files. The gcs, local and memory storage
// packages satisfy it.
type BlobStore interface {
	PutObject(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// Request selects what to export.
type Request struct {
	AppName string       `json:"app_name"`
	Status  store.Status `json:"status"`
	Format  Format       `json:"format"`
}

// Result describes an uploaded export.
type Result struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
	Rows int    `json:"rows"`
}

// Exporter reads stores and writes export files.
type Exporter struct {
	src   Source
	blobs BlobStore
	clock crawler.Clock
}

// New builds an Exporter. blobs may be nil when only WriteTo is used.
func New(src Source, blobs BlobStore, clock crawler.Clock) *Exporter {
	return &Exporter{src: src, blobs: blobs, clock: clock}
}

// WriteTo renders the selected stores to w and returns the row count.
func (e *Exporter) WriteTo(ctx context.Context, w io.Writer, req Request) (int, error) {
	stores, err := e.stores(ctx, req)
	if err != nil {
		return 0, err
	}
	return len(stores), Write(w, stores, req.Format)
}

// Upload renders the selected stores and stores the file under a
// timestamped name.
func (e *Exporter) Upload(ctx context.Context, req Request) (Result, error) {
	if e.blobs == nil {
		return Result{}, fmt.Errorf("export: no blob store configured")
	}
	var buf bytes.Buffer
	n, err := e.WriteTo(ctx, &buf, req)
	if err != nil {
		return Result{}, err
	}
	name := FileName(req, e.clock.Now())
	uri, err := e.blobs.PutObject(ctx, name, req.Format.ContentType(), &buf)
	if err != nil {
		return Result{}, fmt.Errorf("upload export: %w", err)
	}
	return Result{Name: name, URI: uri, Rows: n}, nil
}

// FileName builds "stores_<app>_<status>_<utc timestamp>.<ext>".
func FileName(req Request, now time.Time) string {
	parts := []string{"stores"}
	if req.AppName != "" {
		parts = append(parts, sanitize(req.AppName))
	}
	if req.Status != "" {
		parts = append(parts, string(req.Status))
	}
	parts = append(parts, now.UTC().Format("20060102T150405Z"))
	ext := string(req.Format)
	if ext == "" {
		ext = string(FormatCSV)
	}
	return strings.Join(parts, "_") + "." + ext
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}

func (e *Exporter) stores(ctx context.Context, req Request) ([]store.Store, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, req.Status)
	}
	stores, err := e.src.ListStores(ctx, store.StoreFilter{AppName: req.AppName, Status: req.Status})
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	return stores, nil
}
