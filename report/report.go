// Package report turns the stored flights of one day into the short
// delay summary that gets published.
package report

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"unicode/utf8"

	anyascii "github.com/anyascii/go"
	"golang.org/x/text/unicode/norm"

	"github.com/vykuang/mh-flight-logs/config"
	"github.com/vykuang/mh-flight-logs/db"
)

// TemplateName is the file looked up in a template directory.
const TemplateName = "report.tmpl"

// DefaultMaxLength is the publishing limit in characters.
const DefaultMaxLength = 280

const notAvailable = "N/A"

//go:embed templates/report.tmpl
var templates embed.FS

// Source answers the two delay queries a report needs.
type Source interface {
	DelayStats(ctx context.Context, q db.ReportQuery) (db.DelayStats, error)
	TopDelays(ctx context.Context, q db.ReportQuery) ([]db.DelayedFlight, error)
}

// Entry is one of the most delayed flights.
type Entry struct {
	Flight    string `json:"flight"`
	Departure string `json:"departure"`
	Arrival   string `json:"arrival"`
	Delay     int    `json:"delay"`
}

// Report is the summary of one day. AvgDelay is nil when no flight was delayed.
type Report struct {
	Date     string   `json:"date"`
	Airline  string   `json:"airline"`
	Count    int      `json:"count"`
	AvgDelay *float64 `json:"avg_delay"`
	Top      []Entry  `json:"top"`
}

// Builder queries a Source and renders reports.
type Builder struct {
	source Source
	cfg    config.ReportConfig
	tmpl   *template.Template
}

// NewBuilder loads the report template, preferring report.tmpl in
// cfg.TemplateDir over the built-in one.
func NewBuilder(source Source, cfg config.ReportConfig) (*Builder, error) {
	if cfg.TopN <= 0 {
		cfg.TopN = 3
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.DateField == "" {
		cfg.DateField = config.DateFieldArrival
	}

	tmpl, err := loadTemplate(cfg.TemplateDir)
	if err != nil {
		return nil, err
	}
	return &Builder{source: source, cfg: cfg, tmpl: tmpl}, nil
}

var funcs = template.FuncMap{
	"na": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return notAvailable
		}
		return s
	},
	"minutes": func(v *float64) string {
		if v == nil {
			return notAvailable
		}
		return fmt.Sprintf("%.0f min", *v)
	},
}

func loadTemplate(dir string) (*template.Template, error) {
	base := template.New(TemplateName).Funcs(funcs)
	if dir != "" {
		path := filepath.Join(dir, TemplateName)
		text, err := os.ReadFile(path)
		switch {
		case err == nil:
			tmpl, err := base.Parse(string(text))
			if err != nil {
				return nil, fmt.Errorf("report: parse %s: %w", path, err)
			}
			return tmpl, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("report: read %s: %w", path, err)
		}
	}
	tmpl, err := base.ParseFS(templates, "templates/"+TemplateName)
	if err != nil {
		return nil, fmt.Errorf("report: parse built-in template: %w", err)
	}
	return tmpl, nil
}

// Build runs the aggregate and top-N queries for date (YYYY-MM-DD).
func (b *Builder) Build(ctx context.Context, date string) (*Report, error) {
	q := db.ReportQuery{
		Date:      date,
		DateField: b.cfg.DateField,
		MinDelay:  b.cfg.MinDelay,
		Limit:     b.cfg.TopN,
	}

	stats, err := b.source.DelayStats(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	top, err := b.source.TopDelays(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	r := &Report{
		Date:    date,
		Airline: b.cfg.AirlineLabel,
		Count:   stats.Count,
		Top:     make([]Entry, 0, len(top)),
	}
	if stats.Count > 0 {
		avg := stats.Average
		r.AvgDelay = &avg
	}
	for _, f := range top {
		r.Top = append(r.Top, Entry{
			Flight:    f.Flight,
			Departure: b.airportName(f.Departure),
			Arrival:   b.airportName(f.Arrival),
			Delay:     f.Delay,
		})
	}
	return r, nil
}

func (b *Builder) airportName(name string) string {
	name = StripAirportSuffix(name)
	if b.cfg.ASCIINames {
		name = anyascii.Transliterate(name)
	}
	return name
}

// Render executes the template and cuts the result to the configured
// maximum length.
func (b *Builder) Render(r *Report) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("report: render %s: %w", r.Date, err)
	}
	return Truncate(buf.String(), b.cfg.MaxLength), nil
}

// Text builds and renders the report for date.
func (b *Builder) Text(ctx context.Context, date string) (*Report, string, error) {
	r, err := b.Build(ctx, date)
	if err != nil {
		return nil, "", err
	}
	text, err := b.Render(r)
	if err != nil {
		return r, "", err
	}
	return r, text, nil
}

var airportSuffixes = []string{" International Airport", " International", " Airport"}

// StripAirportSuffix drops the generic words from an airport name, so
// "Kuala Lumpur International Airport" reads "Kuala Lumpur".
func StripAirportSuffix(name string) string {
	for _, s := range airportSuffixes {
		name = strings.ReplaceAll(name, s, "")
	}
	return strings.TrimSpace(name)
}

// Truncate hard-cuts text to max characters, counted after NFC
// normalisation. Text within max runes is returned unchanged. Longer text
// comes back normalised, so a decomposed "e\u0301" counts once and the
// result may hold fewer than max runes when normalising alone fits it.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	text = norm.NFC.String(text)
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max])
}

// Rendered pairs a report with its text, as cached and served.
type Rendered struct {
	Report *Report `json:"report"`
	Text   string  `json:"text"`
}
