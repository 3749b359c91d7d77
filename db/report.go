package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/vykuang/mh-flight-logs/config"
)

// ReportQuery scopes the delay queries to one scheduled date.
type ReportQuery struct {
	Date      string // YYYY-MM-DD, compared to the local date of the scheduled time
	DateField string // "arrival" or "departure"
	MinDelay  int    // arrival delay in minutes a flight needs to count as delayed
	Limit     int    // rows returned by TopDelays
}

func (q ReportQuery) validate() (ReportQuery, error) {
	if _, err := time.Parse(time.DateOnly, q.Date); err != nil {
		return q, fmt.Errorf("db: report date %q: %w", q.Date, err)
	}
	switch q.DateField {
	case "":
		q.DateField = config.DateFieldArrival
	case config.DateFieldArrival, config.DateFieldDeparture:
	default:
		return q, fmt.Errorf("db: unknown report date field %q", q.DateField)
	}
	if q.Limit <= 0 {
		q.Limit = 3
	}
	return q, nil
}

// DelayStats summarises the delayed flights of a date.
type DelayStats struct {
	Count   int
	Average float64 // meaningful only when Count > 0
}

// DelayedFlight is one row of the most delayed flights.
type DelayedFlight struct {
	Flight    string
	Departure string // departure airport name
	Arrival   string // arrival airport name
	Delay     int    // arrival delay in minutes
}

var (
	flightPath           = []string{"flight", "iata"}
	departureAirportPath = []string{"departure", "airport"}
	arrivalAirportPath   = []string{"arrival", "airport"}
	arrivalDelayPath     = []string{"arrival", "delay"}
)

// field returns the SQL expression reading path from a stored row. In the
// columns layout a field the table never saw reads as NULL.
func (s *Store) field(path []string, cols []string) string {
	if s.layout != config.LayoutColumns {
		return s.dialect.jsonColumn(docColumn, path)
	}
	name := strings.Join(path, s.sep)
	if !slices.Contains(cols, name) {
		return "CAST(NULL AS TEXT)"
	}
	return s.dialect.quote(name)
}

// delayedWhere builds the shared filter. Dates are compared on the first ten
// characters of the scheduled timestamp so its offset is never converted.
func (s *Store) delayedWhere(q ReportQuery, cols []string) (where, delay string) {
	sched := s.field([]string{q.DateField, "scheduled"}, cols)
	delay = s.dialect.number(s.field(arrivalDelayPath, cols))
	where = fmt.Sprintf("substr(%s, 1, 10) = %s AND %s >= %s",
		sched, s.dialect.placeholder(1), delay, s.dialect.placeholder(2))
	return where, delay
}

// DelayStats counts the delayed flights of q.Date and averages their arrival delay.
func (s *Store) DelayStats(ctx context.Context, q ReportQuery) (DelayStats, error) {
	q, err := q.validate()
	if err != nil {
		return DelayStats{}, err
	}
	cols, err := s.knownColumns(ctx)
	if err != nil {
		return DelayStats{}, err
	}
	if len(cols) == 0 {
		return DelayStats{}, nil
	}

	where, delay := s.delayedWhere(q, cols)
	query := fmt.Sprintf("SELECT COUNT(*), AVG(%s) FROM %s WHERE %s", delay, s.dialect.quote(s.table), where)

	var (
		stats DelayStats
		avg   sql.NullFloat64
	)
	if err := s.db.QueryRowContext(ctx, query, q.Date, q.MinDelay).Scan(&stats.Count, &avg); err != nil {
		return DelayStats{}, fmt.Errorf("db: delay stats for %s: %w", q.Date, err)
	}
	if avg.Valid {
		stats.Average = avg.Float64
	}
	return stats, nil
}

// TopDelays returns up to q.Limit delayed flights of q.Date, longest delay
// first. Equal delays keep the order the flights were first stored in.
func (s *Store) TopDelays(ctx context.Context, q ReportQuery) ([]DelayedFlight, error) {
	q, err := q.validate()
	if err != nil {
		return nil, err
	}
	cols, err := s.knownColumns(ctx)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}

	where, delay := s.delayedWhere(q, cols)
	query := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s ORDER BY %s DESC, %s ASC LIMIT %s",
		s.field(flightPath, cols), s.field(departureAirportPath, cols), s.field(arrivalAirportPath, cols), delay,
		s.dialect.quote(s.table), where, delay, s.dialect.seqColumn(), s.dialect.placeholder(3))

	rows, err := s.db.QueryContext(ctx, query, q.Date, q.MinDelay, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("db: top delays for %s: %w", q.Date, err)
	}
	defer rows.Close()

	var out []DelayedFlight
	for rows.Next() {
		var (
			flight, dep, arr sql.NullString
			d                sql.NullFloat64
		)
		if err := rows.Scan(&flight, &dep, &arr, &d); err != nil {
			return nil, fmt.Errorf("db: scan delayed flight: %w", err)
		}
		out = append(out, DelayedFlight{
			Flight:    flight.String,
			Departure: dep.String,
			Arrival:   arr.String,
			Delay:     int(math.Round(d.Float64)),
		})
	}
	return out, rows.Err()
}
