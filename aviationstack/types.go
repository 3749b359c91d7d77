// Package aviationstack is a paginated client for the aviationstack flights endpoint.
package aviationstack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vykuang/mh-flight-logs/config"
)

// Pagination is the block the flights endpoint returns alongside every page.
// Total is the server's grand total for the query; Count is the number of
// records in this page.
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Count  int `json:"count"`
	Total  int `json:"total"`
}

// Page is one response from the flights endpoint.
type Page struct {
	Pagination Pagination        `json:"pagination"`
	Data       []json.RawMessage `json:"data"`

	// Raw is the verbatim response body, archived as-is.
	Raw []byte `json:"-"`
	// Offset and Limit are the values the page was requested with.
	Offset int `json:"-"`
	Limit  int `json:"-"`
}

// Query describes one run against the flights endpoint.
type Query struct {
	Date        string // YYYY-MM-DD; labels archives and logs, not sent upstream
	AirlineName string
	AirlineIATA string
	PageSize    int
	MinDelay    *int // inclusive min_delay_arr filter, nil to omit
}

// QueryFromConfig builds the query a run uses for date.
func QueryFromConfig(cfg config.AviationstackConfig, date string) Query {
	q := Query{
		Date:        date,
		AirlineName: cfg.AirlineName,
		AirlineIATA: cfg.AirlineIATA,
		PageSize:    cfg.PageSize,
	}
	if cfg.MinDelay > 0 {
		minDelay := cfg.MinDelay
		q.MinDelay = &minDelay
	}
	return q
}

func (q Query) validate() (Query, bool, error) {
	q.AirlineName = strings.TrimSpace(q.AirlineName)
	q.AirlineIATA = strings.TrimSpace(q.AirlineIATA)
	if q.AirlineName == "" && q.AirlineIATA == "" {
		return q, false, fmt.Errorf("aviationstack: an airline name or IATA code is required")
	}
	if q.PageSize <= 0 {
		return q, false, fmt.Errorf("aviationstack: page size must be positive, got %d", q.PageSize)
	}
	clamped := false
	if q.PageSize > config.MaxPageSize {
		q.PageSize = config.MaxPageSize
		clamped = true
	}
	if q.MinDelay != nil && *q.MinDelay < 0 {
		return q, false, fmt.Errorf("aviationstack: min delay must not be negative, got %d", *q.MinDelay)
	}
	return q, clamped, nil
}

type pageEnvelope struct {
	Pagination *Pagination       `json:"pagination"`
	Data       []json.RawMessage `json:"data"`
	Error      *APIError         `json:"error"`
}

// ParsePage decodes a flights response body. The body is kept on the page
// unchanged so it can be archived verbatim.
func ParsePage(raw []byte) (*Page, error) {
	var env pageEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Error != nil {
		return nil, env.Error
	}
	if env.Pagination == nil {
		return nil, fmt.Errorf("%w: missing pagination block", ErrMalformedResponse)
	}
	if env.Pagination.Count < 0 || env.Pagination.Total < 0 {
		return nil, fmt.Errorf("%w: negative pagination values %+v", ErrMalformedResponse, *env.Pagination)
	}
	if env.Pagination.Count != len(env.Data) {
		return nil, fmt.Errorf("%w: pagination count %d but %d records", ErrMalformedResponse, env.Pagination.Count, len(env.Data))
	}

	return &Page{
		Pagination: *env.Pagination,
		Data:       env.Data,
		Raw:        raw,
		Offset:     env.Pagination.Offset,
		Limit:      env.Pagination.Limit,
	}, nil
}
