// Package pipeline runs one day of the poller: fetch or load pages, archive
// them, store their records, then report and publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/vykuang/mh-flight-logs/archive"
	"github.com/vykuang/mh-flight-logs/aviationstack"
	"github.com/vykuang/mh-flight-logs/config"
	"github.com/vykuang/mh-flight-logs/normalize"
	"github.com/vykuang/mh-flight-logs/pkg/cache"
	"github.com/vykuang/mh-flight-logs/pkg/logger"
	"github.com/vykuang/mh-flight-logs/publish"
	"github.com/vykuang/mh-flight-logs/report"
)

// Stage names the step a run failed in.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageArchive   Stage = "archive"
	StageNormalize Stage = "normalize"
	StageStore     Stage = "store"
	StageReport    Stage = "report"
	StagePublish   Stage = "publish"
)

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Fetcher yields the pages of a query.
type Fetcher interface {
	Pages(ctx context.Context, q aviationstack.Query) iter.Seq2[*aviationstack.Page, error]
}

// Store persists records and answers report queries.
type Store interface {
	EnsureTable(ctx context.Context, schema []string) error
	Upsert(ctx context.Context, records []normalize.Record) (int, error)
	report.Source
}

// Deps are the collaborators of a pipeline. Fetcher may be nil when every
// run uses the local archive; Cache is optional.
type Deps struct {
	Config    *config.Config
	Fetcher   Fetcher
	Archive   *archive.Archiver
	Store     Store
	Reports   *report.Builder
	Publisher publish.Publisher
	Cache     *cache.CacheManager
	Logger    *logger.Logger
}

// Options select what one run does.
type Options struct {
	Date         string // YYYY-MM-DD
	UseLocal     bool   // read archived pages instead of calling the API
	ForcePublish bool   // publish even if the date was published before
	SkipPublish  bool
}

// Result summarises a run. PublishErr is set when the post failed; the
// run itself still counts as successful.
type Result struct {
	RunID            string
	Date             string
	Pages            int
	Records          int
	Stored           int
	Skipped          int
	Report           *report.Report
	Text             string
	Post             *publish.PostResult
	PublishErr       error
	AlreadyPublished bool
}

// Pipeline wires the stages together.
type Pipeline struct {
	deps Deps
	sep  string
	log  *logger.Logger
}

// New checks deps and returns a pipeline.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("pipeline: config is required")
	case deps.Archive == nil:
		return nil, errors.New("pipeline: archive is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Reports == nil:
		return nil, errors.New("pipeline: report builder is required")
	case deps.Publisher == nil:
		return nil, errors.New("pipeline: publisher is required")
	}
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	sep := deps.Config.StoreConfig.Separator
	if sep == "" {
		sep = normalize.DefaultSeparator
	}
	return &Pipeline{deps: deps, sep: sep, log: log.WithField("component", "pipeline")}, nil
}

// Run ingests opts.Date and then reports on it. Errors before publishing
// abort the run and come back as *StageError.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	if _, err := time.Parse(time.DateOnly, opts.Date); err != nil {
		return nil, fmt.Errorf("pipeline: invalid date %q: %w", opts.Date, err)
	}

	res := &Result{RunID: uuid.NewString(), Date: opts.Date}
	ctx = logger.WithRunID(ctx, res.RunID)
	log := p.log.WithContext(ctx).WithField("date", opts.Date)
	log.Info("run started", "local", opts.UseLocal)

	if err := p.ingest(ctx, opts, res, log); err != nil {
		log.Error(err, "ingest failed")
		return res, err
	}
	log.Info("ingest finished", "pages", res.Pages, "records", res.Records, "stored", res.Stored, "skipped", res.Skipped)

	r, text, err := p.deps.Reports.Text(ctx, opts.Date)
	if err != nil {
		log.Error(err, "report failed")
		return res, stageErr(StageReport, err)
	}
	res.Report, res.Text = r, text
	p.cacheReport(ctx, res, log)

	if !opts.SkipPublish {
		p.publish(ctx, opts, res, log)
	}
	log.Info("run finished", "delayed", r.Count, "published", res.Post != nil)
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, opts Options, res *Result, log *logger.Logger) error {
	if opts.UseLocal {
		pages, err := p.deps.Archive.Load(opts.Date)
		if err != nil {
			return stageErr(StageArchive, err)
		}
		for _, page := range pages {
			if err := p.storePage(ctx, page, res, log); err != nil {
				return err
			}
		}
		return nil
	}

	if p.deps.Fetcher == nil {
		return stageErr(StageFetch, errors.New("no fetcher configured"))
	}
	q := aviationstack.QueryFromConfig(p.deps.Config.AviationstackConfig, opts.Date)
	for page, err := range p.deps.Fetcher.Pages(ctx, q) {
		if err != nil {
			return stageErr(StageFetch, err)
		}
		path, err := p.deps.Archive.Archive(page, opts.Date, page.Offset, page.Limit)
		if err != nil {
			return stageErr(StageArchive, err)
		}
		log.Debug("page archived", "path", path)
		if err := p.storePage(ctx, page, res, log); err != nil {
			return err
		}
	}
	return nil
}

// storePage normalises one page and upserts it in a single transaction.
// Records that are not objects or lack their natural key are skipped.
func (p *Pipeline) storePage(ctx context.Context, page *aviationstack.Page, res *Result, log *logger.Logger) error {
	res.Pages++
	records := make([]normalize.Record, 0, len(page.Data))
	for i, raw := range page.Data {
		res.Records++
		rec, err := normalize.Decode(raw, p.sep)
		if err != nil {
			res.Skipped++
			log.Warn("skipping undecodable record", "offset", page.Pagination.Offset+i, "error", err)
			continue
		}
		if missing := rec.MissingKeyFields(p.sep); len(missing) > 0 {
			res.Skipped++
			log.Warn("skipping record without natural key", "offset", page.Pagination.Offset+i, "missing", missing)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil
	}

	if err := p.deps.Store.EnsureTable(ctx, normalize.Schema(records, p.sep)); err != nil {
		return stageErr(StageStore, err)
	}
	n, err := p.deps.Store.Upsert(ctx, records)
	if err != nil {
		return stageErr(StageStore, err)
	}
	res.Stored += n
	return nil
}

func (p *Pipeline) cacheReport(ctx context.Context, res *Result, log *logger.Logger) {
	if p.deps.Cache == nil {
		return
	}
	ttl := p.deps.Config.RedisConfig.ReportTTL
	rendered := report.Rendered{Report: res.Report, Text: res.Text}
	if err := p.deps.Cache.SetJSON(ctx, cache.ReportKey(res.Date), rendered, ttl); err != nil {
		log.Warn("caching report failed", "error", err)
	}
}

// publish posts the text at most once per date. Failures are logged and
// recorded on res, never returned.
func (p *Pipeline) publish(ctx context.Context, opts Options, res *Result, log *logger.Logger) {
	log = log.WithField("target", p.deps.Publisher.Name())

	// a dry run neither consumes nor honours the per-date marker
	claimed := false
	if p.deps.Cache != nil && p.deps.Publisher.Name() != config.TargetDryRun {
		ok, err := p.deps.Cache.ClaimPublish(ctx, res.Date, cache.PublishTTL)
		switch {
		case err != nil:
			log.Warn("publish guard unavailable, publishing anyway", "error", err)
		case !ok && !opts.ForcePublish:
			res.AlreadyPublished = true
			log.Info("report already published for date, skipping")
			return
		default:
			claimed = ok
		}
	}

	post, err := p.deps.Publisher.Publish(ctx, res.Text)
	if err != nil {
		res.PublishErr = stageErr(StagePublish, err)
		log.Error(err, "publish failed, stored data is kept")
		if claimed {
			if err := p.deps.Cache.ReleasePublish(ctx, res.Date); err != nil {
				log.Warn("releasing publish guard failed", "error", err)
			}
		}
		return
	}
	res.Post = post
	log.Info("report published", "id", post.ID)
}
