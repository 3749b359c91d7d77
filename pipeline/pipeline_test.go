package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vykuang/mh-flight-logs/archive"
	"github.com/vykuang/mh-flight-logs/aviationstack"
	"github.com/vykuang/mh-flight-logs/config"
	"github.com/vykuang/mh-flight-logs/db"
	"github.com/vykuang/mh-flight-logs/pkg/cache"
	"github.com/vykuang/mh-flight-logs/pkg/logger"
	"github.com/vykuang/mh-flight-logs/publish"
	"github.com/vykuang/mh-flight-logs/report"
)

func flightJSON(iata, depAirport, arrIATA, arrAirport string, delay any) string {
	d := "null"
	if delay != nil {
		d = fmt.Sprint(delay)
	}
	return fmt.Sprintf(`{
		"flight_date": "2024-01-01",
		"flight_status": "landed",
		"airline": {"name": "Malaysia Airlines", "iata": "MH"},
		"flight": {"iata": %q, "number": %q},
		"departure": {"airport": %q, "iata": "KUL", "scheduled": "2024-01-01T08:00:00+00:00"},
		"arrival": {"airport": %q, "iata": %q, "scheduled": "2024-01-01T10:00:00+00:00", "delay": %s}
	}`, iata, strings.TrimPrefix(iata, "MH"), depAirport, arrAirport, arrIATA, d)
}

func pageJSON(offset, total int, records ...string) []byte {
	return []byte(fmt.Sprintf(`{"pagination":{"offset":%d,"limit":100,"count":%d,"total":%d},"data":[%s]}`,
		offset, len(records), total, strings.Join(records, ",")))
}

type failingPublisher struct {
	calls atomic.Int32
}

func (f *failingPublisher) Name() string { return "failing" }

func (f *failingPublisher) Publish(ctx context.Context, text string) (*publish.PostResult, error) {
	f.calls.Add(1)
	return nil, errors.New("401 unauthorized")
}

type recordingPublisher struct {
	texts []string
}

func (r *recordingPublisher) Name() string { return "recording" }

func (r *recordingPublisher) Publish(ctx context.Context, text string) (*publish.PostResult, error) {
	r.texts = append(r.texts, text)
	return &publish.PostResult{Target: "recording", ID: fmt.Sprint(len(r.texts)), Text: text}, nil
}

type harness struct {
	cfg      *config.Config
	archiver *archive.Archiver
	store    *db.Store
	out      *bytes.Buffer
	deps     Deps
}

func newHarness(t *testing.T, fetcher Fetcher) *harness {
	t.Helper()
	cfg := config.TestConfig(t.TempDir())

	store, err := db.Open(context.Background(), cfg.StoreConfig)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	builder, err := report.NewBuilder(store, cfg.ReportConfig)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	h := &harness{
		cfg:      cfg,
		archiver: archive.New(cfg.ArchiveConfig.Dir),
		store:    store,
		out:      out,
	}
	h.deps = Deps{
		Config:    cfg,
		Fetcher:   fetcher,
		Archive:   h.archiver,
		Store:     store,
		Reports:   builder,
		Publisher: publish.NewDryRun(out),
		Logger:    logger.Discard(),
	}
	return h
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(h.deps)
	require.NoError(t, err)
	return p
}

func (h *harness) seedArchive(t *testing.T, offset int, raw []byte) {
	t.Helper()
	page, err := aviationstack.ParsePage(raw)
	require.NoError(t, err)
	_, err = h.archiver.Archive(page, "2024-01-01", offset, 100)
	require.NoError(t, err)
}

func TestRunLocalArchiveEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	h.seedArchive(t, 0, pageJSON(0, 3,
		flightJSON("MH1", "Kuala Lumpur International Airport", "SIN", "Singapore Changi Airport", 45),
		flightJSON("MH2", "Kuala Lumpur International Airport", "BKK", "Suvarnabhumi Airport", 0),
	))
	h.seedArchive(t, 2, pageJSON(2, 3,
		flightJSON("MH3", "Kuala Lumpur International Airport", "LHR", "Heathrow Airport", nil),
	))

	res, err := h.pipeline(t).Run(context.Background(), Options{Date: "2024-01-01", UseLocal: true})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, 3, res.Stored)
	assert.Zero(t, res.Skipped)
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, 1, res.Report.Count)
	require.NotNil(t, res.Report.AvgDelay)
	assert.Equal(t, 45.0, *res.Report.AvgDelay)

	assert.Equal(t, "On 2024-01-01, 1 MH flights were delayed by an average of 45 min. Most delayed flights:\n"+
		"MH1 from Kuala Lumpur to Singapore Changi by 45 min", res.Text)
	assert.Equal(t, res.Text+"\n", h.out.String())
	require.NotNil(t, res.Post)
	assert.Nil(t, res.PublishErr)
}

func TestRunLocalIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.seedArchive(t, 0, pageJSON(0, 1, flightJSON("MH1", "Kuala Lumpur International", "SIN", "Changi", 45)))

	p := h.pipeline(t)
	for i := 0; i < 2; i++ {
		_, err := p.Run(context.Background(), Options{Date: "2024-01-01", UseLocal: true, SkipPublish: true})
		require.NoError(t, err)
	}

	n, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunLocalWithoutArchive(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.pipeline(t).Run(context.Background(), Options{Date: "2024-01-01", UseLocal: true})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageArchive, stageErr.Stage)
	assert.ErrorIs(t, err, archive.ErrNoArchive)
}

func TestRunSkipsRecordsWithoutKey(t *testing.T) {
	h := newHarness(t, nil)
	h.seedArchive(t, 0, pageJSON(0, 3,
		flightJSON("MH1", "Kuala Lumpur International", "SIN", "Changi", 45),
		`{"flight": {"iata": null}, "arrival": {"delay": 300}}`,
		`"not an object"`,
	))

	res, err := h.pipeline(t).Run(context.Background(), Options{Date: "2024-01-01", UseLocal: true, SkipPublish: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 2, res.Skipped)
}

func upstream(t *testing.T, pages map[string][]byte, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, ok := pages[r.URL.Query().Get("offset")]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunRemoteArchivesThenStores(t *testing.T) {
	var calls atomic.Int32
	first := pageJSON(0, 3,
		flightJSON("MH1", "Kuala Lumpur International Airport", "SIN", "Singapore Changi Airport", 45),
		flightJSON("MH2", "Kuala Lumpur International Airport", "NRT", "Narita International Airport", 90),
	)
	second := pageJSON(2, 3, flightJSON("MH3", "Kuala Lumpur International Airport", "LHR", "Heathrow Airport", 15))
	server := upstream(t, map[string][]byte{"0": first, "2": second}, &calls)

	cfg := config.TestConfig(t.TempDir())
	cfg.AviationstackConfig.BaseURL = server.URL
	client := aviationstack.NewClient(cfg.AviationstackConfig, logger.Discard())

	h := newHarness(t, client)
	h.deps.Config.AviationstackConfig = cfg.AviationstackConfig

	res, err := h.pipeline(t).Run(context.Background(), Options{Date: "2024-01-01"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 3, res.Stored)
	assert.Equal(t, 3, res.Report.Count)
	assert.Contains(t, res.Text, "MH2 from Kuala Lumpur to Narita by 90 min")

	files, err := h.archiver.Files("2024-01-01")
	require.NoError(t, err)
	require.Len(t, files, 2)
	archived, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, first, archived)
}

func TestRunRemoteFetchFailureKeepsArchivedPages(t *testing.T) {
	var calls atomic.Int32
	first := pageJSON(0, 300, flightJSON("MH1", "Kuala Lumpur International", "SIN", "Changi", 45))
	server := upstream(t, map[string][]byte{"0": first}, &calls)

	h := newHarness(t, nil)
	h.cfg.AviationstackConfig.BaseURL = server.URL
	h.deps.Fetcher = aviationstack.NewClient(h.cfg.AviationstackConfig, logger.Discard())

	res, err := h.pipeline(t).Run(context.Background(), Options{Date: "2024-01-01"})
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageFetch, stageErr.Stage)
	assert.ErrorIs(t, err, aviationstack.ErrFetchExhausted)

	// 1 call for the first page, MaxAttempts for the failing one
	assert.Equal(t, int32(1+h.cfg.AviationstackConfig.MaxAttempts), calls.Load())
	assert.Equal(t, 1, res.Stored)
	assert.Nil(t, res.Report)
	assert.Empty(t, h.out.String())

	files, err := h.archiver.Files("2024-01-01")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestRunRemoteEmptyResult(t *testing.T) {
	var calls atomic.Int32
	server := upstream(t, map[string][]byte{"0": pageJSON(0, 0)}, &calls)

	h := newHarness(t, nil)
	h.cfg.AviationstackConfig.BaseURL = server.URL
	h.deps.Fetcher = aviationstack.NewClient(h.cfg.AviationstackConfig, logger.Discard())

	res, err := h.pipeline(t).Run(context.Background(), Options{Date: "2024-01-01"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, res.Stored)
	assert.Equal(t, "On 2024-01-01, 0 MH flights were delayed by an average of N/A.", res.Text)
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.seedArchive(t, 0, pageJSON(0, 1, flightJSON("MH1", "Kuala Lumpur International", "SIN", "Changi", 45)))
	failing := &failingPublisher{}
	h.deps.Publisher = failing

	res, err := h.pipeline(t).Run(context.Background(), Options{Date: "2024-01-01", UseLocal: true})
	require.NoError(t, err)
	assert.Equal(t, int32(1), failing.calls.Load())

	var stageErr *StageError
	require.ErrorAs(t, res.PublishErr, &stageErr)
	assert.Equal(t, StagePublish, stageErr.Stage)
	assert.Nil(t, res.Post)
	assert.Equal(t, 1, res.Stored)
}

func TestRunPublishesOncePerDate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := newHarness(t, nil)
	h.seedArchive(t, 0, pageJSON(0, 1, flightJSON("MH1", "Kuala Lumpur International", "SIN", "Changi", 45)))
	h.deps.Cache = cache.NewCacheManager(cache.NewRedisCache(client, "test"))
	poster := &recordingPublisher{}
	h.deps.Publisher = poster
	p := h.pipeline(t)
	ctx := context.Background()

	res, err := p.Run(ctx, Options{Date: "2024-01-01", UseLocal: true})
	require.NoError(t, err)
	require.NotNil(t, res.Post)

	var cached report.Rendered
	require.NoError(t, h.deps.Cache.GetJSON(ctx, cache.ReportKey("2024-01-01"), &cached))
	assert.Equal(t, res.Text, cached.Text)

	res, err = p.Run(ctx, Options{Date: "2024-01-01", UseLocal: true})
	require.NoError(t, err)
	assert.True(t, res.AlreadyPublished)
	assert.Nil(t, res.Post)

	res, err = p.Run(ctx, Options{Date: "2024-01-01", UseLocal: true, ForcePublish: true})
	require.NoError(t, err)
	assert.NotNil(t, res.Post)
	assert.Len(t, poster.texts, 2)
}

func TestRunDryRunLeavesPublishGuardAlone(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := newHarness(t, nil)
	h.seedArchive(t, 0, pageJSON(0, 1, flightJSON("MH1", "Kuala Lumpur International", "SIN", "Changi", 45)))
	h.deps.Cache = cache.NewCacheManager(cache.NewRedisCache(client, "test"))
	ctx := context.Background()
	opts := Options{Date: "2024-01-01", UseLocal: true}

	res, err := h.pipeline(t).Run(ctx, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Post)
	published, err := h.deps.Cache.Published(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.False(t, published)

	poster := &recordingPublisher{}
	h.deps.Publisher = poster
	res, err = h.pipeline(t).Run(ctx, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Post)
	assert.False(t, res.AlreadyPublished)
	assert.Len(t, poster.texts, 1)

	// a dry run after the real post still prints
	h.deps.Publisher = publish.NewDryRun(h.out)
	h.out.Reset()
	res, err = h.pipeline(t).Run(ctx, opts)
	require.NoError(t, err)
	assert.False(t, res.AlreadyPublished)
	assert.Equal(t, res.Text+"\n", h.out.String())
}

func TestRunPublishFailureReleasesGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := newHarness(t, nil)
	h.seedArchive(t, 0, pageJSON(0, 1, flightJSON("MH1", "Kuala Lumpur International", "SIN", "Changi", 45)))
	h.deps.Cache = cache.NewCacheManager(cache.NewRedisCache(client, "test"))
	h.deps.Publisher = &failingPublisher{}

	_, err := h.pipeline(t).Run(context.Background(), Options{Date: "2024-01-01", UseLocal: true})
	require.NoError(t, err)

	published, err := h.deps.Cache.Published(context.Background(), "2024-01-01")
	require.NoError(t, err)
	assert.False(t, published)
}

func TestRunRejectsBadDate(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.pipeline(t).Run(context.Background(), Options{Date: "yesterday"})
	assert.Error(t, err)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}
