package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spherical/text-extractor/internal/cache"
	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/extract"
	"github.com/spherical/text-extractor/internal/fileformat"
	"github.com/spherical/text-extractor/internal/llm"
	"github.com/spherical/text-extractor/internal/observability"
	"github.com/spherical/text-extractor/internal/pdf/pdftest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pageStrategy emits one segment per page image.
type pageStrategy struct {
	calls   atomic.Int32
	gate    chan struct{}
	entered chan struct{}
}

func (s *pageStrategy) Name() string { return "X" }

func (s *pageStrategy) Extract(ctx context.Context, f *fileformat.FileFormat, opts extract.Options) (string, error) {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	pages, err := f.ConvertTo(ctx, fileformat.KindImage)
	if err != nil {
		return "", err
	}
	segments := make([]string, len(pages))
	for i := range pages {
		opts.Progress(30+20*i/len(pages), fmt.Sprintf("page %d", i+1))
		segments[i] = fmt.Sprintf("segment-%d", i+1)
	}
	return strings.Join(segments, "\n\n"), nil
}

// rgbOnlyStrategy rejects anything that is not a colour JPEG after Unify.
type rgbOnlyStrategy struct{}

func (rgbOnlyStrategy) Name() string { return "rgb_only" }

func (rgbOnlyStrategy) Extract(ctx context.Context, f *fileformat.FileFormat, opts extract.Options) (string, error) {
	u, err := f.Unify()
	if err != nil {
		return "", err
	}
	img, err := jpeg.Decode(bytes.NewReader(u.Binary()))
	if err != nil {
		return "", domain.UnsupportedFormat("rgb_only", u.MIMEType())
	}
	if _, ok := img.(*image.YCbCr); !ok {
		return "", domain.UnsupportedFormat("rgb_only", u.MIMEType())
	}
	return "rgb ok", nil
}

type failingStrategy struct{}

func (failingStrategy) Name() string { return "broken" }

func (failingStrategy) Extract(context.Context, *fileformat.FileFormat, extract.Options) (string, error) {
	return "", domain.ExtractionFailed("fake", "broken", errors.New("backend down"))
}

type upperLLM struct{}

func (upperLLM) Stream(ctx context.Context, p llm.Prompt, out chan<- string) error {
	out <- "TRANSFORMED: "
	out <- strings.ToUpper(p.Text)
	return nil
}

type recordingSaver struct {
	mu    sync.Mutex
	err   error
	saved map[string]string
}

func (s *recordingSaver) Save(ctx context.Context, profile, sourceName, destination, text string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = map[string]string{}
	}
	s.saved[profile+"/"+destination] = text
	return destination, nil
}

type recorder struct {
	mu      sync.Mutex
	records []domain.JobRecord
}

func (r *recorder) observe(rec domain.JobRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recorder) forTask(id string) []domain.JobRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.JobRecord
	for _, rec := range r.records {
		if rec.TaskID == id {
			out = append(out, rec)
		}
	}
	return out
}

type fixture struct {
	orch     *Orchestrator
	strategy *pageStrategy
	cache    *cache.Extractions
	saver    *recordingSaver
	rec      *recorder
	store    *MemoryStore
}

func newFixture(t *testing.T, queue Queue) *fixture {
	t.Helper()

	formats, err := fileformat.NewRegistry()
	require.NoError(t, err)

	strategy := &pageStrategy{}
	strategies := extract.NewRegistry(nil, nil)
	strategies.Register(strategy, "", false)
	strategies.Register(rgbOnlyStrategy{}, "", false)
	strategies.Register(failingStrategy{}, "", false)

	mem := cache.NewMemoryClient(0)
	t.Cleanup(func() { mem.Close() })
	extractions := cache.NewExtractions(mem, 0)

	f := &fixture{
		strategy: strategy,
		cache:    extractions,
		saver:    &recordingSaver{},
		rec:      &recorder{},
		store:    NewMemoryStore(),
	}

	f.orch, err = NewOrchestrator(Config{
		Formats:    formats,
		Strategies: strategies,
		Cache:      extractions,
		LLM:        upperLLM{},
		Saver:      f.saver,
		Store:      f.store,
		Queue:      queue,
		Metrics:    observability.NewMetrics(),
		Logger:     observability.Nop(),
		Observer:   f.rec.observe,
	})
	require.NoError(t, err)
	return f
}

func pdfRequest(pages ...string) *domain.JobRequest {
	return &domain.JobRequest{
		Content:  pdftest.TextPDF(pages...),
		Filename: "brochure.pdf",
		Strategy: "X",
		Cache:    true,
	}
}

func TestScenarioA_ThreePagePDFIsCachedByContent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.orch.Process(ctx, pdfRequest("one", "two", "three"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, first.State)
	assert.Equal(t, "segment-1\n\nsegment-2\n\nsegment-3", first.Result)
	assert.Equal(t, domain.ProgressDone, first.Progress)
	assert.Equal(t, domain.StatusDone, first.Status)

	second, err := f.orch.Process(ctx, pdfRequest("one", "two", "three"))
	require.NoError(t, err)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, int32(1), f.strategy.calls.Load())

	// a cache hit goes straight from 10% to 50%
	var progress []int
	var statuses []string
	for _, r := range f.rec.forTask(second.TaskID) {
		progress = append(progress, r.Progress)
		statuses = append(statuses, r.Status)
	}
	assert.Equal(t, []int{0, 10, 50, 100}, progress)
	assert.Equal(t, domain.StatusCacheHit, statuses[2])

	for _, r := range f.rec.forTask(first.TaskID) {
		if r.Progress == domain.ProgressExtracted {
			assert.Equal(t, domain.StatusExtracted, r.Status)
		}
	}
}

func TestProgressSequence(t *testing.T) {
	f := newFixture(t, nil)

	rec, err := f.orch.Process(context.Background(), pdfRequest("a", "b"))
	require.NoError(t, err)

	var progress []int
	var states []domain.JobState
	for _, r := range f.rec.forTask(rec.TaskID) {
		progress = append(progress, r.Progress)
		states = append(states, r.State)
	}
	assert.Equal(t, []int{0, 10, 30, 30, 40, 50, 100}, progress)
	assert.Equal(t, domain.StatePending, states[0])
	assert.Equal(t, domain.StateSuccess, states[len(states)-1])
	for _, s := range states[1 : len(states)-1] {
		assert.Equal(t, domain.StateProgress, s)
	}
}

func TestCacheDisabled_AlwaysExtracts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		req := pdfRequest("x")
		req.Cache = false
		_, err := f.orch.Process(ctx, req)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), f.strategy.calls.Load())

	_, hit, err := f.cache.Lookup(ctx, fileformat.ContentHash(pdftest.TextPDF("x")))
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestScenarioB_PalettedImageIsUnified(t *testing.T) {
	f := newFixture(t, nil)

	rec, err := f.orch.Process(context.Background(), &domain.JobRequest{
		Content:  pdftest.PalettedPNG(24, 24),
		Filename: "chart.png",
		Strategy: "rgb_only",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, rec.State, rec.Error)
	assert.Equal(t, "rgb ok", rec.Result)
}

func TestScenarioC_PromptReplacesExtractedText(t *testing.T) {
	f := newFixture(t, nil)

	req := pdfRequest("only")
	req.Prompt = "Summarize:"
	rec, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, domain.StateSuccess, rec.State, rec.Error)

	var preview string
	var sawLLM bool
	for _, r := range f.rec.forTask(rec.TaskID) {
		if r.Progress == domain.ProgressExtracted {
			preview = r.ExtractedText
		}
		if r.Progress == domain.ProgressLLM {
			sawLLM = true
		}
	}
	assert.Equal(t, "segment-1", preview)
	assert.True(t, sawLLM)
	assert.Equal(t, "TRANSFORMED: SUMMARIZE:\n\nSEGMENT-1", rec.Result)
	assert.NotEqual(t, preview, rec.Result)
}

func TestScenarioD_UnknownStrategyFailsAtIntake(t *testing.T) {
	queue := NewMemoryQueue(1, 10, nil)
	f := newFixture(t, queue)
	ctx := context.Background()

	req := pdfRequest("x")
	req.Strategy = "nonexistent"
	_, err := f.orch.Submit(ctx, req)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeUnknownStrategy))
	assert.Contains(t, err.Error(), "X")
	assert.Contains(t, err.Error(), "rgb_only")

	assert.Zero(t, f.strategy.calls.Load())
	_, hit, err := f.cache.Lookup(ctx, fileformat.ContentHash(req.Content))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, f.rec.records)
}

func TestScenarioE_StorageFailureKeepsExtractedText(t *testing.T) {
	f := newFixture(t, nil)
	f.saver.err = domain.IOError("permission denied", nil)

	req := pdfRequest("kept")
	req.StorageProfile = "readonly"
	rec, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.StateFailure, rec.State)
	assert.Equal(t, domain.ErrorTypeStorageFailure, rec.ErrorType)
	assert.Contains(t, rec.Error, "readonly")
	assert.Equal(t, "segment-1", rec.ExtractedText)

	stored, err := f.orch.Get(context.Background(), rec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "segment-1", stored.ExtractedText)
}

func TestStorageSuccess(t *testing.T) {
	f := newFixture(t, nil)

	req := pdfRequest("saved")
	req.StorageProfile = "default"
	req.StorageFilename = "out.md"
	rec, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, domain.StateSuccess, rec.State, rec.Error)
	assert.Equal(t, "segment-1", f.saver.saved["default/out.md"])
}

func TestExtractionFailureIsTerminal(t *testing.T) {
	f := newFixture(t, nil)

	req := pdfRequest("x")
	req.Strategy = "broken"
	rec, err := f.orch.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailure, rec.State)
	assert.Equal(t, domain.ErrorTypeExtractionFailed, rec.ErrorType)
	assert.Contains(t, rec.Error, "backend down")

	// redelivery of a finished job does not reopen it
	require.NoError(t, f.orch.Handle(context.Background(), req))
	stored, err := f.orch.Get(context.Background(), rec.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailure, stored.State)
}

func TestIntakeErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.Process(ctx, &domain.JobRequest{Strategy: "X"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeEmptyContent))

	_, err = f.orch.Process(ctx, &domain.JobRequest{Content: []byte("plain text"), MIMEType: "text/plain", Strategy: "X"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeUnknownFormat))

	_, err = f.orch.Process(ctx, &domain.JobRequest{Content: []byte("x")})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = f.orch.Submit(ctx, pdfRequest("x"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig), "submit without a queue")
}

func TestSubmit_MemoryQueue(t *testing.T) {
	queue := NewMemoryQueue(2, 10, nil)
	f := newFixture(t, queue)
	ctx := context.Background()
	require.NoError(t, queue.Start(ctx, f.orch.Handle))
	defer queue.Close()

	id, err := f.orch.Submit(ctx, pdfRequest("queued"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		rec, err := f.orch.Get(ctx, id)
		return err == nil && rec.State.Terminal()
	}, 10*time.Second, 10*time.Millisecond)

	rec, err := f.orch.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, rec.State)
	assert.Equal(t, "segment-1", rec.Result)
	assert.GreaterOrEqual(t, rec.ElapsedTime, 0.0)
}

func TestGet_UnknownTask(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.orch.Get(context.Background(), "nope")
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))
}

func TestClearCache(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.Process(ctx, pdfRequest("c"))
	require.NoError(t, err)
	require.NoError(t, f.orch.ClearCache(ctx))

	_, err = f.orch.Process(ctx, pdfRequest("c"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.strategy.calls.Load())
}

func TestConcurrentIdenticalJobsShareExtraction(t *testing.T) {
	f := newFixture(t, nil)
	f.strategy.gate = make(chan struct{})
	f.strategy.entered = make(chan struct{}, 2)
	ctx := context.Background()

	first, second := pdfRequest("same"), pdfRequest("same")
	second.TaskID = "second"

	var wg sync.WaitGroup
	results := make([]*domain.JobRecord, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = f.orch.Process(ctx, first)
	}()
	<-f.strategy.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = f.orch.Process(ctx, second)
	}()
	require.Eventually(t, func() bool {
		for _, r := range f.rec.forTask("second") {
			if r.Progress == domain.ProgressExtracting {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	close(f.strategy.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.strategy.calls.Load())
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, results[0].Result, results[1].Result)
}

func TestSharedExtractionSurvivesLeaderCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.strategy.gate = make(chan struct{})
	f.strategy.entered = make(chan struct{}, 2)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	defer cancelLeader()

	leader, joiner := pdfRequest("shared"), pdfRequest("shared")
	leader.TaskID, joiner.TaskID = "leader", "joiner"

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.orch.Process(leaderCtx, leader)
	}()
	<-f.strategy.entered

	var joined *domain.JobRecord
	go func() {
		defer wg.Done()
		joined, _ = f.orch.Process(context.Background(), joiner)
	}()
	require.Eventually(t, func() bool {
		for _, r := range f.rec.forTask("joiner") {
			if r.Progress == domain.ProgressExtracting {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	time.Sleep(20 * time.Millisecond)
	close(f.strategy.gate)
	wg.Wait()

	require.NotNil(t, joined)
	assert.Equal(t, domain.StateSuccess, joined.State, joined.Error)
	assert.Equal(t, "segment-1", joined.Result)
	assert.Equal(t, int32(1), f.strategy.calls.Load())
}
