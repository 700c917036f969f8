package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/pipeline"
	"github.com/biliarchive/biliarchive/internal/repository"
	"github.com/biliarchive/biliarchive/internal/sources"
)

// fakeVideoRepo is an in-memory stand-in for repository.VideoRepository.
type fakeVideoRepo struct {
	mu     sync.Mutex
	videos map[models.ULID]*models.Video

	upsertErr error
	runnable  []*models.Video
}

func newFakeVideoRepo() *fakeVideoRepo {
	return &fakeVideoRepo{videos: make(map[models.ULID]*models.Video)}
}

func (r *fakeVideoRepo) Create(ctx context.Context, v *models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.ID.IsZero() {
		v.ID = models.NewULID()
	}
	r.videos[v.ID] = v
	return nil
}

func (r *fakeVideoRepo) UpsertBatch(ctx context.Context, videos []*models.Video) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range videos {
		var existing *models.Video
		for _, ev := range r.videos {
			if ev.PlatformID == v.PlatformID {
				existing = ev
				break
			}
		}
		if existing != nil {
			existing.Title = v.Title
			existing.Description = v.Description
			continue
		}
		nv := *v
		nv.ID = models.NewULID()
		r.videos[nv.ID] = &nv
	}
	return nil
}

func (r *fakeVideoRepo) GetByID(ctx context.Context, id models.ULID) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (r *fakeVideoRepo) GetByPlatformID(ctx context.Context, platformID string) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.videos {
		if v.PlatformID == platformID {
			return v, nil
		}
	}
	return nil, nil
}

func (r *fakeVideoRepo) GetBySourceID(ctx context.Context, variant models.SourceVariant, id models.ULID, cb func(*models.Video) error) error {
	r.mu.Lock()
	var matched []*models.Video
	for _, v := range r.videos {
		refID, refVariant, err := v.SourceReferenceID()
		if err != nil {
			continue
		}
		if refVariant == variant && refID == id {
			matched = append(matched, v)
		}
	}
	r.mu.Unlock()

	for _, v := range matched {
		if err := cb(v); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeVideoRepo) GetRunnable(ctx context.Context, limit int) ([]*models.Video, error) {
	if r.runnable != nil {
		return r.runnable, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Video
	for _, v := range r.videos {
		if !v.IsCompletedAll() && !v.Excluded && v.Deleted == 0 {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *fakeVideoRepo) UpdateDownloadStatus(ctx context.Context, id models.ULID, status uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.videos[id]; ok {
		v.DownloadStatus = status
	}
	return nil
}

func (r *fakeVideoRepo) MarkDeleted(ctx context.Context, id models.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.videos[id]; ok {
		v.Deleted = 1
	}
	return nil
}

func (r *fakeVideoRepo) MarkExcluded(ctx context.Context, id models.ULID, excluded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.videos[id]; ok {
		v.Excluded = excluded
	}
	return nil
}

func (r *fakeVideoRepo) DeleteStaleBySourceID(ctx context.Context, id models.ULID, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeVideoRepo) CountBySourceID(ctx context.Context, id models.ULID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, v := range r.videos {
		refID, _, err := v.SourceReferenceID()
		if err != nil {
			continue
		}
		if refID == id {
			count++
		}
	}
	return count, nil
}

func (r *fakeVideoRepo) Update(ctx context.Context, v *models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos[v.ID] = v
	return nil
}

func (r *fakeVideoRepo) Transaction(ctx context.Context, fn func(repository.VideoRepository) error) error {
	return fn(r)
}

var _ repository.VideoRepository = (*fakeVideoRepo)(nil)

// fakeSourceRepo is an in-memory stand-in for repository.SourceRepository.
type fakeSourceRepo struct {
	mu      sync.Mutex
	cursors map[models.ULID]string
}

func newFakeSourceRepo() *fakeSourceRepo {
	return &fakeSourceRepo{cursors: make(map[models.ULID]string)}
}

func (r *fakeSourceRepo) Create(ctx context.Context, s *models.Source) error { return nil }
func (r *fakeSourceRepo) GetByID(ctx context.Context, id models.ULID) (*models.Source, error) {
	return nil, nil
}
func (r *fakeSourceRepo) GetByKey(ctx context.Context, variant models.SourceVariant, key string) (*models.Source, error) {
	return nil, nil
}
func (r *fakeSourceRepo) GetAll(ctx context.Context) ([]*models.Source, error)     { return nil, nil }
func (r *fakeSourceRepo) GetEnabled(ctx context.Context) ([]*models.Source, error) { return nil, nil }
func (r *fakeSourceRepo) Update(ctx context.Context, s *models.Source) error       { return nil }
func (r *fakeSourceRepo) UpdateCursor(ctx context.Context, id models.ULID, cursor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[id] = cursor
	return nil
}
func (r *fakeSourceRepo) Delete(ctx context.Context, id models.ULID) error { return nil }
func (r *fakeSourceRepo) Transaction(ctx context.Context, fn func(repository.SourceRepository) error) error {
	return fn(r)
}

var _ repository.SourceRepository = (*fakeSourceRepo)(nil)

// fakePageRepo is an in-memory stand-in for repository.PageRepository.
type fakePageRepo struct {
	mu    sync.Mutex
	pages map[models.ULID][]*models.Page

	createErr error
}

func newFakePageRepo() *fakePageRepo {
	return &fakePageRepo{pages: make(map[models.ULID][]*models.Page)}
}

func (r *fakePageRepo) Create(ctx context.Context, p *models.Page) error {
	return r.CreateBatch(ctx, []*models.Page{p})
}

func (r *fakePageRepo) CreateBatch(ctx context.Context, pages []*models.Page) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pages {
		if p.ID.IsZero() {
			p.ID = models.NewULID()
		}
		r.pages[p.VideoID] = append(r.pages[p.VideoID], p)
	}
	return nil
}

func (r *fakePageRepo) GetByVideoID(ctx context.Context, videoID models.ULID) ([]*models.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pages[videoID], nil
}

func (r *fakePageRepo) GetRunnable(ctx context.Context, limit int) ([]*models.Page, error) {
	return nil, nil
}

func (r *fakePageRepo) UpdateDownloadStatus(ctx context.Context, id models.ULID, status uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pages := range r.pages {
		for _, p := range pages {
			if p.ID == id {
				p.DownloadStatus = status
			}
		}
	}
	return nil
}

func (r *fakePageRepo) Update(ctx context.Context, p *models.Page) error {
	return r.UpdateDownloadStatus(ctx, p.ID, p.DownloadStatus)
}

var _ repository.PageRepository = (*fakePageRepo)(nil)

// fakeAdapter is a minimal stand-in for sources.Source.
type fakeAdapter struct {
	items   []sources.VideoOrErr
	cursor  string
	variant models.SourceVariant
	key     string
}

func (a *fakeAdapter) Videos(ctx context.Context) <-chan sources.VideoOrErr {
	ch := make(chan sources.VideoOrErr, len(a.items))
	for _, item := range a.items {
		ch <- item
	}
	close(ch)
	return ch
}

func (a *fakeAdapter) SetRelationID(id models.ULID)       {}
func (a *fakeAdapter) Path() string                       { return "" }
func (a *fakeAdapter) Cursor() string                     { return a.cursor }
func (a *fakeAdapter) SetCursor(cursor string)            { a.cursor = cursor }
func (a *fakeAdapter) ShouldTake(publishTime string) bool { return publishTime > a.cursor }
func (a *fakeAdapter) AllowSkipFirstOld() bool            { return true }
func (a *fakeAdapter) SourceKey() string                  { return a.key }
func (a *fakeAdapter) Variant() models.SourceVariant      { return a.variant }

var _ sources.Source = (*fakeAdapter)(nil)

// fakeFilter is a stand-in for pipeline.KeywordFilter.
type fakeFilter struct {
	excludeTitles map[string]bool
}

func (f *fakeFilter) Excluded(source *models.Source, title, description string) bool {
	return f.excludeTitles[title]
}

// fakeDetailClient is a stand-in for pipeline.DetailClient.
type fakeDetailClient struct {
	mu        sync.Mutex
	pages     map[string][]pipeline.PageDescriptor
	pageErr   map[string]error
	streams   map[string]*pipeline.StreamSet
	streamErr error
	calls     int
}

func (c *fakeDetailClient) FetchPageList(ctx context.Context, platformID string) ([]pipeline.PageDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err, ok := c.pageErr[platformID]; ok {
		return nil, err
	}
	return c.pages[platformID], nil
}

func (c *fakeDetailClient) ResolveStreams(ctx context.Context, platformID string, cid int64) (*pipeline.StreamSet, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	key := fmt.Sprintf("%s:%d", platformID, cid)
	if s, ok := c.streams[key]; ok {
		return s, nil
	}
	return &pipeline.StreamSet{VideoURLs: []string{"https://video/" + key}, AudioURLs: []string{"https://audio/" + key}}, nil
}

// fakeFetcher is a stand-in for pipeline.FileFetcher: it "downloads" by
// writing a small marker file so callers can assert on state without a
// real network round trip.
type fakeFetcher struct {
	mu      sync.Mutex
	failFor map[string]error
	calls   []string
}

func (f *fakeFetcher) FetchWithFallback(ctx context.Context, urls []string, destPath string, threads int) error {
	f.mu.Lock()
	f.calls = append(f.calls, destPath)
	err := f.failFor[destPath]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("fake"), 0o640)
}

// fakeMuxer is a stand-in for pipeline.StreamMuxer.
type fakeMuxer struct {
	failErr error
	calls   []string
}

func (m *fakeMuxer) Mux(ctx context.Context, videoPath, audioPath, output string) error {
	m.calls = append(m.calls, output)
	if m.failErr != nil {
		return m.failErr
	}
	return os.WriteFile(output, []byte("muxed"), 0o640)
}

func (m *fakeMuxer) Remux(ctx context.Context, input, output string) error {
	return os.WriteFile(output, []byte("remuxed"), 0o640)
}

// fakePaths is a stand-in for pipeline.PathResolver.
type fakePaths struct {
	root string
}

func (p *fakePaths) VideoDir(source *models.Source, video *models.Video) string {
	return filepath.Join(p.root, video.PlatformID)
}

// fakeDanmaku is a stand-in for pipeline.DanmakuFetcher.
type fakeDanmaku struct {
	mu      sync.Mutex
	failErr error
	calls   []string
}

func (d *fakeDanmaku) Fetch(ctx context.Context, platformID, destPath string) error {
	d.mu.Lock()
	d.calls = append(d.calls, destPath)
	d.mu.Unlock()
	if d.failErr != nil {
		return d.failErr
	}
	return os.WriteFile(destPath, []byte("danmaku"), 0o640)
}

// fakeIngest is a stand-in for pipeline.IngestLogger.
type fakeIngest struct {
	mu     sync.Mutex
	events []pipeline.IngestEvent
}

func (i *fakeIngest) Record(event pipeline.IngestEvent) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.events = append(i.events, event)
}

func (i *fakeIngest) all() []pipeline.IngestEvent {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]pipeline.IngestEvent, len(i.events))
	copy(out, i.events)
	return out
}

// fakeRenamer is a stand-in for pipeline.Renamer.
type fakeRenamer struct {
	title string
	err   error
	calls int
}

func (r *fakeRenamer) Rename(ctx context.Context, video *models.Video) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.title, nil
}

// fakeMetrics is a stand-in for pipeline.Metrics that records call counts
// instead of touching Prometheus.
type fakeMetrics struct {
	mu              sync.Mutex
	videoOutcomes   map[string]int
	downloadFailure map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		videoOutcomes:   make(map[string]int),
		downloadFailure: make(map[string]int),
	}
}

func (m *fakeMetrics) ObserveStageDuration(stage string, d time.Duration) {}

func (m *fakeMetrics) IncVideoProcessed(sourceKey, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoOutcomes[sourceKey+"/"+status]++
}

func (m *fakeMetrics) IncDownloadFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadFailure[reason]++
}

var (
	_ pipeline.KeywordFilter  = (*fakeFilter)(nil)
	_ pipeline.DetailClient   = (*fakeDetailClient)(nil)
	_ pipeline.FileFetcher    = (*fakeFetcher)(nil)
	_ pipeline.StreamMuxer    = (*fakeMuxer)(nil)
	_ pipeline.PathResolver   = (*fakePaths)(nil)
	_ pipeline.DanmakuFetcher = (*fakeDanmaku)(nil)
	_ pipeline.IngestLogger   = (*fakeIngest)(nil)
	_ pipeline.Metrics        = (*fakeMetrics)(nil)
	_ pipeline.Renamer        = (*fakeRenamer)(nil)
)
