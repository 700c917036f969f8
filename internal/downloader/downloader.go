// Package downloader implements the segmented HTTP fetcher used for video,
// audio, cover, and subtitle lanes: a single-stream GET, a ranged parallel
// fetch with a HEAD+probe preflight, and a CDN-fallback wrapper that retries
// a list of mirror URLs in order.
package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/biliarchive/biliarchive/internal/config"
)

// userAgent is sent on every request; the upstream platform rejects
// requests without a browser-shaped user agent on some CDN edges.
const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// segment is one byte range of a parallel fetch.
type segment struct {
	index int
	start int64
	end   int64 // inclusive
}

// Downloader fetches media segments over HTTP, optionally in parallel.
type Downloader struct {
	client  *http.Client
	cfg     config.DownloaderConfig
	logger  *slog.Logger
	referer string
}

// New creates a Downloader from the resolved configuration.
func New(cfg config.DownloaderConfig, referer string, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		client: &http.Client{
			Timeout: cfg.Timeout.Duration(),
		},
		cfg:     cfg,
		logger:  logger,
		referer: referer,
	}
}

func (d *Downloader) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if d.referer != "" {
		req.Header.Set("Referer", d.referer)
	}
	return req, nil
}

// FetchSingle downloads url to destPath as a single stream, with no range
// splitting. Used for small artifacts (covers, subtitles, nfo sidecars).
func (d *Downloader) FetchSingle(ctx context.Context, url, destPath string) error {
	req, err := d.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	return nil
}

// probe reports the content length and whether the server accepts ranged
// requests, via a HEAD followed by a small ranged GET (some CDN edges
// advertise Accept-Ranges but reject a real Range request). When the HEAD
// response is ambiguous about length (no or non-positive Content-Length),
// the total is recovered from the ranged probe's Content-Range header
// instead, so a parallel fetch can still proceed.
func (d *Downloader) probe(ctx context.Context, url string) (size int64, rangeable bool, err error) {
	headReq, err := d.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return 0, false, err
	}
	headReq.Header.Set("Accept-Encoding", "identity")
	headResp, err := d.client.Do(headReq)
	if err != nil {
		return 0, false, fmt.Errorf("HEAD %s: %w", url, err)
	}
	headResp.Body.Close()

	if headResp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("HEAD %s: unexpected status %d", url, headResp.StatusCode)
	}
	size = headResp.ContentLength

	probeReq, err := d.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return size, false, err
	}
	probeReq.Header.Set("Accept-Encoding", "identity")
	probeReq.Header.Set("Range", "bytes=0-0")
	probeResp, err := d.client.Do(probeReq)
	if err != nil {
		return size, false, fmt.Errorf("range probe %s: %w", url, err)
	}
	probeResp.Body.Close()

	rangeable = probeResp.StatusCode == http.StatusPartialContent
	if size <= 0 && rangeable {
		if total, ok := parseContentRangeTotal(probeResp.Header.Get("Content-Range")); ok {
			size = total
		}
	}
	if size <= 0 {
		return 0, false, nil
	}
	return size, rangeable, nil
}

// parseContentRangeTotal extracts the total size from a "Content-Range:
// bytes start-end/total" header value.
func parseContentRangeTotal(header string) (int64, bool) {
	const prefix = "bytes "
	if !strings.HasPrefix(header, prefix) {
		return 0, false
	}
	slash := strings.LastIndexByte(header, '/')
	if slash < 0 || slash == len(header)-1 {
		return 0, false
	}
	total, err := strconv.ParseInt(header[slash+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}

// FetchParallel downloads url to destPath using up to threads concurrent
// ranged requests. It falls back to FetchSingle when the server does not
// support ranged requests or the file is smaller than MinParallelFileSize.
// Any single segment failure aborts the whole fetch (the caller is expected
// to retry via FetchWithFallback against a different mirror).
func (d *Downloader) FetchParallel(ctx context.Context, url, destPath string, threads int) error {
	if threads <= 0 {
		threads = 1
	}

	size, rangeable, err := d.probe(ctx, url)
	if err != nil {
		return fmt.Errorf("probing %s: %w", url, err)
	}

	minParallel := d.cfg.MinParallelFileSize.Bytes()
	if !rangeable || size <= 0 || (minParallel > 0 && size < minParallel) || threads == 1 {
		return d.FetchSingle(ctx, url, destPath)
	}

	segments := partitionSegments(size, threads, d.cfg.MinSegmentSize.Bytes())

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer file.Close()
	if err := file.Truncate(size); err != nil {
		d.logger.Warn("preallocating file failed", slog.String("path", destPath), slog.String("error", err.Error()))
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(threads)

	var totalReceived atomic.Int64
	for _, seg := range segments {
		seg := seg
		group.Go(func() error {
			received, err := d.fetchSegment(gctx, url, file, seg)
			totalReceived.Add(received)
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("parallel fetch %s: %w", url, err)
	}
	if got := totalReceived.Load(); got != size {
		return fmt.Errorf("parallel fetch %s: received %d bytes, expected %d", url, got, size)
	}
	return nil
}

// fetchSegment fetches one byte range and writes it at its absolute file
// offset, so segments can complete and write concurrently without locking.
// It returns the number of bytes received and fails if that count does not
// match the requested range, so a silently truncated segment (the file is
// pre-truncated to its final size, so a short segment otherwise leaves
// undetected zero bytes in place) is caught instead of passed through.
func (d *Downloader) fetchSegment(ctx context.Context, url string, file *os.File, seg segment) (int64, error) {
	req, err := d.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seg.start, seg.end))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("segment %d: %w", seg.index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("segment %d: unexpected status %d", seg.index, resp.StatusCode)
	}

	want := seg.end - seg.start + 1
	buf := make([]byte, 128*1024)
	offset := seg.start
	var received int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.WriteAt(buf[:n], offset); writeErr != nil {
				return received, fmt.Errorf("segment %d write: %w", seg.index, writeErr)
			}
			offset += int64(n)
			received += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return received, fmt.Errorf("segment %d read: %w", seg.index, readErr)
		}
	}
	if received != want {
		return received, fmt.Errorf("segment %d: received %d bytes, expected %d", seg.index, received, want)
	}
	return received, nil
}

// partitionSegments divides a file of the given size into
// min(threads, size/minSegmentSize) near-equal contiguous chunks (at least
// one), so every chunk is at least minSegmentSize long whenever the file is;
// the last chunk absorbs the remainder.
func partitionSegments(size int64, threads int, minSegmentSize int64) []segment {
	if minSegmentSize <= 0 {
		minSegmentSize = 1 << 20
	}

	count := int64(threads)
	if viable := size / minSegmentSize; viable < count {
		count = viable
	}
	if count < 1 {
		count = 1
	}
	chunkSize := size / count

	segments := make([]segment, 0, count)
	var start int64
	for idx := 0; int64(idx) < count; idx++ {
		end := start + chunkSize - 1
		if int64(idx) == count-1 {
			end = size - 1
		}
		segments = append(segments, segment{index: idx, start: start, end: end})
		start = end + 1
	}
	return segments
}

// FetchWithFallback tries FetchParallel (or FetchSingle, if threads<=1 or
// parallel fetching is disabled in the config) against each URL in order, returning the first success. This is the CDN
// fallback path: a source typically hands back a primary CDN URL plus one
// or more backup mirrors.
func (d *Downloader) FetchWithFallback(ctx context.Context, urls []string, destPath string, threads int) error {
	if len(urls) == 0 {
		return fmt.Errorf("no URLs provided")
	}

	if err := checkFreeSpace(destPath, int64(d.cfg.MinFreeSpace)); err != nil {
		return err
	}

	var lastErr error
	for i, url := range urls {
		var err error
		if threads > 1 && d.cfg.ParallelEnabled {
			err = d.FetchParallel(ctx, url, destPath, threads)
		} else {
			err = d.FetchSingle(ctx, url, destPath)
		}
		if err == nil {
			return nil
		}
		d.logger.Warn("mirror fetch failed, trying next",
			slog.Int("mirror_index", i),
			slog.String("error", err.Error()),
		)
		lastErr = err
	}
	return fmt.Errorf("all mirrors failed: %w", lastErr)
}
