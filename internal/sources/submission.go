package sources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/biliarchive/biliarchive/internal/models"
	"github.com/biliarchive/biliarchive/internal/tracker"
)

const dynamicFeedEndpoint = "https://api.bilibili.com/x/polymer/web-dynamic/v1/feed/space"

// SubmissionSource enumerates an uploader's dynamic feed (their channel),
// filtered to video-type dynamics, grounded on the original's
// Dynamic.into_video_stream: offset-cursor pagination rather than a page
// number, since the feed is a continuously-appended timeline.
type SubmissionSource struct {
	base
	client      remoteClient
	checkpoints *tracker.LRU
}

// SubmissionOption configures optional SubmissionSource behavior.
type SubmissionOption func(*SubmissionSource)

// WithCheckpointTracker attaches a shared, process-wide resumption
// checkpoint cache keyed by uploader id. When set, a run that starts mid-
// process (e.g. after a credential halt clears) resumes pagination from
// the last offset observed instead of the feed's first page.
func WithCheckpointTracker(t *tracker.LRU) SubmissionOption {
	return func(s *SubmissionSource) { s.checkpoints = t }
}

// NewSubmissionSource builds a Source for an uploader-channel row.
func NewSubmissionSource(source *models.Source, client remoteClient, opts ...SubmissionOption) *SubmissionSource {
	s := &SubmissionSource{base: base{source: source}, client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SubmissionSource) AllowSkipFirstOld() bool { return true }

func (s *SubmissionSource) Videos(ctx context.Context) <-chan VideoOrErr {
	ch := make(chan VideoOrErr)
	go s.run(ctx, ch)
	return ch
}

type dynamicFeedResponse struct {
	HasMore bool   `json:"has_more"`
	Offset  string `json:"offset"`
	Items   []struct {
		Type    string `json:"type"`
		Modules struct {
			ModuleAuthor struct {
				PubTS int64 `json:"pub_ts"`
			} `json:"module_author"`
			ModuleDynamic struct {
				Major struct {
					Archive struct {
						AID   string `json:"aid"`
						BVID  string `json:"bvid"`
						Title string `json:"title"`
						Cover string `json:"cover"`
						Desc  string `json:"desc"`
					} `json:"archive"`
				} `json:"major"`
			} `json:"module_dynamic"`
		} `json:"modules"`
	} `json:"items"`
}

func (s *SubmissionSource) run(ctx context.Context, ch chan<- VideoOrErr) {
	defer close(ch)

	offset := ""
	if s.checkpoints != nil {
		if resumed, ok := s.checkpoints.Get(s.source.IdentityKey); ok {
			offset = resumed
		}
	}

	for {
		select {
		case <-ctx.Done():
			ch <- VideoOrErr{Err: ctx.Err()}
			return
		default:
		}

		params := url.Values{
			"host_mid": {s.source.IdentityKey},
			"offset":   {offset},
			"type":     {"video"},
		}

		var resp dynamicFeedResponse
		if err := s.client.SignedGet(ctx, dynamicFeedEndpoint, params, &resp); err != nil {
			ch <- VideoOrErr{Err: fmt.Errorf("listing dynamic feed: %w", err)}
			return
		}

		for _, item := range resp.Items {
			if item.Type != "DYNAMIC_TYPE_AV" {
				continue
			}
			archive := item.Modules.ModuleDynamic.Major.Archive
			publishTime := formatUnix(item.Modules.ModuleAuthor.PubTS)

			if !s.ShouldTake(publishTime) {
				if s.AllowSkipFirstOld() {
					return
				}
				continue
			}

			platformID := archive.BVID
			if platformID == "" {
				platformID = archive.AID
			}

			video := &VideoInfo{
				PlatformID:   platformID,
				Title:        archive.Title,
				Description:  archive.Desc,
				CoverURL:     archive.Cover,
				UploaderID:   s.source.IdentityKey,
				PublishTime:  publishTime,
				SinglePage:   true,
			}

			select {
			case ch <- VideoOrErr{Video: video}:
			case <-ctx.Done():
				ch <- VideoOrErr{Err: ctx.Err()}
				return
			}
		}

		offset = resp.Offset
		if s.checkpoints != nil {
			s.checkpoints.Set(s.source.IdentityKey, offset)
		}

		if !resp.HasMore {
			return
		}
	}
}
