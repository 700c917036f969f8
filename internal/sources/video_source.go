package sources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/biliarchive/biliarchive/internal/models"
)

const seasonViewEndpoint = "https://api.bilibili.com/pgc/view/web/season"

// VideoSourceSource enumerates the episodes of a single episodic/serialized
// work (a bangumi-style season), identified by season_id. The endpoint
// returns the full episode list in one call, already ordered.
type VideoSourceSource struct {
	base
	client remoteClient
}

// NewVideoSourceSource builds a Source for an episodic-content row.
func NewVideoSourceSource(source *models.Source, client remoteClient) *VideoSourceSource {
	return &VideoSourceSource{base: base{source: source}, client: client}
}

// AllowSkipFirstOld is false: episode numbering, not publish time, is the
// real ordering signal here, so a cursor miss should not be papered over.
func (s *VideoSourceSource) AllowSkipFirstOld() bool { return false }

func (s *VideoSourceSource) Videos(ctx context.Context) <-chan VideoOrErr {
	ch := make(chan VideoOrErr)
	go s.run(ctx, ch)
	return ch
}

type seasonViewResponse struct {
	Result struct {
		Title    string `json:"title"`
		Cover    string `json:"cover"`
		Episodes []struct {
			AID      int64  `json:"aid"`
			BVID     string `json:"bvid"`
			Title    string `json:"title"`
			LongTitle string `json:"long_title"`
			Cover    string `json:"cover"`
			PubTime  int64  `json:"pub_time"`
		} `json:"episodes"`
	} `json:"result"`
}

func (s *VideoSourceSource) run(ctx context.Context, ch chan<- VideoOrErr) {
	defer close(ch)

	params := url.Values{"season_id": {s.source.IdentityKey}}
	var resp seasonViewResponse
	if err := s.client.SignedGet(ctx, seasonViewEndpoint, params, &resp); err != nil {
		ch <- VideoOrErr{Err: fmt.Errorf("fetching season view: %w", err)}
		return
	}

	for i, ep := range resp.Result.Episodes {
		publishTime := formatUnix(ep.PubTime)
		if !s.ShouldTake(publishTime) {
			continue
		}

		platformID := ep.BVID
		if platformID == "" {
			platformID = fmt.Sprintf("%d", ep.AID)
		}

		title := ep.LongTitle
		if title == "" {
			title = ep.Title
		}

		video := &VideoInfo{
			PlatformID:    platformID,
			Title:         title,
			CoverURL:      ep.Cover,
			PublishTime:   publishTime,
			SinglePage:    true,
			SeasonNumber:  1,
			EpisodeNumber: i + 1,
		}

		select {
		case ch <- VideoOrErr{Video: video}:
		case <-ctx.Done():
			ch <- VideoOrErr{Err: ctx.Err()}
			return
		}
	}
}
