package sources

import (
	"context"
	"fmt"

	"github.com/biliarchive/biliarchive/internal/models"
)

const watchLaterListEndpoint = "https://api.bilibili.com/x/v2/history/toview"

// WatchLaterSource enumerates the logged-in account's watch-later list.
// The endpoint is not paginated: it returns the whole list in one call and
// requires an authenticated session (internal/remote.Client.SetCredential).
type WatchLaterSource struct {
	base
	client remoteClient
}

// NewWatchLaterSource builds a Source for the watch-later row. There is at
// most one per account; IdentityKey is conventionally "default".
func NewWatchLaterSource(source *models.Source, client remoteClient) *WatchLaterSource {
	return &WatchLaterSource{base: base{source: source}, client: client}
}

// AllowSkipFirstOld is false: the list is already fully fetched in one
// call, so there is no risk of an out-of-order item truncating enumeration
// early and nothing to "skip" into.
func (s *WatchLaterSource) AllowSkipFirstOld() bool { return false }

func (s *WatchLaterSource) Videos(ctx context.Context) <-chan VideoOrErr {
	ch := make(chan VideoOrErr)
	go s.run(ctx, ch)
	return ch
}

type watchLaterResponse struct {
	List []struct {
		AID     int64  `json:"aid"`
		BVID    string `json:"bvid"`
		Title   string `json:"title"`
		Cover   string `json:"pic"`
		Desc    string `json:"desc"`
		PubDate int64  `json:"pubdate"`
		AddAt   int64  `json:"add_at"`
		Owner   struct {
			Mid  int64  `json:"mid"`
			Name string `json:"name"`
			Face string `json:"face"`
		} `json:"owner"`
	} `json:"list"`
}

func (s *WatchLaterSource) run(ctx context.Context, ch chan<- VideoOrErr) {
	defer close(ch)

	var resp watchLaterResponse
	if err := s.client.SignedGet(ctx, watchLaterListEndpoint, nil, &resp); err != nil {
		ch <- VideoOrErr{Err: fmt.Errorf("listing watch-later: %w", err)}
		return
	}

	for _, item := range resp.List {
		publishTime := formatUnix(item.AddAt)
		if !s.ShouldTake(publishTime) {
			continue
		}

		platformID := item.BVID
		if platformID == "" {
			platformID = fmt.Sprintf("%d", item.AID)
		}

		video := &VideoInfo{
			PlatformID:        platformID,
			Title:             item.Title,
			Description:       item.Desc,
			CoverURL:          item.Cover,
			UploaderID:        fmt.Sprintf("%d", item.Owner.Mid),
			UploaderName:      item.Owner.Name,
			UploaderAvatarURL: item.Owner.Face,
			PublishTime:       publishTime,
			SinglePage:        true,
		}

		select {
		case ch <- VideoOrErr{Video: video}:
		case <-ctx.Done():
			ch <- VideoOrErr{Err: ctx.Err()}
			return
		}
	}
}
