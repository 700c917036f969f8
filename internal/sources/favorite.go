package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/biliarchive/biliarchive/internal/models"
)

const favoriteResourceListEndpoint = "https://api.bilibili.com/x/v3/fav/resource/list"

const favoritePageSize = 20

// FavoriteSource enumerates the videos saved in a single favorites folder
// (media_id identity key), newest-favorited first.
type FavoriteSource struct {
	base
	client remoteClient
}

// NewFavoriteSource builds a Source for a favorites-folder row.
func NewFavoriteSource(source *models.Source, client remoteClient) *FavoriteSource {
	return &FavoriteSource{base: base{source: source}, client: client}
}

// AllowSkipFirstOld is false: only the uploader's dynamic feed is trusted
// to be strictly publish-time descending; a favorites folder's ordering
// (by favorite/mtime) can interleave an older video among newer ones, so
// enumeration must inspect every descriptor rather than stop at the first
// one older than the cursor.
func (s *FavoriteSource) AllowSkipFirstOld() bool { return false }

func (s *FavoriteSource) Videos(ctx context.Context) <-chan VideoOrErr {
	ch := make(chan VideoOrErr)
	go enumerate(ctx, ch, s, s.fetchPage)
	return ch
}

type favoriteListResponse struct {
	HasMore bool `json:"has_more"`
	Medias  []struct {
		ID      int64  `json:"id"`
		Title   string `json:"title"`
		Cover   string `json:"cover"`
		Intro   string `json:"intro"`
		PubTime int64  `json:"pubtime"`
		FavTime int64  `json:"fav_time"`
		Upper   struct {
			Mid  int64  `json:"mid"`
			Name string `json:"name"`
			Face string `json:"face"`
		} `json:"upper"`
	} `json:"medias"`
}

func (s *FavoriteSource) fetchPage(ctx context.Context, pageNum int) ([]VideoInfo, bool, error) {
	params := url.Values{
		"media_id": {s.source.IdentityKey},
		"pn":       {strconv.Itoa(pageNum)},
		"ps":       {strconv.Itoa(favoritePageSize)},
		"order":    {"mtime"},
		"type":     {"0"},
		"platform": {"web"},
	}

	var resp favoriteListResponse
	if err := s.client.SignedGet(ctx, favoriteResourceListEndpoint, params, &resp); err != nil {
		return nil, false, fmt.Errorf("listing favorite resources: %w", err)
	}

	items := make([]VideoInfo, 0, len(resp.Medias))
	for _, m := range resp.Medias {
		items = append(items, VideoInfo{
			PlatformID:        fmt.Sprintf("%d", m.ID),
			Title:             m.Title,
			Description:       m.Intro,
			CoverURL:          m.Cover,
			UploaderID:        fmt.Sprintf("%d", m.Upper.Mid),
			UploaderName:      m.Upper.Name,
			UploaderAvatarURL: m.Upper.Face,
			PublishTime:       formatUnix(m.PubTime),
			FavoriteTime:      formatUnix(m.FavTime),
			SinglePage:        true,
		})
	}
	return items, resp.HasMore, nil
}
