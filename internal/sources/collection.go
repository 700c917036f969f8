package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/biliarchive/biliarchive/internal/models"
)

const collectionArchivesEndpoint = "https://api.bilibili.com/x/polymer/web-space/seasons_archives_list"

const collectionPageSize = 30

// CollectionSource enumerates the videos in an uploader's series/collection
// (season). IdentityKey is "<uploaderMid>_<seasonID>".
type CollectionSource struct {
	base
	client remoteClient
}

// NewCollectionSource builds a Source for a collection row.
func NewCollectionSource(source *models.Source, client remoteClient) *CollectionSource {
	return &CollectionSource{base: base{source: source}, client: client}
}

// AllowSkipFirstOld is false: a collection is an ordered playlist, not a
// chronological feed, so an item older than the cursor is skipped and
// enumeration goes on through the remaining pages.
func (s *CollectionSource) AllowSkipFirstOld() bool { return false }

func (s *CollectionSource) Videos(ctx context.Context) <-chan VideoOrErr {
	ch := make(chan VideoOrErr)
	go enumerate(ctx, ch, s, s.fetchPage)
	return ch
}

func (s *CollectionSource) identity() (mid, seasonID string) {
	parts := strings.SplitN(s.source.IdentityKey, "_", 2)
	if len(parts) != 2 {
		return "", s.source.IdentityKey
	}
	return parts[0], parts[1]
}

type collectionArchivesResponse struct {
	Page struct {
		PageNum  int `json:"page_num"`
		PageSize int `json:"page_size"`
		Total    int `json:"total"`
	} `json:"page"`
	Archives []struct {
		AID     int64  `json:"aid"`
		BVID    string `json:"bvid"`
		Title   string `json:"title"`
		Cover   string `json:"pic"`
		Desc    string `json:"desc"`
		PubDate int64  `json:"pubdate"`
		Author  struct {
			Mid  int64  `json:"mid"`
			Name string `json:"name"`
			Face string `json:"face"`
		} `json:"author"`
	} `json:"archives"`
}

func (s *CollectionSource) fetchPage(ctx context.Context, pageNum int) ([]VideoInfo, bool, error) {
	mid, seasonID := s.identity()

	params := url.Values{
		"mid":       {mid},
		"season_id": {seasonID},
		"page_num":  {strconv.Itoa(pageNum)},
		"page_size": {strconv.Itoa(collectionPageSize)},
	}

	var resp collectionArchivesResponse
	if err := s.client.SignedGet(ctx, collectionArchivesEndpoint, params, &resp); err != nil {
		return nil, false, fmt.Errorf("listing collection archives: %w", err)
	}

	items := make([]VideoInfo, 0, len(resp.Archives))
	for _, a := range resp.Archives {
		platformID := a.BVID
		if platformID == "" {
			platformID = fmt.Sprintf("%d", a.AID)
		}
		items = append(items, VideoInfo{
			PlatformID:        platformID,
			Title:             a.Title,
			Description:       a.Desc,
			CoverURL:          a.Cover,
			UploaderID:        fmt.Sprintf("%d", a.Author.Mid),
			UploaderName:      a.Author.Name,
			UploaderAvatarURL: a.Author.Face,
			PublishTime:       formatUnix(a.PubDate),
			SinglePage:        true,
		})
	}

	hasMore := resp.Page.PageNum*resp.Page.PageSize < resp.Page.Total
	return items, hasMore, nil
}
