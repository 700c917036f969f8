package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/biliarchive/biliarchive/internal/models"
)

const pageListEndpoint = "https://api.bilibili.com/x/player/pagelist"
const playURLEndpoint = "https://api.bilibili.com/x/player/wbi/playurl"

// PageDetail is one entry of a video's page manifest (stage B, spec C6).
type PageDetail struct {
	CID             int64  `json:"cid"`
	PageIndex       int    `json:"page"`
	Name            string `json:"part"`
	DurationSeconds int    `json:"duration"`
}

// FetchPageList retrieves the page manifest for a video identified by its
// platform id (a bvid). Multi-part uploads return more than one entry.
func (c *Client) FetchPageList(ctx context.Context, bvid string) ([]PageDetail, error) {
	var pages []PageDetail
	params := url.Values{"bvid": {bvid}}
	if err := c.SignedGet(ctx, pageListEndpoint, params, &pages); err != nil {
		var envelope *models.EnvelopeError
		if errors.As(err, &envelope) && envelope.Code == codeContentUnavailable {
			return nil, &models.ContentUnavailableError{PlatformID: bvid, Reason: envelope.Message}
		}
		return nil, fmt.Errorf("fetching page list for %s: %w", bvid, err)
	}
	return pages, nil
}

// StreamURLs is the video/audio CDN mirror list resolved for one page's cid,
// fed directly into internal/downloader.FetchWithFallback.
type StreamURLs struct {
	VideoURLs []string
	AudioURLs []string
}

type playURLResponse struct {
	DASH struct {
		Video []struct {
			BaseURL    string   `json:"baseUrl"`
			BackupURLs []string `json:"backupUrl"`
			Bandwidth  int      `json:"bandwidth"`
		} `json:"video"`
		Audio []struct {
			BaseURL    string   `json:"baseUrl"`
			BackupURLs []string `json:"backupUrl"`
			Bandwidth  int      `json:"bandwidth"`
		} `json:"audio"`
	} `json:"dash"`
}

// ResolveStreams fetches the DASH manifest for one page and returns the
// highest-bandwidth video and audio stream's URL plus any CDN mirror URLs,
// in fallback order.
func (c *Client) ResolveStreams(ctx context.Context, bvid string, cid int64) (*StreamURLs, error) {
	params := url.Values{
		"bvid": {bvid},
		"cid":  {strconv.FormatInt(cid, 10)},
		"fnval": {"16"}, // DASH format
	}

	var resp playURLResponse
	if err := c.SignedGet(ctx, playURLEndpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("resolving streams for bvid=%s cid=%d: %w", bvid, cid, err)
	}

	out := &StreamURLs{}
	if best := highestBandwidth(resp.DASH.Video); best != nil {
		out.VideoURLs = append([]string{best.BaseURL}, best.BackupURLs...)
	}
	if best := highestBandwidth(resp.DASH.Audio); best != nil {
		out.AudioURLs = append([]string{best.BaseURL}, best.BackupURLs...)
	}
	return out, nil
}

type dashStream struct {
	BaseURL    string
	BackupURLs []string
	Bandwidth  int
}

func highestBandwidth(streams []struct {
	BaseURL    string   `json:"baseUrl"`
	BackupURLs []string `json:"backupUrl"`
	Bandwidth  int      `json:"bandwidth"`
}) *dashStream {
	var best *dashStream
	for _, s := range streams {
		if best == nil || s.Bandwidth > best.Bandwidth {
			best = &dashStream{BaseURL: s.BaseURL, BackupURLs: s.BackupURLs, Bandwidth: s.Bandwidth}
		}
	}
	return best
}
