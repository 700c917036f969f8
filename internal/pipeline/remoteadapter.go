package pipeline

import (
	"context"

	"github.com/biliarchive/biliarchive/internal/remote"
)

// RemoteDetailClient adapts *remote.Client to the DetailClient seam,
// converting between internal/remote's concrete PageDetail/StreamURLs
// types and the pipeline-local PageDescriptor/StreamSet the stages are
// written against.
type RemoteDetailClient struct {
	Client *remote.Client
}

// NewRemoteDetailClient wraps c as a DetailClient.
func NewRemoteDetailClient(c *remote.Client) *RemoteDetailClient {
	return &RemoteDetailClient{Client: c}
}

func (a *RemoteDetailClient) FetchPageList(ctx context.Context, platformID string) ([]PageDescriptor, error) {
	pages, err := a.Client.FetchPageList(ctx, platformID)
	if err != nil {
		return nil, err
	}
	out := make([]PageDescriptor, len(pages))
	for i, p := range pages {
		out[i] = PageDescriptor{
			CID:             p.CID,
			PageIndex:       p.PageIndex,
			Name:            p.Name,
			DurationSeconds: p.DurationSeconds,
		}
	}
	return out, nil
}

func (a *RemoteDetailClient) ResolveStreams(ctx context.Context, platformID string, cid int64) (*StreamSet, error) {
	streams, err := a.Client.ResolveStreams(ctx, platformID, cid)
	if err != nil {
		return nil, err
	}
	return &StreamSet{VideoURLs: streams.VideoURLs, AudioURLs: streams.AudioURLs}, nil
}

var _ DetailClient = (*RemoteDetailClient)(nil)
