package sources

import "context"

// pageFetcher fetches one newest-first page of videos for an adapter.
type pageFetcher func(ctx context.Context, pageNum int) (items []VideoInfo, hasMore bool, err error)

// enumerate drives a generic newest-first paginated adapter: it walks pages
// via fetch and yields each item honoring src.ShouldTake. When
// src.AllowSkipFirstOld is true, it stops as soon as one should_take==false
// descriptor is observed, since the dynamic feed this governs is trusted to
// be strictly publish-time descending. When false, it inspects every
// descriptor across every page — filtering per item but never stopping
// early on age — because that listing's ordering is not guaranteed strictly
// chronological.
func enumerate(ctx context.Context, ch chan<- VideoOrErr, src Source, fetch pageFetcher) {
	defer close(ch)

	page := 1
	for {
		select {
		case <-ctx.Done():
			ch <- VideoOrErr{Err: ctx.Err()}
			return
		default:
		}

		items, hasMore, err := fetch(ctx, page)
		if err != nil {
			ch <- VideoOrErr{Err: err}
			return
		}

		for i := range items {
			item := items[i]
			if !src.ShouldTake(item.PublishTime) {
				if src.AllowSkipFirstOld() {
					return
				}
				continue
			}
			select {
			case ch <- VideoOrErr{Video: &item}:
			case <-ctx.Done():
				ch <- VideoOrErr{Err: ctx.Err()}
				return
			}
		}

		if !hasMore {
			return
		}
		page++
	}
}
