// Package danmaku fetches and decodes a video's bullet-comment track. The
// platform serves danmaku as protobuf-encoded segments rather than the
// legacy XML feed; rather than generating full message types from a .proto
// file for a handful of fields, this package walks the wire format
// directly with google.golang.org/protobuf/encoding/protowire, the same
// low-level approach the protobuf toolchain itself is built on.
package danmaku

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/biliarchive/biliarchive/internal/remote"
)

const segmentEndpoint = "https://api.bilibili.com/x/v2/dm/web/seg.so"

// Fetcher resolves a video's danmaku track and writes it to disk as a
// simple XML sidecar. It depends on the concrete remote client directly
// (unlike internal/pipeline's seams) since it is a leaf feature with a
// single real caller, not something stages need to fake independently.
type Fetcher struct {
	client *remote.Client
}

// New builds a Fetcher around a signed remote client.
func New(c *remote.Client) *Fetcher {
	return &Fetcher{client: c}
}

// Fetch resolves platformID's first page cid, retrieves its danmaku
// segment, decodes it, and writes an XML sidecar to destPath.
func (f *Fetcher) Fetch(ctx context.Context, platformID, destPath string) error {
	pages, err := f.client.FetchPageList(ctx, platformID)
	if err != nil {
		return fmt.Errorf("resolving cid for %s: %w", platformID, err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("no pages for %s", platformID)
	}

	body, err := f.client.FetchRaw(ctx, segmentEndpoint, url.Values{
		"oid":           {strconv.FormatInt(pages[0].CID, 10)},
		"type":          {"1"},
		"segment_index": {"1"},
	})
	if err != nil {
		return fmt.Errorf("fetching danmaku segment: %w", err)
	}

	elems, err := decodeSegment(body)
	if err != nil {
		return fmt.Errorf("decoding danmaku segment: %w", err)
	}

	if err := os.WriteFile(destPath, []byte(toXML(elems)), 0o640); err != nil {
		return fmt.Errorf("writing danmaku sidecar: %w", err)
	}
	return nil
}

// elem is the subset of a DmSegMobileReply.DanmakuElem this package cares
// about; field numbers follow the platform's published protobuf schema.
type elem struct {
	progress int64  // ms into the video the comment appears
	mode     int64  // scroll/top/bottom display mode
	fontsize int64
	color    int64
	content  string
	ctime    int64 // unix seconds the comment was posted
}

const (
	fieldElems = 1

	fieldContent  = 7
	fieldProgress = 2
	fieldMode     = 3
	fieldFontsize = 4
	fieldColor    = 5
	fieldCtime    = 8
)

// decodeSegment walks a DmSegMobileReply's wire-format bytes, pulling out
// each embedded DanmakuElem (field 1) without requiring the generated
// message type.
func decodeSegment(data []byte) ([]elem, error) {
	var elems []elem
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		if num != fieldElems || typ != protowire.BytesType {
			skip, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[skip:]
			continue
		}

		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		e, err := decodeElem(raw)
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	return elems, nil
}

func decodeElem(data []byte) (elem, error) {
	var e elem
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == fieldContent && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.content = s
			data = data[n:]
		case num == fieldProgress && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.progress = int64(v)
			data = data[n:]
		case num == fieldMode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.mode = int64(v)
			data = data[n:]
		case num == fieldFontsize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.fontsize = int64(v)
			data = data[n:]
		case num == fieldColor && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.color = int64(v)
			data = data[n:]
		case num == fieldCtime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.ctime = int64(v)
			data = data[n:]
		default:
			skip, err := skipField(data, typ)
			if err != nil {
				return e, err
			}
			data = data[skip:]
		}
	}
	return e, nil
}

func skipField(data []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, data)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

// toXML renders elems in the de-facto bilibili danmaku XML shape other
// archive tools already consume: one <d p="progress,mode,fontsize,color,
// ctime"> element per comment.
func toXML(elems []elem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<i>\n")
	for _, e := range elems {
		fmt.Fprintf(&b, `  <d p="%d,%d,%d,%d,%d">%s</d>`+"\n",
			e.progress, e.mode, e.fontsize, e.color, e.ctime, escapeXML(e.content))
	}
	b.WriteString("</i>\n")
	return b.String()
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return r.Replace(s)
}
