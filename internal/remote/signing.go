package remote

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// mixinKeyTable is the fixed permutation used to scramble img_key+sub_key
// into the 32-byte mixin key. The platform changes this table only if it
// changes the signing scheme entirely; it is not derived at runtime.
var mixinKeyTable = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

// deriveMixinKey scrambles img_key and sub_key per the fixed permutation
// table and truncates to 32 bytes, producing the key used to sign queries.
func deriveMixinKey(imgKey, subKey string) string {
	raw := imgKey + subKey
	var b strings.Builder
	b.Grow(32)
	for _, idx := range mixinKeyTable {
		if idx < len(raw) {
			b.WriteByte(raw[idx])
		}
		if b.Len() >= 32 {
			break
		}
	}
	return b.String()
}

// stripSpecialChars removes characters the signing scheme forbids in query
// values before the md5 digest is computed.
func stripSpecialChars(s string) string {
	return strings.NewReplacer("!", "", "'", "", "(", "", ")", "", "*", "").Replace(s)
}

// signQuery returns a copy of params with wts (wbi timestamp) and w_rid (the
// signature) added, per the sorted-query mixin-key signing scheme: values are
// stripped of special characters, keys sorted, re-encoded, and the mixin key
// appended before taking the md5 digest.
func signQuery(params url.Values, mixinKey string, now time.Time) url.Values {
	signed := url.Values{}
	for k, vs := range params {
		if len(vs) > 0 {
			signed.Set(k, stripSpecialChars(vs[0]))
		}
	}
	signed.Set("wts", fmt.Sprintf("%d", now.Unix()))

	keys := make([]string, 0, len(signed))
	for k := range signed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(signed.Get(k)))
	}
	b.WriteString(mixinKey)

	sum := md5.Sum([]byte(b.String()))
	signed.Set("w_rid", hex.EncodeToString(sum[:]))
	return signed
}
