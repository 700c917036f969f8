package remote

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveMixinKey_Deterministic(t *testing.T) {
	a := deriveMixinKey("7cd084941338484aae1ad9425b84077c", "4932caff0ff746eab6f01bf08b70ac45")
	b := deriveMixinKey("7cd084941338484aae1ad9425b84077c", "4932caff0ff746eab6f01bf08b70ac45")
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, len(a), 32)
}

func TestDeriveMixinKey_DifferentInputsDiffer(t *testing.T) {
	a := deriveMixinKey("imgkeyoneimgkeyoneimgkeyoneimgke", "subkeyonesubkeyonesubkeyonesubke")
	b := deriveMixinKey("imgkeytwoimgkeytwoimgkeytwoimgke", "subkeytwosubkeytwosubkeytwosubke")
	assert.NotEqual(t, a, b)
}

func TestStripSpecialChars(t *testing.T) {
	assert.Equal(t, "hello world", stripSpecialChars("hello world"))
	assert.Equal(t, "ab", stripSpecialChars("a!b'(*)"))
}

func TestSignQuery_AddsWtsAndRid(t *testing.T) {
	params := url.Values{"foo": {"bar"}, "mid": {"12345"}}
	now := time.Unix(1700000000, 0)

	signed := signQuery(params, "0123456789abcdef0123456789abcdef", now)

	assert.Equal(t, "1700000000", signed.Get("wts"))
	assert.NotEmpty(t, signed.Get("w_rid"))
	assert.Equal(t, "bar", signed.Get("foo"))
}

func TestSignQuery_Deterministic(t *testing.T) {
	params := url.Values{"a": {"1"}, "b": {"2"}}
	now := time.Unix(1700000000, 0)

	first := signQuery(params, "mixinkey", now)
	second := signQuery(url.Values{"a": {"1"}, "b": {"2"}}, "mixinkey", now)

	assert.Equal(t, first.Get("w_rid"), second.Get("w_rid"))
}

func TestSignQuery_StripsSpecialCharsBeforeSigning(t *testing.T) {
	now := time.Unix(1700000000, 0)
	withSpecials := signQuery(url.Values{"q": {"a!b'c"}}, "mixinkey", now)
	withoutSpecials := signQuery(url.Values{"q": {"abc"}}, "mixinkey", now)
	assert.Equal(t, withoutSpecials.Get("w_rid"), withSpecials.Get("w_rid"))
}
