package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceKey(t *testing.T) {
	s := &Source{Variant: SourceVariantFavorite, IdentityKey: "12345"}
	assert.Equal(t, "favorite_12345", s.SourceKey())
}

func TestSourceIsEnabled(t *testing.T) {
	t.Run("nil defaults to true", func(t *testing.T) {
		s := &Source{}
		assert.True(t, s.IsEnabled())
	})

	t.Run("explicit false", func(t *testing.T) {
		s := &Source{Enabled: BoolPtr(false)}
		assert.False(t, s.IsEnabled())
	})
}

func TestSourceSelectedVideoSet(t *testing.T) {
	t.Run("empty returns nil", func(t *testing.T) {
		s := &Source{}
		set, err := s.SelectedVideoSet()
		require.NoError(t, err)
		assert.Nil(t, set)
	})

	t.Run("parses JSON array", func(t *testing.T) {
		s := &Source{SelectedVideos: `["BV1xx411c7mD","BV1yy411c7mE"]`}
		set, err := s.SelectedVideoSet()
		require.NoError(t, err)
		assert.Len(t, set, 2)
		_, ok := set["BV1xx411c7mD"]
		assert.True(t, ok)
	})

	t.Run("invalid JSON errors", func(t *testing.T) {
		s := &Source{SelectedVideos: "not json"}
		_, err := s.SelectedVideoSet()
		assert.Error(t, err)
	})
}

func TestSourceValidate(t *testing.T) {
	valid := func() *Source {
		return &Source{Variant: SourceVariantCollection, IdentityKey: "1", Name: "n", Path: "/data/n"}
	}

	t.Run("valid source passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("invalid variant", func(t *testing.T) {
		s := valid()
		s.Variant = "bogus"
		assert.ErrorIs(t, s.Validate(), ErrInvalidSourceVariant)
	})

	t.Run("missing identity key", func(t *testing.T) {
		s := valid()
		s.IdentityKey = ""
		assert.ErrorIs(t, s.Validate(), ErrSourceKeyRequired)
	})

	t.Run("missing name", func(t *testing.T) {
		s := valid()
		s.Name = ""
		assert.ErrorIs(t, s.Validate(), ErrNameRequired)
	})

	t.Run("missing path", func(t *testing.T) {
		s := valid()
		s.Path = ""
		assert.ErrorIs(t, s.Validate(), ErrPathRequired)
	})
}

func TestSourceBeforeCreateDefaultsCursor(t *testing.T) {
	s := &Source{Variant: SourceVariantFavorite, IdentityKey: "1", Name: "n", Path: "/p"}
	require.NoError(t, s.BeforeCreate(nil))
	assert.Equal(t, CursorSentinel, s.Cursor)
	assert.False(t, s.ID.IsZero())
}
