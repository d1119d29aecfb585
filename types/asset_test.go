package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetNormalize(t *testing.T) {
	asset := &Asset{
		AssetType:   "link",
		Title:       "  Reading list  ",
		URL:         " https://example.com/reading ",
		Description: "notes\n",
	}
	require.NoError(t, asset.Normalize())
	assert.Equal(t, "Reading list", asset.Title)
	assert.Equal(t, "https://example.com/reading", asset.URL)
	assert.Equal(t, "notes", asset.Description)

	asset = &Asset{AssetType: "file", Title: "   "}
	assert.Error(t, asset.Normalize(), "blank title should be rejected")

	asset = &Asset{AssetType: "video", Title: "clip"}
	assert.Error(t, asset.Normalize(), "unknown asset type should be rejected")

	asset = &Asset{AssetType: "link", Title: "no url"}
	assert.Error(t, asset.Normalize(), "link without a url should be rejected")

	asset = &Asset{AssetType: "whiteboard", Title: "board export"}
	assert.NoError(t, asset.Normalize())
}

func TestWhiteboardElementNormalize(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	elt := &WhiteboardElement{
		UUID:    " abc-123 ",
		Element: []byte(`{"type":"rect","x":10}`),
	}
	require.NoError(t, elt.Normalize(now))
	assert.Equal(t, "abc-123", elt.UUID)
	assert.Equal(t, now, elt.CreatedAt)
	assert.Equal(t, now, elt.UpdatedAt)

	created := now.Add(-time.Hour)
	elt = &WhiteboardElement{
		UUID:      "abc-123",
		Element:   []byte(`{}`),
		CreatedAt: created,
	}
	require.NoError(t, elt.Normalize(now))
	assert.Equal(t, created, elt.CreatedAt, "existing creation time should be preserved")
	assert.Equal(t, now, elt.UpdatedAt)

	elt = &WhiteboardElement{Element: []byte(`{}`)}
	assert.Error(t, elt.Normalize(now), "missing uuid should be rejected")

	elt = &WhiteboardElement{UUID: "x"}
	assert.Error(t, elt.Normalize(now), "missing element document should be rejected")

	elt = &WhiteboardElement{UUID: "x", Element: []byte(`{"type":`)}
	assert.Error(t, elt.Normalize(now), "malformed element document should be rejected")
}

func TestRenderMarkdown(t *testing.T) {
	asset := &Asset{Description: "a **bold** claim"}
	assert.Contains(t, asset.RenderDescription(), "<strong>bold</strong>")

	comment := &AssetComment{Body: "see https://example.com"}
	assert.Contains(t, comment.RenderBody(), `<a href="https://example.com"`)
}
