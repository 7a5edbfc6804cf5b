package normalize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialscope/scrapewatch/internal/core"
)

func TestNormalize_YouTubeFallbackOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		record    map[string]any
		wantCount int64
		wantPath  string
	}{
		{
			name: "about info preferred",
			record: map[string]any{
				"aboutInfo":       map[string]any{"subscriberCount": float64(152000)},
				"subscriberCount": float64(1),
				"channelUrl":      "https://youtube.com/@acme",
			},
			wantCount: 152000,
			wantPath:  "aboutInfo.subscriberCount",
		},
		{
			name: "top level fallback",
			record: map[string]any{
				"subscriberCount": float64(99000),
			},
			wantCount: 99000,
			wantPath:  "subscriberCount",
		},
		{
			name: "nested channel fallback",
			record: map[string]any{
				"channel": map[string]any{"subscriberCount": "1,234,567"},
			},
			wantCount: 1234567,
			wantPath:  "channel.subscriberCount",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := Normalize(core.PlatformYouTube, []map[string]any{tc.record})
			require.NoError(t, err)
			assert.Equal(t, tc.wantCount, result.FollowerCount)
			assert.Equal(t, tc.wantPath, result.SourcePath)
			assert.False(t, result.Proxy)
		})
	}
}

func TestNormalize_PerPlatformPaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		platform  core.Platform
		record    map[string]any
		wantCount int64
		wantURL   string
	}{
		{
			platform: core.PlatformInstagram,
			record: map[string]any{
				"followersCount": float64(340200),
				"url":            "https://instagram.com/acme",
			},
			wantCount: 340200,
			wantURL:   "https://instagram.com/acme",
		},
		{
			platform: core.PlatformTikTok,
			record: map[string]any{
				"authorMeta": map[string]any{
					"fans":       float64(89000),
					"profileUrl": "https://tiktok.com/@acme",
				},
			},
			wantCount: 89000,
			wantURL:   "https://tiktok.com/@acme",
		},
		{
			platform: core.PlatformTwitter,
			record: map[string]any{
				"author": map[string]any{
					"followers": float64(45000),
					"url":       "https://x.com/acme",
				},
			},
			wantCount: 45000,
			wantURL:   "https://x.com/acme",
		},
	}

	for _, tc := range tests {
		t.Run(string(tc.platform), func(t *testing.T) {
			t.Parallel()
			result, err := Normalize(tc.platform, []map[string]any{tc.record})
			require.NoError(t, err)
			assert.Equal(t, tc.wantCount, result.FollowerCount)
			assert.Equal(t, tc.wantURL, result.URL)
		})
	}
}

func TestNormalize_LinkedInEmployeeCountProxy(t *testing.T) {
	t.Parallel()

	direct, err := Normalize(core.PlatformLinkedIn, []map[string]any{{
		"stats": map[string]any{"followerCount": float64(5200), "employeeCount": float64(48)},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(5200), direct.FollowerCount)
	assert.False(t, direct.Proxy)

	proxy, err := Normalize(core.PlatformLinkedIn, []map[string]any{{
		"stats": map[string]any{"employeeCount": float64(48)},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(48), proxy.FollowerCount)
	assert.True(t, proxy.Proxy)
	assert.Equal(t, "stats.employeeCount", proxy.SourcePath)
}

func TestNormalize_StringCountParsing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want int64
	}{
		{"1,234,567", 1234567},
		{"1.234.567", 1234567},
		{"1 234 567", 1234567},
		{"1\u00a0234\u00a0567", 1234567},
		{"  42 ", 42},
	}
	for _, tc := range tests {
		result, err := Normalize(core.PlatformInstagram, []map[string]any{{"followersCount": tc.raw}})
		require.NoError(t, err, "raw %q", tc.raw)
		assert.Equal(t, tc.want, result.FollowerCount, "raw %q", tc.raw)
	}
}

func TestNormalize_UnrecognizedSchema(t *testing.T) {
	t.Parallel()

	_, err := Normalize(core.PlatformYouTube, nil)
	require.ErrorIs(t, err, core.ErrUnrecognizedSchema, "empty dataset")

	_, err = Normalize(core.PlatformYouTube, []map[string]any{{"unrelated": "field"}})
	require.ErrorIs(t, err, core.ErrUnrecognizedSchema, "no known path")

	_, err = Normalize(core.PlatformInstagram, []map[string]any{{"followersCount": "not a number"}})
	require.ErrorIs(t, err, core.ErrUnrecognizedSchema, "unparseable count")

	// Separators in counts are grouping, never decimals: "3.5" must be
	// rejected rather than read as 35.
	_, err = Normalize(core.PlatformInstagram, []map[string]any{{"followersCount": "3.5"}})
	require.ErrorIs(t, err, core.ErrUnrecognizedSchema, "decimal-looking count")

	_, err = Normalize(core.PlatformInstagram, []map[string]any{{"followersCount": "12,34"}})
	require.ErrorIs(t, err, core.ErrUnrecognizedSchema, "malformed grouping")

	_, err = Normalize(core.Platform("myspace"), []map[string]any{{"followersCount": float64(1)}})
	require.ErrorIs(t, err, core.ErrUnrecognizedSchema, "unknown platform")
}

func TestNormalize_FirstRecordIsCanonical(t *testing.T) {
	t.Parallel()

	result, err := Normalize(core.PlatformInstagram, []map[string]any{
		{"followersCount": float64(100)},
		{"followersCount": float64(999)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.FollowerCount)
}

func TestNormalize_ErrorsWrapSentinel(t *testing.T) {
	t.Parallel()

	_, err := Normalize(core.PlatformTikTok, []map[string]any{{}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnrecognizedSchema))
}
