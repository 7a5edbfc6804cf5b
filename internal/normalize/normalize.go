// Package normalize maps heterogeneous raw job-runner datasets into a
// canonical result per platform. The runner's output schema varies by actor
// version, so each platform carries a small ordered list of candidate field
// paths; the first match wins.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/socialscope/scrapewatch/internal/core"
)

// Result is the canonical tuple extracted from one raw dataset record.
type Result struct {
	URL           string
	FollowerCount int64
	// SourcePath records which candidate path matched, for diagnostics.
	SourcePath string
	// Proxy is true when the count is a stand-in metric rather than a public
	// follower count (linkedin employee-count fallback).
	Proxy bool
}

type path []string

func (p path) String() string {
	return strings.Join(p, ".")
}

// countPaths lists the candidate follower-count locations per platform, in
// priority order.
var countPaths = map[core.Platform][]path{
	core.PlatformYouTube: {
		{"aboutInfo", "subscriberCount"},
		{"subscriberCount"},
		{"channel", "subscriberCount"},
	},
	core.PlatformInstagram: {
		{"followersCount"},
	},
	core.PlatformTikTok: {
		{"authorMeta", "fans"},
	},
	core.PlatformTwitter: {
		{"author", "followers"},
	},
	core.PlatformLinkedIn: {
		{"stats", "followerCount"},
		// Absent a public follower metric, employee count is used as a size
		// proxy. Documented, not silently wrong: Result.Proxy is set.
		{"stats", "employeeCount"},
	},
}

// urlPaths lists candidate profile-URL locations per platform.
var urlPaths = map[core.Platform][]path{
	core.PlatformYouTube:   {{"channelUrl"}, {"url"}},
	core.PlatformInstagram: {{"url"}, {"inputUrl"}},
	core.PlatformTikTok:    {{"authorMeta", "profileUrl"}, {"webVideoUrl"}},
	core.PlatformTwitter:   {{"author", "url"}, {"url"}},
	core.PlatformLinkedIn:  {{"url"}, {"inputUrl"}},
}

// proxyPath marks count paths whose value is a stand-in metric.
var proxyPath = map[string]bool{
	"stats.employeeCount": true,
}

// Normalize extracts the canonical result from a platform dataset. The first
// record is canonical for these single-target scrapes. An empty dataset or a
// record missing every known count path is core.ErrUnrecognizedSchema: the
// job ran but produced no usable signal, which is distinct from a failure.
func Normalize(platform core.Platform, dataset []map[string]any) (Result, error) {
	paths, ok := countPaths[platform]
	if !ok {
		return Result{}, fmt.Errorf("platform %q: %w", platform, core.ErrUnrecognizedSchema)
	}
	if len(dataset) == 0 {
		return Result{}, fmt.Errorf("empty dataset: %w", core.ErrUnrecognizedSchema)
	}
	record := dataset[0]

	for _, p := range paths {
		raw, found := lookup(record, p)
		if !found {
			continue
		}
		count, ok := parseCount(raw)
		if !ok {
			continue
		}
		src := p.String()
		return Result{
			URL:           firstURL(platform, record),
			FollowerCount: count,
			SourcePath:    src,
			Proxy:         proxyPath[src],
		}, nil
	}
	return Result{}, fmt.Errorf("platform %q: no known field path present: %w", platform, core.ErrUnrecognizedSchema)
}

func firstURL(platform core.Platform, record map[string]any) string {
	for _, p := range urlPaths[platform] {
		if raw, found := lookup(record, p); found {
			if s, ok := raw.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func lookup(record map[string]any, p path) (any, bool) {
	var current any = record
	for _, seg := range p {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// groupedDigits accepts a plain digit run or digits grouped in threes by a
// comma, period, space, or no-break space ("1,234,567", "1.234.567",
// "1 234 567"). Separators are only ever grouping here, so a decimal-looking
// string such as "3.5" is rejected instead of misparsed as 35.
var groupedDigits = regexp.MustCompile(`^(?:\d+|\d{1,3}(?:[.,\x{00a0} ]\d{3})+)$`)

func parseCount(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		trimmed := strings.TrimSpace(v)
		if !groupedDigits.MatchString(trimmed) {
			return 0, false
		}
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, trimmed)
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
