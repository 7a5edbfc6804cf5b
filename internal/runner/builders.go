package runner

import "github.com/socialscope/scrapewatch/internal/core"

// actorSpec binds a platform to its actor and request-builder function.
// Platform dispatch is a data change, not a code change: adding a platform
// means adding a row here and an extraction table in normalize.
type actorSpec struct {
	ActorID string
	Build   func(req core.SubmitRequest) map[string]any
}

// actors maps each platform to its actor and input shape. Every actor has its
// own parameter names and array/singleton conventions, which is why request
// shaping lives in one table instead of branches at the call sites.
var actors = map[core.Platform]actorSpec{
	core.PlatformYouTube: {
		ActorID: "streamers~youtube-scraper",
		Build: func(req core.SubmitRequest) map[string]any {
			input := map[string]any{
				"maxResults":       1,
				"maxResultsShorts": 0,
				"maxResultStreams": 0,
				"sortVideosBy":     "POPULAR",
			}
			if url := targetOrSearch(req, "https://www.youtube.com/results?search_query="); url != "" {
				input["startUrls"] = []map[string]any{{"url": url}}
			}
			return input
		},
	},
	core.PlatformInstagram: {
		ActorID: "apify~instagram-profile-scraper",
		Build: func(req core.SubmitRequest) map[string]any {
			if req.TargetURL != nil && *req.TargetURL != "" {
				return map[string]any{"usernames": []string{usernameFromURL(*req.TargetURL)}}
			}
			return map[string]any{"usernames": []string{req.EntityName}}
		},
	},
	core.PlatformTikTok: {
		ActorID: "clockworks~tiktok-scraper",
		Build: func(req core.SubmitRequest) map[string]any {
			profile := req.EntityName
			if req.TargetURL != nil && *req.TargetURL != "" {
				profile = usernameFromURL(*req.TargetURL)
			}
			return map[string]any{
				"profiles":       []string{profile},
				"resultsPerPage": 1,
				"profileSorting": "latest",
			}
		},
	},
	core.PlatformTwitter: {
		ActorID: "apidojo~tweet-scraper",
		Build: func(req core.SubmitRequest) map[string]any {
			handle := req.EntityName
			if req.TargetURL != nil && *req.TargetURL != "" {
				handle = usernameFromURL(*req.TargetURL)
			}
			return map[string]any{
				"twitterHandles": []string{handle},
				"maxItems":       1,
			}
		},
	},
	core.PlatformLinkedIn: {
		ActorID: "bebity~linkedin-premium-actor",
		Build: func(req core.SubmitRequest) map[string]any {
			if req.TargetURL != nil && *req.TargetURL != "" {
				return map[string]any{"profileUrls": []string{*req.TargetURL}}
			}
			return map[string]any{
				"action":      "get-company-by-name",
				"companyName": req.EntityName,
			}
		},
	},
}

func targetOrSearch(req core.SubmitRequest, searchPrefix string) string {
	if req.TargetURL != nil && *req.TargetURL != "" {
		return *req.TargetURL
	}
	if req.EntityName == "" {
		return ""
	}
	return searchPrefix + req.EntityName
}

// usernameFromURL extracts the last non-empty path segment of a profile URL.
func usernameFromURL(raw string) string {
	trimmed := raw
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == '/' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i] == '/' {
			seg := trimmed[i+1:]
			if len(seg) > 0 && seg[0] == '@' {
				seg = seg[1:]
			}
			return seg
		}
	}
	return trimmed
}
