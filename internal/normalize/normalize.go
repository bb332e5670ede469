// Package normalize converts raw collector records into canonical mentions.
//
// Everything here is pure computation: no I/O, no store access. Collectors
// hand raw maps to Normalize and pass the result to the ingest writer.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mediapulse/pulse/internal/types"
)

// Rejection reasons. The ingest layer counts these per reason and drops the
// record; they never halt a collector.
var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnsupportedLanguage  = errors.New("unsupported language")
	ErrMalformedTimestamp   = errors.New("malformed timestamp")
)

// SourceDescriptor carries the per-source context a raw record does not
// repeat on every item.
type SourceDescriptor struct {
	Platform   types.Platform
	SourceType types.SourceType
	SourceName string
	Query      string
	Country    string
	// Languages is the allow-list for this source. Empty allows everything;
	// records with no language tag always pass.
	Languages []string
}

// Raw field aliases, probed in order. Collectors for different platforms
// report the same concept under different names.
var (
	sourceIDKeys  = []string{"source_id", "id", "tweet_id", "post_id", "video_id"}
	urlKeys       = []string{"url", "link", "permalink"}
	textKeys      = []string{"text", "content", "body", "description", "caption"}
	titleKeys     = []string{"title", "headline"}
	languageKeys  = []string{"language", "lang"}
	publishedKeys = []string{"published_at", "created_at", "date", "timestamp", "pub_date"}
	handleKeys    = []string{"author_handle", "screen_name", "username", "handle"}
	nameKeys      = []string{"author_name", "author", "user_name", "source"}
	avatarKeys    = []string{"author_avatar", "profile_image_url", "avatar"}
	locationKeys  = []string{"author_location", "user_location"}
	verifiedKeys  = []string{"author_verified", "verified"}
	likesKeys     = []string{"likes", "favorite_count", "like_count", "reactions"}
	sharesKeys    = []string{"shares", "retweet_count", "share_count", "reposts"}
	commentsKeys  = []string{"comments", "reply_count", "comment_count"}
	directKeys    = []string{"direct_reach", "followers_count", "followers"}
	cumulativeKeys = []string{"cumulative_reach", "reach", "impressions", "views"}
)

// Normalize converts one raw record into a canonical mention, or returns a
// rejection reason. A record with neither text nor URL is rejected; a
// published timestamp that fails to parse falls back to the collection time
// rather than rejecting.
func Normalize(raw map[string]any, src SourceDescriptor) (*types.Mention, error) {
	text := firstString(raw, textKeys)
	title := firstString(raw, titleKeys)
	url := firstString(raw, urlKeys)
	if text == "" && title == "" && url == "" {
		return nil, fmt.Errorf("normalize %s record: %w", src.Platform, ErrMissingRequiredField)
	}

	lang := strings.ToLower(firstString(raw, languageKeys))
	if len(src.Languages) > 0 && lang != "" && !languageAllowed(lang, src.Languages) {
		return nil, fmt.Errorf("normalize %s record: language %q: %w", src.Platform, lang, ErrUnsupportedLanguage)
	}

	collected, err := collectedAt(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize %s record: collected_at: %w", src.Platform, ErrMalformedTimestamp)
	}

	var published time.Time
	if s := firstString(raw, publishedKeys); s != "" {
		// Unparseable publication times are common in scraped feeds; the
		// collection time stands in for them.
		if t, err := ParseTimestamp(s); err == nil {
			published = t
		}
	}

	m := &types.Mention{
		SourceID:        firstString(raw, sourceIDKeys),
		URL:             url,
		Platform:        src.Platform,
		SourceType:      src.SourceType,
		SourceName:      src.SourceName,
		Query:           src.Query,
		CollectedAt:     collected,
		PublishedAt:     published,
		Language:        lang,
		Country:         src.Country,
		Title:           title,
		Text:            text,
		AuthorHandle:    firstString(raw, handleKeys),
		AuthorName:      firstString(raw, nameKeys),
		AuthorAvatar:    firstString(raw, avatarKeys),
		AuthorLocation:  firstString(raw, locationKeys),
		AuthorVerified:  firstBool(raw, verifiedKeys),
		Likes:           firstInt(raw, likesKeys),
		Shares:          firstInt(raw, sharesKeys),
		Comments:        firstInt(raw, commentsKeys),
		DirectReach:     firstInt(raw, directKeys),
		CumulativeReach: firstInt(raw, cumulativeKeys),
	}

	content := m.Text
	if content == "" {
		content = m.Title
	}
	m.NormalizedText = NormalizeText(content)
	m.Fingerprint = Fingerprint(m)
	m.SetDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("normalize %s record: %w", src.Platform, err)
	}
	return m, nil
}

// PublishedAt extracts and parses the publication timestamp of a raw
// record. Collectors use it to window drop files before normalization.
func PublishedAt(raw map[string]any) (time.Time, bool) {
	s := firstString(raw, publishedKeys)
	if s == "" {
		return time.Time{}, false
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// collectedAt resolves the collection timestamp: an explicit raw value when
// the collector recorded one, otherwise now. An explicit value that cannot
// be parsed is an error; the collection time is the one timestamp every
// record must have.
func collectedAt(raw map[string]any) (time.Time, error) {
	v, ok := raw["collected_at"]
	if !ok {
		return time.Now().UTC(), nil
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return ParseTimestamp(t)
	default:
		return time.Time{}, fmt.Errorf("unsupported collected_at type %T", v)
	}
}

func languageAllowed(lang string, allowed []string) bool {
	// "en-US" satisfies an "en" allow-list entry.
	base, _, _ := strings.Cut(lang, "-")
	for _, a := range allowed {
		a = strings.ToLower(a)
		if lang == a || base == a {
			return true
		}
	}
	return false
}

func firstString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func firstBool(raw map[string]any, keys []string) bool {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed
			}
		}
	}
	return false
}

// firstInt tolerates the numeric shapes JSON decoding produces: float64 from
// encoding/json, plus native ints and numeric strings from CSV-ish feeds.
func firstInt(raw map[string]any, keys []string) int64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return int64(n)
		case int64:
			return n
		case float64:
			return int64(n)
		case string:
			if parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return parsed
			}
		}
	}
	return 0
}
