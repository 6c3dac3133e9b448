package tracking

import (
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"pm-embed/internal/storage"
)

var (
	ErrInvalidEvent     = errors.New("invalid event")
	ErrOriginNotAllowed = errors.New("origin not allowed")
)

const (
	EventImpression = "impression"
	EventClick      = "click"
)

// Field limits, in characters.
const (
	maxSlug     = 200
	maxQuestion = 300
	maxPub      = 120
	maxArticle  = 200
	maxPageURL  = 500
	maxReferrer = 500
)

const defaultPub = "unknown"

// Request is the body posted by the embed script.
type Request struct {
	Event    string   `json:"event"`
	Slug     string   `json:"slug"`
	Question string   `json:"question"`
	Pub      string   `json:"pub"`
	Token    string   `json:"token"`
	Article  string   `json:"article"`
	PageURL  string   `json:"page_url"`
	Referrer string   `json:"referrer"`
	TS       *float64 `json:"ts"`
}

// Publisher returns the publisher id the request claims, defaulting to "unknown".
func (r Request) Publisher() string {
	if r.Pub == "" {
		return defaultPub
	}
	return r.Pub
}

// Sanitize validates the event kind and clamps every field.
func Sanitize(r Request, now time.Time) (storage.TrackEvent, error) {
	if r.Event != EventImpression && r.Event != EventClick {
		return storage.TrackEvent{}, ErrInvalidEvent
	}
	ts := now.UnixMilli()
	if r.TS != nil && !math.IsNaN(*r.TS) && !math.IsInf(*r.TS, 0) {
		ts = int64(*r.TS)
	}
	return storage.TrackEvent{
		Event:    r.Event,
		Slug:     clip(r.Slug, maxSlug),
		Question: clip(r.Question, maxQuestion),
		Pub:      clip(r.Publisher(), maxPub),
		Article:  clip(r.Article, maxArticle),
		PageURL:  clip(r.PageURL, maxPageURL),
		Referrer: clip(r.Referrer, maxReferrer),
		TS:       ts,
	}, nil
}

func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// Origins is an exact-match allow-list. An empty list allows everything.
type Origins struct {
	allowed map[string]struct{}
}

func NewOrigins(list []string) *Origins {
	o := &Origins{allowed: map[string]struct{}{}}
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			o.allowed[item] = struct{}{}
		}
	}
	return o
}

func (o *Origins) Allow(origin string) bool {
	if o == nil || len(o.allowed) == 0 {
		return true
	}
	if origin == "" {
		return false
	}
	_, ok := o.allowed[origin]
	return ok
}
