package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pm-embed/internal/fetcher"
)

// Level buckets a score.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Assessment is the scorer output.
type Assessment struct {
	Score   int      `json:"score"`
	Level   Level    `json:"level"`
	Reasons []string `json:"reasons"`
}

// Policy holds the scoring constants.
type Policy struct {
	MissingSource        int
	BadSource            int
	SubjectiveBase       int
	SubjectivePerHit     int
	SubjectiveCap        int
	ReasonKeywordLimit   int
	NewMarketDays        int
	NewMarket            int
	Restricted           int
	HighVolume           decimal.Decimal
	HighVolumePoints     int
	ModerateVolume       decimal.Decimal
	ModerateVolumePoints int
	HighLevel            int
	MediumLevel          int
	Keywords             []string
}

// DefaultPolicy is the stock heuristic.
var DefaultPolicy = Policy{
	MissingSource:        20,
	BadSource:            10,
	SubjectiveBase:       8,
	SubjectivePerHit:     3,
	SubjectiveCap:        30,
	ReasonKeywordLimit:   5,
	NewMarketDays:        3,
	NewMarket:            6,
	Restricted:           8,
	HighVolume:           decimal.NewFromInt(50_000),
	HighVolumePoints:     10,
	ModerateVolume:       decimal.NewFromInt(10_000),
	ModerateVolumePoints: 6,
	HighLevel:            60,
	MediumLevel:          30,
	Keywords: []string{
		"consensus",
		"considered",
		"qualify",
		"interpret",
		"based on",
		"reporting",
		"first entity",
		"announcement",
		"non-finalized",
		"will not qualify",
		"at the discretion",
		"resolve according",
	},
}

// Compute scores m with the default policy.
func Compute(m fetcher.Market, now time.Time) Assessment {
	return DefaultPolicy.Compute(m, now)
}

// Compute scores m. Reasons follow rule evaluation order.
func (p Policy) Compute(m fetcher.Market, now time.Time) Assessment {
	score := 0
	reasons := []string{}

	source := m.Text("resolutionSource")
	switch {
	case source == "":
		score += p.MissingSource
		reasons = append(reasons, "Missing resolution source (harder to verify).")
	default:
		u, err := url.Parse(source)
		if err != nil || u.Scheme == "" {
			score += p.BadSource
			reasons = append(reasons, "Resolution source is not a valid URL.")
		} else if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
			score += p.BadSource
			reasons = append(reasons, "Resolution source is not a normal web URL.")
		} else if u.Host == "" {
			score += p.BadSource
			reasons = append(reasons, "Resolution source is not a valid URL.")
		}
	}

	desc, _ := m["description"].(string)
	desc = strings.ToLower(desc)
	var hits []string
	for _, k := range p.Keywords {
		if strings.Contains(desc, k) {
			hits = append(hits, k)
		}
	}
	if len(hits) > 0 {
		score += min(p.SubjectiveCap, p.SubjectiveBase+p.SubjectivePerHit*len(hits))
		shown := hits
		if len(shown) > p.ReasonKeywordLimit {
			shown = shown[:p.ReasonKeywordLimit]
		}
		reasons = append(reasons, fmt.Sprintf("Subjective/ambiguous wording detected (%s).", strings.Join(shown, ", ")))
	}

	if start, ok := parseTime(m.Text("startDate")); ok {
		ageDays := math.Floor(float64(now.Sub(start).Milliseconds()) / float64(24*time.Hour/time.Millisecond))
		if ageDays < float64(p.NewMarketDays) {
			score += p.NewMarket
			reasons = append(reasons, "Very new market (details may change / clarifications may arrive).")
		}
	}

	if restricted, _ := m["restricted"].(bool); restricted {
		score += p.Restricted
		reasons = append(reasons, "Restricted market.")
	}

	vol := number(m["volume24hr"])
	switch {
	case vol.GreaterThan(p.HighVolume):
		score += p.HighVolumePoints
		reasons = append(reasons, "High 24h volume (strong incentives around resolution).")
	case vol.GreaterThan(p.ModerateVolume):
		score += p.ModerateVolumePoints
		reasons = append(reasons, "Moderate 24h volume.")
	}

	score = max(0, min(100, score))

	level := LevelLow
	switch {
	case score >= p.HighLevel:
		level = LevelHigh
	case score >= p.MediumLevel:
		level = LevelMedium
	}

	return Assessment{Score: score, Level: level, Reasons: reasons}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// number reads a loosely typed numeric field; anything unparseable is zero.
func number(v any) decimal.Decimal {
	var (
		d   decimal.Decimal
		err error
	)
	switch t := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(t.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(t))
	case float64:
		d = decimal.NewFromFloat(t)
	default:
		return decimal.Zero
	}
	if err != nil {
		return decimal.Zero
	}
	return d
}
