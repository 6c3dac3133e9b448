package watch

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"pm-embed/internal/fetcher"
)

// Snapshot is the set of comparison fields extracted from a market.
// Nil pointers and nil slices mean the value was absent or unusable.
type Snapshot struct {
	Question             *string
	ResolutionSource     *string
	Active               int
	Closed               int
	Restricted           int
	EndDate              *string
	UpdatedAt            *string
	Outcomes             []string
	OutcomePrices        []decimal.Decimal
	DescriptionSignature *string
}

// Normalize extracts a Snapshot from a raw market. A nil market yields nil.
func Normalize(m fetcher.Market) *Snapshot {
	if m == nil {
		return nil
	}
	return &Snapshot{
		Question:             text(m["question"]),
		ResolutionSource:     text(m["resolutionSource"]),
		Active:               flag(m["active"]),
		Closed:               flag(m["closed"]),
		Restricted:           flag(m["restricted"]),
		EndDate:              endDate(m),
		UpdatedAt:            text(m["updatedAt"]),
		Outcomes:             stringList(m["outcomes"]),
		OutcomePrices:        decimalList(m["outcomePrices"]),
		DescriptionSignature: DescriptionSignature(rawString(m["description"])),
	}
}

// Status renders the joint active/closed flag pair.
func (s *Snapshot) Status() string {
	return fmt.Sprintf("%d/%d", s.Active, s.Closed)
}

// DescriptionSignature returns "<sha256 hex>:<length in characters>", or nil
// for an empty description.
func DescriptionSignature(desc string) *string {
	if desc == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(desc))
	sig := hex.EncodeToString(sum[:]) + ":" + strconv.Itoa(utf8.RuneCountInString(desc))
	return &sig
}

func text(v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func rawString(v any) string {
	s, _ := v.(string)
	return s
}

func flag(v any) int {
	if b, ok := v.(bool); ok && b {
		return 1
	}
	return 0
}

func endDate(m fetcher.Market) *string {
	if events, ok := m["events"].([]any); ok && len(events) > 0 {
		if first, ok := events[0].(map[string]any); ok {
			if d := text(first["endDate"]); d != nil {
				return d
			}
		}
	}
	return text(m["endDate"])
}

// list accepts a structured array or a JSON-encoded array string.
func list(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case string:
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return nil, false
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
		dec.UseNumber()
		var out []any
		if err := dec.Decode(&out); err != nil || out == nil {
			return nil, false
		}
		return out, true
	default:
		return nil, false
	}
}

func stringList(v any) []string {
	items, ok := list(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case string:
			out = append(out, t)
		case json.Number:
			out = append(out, t.String())
		default:
			return nil
		}
	}
	return out
}

// decimalList rejects the whole array if any element is not numeric.
func decimalList(v any) []decimal.Decimal {
	items, ok := list(v)
	if !ok {
		return nil
	}
	out := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		var (
			d   decimal.Decimal
			err error
		)
		switch t := item.(type) {
		case string:
			d, err = decimal.NewFromString(strings.TrimSpace(t))
		case json.Number:
			d, err = decimal.NewFromString(t.String())
		case float64:
			d = decimal.NewFromFloat(t)
		default:
			return nil
		}
		if err != nil {
			return nil
		}
		out = append(out, d)
	}
	return out
}
