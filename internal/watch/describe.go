package watch

var kindLabels = map[string]string{
	KindMarketMissing:           "Market no longer returned by the upstream API",
	KindWatchInitialized:        "Started watching this market",
	KindQuestionChanged:         "Question text changed",
	KindResolutionSourceChanged: "Resolution source changed",
	KindStatusChanged:           "Active/closed status changed",
	KindRestrictedChanged:       "Restricted flag changed",
	KindEndDateChanged:          "End date changed",
	KindOutcomesChanged:         "Outcome list changed",
	KindDescriptionChanged:      "Rules/description changed",
	KindYesPriceJump:            "Yes price moved sharply",
}

// Describe returns a human label for an alert kind. Unknown kinds are
// returned as is.
func Describe(kind string) string {
	if label, ok := kindLabels[kind]; ok {
		return label
	}
	return kind
}
