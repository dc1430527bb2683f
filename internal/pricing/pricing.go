// Package pricing maps request content to credit costs.
//
// Pricing strategy: 1 credit = 100 words of model usage, priced at $0.003
// per credit. Flat-rate features are priced against their typical output
// size. Everything here is deterministic and side-effect free.
package pricing

import (
	"fmt"
	"math"
	"strings"
)

const (
	// WordsPerCredit is the fixed exchange rate between words and credits.
	WordsPerCredit = 100

	// OutputEstimateRatio is the conservative guess for response length
	// relative to the prompt, used before the model has replied.
	OutputEstimateRatio = 1.5

	// PricePerCreditCents is the display price of one credit.
	PricePerCreditCents = 0.3
)

// Feature identifies a paid feature.
type Feature string

const (
	FeatureChat        Feature = "chat"
	FeatureImage       Feature = "image"
	FeatureQuiz        Feature = "quiz"
	FeatureNote        Feature = "note"
	FeatureSlideshow   Feature = "slideshow"
	FeatureEnhancement Feature = "enhancement"
)

// flatCosts holds the fixed credit prices for non-chat features.
var flatCosts = map[Feature]float64{
	FeatureImage:       150,
	FeatureQuiz:        30,
	FeatureNote:        25,
	FeatureSlideshow:   50,
	FeatureEnhancement: 15,
}

// IsFlat reports whether a feature is billed at a fixed price.
// Chat is the only feature billed per word.
func (f Feature) IsFlat() bool {
	_, ok := flatCosts[f]
	return ok
}

// IsValid checks if the feature is known
func (f Feature) IsValid() bool {
	return f == FeatureChat || f.IsFlat()
}

// CountWords returns the number of whitespace-delimited non-empty tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// TextCredits converts a word total into credits, rounded up to one
// decimal place so the user is never undercharged by truncation.
func TextCredits(inputWords, outputWords int) float64 {
	credits := float64(inputWords+outputWords) / WordsPerCredit
	return math.Ceil(credits*10) / 10
}

// ChatEstimate is the projected cost of a chat message before the model
// has produced a response.
type ChatEstimate struct {
	InputWords           int
	EstimatedOutputWords int
	TotalWords           int
	EstimatedCredits     float64
}

// EstimateChatCost projects the credit cost of a chat message from its
// prompt alone. The gate debits this estimate up front and the actual cost
// is reconciled once the response length is known.
func EstimateChatCost(input string) ChatEstimate {
	inputWords := CountWords(input)
	outputWords := int(math.Ceil(float64(inputWords) * OutputEstimateRatio))

	return ChatEstimate{
		InputWords:           inputWords,
		EstimatedOutputWords: outputWords,
		TotalWords:           inputWords + outputWords,
		EstimatedCredits:     TextCredits(inputWords, outputWords),
	}
}

// ChatCost is the measured cost of a completed chat exchange.
type ChatCost struct {
	InputWords  int
	OutputWords int
	TotalWords  int
	CreditsUsed float64
}

// ActualChatCost computes the real credit cost once the response exists.
func ActualChatCost(input, output string) ChatCost {
	inputWords := CountWords(input)
	outputWords := CountWords(output)

	return ChatCost{
		InputWords:  inputWords,
		OutputWords: outputWords,
		TotalWords:  inputWords + outputWords,
		CreditsUsed: TextCredits(inputWords, outputWords),
	}
}

// FlatCost returns the fixed credit price for a flat-rate feature.
// Asking for a feature with no flat price is a programming error.
func FlatCost(feature Feature) float64 {
	cost, ok := flatCosts[feature]
	if !ok {
		panic(fmt.Sprintf("pricing: no flat cost for feature %q", feature))
	}
	return cost
}

// Package is a purchasable credit bundle.
type Package struct {
	Name            string
	Credits         float64
	PriceUSD        float64
	DiscountPercent int
}

// Packages are the purchase options exposed to the payment webhook,
// mirroring the store's published bundles.
var Packages = map[string]Package{
	"starter":    {Name: "starter", Credits: 1000, PriceUSD: 2.99, DiscountPercent: 0},
	"popular":    {Name: "popular", Credits: 5000, PriceUSD: 12.99, DiscountPercent: 13},
	"pro":        {Name: "pro", Credits: 20000, PriceUSD: 44.99, DiscountPercent: 25},
	"enterprise": {Name: "enterprise", Credits: 100000, PriceUSD: 199.99, DiscountPercent: 33},
}

// FormatCredits renders a credit amount for display.
func FormatCredits(credits float64) string {
	if credits >= 1000 {
		return fmt.Sprintf("%.1fK", credits/1000)
	}
	return fmt.Sprintf("%.1f", credits)
}

// FormatCost renders the dollar price of a credit amount.
func FormatCost(credits float64) string {
	cost := credits * PricePerCreditCents / 100
	if cost < 0.01 {
		return "<$0.01"
	}
	return fmt.Sprintf("$%.2f", cost)
}
