// Package verify fuzzy-matches cited evidence quotes against transcript text
// to detect fabricated or misattributed key moments. It is diagnostic only
// and never mutates stored data.
package verify

import (
	"math"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/sirupsen/logrus"

	"callqa-server/pkg/models"
)

// windowSeconds is how far either side of the cited timestamp a quote may
// legitimately appear
const windowSeconds = 30.0

// minWordLength filters out filler words before matching
const minWordLength = 3

// matchFraction of the quote's significant words must appear in one turn
const matchFraction = 0.6

// minMatchWords is the floor on the match threshold for short quotes
const minMatchWords = 3

// MomentResult is the verification outcome for one key moment
type MomentResult struct {
	Moment        models.KeyMoment `json:"moment"`
	Verified      bool             `json:"verified"`
	RequiredWords int              `json:"required_words"`
	QuoteWords    int              `json:"quote_words"`

	// Best partial match within the window, surfaced for human inspection
	// when the moment is a mismatch
	BestTurn       *models.TranscriptTurn `json:"best_turn,omitempty"`
	BestMatchCount int                    `json:"best_match_count"`
	Similarity     float64                `json:"similarity"` // Jaro-Winkler of quote vs best turn
}

// Report summarizes quote verification for one call
type Report struct {
	CallID     string         `json:"call_id"`
	Total      int            `json:"total"`
	Verified   int            `json:"verified"`
	Mismatched int            `json:"mismatched"`
	Results    []MomentResult `json:"results"`
}

// Verifier checks analysis key moments against a transcript
type Verifier struct {
	logger *logrus.Logger
}

// NewVerifier creates a quote verifier
func NewVerifier(logger *logrus.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// Verify checks every key moment of the analysis against the transcript and
// returns a per-moment report
func (v *Verifier) Verify(callID string, transcript *models.Transcript, analysis *models.Analysis) *Report {
	report := &Report{CallID: callID}

	for _, moment := range analysis.KeyMoments {
		result := v.verifyMoment(moment, transcript.Turns)
		report.Results = append(report.Results, result)
		report.Total++
		if result.Verified {
			report.Verified++
		} else {
			report.Mismatched++
		}
	}

	v.logger.WithFields(logrus.Fields{
		"call_id":    callID,
		"total":      report.Total,
		"verified":   report.Verified,
		"mismatched": report.Mismatched,
	}).Info("Quote verification complete")

	return report
}

func (v *Verifier) verifyMoment(moment models.KeyMoment, turns []models.TranscriptTurn) MomentResult {
	quoteWords := significantWords(moment.Quote)

	result := MomentResult{
		Moment:        moment,
		QuoteWords:    len(quoteWords),
		RequiredWords: matchThreshold(len(quoteWords)),
	}

	bestCount := -1
	var bestTurn *models.TranscriptTurn

	for i := range turns {
		turn := &turns[i]
		if math.Abs(turn.Timestamp-moment.Timestamp) > windowSeconds {
			continue
		}

		count := matchedWordCount(quoteWords, turn.Text)
		if count > bestCount {
			bestCount = count
			bestTurn = turn
		}

		if count >= result.RequiredWords {
			result.Verified = true
		}
	}

	if bestTurn != nil {
		result.BestTurn = bestTurn
		result.BestMatchCount = bestCount
		result.Similarity = matchr.JaroWinkler(
			strings.ToLower(moment.Quote), strings.ToLower(bestTurn.Text), false)
	}

	return result
}

// significantWords tokenizes text into lowercase words longer than the
// minimum length
func significantWords(text string) []string {
	var words []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()[]")
		if len(word) > minWordLength {
			words = append(words, word)
		}
	}
	return words
}

// matchedWordCount counts quote words that fuzzy-match some significant word
// of the turn text, where a fuzzy match is case-insensitive substring
// containment in either direction. The turn side is deliberately filtered to
// significant words too, tighter than matching against the raw turn text:
// otherwise a particle like "a" or "on", contained in nearly every quote
// word, would verify quotes the turn never said.
func matchedWordCount(quoteWords []string, turnText string) int {
	turnWords := significantWords(turnText)

	count := 0
	for _, qw := range quoteWords {
		for _, tw := range turnWords {
			if strings.Contains(tw, qw) || strings.Contains(qw, tw) {
				count++
				break
			}
		}
	}
	return count
}

// matchThreshold is the number of quote words that must match before a
// moment counts as verified
func matchThreshold(wordCount int) int {
	required := int(math.Ceil(matchFraction * float64(wordCount)))
	if required < minMatchWords {
		return minMatchWords
	}
	return required
}
