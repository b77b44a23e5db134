package extraction

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// maxCandidates bounds downstream catalog and persistence work against a
// misbehaving or adversarial model response.
const maxCandidates = 20

// CandidateItem is a subscription name extracted from a billing statement,
// with an optional USD amount. AmountUSD is nil when the model omitted the
// amount or it could not be parsed.
type CandidateItem struct {
	Name      string   `json:"name"`
	AmountUSD *float64 `json:"amountUSD"`
}

// fenceRe matches an opening markdown code fence with an optional language tag.
var fenceRe = regexp.MustCompile("```[a-zA-Z]*\\s*\\n?")

// nonAmountRe matches every rune that is not a digit or a period.
var nonAmountRe = regexp.MustCompile(`[^0-9.]`)

// shapeMatcher inspects one decoded JSON array element and either produces a
// candidate item or declines. Matchers are tried in a fixed priority order.
type shapeMatcher func(elem any) (CandidateItem, bool)

var shapeMatchers = []shapeMatcher{
	matchString,
	matchNamedObject,
	matchSingleKeyObject,
}

// Normalize parses the vision model's free-form text into candidate items.
// It strips markdown code fences, parses the remainder as JSON, and applies
// the shape matchers to each array element in order. It never returns an
// error: unparseable or non-array input yields an empty list, which callers
// must treat the same as "no subscriptions detected". The result is truncated
// to the first 20 entries; duplicate names are preserved.
func Normalize(raw string) []CandidateItem {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = fenceRe.ReplaceAllString(text, "")
		text = strings.ReplaceAll(text, "```", "")
		text = strings.TrimSpace(text)
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return []CandidateItem{}
	}

	elems, ok := parsed.([]any)
	if !ok {
		return []CandidateItem{}
	}

	items := make([]CandidateItem, 0, len(elems))
	for _, elem := range elems {
		for _, match := range shapeMatchers {
			if item, ok := match(elem); ok {
				items = append(items, item)
				break
			}
		}
		if len(items) == maxCandidates {
			break
		}
	}
	return items
}

// matchString handles plain string elements.
func matchString(elem any) (CandidateItem, bool) {
	s, ok := elem.(string)
	if !ok {
		return CandidateItem{}, false
	}
	name := strings.TrimSpace(s)
	if name == "" {
		return CandidateItem{}, false
	}
	return CandidateItem{Name: name}, true
}

// matchNamedObject handles objects carrying a string-valued "name" field. The
// amount comes from the first non-null of amountUSD, amount, price; a value
// that fails to parse does not fall through to the next key.
func matchNamedObject(elem any) (CandidateItem, bool) {
	obj, ok := elem.(map[string]any)
	if !ok {
		return CandidateItem{}, false
	}
	name, ok := obj["name"].(string)
	if !ok {
		return CandidateItem{}, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return CandidateItem{}, false
	}

	var amount *float64
	for _, key := range []string{"amountUSD", "amount", "price"} {
		if val, present := obj[key]; present && val != nil {
			amount = parseAmount(val)
			break
		}
	}
	return CandidateItem{Name: name, AmountUSD: amount}, true
}

// matchSingleKeyObject handles objects with exactly one key and no "name"
// field, treating the key as the service name and the value as the amount.
func matchSingleKeyObject(elem any) (CandidateItem, bool) {
	obj, ok := elem.(map[string]any)
	if !ok || len(obj) != 1 {
		return CandidateItem{}, false
	}
	for key, val := range obj {
		name := strings.TrimSpace(key)
		if name == "" {
			break
		}
		return CandidateItem{Name: name, AmountUSD: parseAmount(val)}, true
	}
	return CandidateItem{}, false
}

// parseAmount resolves a JSON value to a dollar amount. Numbers are used
// directly; strings are stripped of every non-digit, non-period rune before
// parsing, so "€12,50" yields 1250 (decimal commas are not distinguished from
// thousands separators).
func parseAmount(val any) *float64 {
	switch v := val.(type) {
	case float64:
		return &v
	case string:
		stripped := nonAmountRe.ReplaceAllString(v, "")
		num, err := strconv.ParseFloat(stripped, 64)
		if err != nil {
			return nil
		}
		return &num
	default:
		return nil
	}
}
