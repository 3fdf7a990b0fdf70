// Package evaluate extracts answers from model responses and compares them
// to benchmark ground truth.
package evaluate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Result of evaluating one model response
type Result struct {
	Extracted string
	Expected  string
	Correct   bool
	Method    string
}

// Item carries the benchmark-specific context an evaluator may need
type Item struct {
	Benchmark string
	Expected  string
	Choices   []string // mmlu
	Endings   []string // hellaswag
	Needle    string   // niah
}

var (
	gsm8kFormatRegex  = regexp.MustCompile(`####\s*(-?\d+\.?\d*)`)
	answerIsRegex     = regexp.MustCompile(`(?i)(?:answer|result|total|sum)\s*(?:is|=|:)\s*(-?\d+\.?\d*)`)
	numberRegex       = regexp.MustCompile(`-?\d+\.?\d*`)
	mmluLetterRegex   = regexp.MustCompile(`(?:answer\s*(?:is)?:?\s*)?([A-Da-d])(?:\)|\.|\s|$)`)
	bareCapitalRegex  = regexp.MustCompile(`\b([A-D])\b`)
	hellaswagIdxRegex = regexp.MustCompile(`(?i)(?:option|choice|answer)?\s*#?\s*([0-3])`)
	digitsRegex       = regexp.MustCompile(`\d+`)
)

// Evaluate dispatches to the benchmark-specific evaluator
func Evaluate(response string, item Item) (Result, error) {
	switch item.Benchmark {
	case "gsm8k":
		return GSM8K(response, item.Expected), nil
	case "mmlu":
		return MMLU(response, item.Expected, item.Choices), nil
	case "hellaswag":
		return HellaSwag(response, item.Expected, item.Endings), nil
	case "niah":
		needle := item.Needle
		if needle == "" {
			needle = item.Expected
		}
		return NIAH(response, needle), nil
	default:
		return Result{}, fmt.Errorf("unknown benchmark: %q", item.Benchmark)
	}
}

// GSM8K extracts the final number from a math response. Ground truth may
// carry the "#### N" suffix format.
func GSM8K(response, expected string) Result {
	expectedClean := strings.TrimSpace(expected)
	if i := strings.LastIndex(expectedClean, "####"); i >= 0 {
		expectedClean = strings.TrimSpace(expectedClean[i+4:])
	}
	if num := numberRegex.FindString(expectedClean); num != "" {
		expectedClean = num
	}

	var extracted, method string
	if m := gsm8kFormatRegex.FindStringSubmatch(response); m != nil {
		extracted, method = m[1], "gsm8k_format"
	} else if m := answerIsRegex.FindStringSubmatch(response); m != nil {
		extracted, method = m[1], "answer_pattern"
	} else if nums := numberRegex.FindAllString(response, -1); len(nums) > 0 {
		extracted, method = nums[len(nums)-1], "last_number"
	} else {
		method = "none"
	}

	return Result{
		Extracted: extracted,
		Expected:  expectedClean,
		Correct:   normalizeNumber(extracted) == normalizeNumber(expectedClean),
		Method:    method,
	}
}

// MMLU extracts a multiple-choice letter. Ground truth may be an index
// ("0"-"3") or a letter.
func MMLU(response, expected string, choices []string) Result {
	expectedLetter := strings.ToUpper(expected)
	if idx, err := strconv.Atoi(expected); err == nil && idx >= 0 && idx < 26 {
		expectedLetter = string(rune('A' + idx))
	}

	var extracted, method string
	if m := mmluLetterRegex.FindStringSubmatch(response); m != nil {
		extracted, method = strings.ToUpper(m[1]), "letter_match"
	} else {
		responseLower := strings.ToLower(response)
		for i, choice := range choices {
			if choice != "" && strings.Contains(responseLower, strings.ToLower(choice)) {
				extracted, method = string(rune('A'+i)), "choice_text_match"
				break
			}
		}
	}
	if extracted == "" {
		if m := bareCapitalRegex.FindStringSubmatch(response); m != nil {
			extracted, method = m[1], "first_letter"
		} else {
			method = "none"
		}
	}

	return Result{
		Extracted: extracted,
		Expected:  expectedLetter,
		Correct:   extracted == expectedLetter,
		Method:    method,
	}
}

// HellaSwag extracts a completion index 0-3, falling back to matching the
// ending text itself.
func HellaSwag(response, expected string, endings []string) Result {
	var extracted, method string
	if m := hellaswagIdxRegex.FindStringSubmatch(response); m != nil {
		extracted, method = m[1], "index_match"
	} else {
		responseLower := strings.ToLower(response)
		for i, ending := range endings {
			words := strings.Fields(strings.ToLower(ending))
			if len(words) > 5 {
				words = words[:5]
			}
			if len(words) >= 3 && strings.Contains(responseLower, strings.Join(words, " ")) {
				extracted, method = strconv.Itoa(i), "ending_text_match"
				break
			}
		}
	}
	if method == "" {
		method = "none"
	}

	return Result{
		Extracted: extracted,
		Expected:  expected,
		Correct:   extracted == expected,
		Method:    method,
	}
}

// NIAH checks whether the needle content was retrieved. Numeric needles
// match on any contained number; text needles on keyword overlap.
func NIAH(response, needle string) Result {
	extracted := strings.TrimSpace(response)
	method := "full_response"
	correct := false

	if numbers := digitsRegex.FindAllString(needle, -1); len(numbers) > 0 {
		for _, num := range numbers {
			if strings.Contains(response, num) {
				correct = true
				extracted = num
				method = "number_extraction"
				break
			}
		}
	} else {
		responseLower := strings.ToLower(response)
		var keyWords []string
		for _, w := range strings.Fields(needle) {
			if len(w) > 4 {
				keyWords = append(keyWords, w)
			}
		}
		matches := 0
		for _, w := range keyWords {
			if strings.Contains(responseLower, strings.ToLower(w)) {
				matches++
			}
		}
		if len(keyWords) > 0 && matches*2 >= len(keyWords) {
			correct = true
			method = "keyword_overlap"
		}
	}

	return Result{
		Extracted: truncate(extracted, 100),
		Expected:  truncate(needle, 100),
		Correct:   correct,
		Method:    method,
	}
}

// normalizeNumber collapses "8.0" and "8" to the same representation
func normalizeNumber(s string) string {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
