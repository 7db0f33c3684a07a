package formalize

import (
	"fmt"
	"strings"
)

// Section headers the generation service is instructed to emit. The
// extraction contract is fixed: a response without the expected section
// is a failed attempt, never a parse-it-anyway guess.
const (
	leanHeader   = "### Lean Code"
	outputHeader = "### Output"
)

// ExtractionError reports a response that did not contain the expected
// delimited section.
type ExtractionError struct {
	Section string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("response contains no %q section", e.Section)
}

// ExtractLeanBlock pulls the candidate Lean source out of a model
// response: the fenced ```lean block under the last "### Lean Code"
// header.
func ExtractLeanBlock(response string) (string, error) {
	return extractFenced(response, leanHeader, "```lean")
}

// ExtractJSONBlock pulls the structured payload out of a model
// response: the fenced ```json block under the last "### Output"
// header.
func ExtractJSONBlock(response string) (string, error) {
	return extractFenced(response, outputHeader, "```json")
}

func extractFenced(response, header, fence string) (string, error) {
	idx := strings.LastIndex(response, header)
	if idx < 0 {
		return "", &ExtractionError{Section: header}
	}
	rest := response[idx+len(header):]

	open := strings.Index(rest, fence)
	if open < 0 {
		return "", &ExtractionError{Section: header}
	}
	rest = rest[open+len(fence):]

	end := strings.Index(rest, "```")
	if end < 0 {
		return "", &ExtractionError{Section: header}
	}
	return strings.TrimSpace(rest[:end]), nil
}
