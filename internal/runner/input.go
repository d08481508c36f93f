package runner

import (
	"fmt"
	"regexp"
)

// inputCall matches the token `input` followed by an opening parenthesis.
// It is a lexical match, not a parse: input() built dynamically is missed, and
// the token inside a string literal or a comment is counted.
var inputCall = regexp.MustCompile(`\binput\s*\(`)

// CountInputCalls returns the number of interactive-input call sites in source.
func CountInputCalls(source string) int {
	return len(inputCall.FindAllStringIndex(source, -1))
}

// NeedsInput reports whether a run of source must pause for stdin. Once any
// input has been collected the run proceeds, whatever the count; supplying too
// few values surfaces later as an error from the service.
func NeedsInput(source, collected string) (int, bool) {
	n := CountInputCalls(source)
	return n, n > 0 && collected == ""
}

// InputPrompt is the message shown while a surface waits for input.
func InputPrompt(required int) string {
	if required == 1 {
		return "This code requires 1 input. Enter the value and run again."
	}
	return fmt.Sprintf("This code requires %d inputs. Enter one value per line and run again.", required)
}
