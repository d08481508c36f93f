package runner

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
)

// SENTINEL PROTOCOL:
// The execution service renders plots to PNG and prints them into stdout,
// base64-encoded, between markers:
//
//	regular output
//	__GRAPHS_START__
//	__GRAPH_0__iVBORw0KGgo...__GRAPH_END__
//	__GRAPH_1__iVBORw0KGgo...__GRAPH_END__
//	__GRAPHS_END__
//
// Demux pulls the payloads out and returns the remaining text. It is
// best-effort: a wrapper without its end marker is left in the text as-is,
// and nothing here ever returns an error.
const (
	artifactEnd = "__GRAPH_END__"
	blockStart  = "__GRAPHS_START__"
	blockEnd    = "__GRAPHS_END__"
)

// artifactBegin matches `__GRAPH_<ordinal>__`.
var artifactBegin = regexp.MustCompile(`__GRAPH_(\d+)__`)

// Artifact is one binary payload found in stdout, in encounter order.
// Ordinal is whatever the service printed; it is neither validated nor used
// for ordering.
type Artifact struct {
	Ordinal int    `json:"ordinal"`
	Data    string `json:"data"`
}

// Decode returns the payload bytes (PNG for plots). Whitespace the service may
// have wrapped the payload with is ignored.
func (a Artifact) Decode() ([]byte, error) {
	clean := strings.Join(strings.Fields(a.Data), "")
	return base64.StdEncoding.DecodeString(clean)
}

// Demux separates displayable text from the artifacts embedded in stdout.
//
// ALGORITHM:
//  1. Find the next begin marker and the first end marker after it.
//  2. If another begin marker sits between them, the first wrapper is
//     malformed: skip it and resume from the inner begin marker.
//  3. Otherwise the payload is everything between the markers (newlines
//     allowed). Drop the whole span plus the line break that ends its line.
//  4. Stop when no begin marker has an end marker after it.
//
// With no matches the input comes back unchanged. With matches, the block
// framing lines are removed and the result is whitespace-trimmed.
func Demux(stdout string) (string, []Artifact) {
	var (
		artifacts []Artifact
		out       strings.Builder
		last      int // end of the last consumed span
		pos       int // scan position
	)

	for pos < len(stdout) {
		loc := artifactBegin.FindStringSubmatchIndex(stdout[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]
		payloadStart := pos + loc[1]
		// An ordinal too large for int is kept as 0.
		ordinal, err := strconv.Atoi(stdout[pos+loc[2] : pos+loc[3]])
		if err != nil {
			ordinal = 0
		}

		endRel := strings.Index(stdout[payloadStart:], artifactEnd)
		if endRel < 0 {
			break
		}
		payload := stdout[payloadStart : payloadStart+endRel]

		if inner := artifactBegin.FindStringIndex(payload); inner != nil {
			pos = payloadStart + inner[0]
			continue
		}

		spanEnd := payloadStart + endRel + len(artifactEnd)
		switch {
		case strings.HasPrefix(stdout[spanEnd:], "\r\n"):
			spanEnd += 2
		case strings.HasPrefix(stdout[spanEnd:], "\n"):
			spanEnd++
		}

		out.WriteString(stdout[last:start])
		artifacts = append(artifacts, Artifact{Ordinal: ordinal, Data: payload})
		last = spanEnd
		pos = spanEnd
	}

	if len(artifacts) == 0 {
		return stdout, nil
	}
	out.WriteString(stdout[last:])

	return strings.TrimSpace(stripFraming(out.String())), artifacts
}

// stripFraming drops lines that consist of a __GRAPHS_START__ or
// __GRAPHS_END__ marker alone. A marker inside other output is kept.
func stripFraming(s string) string {
	lines := strings.SplitAfter(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		switch strings.TrimRight(line, "\r\n") {
		case blockStart, blockEnd:
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "")
}
