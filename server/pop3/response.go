package pop3

import "fmt"

// buildListResponseLines builds the multi-line body for LIST. Numbers are
// positions in the available view.
func buildListResponseLines(available []*Message) []string {
	lines := make([]string, 0, len(available))
	for i, msg := range available {
		lines = append(lines, fmt.Sprintf("%d %d", i+1, msg.Size))
	}
	return lines
}

// buildUIDLResponseLines builds the multi-line body for UIDL.
func buildUIDLResponseLines(available []*Message) []string {
	lines := make([]string, 0, len(available))
	for i, msg := range available {
		lines = append(lines, fmt.Sprintf("%d %s", i+1, msg.UID))
	}
	return lines
}

// buildLangResponseLines lists "code name" pairs for LANG.
func buildLangResponseLines(set *LanguageSet) []string {
	langs := set.All()
	lines := make([]string, 0, len(langs))
	for _, l := range langs {
		lines = append(lines, l.Code()+" "+l.Name())
	}
	return lines
}

// topLines returns the header block, its terminating blank line and up to k
// body lines. A message without a blank line is all header.
func topLines(lines []string, k int) []string {
	boundary := -1
	for i, line := range lines {
		if line == "" {
			boundary = i
			break
		}
	}
	if boundary < 0 {
		return lines
	}
	if k >= len(lines)-boundary-1 {
		return lines
	}
	return lines[:boundary+1+k]
}
