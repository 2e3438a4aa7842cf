package outgoing

import "unicode"

// splitMessage breaks text into chunks no longer than maxLen runes,
// preferring to break at the whitespace nearest the boundary so words
// are not split mid-token (spec §4.6 step 3 / property P7). Every rune
// of the input is placed in exactly one chunk, so concatenating the
// result always reproduces the original text exactly.
func splitMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(runes) > maxLen {
		cut := maxLen
		minBrk := cut - cut/5 // don't hunt for a boundary more than 20% back
		if minBrk < 0 {
			minBrk = 0
		}
		brk := cut
		for brk > minBrk && !unicode.IsSpace(runes[brk-1]) {
			brk--
		}
		if brk <= minBrk {
			brk = cut // no reasonably-placed boundary: hard cut
		}
		chunks = append(chunks, string(runes[:brk]))
		runes = runes[brk:]
	}
	chunks = append(chunks, string(runes))
	return chunks
}
