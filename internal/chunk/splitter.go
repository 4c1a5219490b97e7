package chunk

import "strings"

// separatorCascade is the ordered list of separators tried when a section
// exceeds the chunk size. The empty separator is the hard character split
// of last resort.
var separatorCascade = []string{"\n\n", "\n", ". ", " ", ""}

// splitText splits text into fragments no longer than maxChars using the
// separator cascade. overlap carries trailing characters of one fragment
// into the next on hard splits.
func splitText(text string, maxChars, overlap int) []string {
	if maxChars <= 0 {
		return []string{text}
	}
	return splitRecursive(text, maxChars, overlap, separatorCascade)
}

func splitRecursive(text string, maxChars, overlap int, seps []string) []string {
	if len(text) <= maxChars {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	if len(seps) == 0 || seps[0] == "" {
		return hardSplit(text, maxChars, overlap)
	}

	sep := seps[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		// Separator absent, fall through the cascade
		return splitRecursive(text, maxChars, overlap, seps[1:])
	}

	var fragments []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			if s := current.String(); strings.TrimSpace(s) != "" {
				fragments = append(fragments, s)
			}
			current.Reset()
		}
	}

	for _, part := range parts {
		piece := part
		if len(piece) > maxChars {
			// Oversized piece: flush what we have and recurse deeper
			flush()
			fragments = append(fragments, splitRecursive(piece, maxChars, overlap, seps[1:])...)
			continue
		}

		need := len(piece)
		if current.Len() > 0 {
			need += len(sep)
		}
		if current.Len()+need > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(piece)
	}
	flush()

	return fragments
}

// hardSplit cuts text at fixed character boundaries, the cascade's last
// resort when no separator produces bounded fragments.
func hardSplit(text string, maxChars, overlap int) []string {
	step := maxChars - overlap
	if step <= 0 {
		step = maxChars
	}

	var fragments []string
	for start := 0; start < len(text); start += step {
		end := start + maxChars
		if end > len(text) {
			end = len(text)
		}
		frag := text[start:end]
		if strings.TrimSpace(frag) != "" {
			fragments = append(fragments, frag)
		}
		if end == len(text) {
			break
		}
	}
	return fragments
}

// coalesceFragments merges tiny structural fragments so no chunk consists
// of a bare heading with no retrievable body:
//   - a heading-only fragment is merged forward into its successor when the
//     merge stays within maxChars
//   - a lone trailing tiny fragment is merged backward under the same bound
func coalesceFragments(fragments []string, maxChars int) []string {
	if len(fragments) < 2 {
		return fragments
	}

	// Forward pass: heading-only fragments merge into their successor.
	merged := make([]string, 0, len(fragments))
	for i := 0; i < len(fragments); i++ {
		frag := fragments[i]
		if i+1 < len(fragments) && isHeadingOnly(frag) &&
			len(frag)+1+len(fragments[i+1]) <= maxChars {
			fragments[i+1] = frag + "\n" + fragments[i+1]
			continue
		}
		merged = append(merged, frag)
	}

	// Backward pass: a tiny trailing fragment joins its predecessor.
	if n := len(merged); n >= 2 {
		last := merged[n-1]
		if isTinyFragment(last) && len(merged[n-2])+2+len(last) <= maxChars {
			merged[n-2] = merged[n-2] + "\n\n" + last
			merged = merged[:n-1]
		}
	}

	return merged
}

// tinyFragmentChars is the threshold below which a trailing fragment is
// considered structural debris worth merging backward.
const tinyFragmentChars = 64

// isHeadingOnly reports whether a fragment is a single heading line with
// no body content.
func isHeadingOnly(frag string) bool {
	trimmed := strings.TrimSpace(frag)
	if trimmed == "" {
		return false
	}
	if strings.ContainsRune(trimmed, '\n') {
		return false
	}
	return strings.HasPrefix(trimmed, "#")
}

// isTinyFragment reports whether a fragment is short enough to merge back.
func isTinyFragment(frag string) bool {
	return len(strings.TrimSpace(frag)) < tinyFragmentChars
}
