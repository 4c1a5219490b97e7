// Package chunk splits vault documents into heading-scoped, size-bounded
// fragments with stable identifiers. Chunks are the atomic unit of indexing
// and retrieval; both the lexical and semantic engines operate on the same
// chunk universe produced here.
package chunk

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Chunk is a bounded fragment of a document.
type Chunk struct {
	// ID is DocumentPath + "#" + Index (non-padded).
	ID string

	// DocumentPath is the vault-relative path of the source document.
	DocumentPath string

	// Index is the zero-based position of this chunk within the document.
	Index int

	// Content is the chunk text.
	Content string

	// ContentHash is a lightweight integrity hash (not cryptographic).
	ContentHash string

	// Title is the document title (file name without extension).
	Title string

	// Heading is the heading of the section this chunk came from, if any.
	Heading string

	// MTime is the modification time of the document the chunk was cut from.
	MTime time.Time
}

// ID builds a chunk identifier from a document path and chunk index.
func ID(documentPath string, index int) string {
	return documentPath + "#" + strconv.Itoa(index)
}

// ParseID splits a chunk identifier into document path and index.
func ParseID(id string) (documentPath string, index int, ok bool) {
	i := strings.LastIndexByte(id, '#')
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return id[:i], n, true
}

// hashContent computes a lightweight content hash: length plus an FNV hash
// of a whitespace-normalized sample. Integrity check only, not security.
func hashContent(content string) string {
	sample := normalizeSample(content)
	h := fnv.New32a()
	_, _ = h.Write([]byte(sample))
	return fmt.Sprintf("%d:%08x", len(content), h.Sum32())
}

// normalizeSample lowercases and collapses whitespace over the first and
// last 64 runes of the content.
func normalizeSample(content string) string {
	runes := []rune(content)
	if len(runes) > 128 {
		head := runes[:64]
		tail := runes[len(runes)-64:]
		runes = append(append([]rune{}, head...), tail...)
	}

	var b strings.Builder
	lastSpace := false
	for _, r := range runes {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.TrimSpace(b.String())
}
