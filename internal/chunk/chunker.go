package chunk

import (
	"context"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/vaultsearch/internal/vault"
)

// Defaults for chunker options.
const (
	DefaultMaxChars         = 4000
	DefaultOverlap          = 0
	DefaultCacheBudgetBytes = 64 * 1024 * 1024

	// cacheEntryLimit bounds the number of cached documents independently
	// of the byte budget.
	cacheEntryLimit = 4096
)

// frontmatterPattern matches leading YAML front-matter: ---\n...\n---
var frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)

// Options configures the chunker.
type Options struct {
	// MaxChars is the maximum characters per chunk.
	MaxChars int

	// Overlap is the character overlap carried between hard-split fragments.
	Overlap int

	// CacheBudgetBytes bounds total bytes of chunk content retained in the
	// cache. Documents whose chunks would exceed the budget are still
	// chunked and returned, just not retained.
	CacheBudgetBytes int64
}

// withDefaults fills in zero values.
func (o Options) withDefaults() Options {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.Overlap < 0 || o.Overlap >= o.MaxChars {
		o.Overlap = DefaultOverlap
	}
	if o.CacheBudgetBytes <= 0 {
		o.CacheBudgetBytes = DefaultCacheBudgetBytes
	}
	return o
}

// cacheEntry holds the chunks of one document at one option set.
type cacheEntry struct {
	chunks []Chunk
	mtime  time.Time
	bytes  int64
}

// Chunker produces chunks from vault documents with mtime-invalidated
// caching. The cache is a pure function of document state; the vault is
// always the source of truth.
type Chunker struct {
	store vault.Store
	opts  Options

	mu         sync.Mutex
	cache      *lru.Cache[string, *cacheEntry]
	cacheBytes int64
}

// NewChunker creates a chunker backed by the given vault store.
func NewChunker(store vault.Store, opts Options) *Chunker {
	c := &Chunker{store: store, opts: opts.withDefaults()}
	cache, _ := lru.NewWithEvict[string, *cacheEntry](cacheEntryLimit, c.onEvict)
	c.cache = cache
	return c
}

// onEvict keeps the byte accounting in step with LRU eviction.
// Called with c.mu held (all cache mutation happens under the lock).
func (c *Chunker) onEvict(_ string, entry *cacheEntry) {
	c.cacheBytes -= entry.bytes
}

// cacheKey keys the cache by (documentPath, maxChars, overlap).
func (c *Chunker) cacheKey(documentPath string) string {
	return documentPath + "\x00" + strconv.Itoa(c.opts.MaxChars) + "\x00" + strconv.Itoa(c.opts.Overlap)
}

// Clear drops all cached chunks, e.g. on memory pressure.
func (c *Chunker) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
	c.cacheBytes = 0
}

// CachedBytes returns the current cache footprint in content bytes.
func (c *Chunker) CachedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheBytes
}

// GetChunks chunks the given documents, serving unmodified documents from
// cache. Unreadable or empty documents yield no chunks; malformed paths
// are filtered silently.
func (c *Chunker) GetChunks(ctx context.Context, docs []vault.DocumentInfo) ([]Chunk, error) {
	var all []Chunk
	for _, doc := range docs {
		if ctx.Err() != nil {
			return all, ctx.Err()
		}
		if !validPath(doc.Path) {
			continue
		}
		chunks := c.chunksForDocument(ctx, doc)
		all = append(all, chunks...)
	}
	return all, nil
}

// ChunkDocument chunks a single document, bypassing nothing: the cache is
// consulted and maintained exactly as in GetChunks.
func (c *Chunker) ChunkDocument(ctx context.Context, doc vault.DocumentInfo) []Chunk {
	if !validPath(doc.Path) {
		return nil
	}
	return c.chunksForDocument(ctx, doc)
}

// chunksForDocument returns a document's chunks, from cache when fresh.
func (c *Chunker) chunksForDocument(ctx context.Context, doc vault.DocumentInfo) []Chunk {
	key := c.cacheKey(doc.Path)

	c.mu.Lock()
	if entry, ok := c.cache.Get(key); ok && !doc.MTime.After(entry.mtime) {
		chunks := entry.chunks
		c.mu.Unlock()
		return chunks
	}
	c.mu.Unlock()

	chunks := c.chunk(ctx, doc)

	var bytes int64
	for i := range chunks {
		bytes += int64(len(chunks[i].Content))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Invalidate any stale entry before the budget check so its bytes
	// don't count against the new entry. Eviction callback adjusts
	// cacheBytes.
	c.cache.Remove(key)

	if c.cacheBytes+bytes > c.opts.CacheBudgetBytes {
		slog.Debug("chunk_cache_budget_exceeded",
			slog.String("path", doc.Path),
			slog.Int64("entry_bytes", bytes),
			slog.Int64("cache_bytes", c.cacheBytes))
		return chunks
	}

	c.cache.Add(key, &cacheEntry{chunks: chunks, mtime: doc.MTime, bytes: bytes})
	c.cacheBytes += bytes
	return chunks
}

// chunk performs the actual split of one document.
func (c *Chunker) chunk(ctx context.Context, doc vault.DocumentInfo) []Chunk {
	content, err := c.store.ReadDocument(ctx, doc.Path)
	if err != nil {
		slog.Debug("chunk_read_failed",
			slog.String("path", doc.Path),
			slog.String("error", err.Error()))
		return nil
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	title := documentTitle(doc.Path)
	body, fmLen := stripFrontmatter(content)
	if strings.TrimSpace(body) == "" {
		return nil
	}

	// Whole document plus the synthetic note header fits: one chunk.
	whole := "NOTE TITLE: " + title + "\n\nNOTE BLOCK CONTENT:\n\n" + body
	if len(whole) <= c.opts.MaxChars {
		return c.build(doc, title, []fragment{{content: whole}})
	}

	headings, err := c.store.GetHeadings(ctx, doc.Path)
	if err != nil {
		headings = nil
	}

	sections := splitSections(body, fmLen, headings)

	var fragments []fragment
	for _, sec := range sections {
		parts := splitText(sec.content, c.opts.MaxChars, c.opts.Overlap)
		if len(parts) == 0 && strings.TrimSpace(sec.content) != "" {
			// Fallback-to-single-chunk path: splitting failed outright,
			// keep the section whole rather than losing content.
			parts = []string{sec.content}
		}
		for _, p := range parts {
			fragments = append(fragments, fragment{content: p, heading: sec.heading})
		}
	}

	fragments = coalesce(fragments, c.opts.MaxChars)
	return c.build(doc, title, fragments)
}

// fragment is an intermediate chunk-to-be with its section heading.
type fragment struct {
	content string
	heading string
}

// coalesce applies coalesceFragments while tracking headings.
func coalesce(fragments []fragment, maxChars int) []fragment {
	if len(fragments) < 2 {
		return fragments
	}

	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.content
	}
	mergedTexts := coalesceFragments(texts, maxChars)

	// Re-attach headings by matching fragment prefixes in order.
	merged := make([]fragment, 0, len(mergedTexts))
	fi := 0
	for _, text := range mergedTexts {
		heading := ""
		if fi < len(fragments) {
			heading = fragments[fi].heading
		}
		// Advance past every source fragment consumed by this merge.
		consumed := 0
		for fi < len(fragments) && consumed < len(text) {
			consumed += len(fragments[fi].content)
			fi++
			if consumed < len(text) {
				consumed++ // joining newline
			}
		}
		merged = append(merged, fragment{content: text, heading: heading})
	}
	return merged
}

// build assigns IDs and hashes in document order.
func (c *Chunker) build(doc vault.DocumentInfo, title string, fragments []fragment) []Chunk {
	chunks := make([]Chunk, 0, len(fragments))
	for _, f := range fragments {
		content := strings.TrimRight(f.content, "\n ")
		if strings.TrimSpace(content) == "" {
			continue
		}
		idx := len(chunks)
		chunks = append(chunks, Chunk{
			ID:           ID(doc.Path, idx),
			DocumentPath: doc.Path,
			Index:        idx,
			Content:      content,
			ContentHash:  hashContent(content),
			Title:        title,
			Heading:      f.heading,
			MTime:        doc.MTime,
		})
	}
	return chunks
}

// section is a heading-scoped region of the document body.
type section struct {
	heading string
	content string
}

// splitSections cuts the body at heading offsets. Heading offsets refer to
// the original document; fmLen is the length of the stripped front-matter.
func splitSections(body string, fmLen int, headings []vault.Heading) []section {
	if len(headings) == 0 {
		return []section{{content: body}}
	}

	type boundary struct {
		offset  int
		heading string
	}
	var bounds []boundary
	for _, h := range headings {
		off := h.Offset - fmLen
		if off < 0 {
			off = 0
		}
		if off > len(body) {
			off = len(body)
		}
		bounds = append(bounds, boundary{offset: off, heading: h.Text})
	}

	var sections []section
	if bounds[0].offset > 0 {
		sections = append(sections, section{content: body[:bounds[0].offset]})
	}
	for i, b := range bounds {
		end := len(body)
		if i+1 < len(bounds) {
			end = bounds[i+1].offset
		}
		if b.offset >= end {
			continue
		}
		sections = append(sections, section{heading: b.heading, content: body[b.offset:end]})
	}
	return sections
}

// stripFrontmatter removes leading YAML front-matter, returning the body
// and the number of bytes removed.
func stripFrontmatter(content string) (body string, stripped int) {
	if m := frontmatterPattern.FindString(content); m != "" {
		return content[len(m):], len(m)
	}
	return content, 0
}

// documentTitle derives the note title from its path.
func documentTitle(documentPath string) string {
	base := path.Base(documentPath)
	if ext := path.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return base
}

// validPath filters malformed document paths: empty strings and traversal
// sequences are rejected silently.
func validPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
