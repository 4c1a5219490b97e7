package vault

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// wikiLinkPattern matches [[target]] and [[target|alias]] note links.
var wikiLinkPattern = regexp.MustCompile(`\[\[([^\[\]|#]+)(?:#[^\[\]|]*)?(?:\|[^\[\]]*)?\]\]`)

// FSVault is a filesystem-backed Store rooted at a vault directory.
// Markdown structure (headings, links) is parsed with goldmark.
type FSVault struct {
	root       string
	extensions map[string]struct{}
	md         goldmark.Markdown

	// backlink index, built lazily from outgoing links of all documents
	// and dropped explicitly via InvalidateLinks
	mu        sync.Mutex
	backlinks map[string][]string
}

// NewFSVault creates a filesystem vault rooted at dir.
// extensions lists the note file extensions (e.g. ".md"); empty means ".md" only.
func NewFSVault(dir string, extensions []string) (*FSVault, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("vault directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault path %s is not a directory", dir)
	}

	if len(extensions) == 0 {
		extensions = []string{".md"}
	}
	extSet := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = struct{}{}
	}

	return &FSVault{
		root:       dir,
		extensions: extSet,
		md:         goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}, nil
}

// Root returns the vault root directory.
func (v *FSVault) Root() string {
	return v.root
}

// ListDocuments walks the vault and returns all note documents.
// Hidden directories (dot-prefixed) are skipped, which also excludes the
// vault's own .vaultsearch index directory.
func (v *FSVault) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	var docs []DocumentInfo

	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != v.root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if _, ok := v.extensions[strings.ToLower(filepath.Ext(name))]; !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil // deleted mid-walk
		}
		rel, err := filepath.Rel(v.root, path)
		if err != nil {
			return nil
		}
		docs = append(docs, DocumentInfo{
			Path:  filepath.ToSlash(rel),
			MTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk vault: %w", err)
	}

	return docs, nil
}

// ReadDocument returns the content of a vault-relative document path.
// Paths escaping the vault root are rejected.
func (v *FSVault) ReadDocument(ctx context.Context, path string) (string, error) {
	abs, err := v.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read document %s: %w", path, err)
	}
	return string(data), nil
}

// resolve converts a vault-relative path to an absolute path,
// rejecting traversal outside the vault root.
func (v *FSVault) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("path %q escapes vault root", path)
	}
	return filepath.Join(v.root, clean), nil
}

// GetHeadings parses the document and returns its ordered headings.
func (v *FSVault) GetHeadings(ctx context.Context, path string) ([]Heading, error) {
	content, err := v.ReadDocument(ctx, path)
	if err != nil {
		return nil, err
	}
	return v.parseHeadings([]byte(content)), nil
}

// parseHeadings walks the goldmark AST collecting headings in order.
func (v *FSVault) parseHeadings(source []byte) []Heading {
	reader := text.NewReader(source)
	doc := v.md.Parser().Parse(reader)

	var headings []Heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}

		offset := 0
		if h.Lines().Len() > 0 {
			// Line segment starts after the "# " markers; back up to the
			// start of the line for a stable section boundary.
			offset = h.Lines().At(0).Start - h.Level - 1
			if offset < 0 {
				offset = 0
			}
		}

		headings = append(headings, Heading{
			Text:   string(h.Text(source)),
			Level:  h.Level,
			Offset: offset,
		})
		return ast.WalkSkipChildren, nil
	})

	return headings
}

// GetOutgoingLinks returns the vault-relative paths the document links to.
// Both markdown links and [[wiki links]] are resolved; links to targets
// outside the vault (URLs, missing notes) are dropped.
func (v *FSVault) GetOutgoingLinks(ctx context.Context, path string) ([]string, error) {
	content, err := v.ReadDocument(ctx, path)
	if err != nil {
		return nil, err
	}
	return v.parseLinks(ctx, path, []byte(content))
}

// parseLinks extracts markdown and wiki-style links from a document.
func (v *FSVault) parseLinks(ctx context.Context, fromPath string, source []byte) ([]string, error) {
	seen := make(map[string]struct{})
	var links []string

	add := func(target string) {
		if target == "" {
			return
		}
		resolved := v.resolveLinkTarget(fromPath, target)
		if resolved == "" {
			return
		}
		if _, ok := seen[resolved]; ok {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	}

	// Markdown links via goldmark AST
	reader := text.NewReader(source)
	doc := v.md.Parser().Parse(reader)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if link, ok := n.(*ast.Link); ok {
			add(string(link.Destination))
		}
		return ast.WalkContinue, nil
	})

	// Wiki links via regex (goldmark has no native [[...]] support)
	for _, m := range wikiLinkPattern.FindAllStringSubmatch(string(source), -1) {
		add(strings.TrimSpace(m[1]))
	}

	return links, nil
}

// resolveLinkTarget resolves a link target to a vault-relative path.
// Returns "" if the target is external or does not exist in the vault.
func (v *FSVault) resolveLinkTarget(fromPath, target string) string {
	if strings.Contains(target, "://") || strings.HasPrefix(target, "#") {
		return ""
	}
	target = strings.TrimSpace(target)
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = target[:i]
	}
	if target == "" {
		return ""
	}

	// Wiki links omit the extension
	candidates := []string{target}
	if filepath.Ext(target) == "" {
		candidates = []string{target + ".md", target}
	}

	for _, cand := range candidates {
		// Relative to the linking document first, then vault root
		for _, rel := range []string{
			filepath.ToSlash(filepath.Join(filepath.Dir(fromPath), cand)),
			filepath.ToSlash(filepath.Clean(cand)),
		} {
			abs, err := v.resolve(rel)
			if err != nil {
				continue
			}
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				return rel
			}
		}
	}
	return ""
}

// GetBacklinks returns documents that link to the given path.
// The backlink index is built by scanning outgoing links of every document
// and cached until InvalidateLinks is called.
func (v *FSVault) GetBacklinks(ctx context.Context, path string) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.backlinks == nil {
		if err := v.buildBacklinksLocked(ctx); err != nil {
			return nil, err
		}
	}
	return v.backlinks[path], nil
}

// InvalidateLinks drops the cached backlink index. The next GetBacklinks
// call rebuilds it. Call after vault mutations.
func (v *FSVault) InvalidateLinks() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.backlinks = nil
}

// buildBacklinksLocked scans all documents and inverts their outgoing links.
func (v *FSVault) buildBacklinksLocked(ctx context.Context) error {
	docs, err := v.ListDocuments(ctx)
	if err != nil {
		return err
	}

	backlinks := make(map[string][]string)
	for _, doc := range docs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		content, err := v.ReadDocument(ctx, doc.Path)
		if err != nil {
			continue // deleted mid-scan
		}
		outgoing, err := v.parseLinks(ctx, doc.Path, []byte(content))
		if err != nil {
			continue
		}
		for _, target := range outgoing {
			backlinks[target] = append(backlinks[target], doc.Path)
		}
	}

	v.backlinks = backlinks
	return nil
}

// Verify interface implementation
var _ Store = (*FSVault)(nil)
