package placeholder

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xorwow/serial-pdf/internal/errors"
	"github.com/xorwow/serial-pdf/internal/logging"
)

// Report maps snapshot-relative file paths to the placeholder tokens left
// unmatched in them, in source order, one entry per occurrence.
type Report map[string][]string

// Files returns the files with unmatched tokens, sorted.
func (r Report) Files() []string {
	files := make([]string, 0, len(r))
	for file := range r {
		files = append(files, file)
	}
	sort.Strings(files)

	return files
}

// Tokens returns the distinct unmatched tokens across all files, sorted.
func (r Report) Tokens() []string {
	seen := make(map[string]struct{})
	for _, tokens := range r {
		for _, token := range tokens {
			seen[token] = struct{}{}
		}
	}

	tokens := make([]string, 0, len(seen))
	for token := range seen {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	return tokens
}

// templateExtensions must decode as text; a binary file with one of these
// extensions is a broken template, not an asset to skip.
var templateExtensions = map[string]bool{
	".tex":   true,
	".latex": true,
	".sty":   true,
}

// Engine substitutes placeholder data into a checked-out template tree.
type Engine struct {
	pattern   Pattern
	styleFile string
	log       logging.Logger
}

// NewEngine creates an engine using the given pattern. styleFile names the
// macro package whose own token usage never counts as unmatched.
func NewEngine(pattern Pattern, styleFile string, log logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop()
	}

	return &Engine{
		pattern:   pattern,
		styleFile: styleFile,
		log:       log.WithComponent("placeholder"),
	}
}

// RenderAll rewrites every file under dir in place, substituting placeholder
// tokens from data in a single pass per file. Keys absent from data leave
// their tokens untouched. With detectUnmatched set, a second scan collects
// the tokens still present after substitution, grouped by file.
//
// Non-UTF-8 files are skipped as binary assets unless they carry a template
// extension, in which case the render fails.
func (e *Engine) RenderAll(ctx context.Context, dir string, data map[string]Value, detectUnmatched bool) (Report, error) {
	report := make(Report)

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		if !utf8.Valid(content) {
			if templateExtensions[strings.ToLower(filepath.Ext(path))] {
				return fmt.Errorf("template source %q is not valid UTF-8", rel)
			}
			e.log.Debug(ctx, "skipping binary file", "file", rel)
			return nil
		}

		if !e.pattern.Token.Match(content) {
			return nil
		}

		rendered := e.renderContent(content, data)

		if detectUnmatched && filepath.Base(path) != e.styleFile {
			if unmatched := e.pattern.Token.FindAll(rendered, -1); len(unmatched) > 0 {
				tokens := make([]string, len(unmatched))
				for i, token := range unmatched {
					tokens[i] = string(token)
				}
				report[filepath.ToSlash(rel)] = tokens
			}
		}

		if bytes.Equal(content, rendered) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		return os.WriteFile(path, rendered, info.Mode().Perm())
	})
	if err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternal, "template rendering failed", err)
	}

	return report, nil
}

// renderContent substitutes all tokens in one pass. Scalar data fills scalar
// tokens, list data fills list tokens; a shape mismatch leaves the token in
// place for the unmatched scan to find.
func (e *Engine) renderContent(content []byte, data map[string]Value) []byte {
	return e.pattern.Token.ReplaceAllFunc(content, func(match []byte) []byte {
		groups := e.pattern.Token.FindSubmatch(match)
		if groups == nil {
			return match
		}

		isList := len(groups[1]) > 0
		key := string(groups[2])

		value, ok := data[key]
		if !ok || value.IsList() != isList {
			return match
		}

		if isList {
			return []byte(e.pattern.ExpandList(value.Items()))
		}

		return []byte(e.pattern.ExpandScalar(value.Scalar()))
	})
}
