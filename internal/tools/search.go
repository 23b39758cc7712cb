package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"refinery/internal/workspace"
)

const maxSearchMatches = 100

// SearchTextTool greps the workspace for a pattern. The pattern is
// compiled as a regular expression; if that fails it falls back to a
// literal substring match.
func SearchTextTool(root string) *Tool {
	return &Tool{
		Name:        "search_text",
		Description: "Search workspace files for a pattern. Args: pattern, path (optional subdirectory), extension (optional filter like \".go\").",
		Required:    []string{"pattern"},
		Execute: func(ctx context.Context, args map[string]any) (*Result, error) {
			pattern := stringArg(args, "pattern")
			base := root
			if rel := stringArg(args, "path"); rel != "" {
				abs, err := resolve(root, rel)
				if err != nil {
					return &Result{Status: StatusError, Summary: err.Error()}, nil
				}
				base = abs
			}
			ext := stringArg(args, "extension")

			var re *regexp.Regexp
			if compiled, err := regexp.Compile(pattern); err == nil {
				re = compiled
			}
			match := func(line string) bool {
				if re != nil {
					return re.MatchString(line)
				}
				return strings.Contains(line, pattern)
			}

			var matches []string
			err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				rel, relErr := filepath.Rel(base, path)
				if relErr != nil {
					return nil
				}
				rel = filepath.ToSlash(rel)
				if d.IsDir() {
					if workspace.Skipped(rel) {
						return filepath.SkipDir
					}
					return nil
				}
				if ext != "" && !strings.HasSuffix(path, ext) {
					return nil
				}
				matches = appendFileMatches(matches, path, rel, match)
				if len(matches) >= maxSearchMatches {
					return filepath.SkipAll
				}
				return ctx.Err()
			})
			if err != nil && err != ctx.Err() {
				return &Result{Status: StatusError, Summary: fmt.Sprintf("search: %v", err)}, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return &Result{
				Status:  StatusSuccess,
				Content: strings.Join(matches, "\n"),
				Summary: fmt.Sprintf("%d matches for %q", len(matches), pattern),
			}, nil
		},
	}
}

func appendFileMatches(matches []string, path, rel string, match func(string) bool) []string {
	f, err := os.Open(path)
	if err != nil {
		return matches
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if match(line) {
			matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, lineNo, strings.TrimSpace(line)))
			if len(matches) >= maxSearchMatches {
				break
			}
		}
	}
	return matches
}
