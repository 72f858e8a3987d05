package workspace

import (
	"context"
	iofs "io/fs"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/rwxlab/taskpilot/internal/dispatch"
)

const defaultListLimit = 1000

// NewListFilesTool returns the list_files tool rooted at root. Ignore
// patterns use gitignore syntax; .git is always skipped.
func NewListFilesTool(fs FileSystem, root string) dispatch.Tool {
	return dispatch.Tool{
		Schema: dispatch.Schema{
			Name:        "list_files",
			Description: "List files under a workspace directory. Supports recursive listing and gitignore-style exclusion patterns.",
			JSONSchema: `{"type":"object","properties":{
				"path":{"type":"string","description":"Directory relative to the workspace root (empty for the root itself)"},
				"recursive":{"type":"boolean","description":"Walk subdirectories. Default false"},
				"limit":{"type":"integer","description":"Maximum entries to return. Default 1000"},
				"ignore_patterns":{"type":"array","items":{"type":"string"},"description":"gitignore-style patterns to exclude"}
			},"required":[]}`,
			Aliases: []dispatch.Alias{
				{Canonical: "path", Accepted: []string{"dir", "directory"}},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			rel, _ := args["path"].(string)
			recursive, _ := args["recursive"].(bool)
			limit := defaultListLimit
			if l, ok := args["limit"].(float64); ok && l > 0 {
				limit = int(l)
			}
			var patterns []string
			if raw, ok := args["ignore_patterns"].([]any); ok {
				for _, p := range raw {
					if s, ok := p.(string); ok {
						patterns = append(patterns, s)
					}
				}
			}
			matcher := gitignore.CompileIgnoreLines(patterns...)

			dir, err := resolve(root, rel)
			if err != nil {
				return nil, err
			}

			skip := func(relPath string) bool {
				if relPath == ".git" || strings.HasPrefix(relPath, ".git"+string(filepath.Separator)) {
					return true
				}
				return matcher.MatchesPath(relPath)
			}

			var files []string
			truncated := false

			if recursive {
				err = fs.WalkDir(dir, func(p string, d iofs.DirEntry, werr error) error {
					if werr != nil || p == dir {
						return nil
					}
					relPath, rerr := filepath.Rel(root, p)
					if rerr != nil {
						return nil
					}
					if skip(relPath) {
						if d.IsDir() {
							return filepath.SkipDir
						}
						return nil
					}
					if d.IsDir() {
						return nil
					}
					files = append(files, relPath)
					if len(files) >= limit {
						truncated = true
						return filepath.SkipAll
					}
					return nil
				})
				if err != nil {
					return nil, err
				}
			} else {
				entries, err := fs.ReadDir(dir)
				if err != nil {
					return nil, err
				}
				for _, e := range entries {
					relPath := filepath.Join(rel, e.Name())
					if skip(relPath) {
						continue
					}
					files = append(files, relPath)
					if len(files) >= limit {
						truncated = true
						break
					}
				}
			}

			return map[string]any{
				"path":      rel,
				"files":     files,
				"truncated": truncated,
			}, nil
		},
	}
}
