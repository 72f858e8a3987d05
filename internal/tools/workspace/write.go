package workspace

import (
	"context"
	"path/filepath"

	"github.com/rwxlab/taskpilot/internal/dispatch"
)

// NewWriteFileTool returns the write_file tool rooted at root. Parent
// directories are created as needed.
func NewWriteFileTool(fs FileSystem, root string) dispatch.Tool {
	return dispatch.Tool{
		Schema: dispatch.Schema{
			Name:        "write_file",
			Description: "Write content to a file in the workspace, creating parent directories if needed. Overwrites existing content.",
			JSONSchema:  `{"type":"object","properties":{"path":{"type":"string","description":"File path relative to the workspace root"},"content":{"type":"string","description":"Full file content to write"}},"required":["path","content"]}`,
			Aliases: []dispatch.Alias{
				{Canonical: "path", Accepted: []string{"file", "filename", "file_path"}},
				{Canonical: "content", Accepted: []string{"contents", "text", "body"}},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			rel, _ := args["path"].(string)
			content, _ := args["content"].(string)
			abs, err := resolve(root, rel)
			if err != nil {
				return nil, err
			}
			if err := fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return nil, err
			}
			if err := fs.WriteFile(abs, []byte(content), 0o644); err != nil {
				return nil, err
			}
			return map[string]any{
				"path":         rel,
				"bytes":        len(content),
				"side_effects": []string{rel},
			}, nil
		},
	}
}
