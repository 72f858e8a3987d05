package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/rwxlab/taskpilot/internal/dispatch"
)

// maxFullLines is the line count above which read_file returns a head/tail
// excerpt instead of the full content.
const maxFullLines = 400

// NewReadFileTool returns the read_file tool rooted at root.
func NewReadFileTool(fs FileSystem, root string) dispatch.Tool {
	return dispatch.Tool{
		Schema: dispatch.Schema{
			Name:        "read_file",
			Description: "Read a file from the workspace. The path is relative to the workspace root.",
			JSONSchema:  `{"type":"object","properties":{"path":{"type":"string","description":"File path relative to the workspace root"}},"required":["path"]}`,
			Aliases: []dispatch.Alias{
				{Canonical: "path", Accepted: []string{"file", "filename", "file_path"}},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			rel, _ := args["path"].(string)
			abs, err := resolve(root, rel)
			if err != nil {
				return nil, err
			}
			data, err := fs.ReadFile(abs)
			if err != nil {
				return nil, err
			}

			content := string(data)
			lines := strings.Split(content, "\n")
			payload := map[string]any{
				"path":       rel,
				"line_count": len(lines),
			}
			if len(lines) <= maxFullLines {
				payload["content"] = content
				payload["truncated"] = false
				return payload, nil
			}

			head := strings.Join(lines[:maxFullLines/2], "\n")
			tail := strings.Join(lines[len(lines)-maxFullLines/2:], "\n")
			payload["content"] = fmt.Sprintf("%s\n... %d lines omitted ...\n%s",
				head, len(lines)-maxFullLines, tail)
			payload["truncated"] = true
			return payload, nil
		},
	}
}
