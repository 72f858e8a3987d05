package workspace

import (
	"bufio"
	"bytes"
	"context"

	"github.com/rwxlab/taskpilot/internal/dispatch"
)

// NewInspectTool returns the inspect tool: metadata about a path without
// reading its full content. Useful as a cheap existence and size check.
func NewInspectTool(fs FileSystem, root string) dispatch.Tool {
	return dispatch.Tool{
		Schema: dispatch.Schema{
			Name:        "inspect",
			Description: "Report metadata for a workspace path: whether it exists, its size, and whether it is a directory.",
			JSONSchema:  `{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the workspace root"}},"required":["path"]}`,
			Aliases: []dispatch.Alias{
				{Canonical: "path", Accepted: []string{"file", "target"}},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			rel, _ := args["path"].(string)
			abs, err := resolve(root, rel)
			if err != nil {
				return nil, err
			}
			info, err := fs.Stat(abs)
			if err != nil {
				return map[string]any{"path": rel, "exists": false}, nil
			}
			return map[string]any{
				"path":     rel,
				"exists":   true,
				"is_dir":   info.IsDir(),
				"size":     info.Size(),
				"modified": info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
			}, nil
		},
	}
}

// NewCompareFilesTool returns the compare_files tool: a line-level
// comparison of two workspace files.
func NewCompareFilesTool(fs FileSystem, root string) dispatch.Tool {
	return dispatch.Tool{
		Schema: dispatch.Schema{
			Name:        "compare_files",
			Description: "Compare two workspace files line by line and report whether they match and which line numbers differ.",
			JSONSchema:  `{"type":"object","properties":{"left":{"type":"string","description":"First file, relative to the workspace root"},"right":{"type":"string","description":"Second file, relative to the workspace root"}},"required":["left","right"]}`,
			Aliases: []dispatch.Alias{
				{Canonical: "left", Accepted: []string{"a", "path_a", "first"}},
				{Canonical: "right", Accepted: []string{"b", "path_b", "second"}},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			leftRel, _ := args["left"].(string)
			rightRel, _ := args["right"].(string)

			left, err := readLines(fs, root, leftRel)
			if err != nil {
				return nil, err
			}
			right, err := readLines(fs, root, rightRel)
			if err != nil {
				return nil, err
			}

			var differing []int
			n := len(left)
			if len(right) > n {
				n = len(right)
			}
			for i := 0; i < n; i++ {
				var l, r string
				if i < len(left) {
					l = left[i]
				}
				if i < len(right) {
					r = right[i]
				}
				if l != r {
					differing = append(differing, i+1)
				}
			}

			return map[string]any{
				"left":            leftRel,
				"right":           rightRel,
				"equal":           len(differing) == 0,
				"differing_lines": differing,
				"left_lines":      len(left),
				"right_lines":     len(right),
			}, nil
		},
	}
}

func readLines(fs FileSystem, root, rel string) ([]string, error) {
	abs, err := resolve(root, rel)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
