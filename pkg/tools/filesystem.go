package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agentcore/pkg/vfs"
)

// Filesystem tool names.
const (
	ToolLs         = "ls"
	ToolReadFile   = "read_file"
	ToolWriteFile  = "write_file"
	ToolEditFile   = "edit_file"
	ToolDeleteFile = "delete_file"
	ToolGlob       = "glob"
	ToolGrep       = "grep"
)

// MemoriesPrefix routes paths to the persistent zone.
const MemoriesPrefix = "memories"

// zoneFor picks the zone for a normalised path: /memories/... is persistent, the rest transient.
func zoneFor(p string) vfs.Zone {
	if p == MemoriesPrefix || strings.HasPrefix(p, MemoriesPrefix+"/") {
		return vfs.Persistent
	}
	return vfs.Transient
}

func routed(raw string) (string, vfs.Option, error) {
	p, err := vfs.Normalize(raw)
	if err != nil {
		return "", nil, err
	}
	return p, vfs.WithZone(zoneFor(p)), nil
}

// FilesystemTools returns the built-in file tools bound to fs.
func FilesystemTools(fs *vfs.FS) []Tool {
	return []Tool{
		lsTool(fs),
		readFileTool(fs),
		writeFileTool(fs),
		editFileTool(fs),
		deleteFileTool(fs),
		globTool(fs),
		grepTool(fs),
	}
}

func pathSchema(desc string, extra map[string]Property, required ...string) InputSchema {
	props := map[string]Property{"path": {Type: "string", Description: desc}}
	for k, v := range extra {
		props[k] = v
	}
	return InputSchema{Type: "object", Properties: props, Required: append([]string{"path"}, required...)}
}

func lsTool(fs *vfs.FS) Tool {
	return &Func{
		Def: Definition{
			Name:        ToolLs,
			Description: "List files and directories. Paths under /memories/ persist across conversations; everything else is scratch space for this run.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"path":      {Type: "string", Description: "Directory to list (default /)"},
					"recursive": {Type: "boolean", Description: "Include all descendants"},
				},
			},
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			raw, err := stringArg(args, "path", false)
			if err != nil {
				return nil, err
			}
			p, zone, err := routed(raw)
			if err != nil {
				return nil, err
			}
			entries, err := fs.List(p, vfs.ListOptions{Recursive: boolArg(args, "recursive")}, zone)
			if err != nil {
				if errors.Is(err, vfs.ErrNotFound) && p == MemoriesPrefix {
					return "(empty)", nil
				}
				return nil, err
			}
			if len(entries) == 0 {
				return "(empty)", nil
			}
			var sb strings.Builder
			for _, e := range entries {
				if e.IsDir {
					fmt.Fprintf(&sb, "/%s/\n", e.Path)
				} else {
					fmt.Fprintf(&sb, "/%s (%d bytes)\n", e.Path, e.Size)
				}
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	}
}

func readFileTool(fs *vfs.FS) Tool {
	return &Func{
		Def: Definition{
			Name:        ToolReadFile,
			Description: "Read a file. Returns numbered lines; use offset and limit for large files.",
			InputSchema: pathSchema("File path", map[string]Property{
				"offset": {Type: "integer", Description: "First line to return (0-based)"},
				"limit":  {Type: "integer", Description: "Maximum number of lines (default 2000)"},
			}),
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			raw, err := stringArg(args, "path", true)
			if err != nil {
				return nil, err
			}
			p, zone, err := routed(raw)
			if err != nil {
				return nil, err
			}
			content, err := fs.Read(p, zone)
			if err != nil {
				return nil, err
			}
			if content == "" {
				return "(file is empty)", nil
			}
			lines := strings.Split(content, "\n")
			offset := intArg(args, "offset", 0)
			limit := intArg(args, "limit", 2000)
			if offset < 0 || offset >= len(lines) {
				return nil, fmt.Errorf("offset %d is beyond end of file (%d lines)", offset, len(lines))
			}
			end := len(lines)
			if limit > 0 && offset+limit < end {
				end = offset + limit
			}
			var sb strings.Builder
			for i := offset; i < end; i++ {
				fmt.Fprintf(&sb, "%6d\t%s\n", i+1, lines[i])
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	}
}

func writeFileTool(fs *vfs.FS) Tool {
	return &Func{
		Def: Definition{
			Name:        ToolWriteFile,
			Description: "Create or overwrite a file. Parent directories are created automatically.",
			InputSchema: pathSchema("File path", map[string]Property{
				"content": {Type: "string", Description: "Full file content"},
			}, "content"),
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			raw, err := stringArg(args, "path", true)
			if err != nil {
				return nil, err
			}
			content, err := stringArg(args, "content", false)
			if err != nil {
				return nil, err
			}
			p, zone, err := routed(raw)
			if err != nil {
				return nil, err
			}
			if err := fs.Write(p, content, zone); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Wrote %d bytes to /%s", len(content), p), nil
		},
	}
}

func editFileTool(fs *vfs.FS) Tool {
	return &Func{
		Def: Definition{
			Name:        ToolEditFile,
			Description: "Replace text in a file. old_string must be unique unless replace_all is true.",
			InputSchema: pathSchema("File path", map[string]Property{
				"old_string":  {Type: "string", Description: "Exact text to replace"},
				"new_string":  {Type: "string", Description: "Replacement text"},
				"replace_all": {Type: "boolean", Description: "Replace every occurrence"},
			}, "old_string", "new_string"),
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			raw, err := stringArg(args, "path", true)
			if err != nil {
				return nil, err
			}
			oldStr, err := stringArg(args, "old_string", true)
			if err != nil {
				return nil, err
			}
			newStr, err := stringArg(args, "new_string", false)
			if err != nil {
				return nil, err
			}
			p, zone, err := routed(raw)
			if err != nil {
				return nil, err
			}
			content, err := fs.Read(p, zone)
			if err != nil {
				return nil, err
			}
			n := strings.Count(content, oldStr)
			switch {
			case n == 0:
				return nil, fmt.Errorf("old_string not found in /%s", p)
			case n > 1 && !boolArg(args, "replace_all"):
				return nil, fmt.Errorf("old_string occurs %d times in /%s; provide more context or set replace_all", n, p)
			}
			if err := fs.Write(p, strings.ReplaceAll(content, oldStr, newStr), zone); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Replaced %d occurrence(s) in /%s", n, p), nil
		},
	}
}

func deleteFileTool(fs *vfs.FS) Tool {
	return &Func{
		Def: Definition{
			Name:        ToolDeleteFile,
			Description: "Delete a file, or a directory and everything under it.",
			InputSchema: pathSchema("Path to delete", nil),
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			raw, err := stringArg(args, "path", true)
			if err != nil {
				return nil, err
			}
			p, zone, err := routed(raw)
			if err != nil {
				return nil, err
			}
			if err := fs.Delete(p, zone); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Deleted /%s", p), nil
		},
	}
}

func globTool(fs *vfs.FS) Tool {
	return &Func{
		Def: Definition{
			Name:        ToolGlob,
			Description: "Find files by pattern. * and ? match within one path segment, ** matches across segments.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"pattern": {Type: "string", Description: "Glob pattern, e.g. **/*.md or /memories/*.md"},
				},
				Required: []string{"pattern"},
			},
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			pattern, err := stringArg(args, "pattern", true)
			if err != nil {
				return nil, err
			}
			norm := strings.TrimLeft(strings.ReplaceAll(pattern, "\\", "/"), "/")
			matches, err := fs.Glob(norm, vfs.WithZone(zoneFor(norm)))
			if err != nil {
				return nil, err
			}
			if len(matches) == 0 {
				return "No files matched " + pattern, nil
			}
			out := make([]string, len(matches))
			for i, m := range matches {
				out[i] = "/" + m
			}
			return strings.Join(out, "\n"), nil
		},
	}
}

func grepTool(fs *vfs.FS) Tool {
	return &Func{
		Def: Definition{
			Name:        ToolGrep,
			Description: "Search file contents with a regular expression.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"pattern":        {Type: "string", Description: "Regular expression"},
					"file_pattern":   {Type: "string", Description: "Optional glob restricting files"},
					"case_sensitive": {Type: "boolean", Description: "Match case (default false)"},
					"max_results":    {Type: "integer", Description: "Maximum matches (default 100)"},
				},
				Required: []string{"pattern"},
			},
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			pattern, err := stringArg(args, "pattern", true)
			if err != nil {
				return nil, err
			}
			filePattern, err := stringArg(args, "file_pattern", false)
			if err != nil {
				return nil, err
			}
			filePattern = strings.TrimLeft(filePattern, "/")
			matches, err := fs.Search(pattern, vfs.SearchOptions{
				FilePattern:   filePattern,
				CaseSensitive: boolArg(args, "case_sensitive"),
				MaxResults:    intArg(args, "max_results", 0),
			}, vfs.WithZone(zoneFor(filePattern)))
			if err != nil {
				return nil, err
			}
			if len(matches) == 0 {
				return "No matches for " + pattern, nil
			}
			var sb strings.Builder
			for _, m := range matches {
				fmt.Fprintf(&sb, "/%s:%d: %s\n", m.Path, m.Line, m.Text)
			}
			return strings.TrimRight(sb.String(), "\n"), nil
		},
	}
}
