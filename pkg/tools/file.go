package tools

import (
	"context"
	"fmt"

	"github.com/openagentd/agentd/pkg/models"
	"github.com/openagentd/agentd/pkg/sandbox"
)

// FileTool exposes the sandbox filesystem to the LLM.
type FileTool struct {
	sb *sandbox.Client
}

// NewFileTool creates the file tool over a sandbox client.
func NewFileTool(sb *sandbox.Client) *FileTool {
	return &FileTool{sb: sb}
}

func (t *FileTool) Name() string { return "file" }

type fileReadArgs struct {
	File      string `json:"file" jsonschema:"required,description=Absolute path of the file to read"`
	StartLine *int   `json:"start_line,omitempty" jsonschema:"description=First line to read (1-based)"`
	EndLine   *int   `json:"end_line,omitempty" jsonschema:"description=Last line to read (inclusive)"`
}

type fileWriteArgs struct {
	File    string `json:"file" jsonschema:"required,description=Absolute path of the file to write"`
	Content string `json:"content" jsonschema:"required,description=Content to write"`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append instead of overwrite"`
}

type fileReplaceArgs struct {
	File   string `json:"file" jsonschema:"required,description=Absolute path of the file to edit"`
	OldStr string `json:"old_str" jsonschema:"required,description=Exact text to replace"`
	NewStr string `json:"new_str" jsonschema:"required,description=Replacement text"`
}

type fileSearchArgs struct {
	File  string `json:"file" jsonschema:"required,description=Absolute path of the file to search"`
	Regex string `json:"regex" jsonschema:"required,description=Regular expression to search for"`
}

type fileFindArgs struct {
	Path string `json:"path" jsonschema:"required,description=Directory to search under"`
	Glob string `json:"glob" jsonschema:"required,description=Filename glob pattern"`
}

type filePathArgs struct {
	Path string `json:"path" jsonschema:"required,description=Absolute path"`
}

func (t *FileTool) Functions() []models.FunctionSchema {
	return []models.FunctionSchema{
		{Name: "file_read", Description: "Read a file from the sandbox, optionally a line range.", Parameters: schemaFor[fileReadArgs]()},
		{Name: "file_write", Description: "Write or append content to a file in the sandbox.", Parameters: schemaFor[fileWriteArgs]()},
		{Name: "file_replace", Description: "Replace exact text in a sandbox file.", Parameters: schemaFor[fileReplaceArgs]()},
		{Name: "file_search", Description: "Search a sandbox file's content by regular expression.", Parameters: schemaFor[fileSearchArgs]()},
		{Name: "file_find", Description: "Find files under a sandbox directory by glob.", Parameters: schemaFor[fileFindArgs]()},
		{Name: "file_exists", Description: "Check whether a sandbox path exists.", Parameters: schemaFor[filePathArgs]()},
		{Name: "file_delete", Description: "Delete a sandbox file.", Parameters: schemaFor[filePathArgs]()},
		{Name: "file_list", Description: "List a sandbox directory.", Parameters: schemaFor[filePathArgs]()},
	}
}

func (t *FileTool) Invoke(ctx context.Context, function string, args map[string]any) (*models.ToolResult, error) {
	switch function {
	case "file_read":
		a, err := decodeArgs[fileReadArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.FileRead(ctx, a.File, a.StartLine, a.EndLine)
	case "file_write":
		a, err := decodeArgs[fileWriteArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.FileWrite(ctx, a.File, a.Content, a.Append)
	case "file_replace":
		a, err := decodeArgs[fileReplaceArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.FileReplace(ctx, a.File, a.OldStr, a.NewStr)
	case "file_search":
		a, err := decodeArgs[fileSearchArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.FileSearch(ctx, a.File, a.Regex)
	case "file_find":
		a, err := decodeArgs[fileFindArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.FileFind(ctx, a.Path, a.Glob)
	case "file_exists":
		a, err := decodeArgs[filePathArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.FileExists(ctx, a.Path)
	case "file_delete":
		a, err := decodeArgs[filePathArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.FileDelete(ctx, a.Path)
	case "file_list":
		a, err := decodeArgs[filePathArgs](args)
		if err != nil {
			return nil, err
		}
		return t.sb.FileList(ctx, a.Path)
	default:
		return nil, fmt.Errorf("%w: file has no function %q", ErrToolNotFound, function)
	}
}
