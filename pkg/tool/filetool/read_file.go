// Package filetool provides the orchestrator's built-in read-only and
// mutating file tools.
package filetool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hanibalsk/orchestrate/pkg/tool"
	"github.com/hanibalsk/orchestrate/pkg/tool/functiontool"
)

// ReadFileArgs defines the parameters for reading a file.
type ReadFileArgs struct {
	Path        string `json:"path" jsonschema:"required,description=File path to read (relative to working directory)"`
	StartLine   int    `json:"start_line,omitempty" jsonschema:"description=Starting line number (1-indexed),minimum=1"`
	EndLine     int    `json:"end_line,omitempty" jsonschema:"description=Ending line number (inclusive),minimum=1"`
	LineNumbers *bool  `json:"line_numbers,omitempty" jsonschema:"description=Include line numbers in output,default=true"`
}

// ReadFileConfig defines configuration for the read_file tool.
type ReadFileConfig struct {
	MaxFileSize       int64
	WorkingDirectory  string
	AllowedAgentKinds []string
}

// NewReadFile creates the read_file tool.
func NewReadFile(cfg *ReadFileConfig) (tool.Tool, error) {
	if cfg == nil {
		cfg = &ReadFileConfig{}
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 10485760 // 10MB
	}
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = "./"
	}

	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:              "read_file",
			Description:       "Read the contents of a file with optional line numbers and range selection. Use to understand code structure and context before making edits.",
			Safety:            tool.ReadOnly,
			AllowedAgentKinds: agentKinds(cfg.AllowedAgentKinds),
		},
		func(_ tool.Context, args ReadFileArgs) (string, error) {
			return readFileImpl(cfg, args)
		},
		func(args ReadFileArgs) error {
			return validatePath(cfg.WorkingDirectory, args.Path)
		},
	)
}

func readFileImpl(cfg *ReadFileConfig, args ReadFileArgs) (string, error) {
	fullPath := filepath.Join(cfg.WorkingDirectory, args.Path)

	fileInfo, err := os.Stat(fullPath)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if fileInfo.Size() > cfg.MaxFileSize {
		return "", fmt.Errorf("file too large: %d bytes (max: %d)", fileInfo.Size(), cfg.MaxFileSize)
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}

	lines := strings.Split(string(content), "\n")
	totalLines := len(lines)

	startLine := 1
	if args.StartLine > 0 {
		startLine = args.StartLine
		if startLine > totalLines {
			return "", fmt.Errorf("start_line (%d) exceeds file length (%d lines)", startLine, totalLines)
		}
	}

	endLine := totalLines
	if args.EndLine > 0 {
		endLine = args.EndLine
		if endLine > totalLines {
			endLine = totalLines
		}
	}
	if startLine > endLine {
		return "", fmt.Errorf("invalid range: start_line (%d) > end_line (%d)", startLine, endLine)
	}

	showLineNumbers := args.LineNumbers == nil || *args.LineNumbers

	var output strings.Builder
	fmt.Fprintf(&output, "FILE: %s\n", args.Path)
	fmt.Fprintf(&output, "STATS: Total lines: %d", totalLines)
	if startLine != 1 || endLine != totalLines {
		fmt.Fprintf(&output, " | Showing lines %d-%d", startLine, endLine)
	}
	output.WriteString("\n")
	output.WriteString(strings.Repeat("-", 60) + "\n")

	for i := startLine - 1; i < endLine && i < len(lines); i++ {
		if showLineNumbers {
			fmt.Fprintf(&output, "%6d| %s\n", i+1, lines[i])
		} else {
			fmt.Fprintf(&output, "%s\n", lines[i])
		}
	}
	output.WriteString(strings.Repeat("-", 60))

	return output.String(), nil
}

func validatePath(workingDir, path string) error {
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed, use relative paths")
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("directory traversal not allowed (..)")
	}

	absPath, err := filepath.Abs(filepath.Join(workingDir, cleaned))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	absWorkDir, err := filepath.Abs(workingDir)
	if err != nil {
		return fmt.Errorf("invalid working directory: %w", err)
	}
	if !strings.HasPrefix(absPath, absWorkDir) {
		return fmt.Errorf("path escapes working directory")
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", path)
	}
	return nil
}
