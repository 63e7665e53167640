package filetool

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hanibalsk/orchestrate/pkg/tool"
	"github.com/hanibalsk/orchestrate/pkg/tool/functiontool"
)

// GrepSearchArgs defines the parameters for searching files.
type GrepSearchArgs struct {
	Pattern         string `json:"pattern" jsonschema:"required,description=Regular expression pattern to search for (supports Go regex syntax)"`
	Path            string `json:"path,omitempty" jsonschema:"description=File or directory path to search in,default=."`
	FilePattern     string `json:"file_pattern,omitempty" jsonschema:"description=File glob pattern to filter files (e.g. '*.go' '*.py')"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty" jsonschema:"description=Perform case-insensitive search,default=false"`
	ContextLines    int    `json:"context_lines,omitempty" jsonschema:"description=Number of lines to show before each match; lines after a match are not shown,default=2,minimum=0,maximum=10"`
	MaxResults      int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of matches to return,default=100,minimum=1,maximum=1000"`
	Recursive       *bool  `json:"recursive,omitempty" jsonschema:"description=Search recursively in directories,default=true"`
}

// GrepSearchConfig defines configuration for the grep_search tool.
type GrepSearchConfig struct {
	MaxResults        int
	MaxFileSize       int64
	WorkingDirectory  string
	ContextLines      int
	AllowedAgentKinds []string
}

type grepMatch struct {
	file    string
	line    int
	content string
	context []string
}

// NewGrepSearch creates the grep_search tool.
func NewGrepSearch(cfg *GrepSearchConfig) (tool.Tool, error) {
	if cfg == nil {
		cfg = &GrepSearchConfig{}
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 1000
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 10485760 // 10MB
	}
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = "./"
	}
	if cfg.ContextLines == 0 {
		cfg.ContextLines = 2
	}

	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:              "grep_search",
			Description:       "Search for patterns in files using regular expressions. Like Unix grep but with context lines. Use for finding exact strings, symbols, or regex patterns across files.",
			Safety:            tool.ReadOnly,
			AllowedAgentKinds: agentKinds(cfg.AllowedAgentKinds),
		},
		func(_ tool.Context, args GrepSearchArgs) (string, error) {
			return grepSearchImpl(cfg, args)
		},
		func(args GrepSearchArgs) error {
			pattern := args.Pattern
			if args.CaseInsensitive {
				pattern = "(?i)" + pattern
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("invalid regex pattern: %w", err)
			}

			searchPath := args.Path
			if searchPath == "" {
				searchPath = "."
			}
			return validateSearchPath(cfg.WorkingDirectory, searchPath)
		},
	)
}

func grepSearchImpl(cfg *GrepSearchConfig, args GrepSearchArgs) (string, error) {
	searchPath := "."
	if args.Path != "" {
		searchPath = args.Path
	}

	contextLines := cfg.ContextLines
	if args.ContextLines > 0 {
		contextLines = args.ContextLines
	}

	maxResults := 100
	if args.MaxResults > 0 {
		maxResults = args.MaxResults
	}
	if maxResults > cfg.MaxResults {
		maxResults = cfg.MaxResults
	}

	recursive := args.Recursive == nil || *args.Recursive

	pattern := args.Pattern
	if args.CaseInsensitive {
		pattern = "(?i)" + pattern
	}
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid regex pattern: %w", err)
	}

	fullPath := filepath.Join(cfg.WorkingDirectory, searchPath)
	fileInfo, err := os.Stat(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat path: %w", err)
	}

	var filesToSearch []string
	if fileInfo.IsDir() {
		if recursive {
			_ = filepath.Walk(fullPath, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return nil
				}
				if !info.IsDir() && info.Size() <= cfg.MaxFileSize {
					if args.FilePattern == "" || matchesPattern(filepath.Base(path), args.FilePattern) {
						relPath, _ := filepath.Rel(cfg.WorkingDirectory, path)
						filesToSearch = append(filesToSearch, relPath)
					}
				}
				return nil
			})
		} else {
			entries, err := os.ReadDir(fullPath)
			if err == nil {
				for _, entry := range entries {
					if entry.IsDir() {
						continue
					}
					info, err := entry.Info()
					if err != nil || info.Size() > cfg.MaxFileSize {
						continue
					}
					fileName := entry.Name()
					if args.FilePattern == "" || matchesPattern(fileName, args.FilePattern) {
						filesToSearch = append(filesToSearch, filepath.Join(searchPath, fileName))
					}
				}
			}
		}
	} else {
		filesToSearch = append(filesToSearch, searchPath)
	}

	var results []grepMatch
	totalMatches := 0

	for _, filePath := range filesToSearch {
		if totalMatches >= maxResults {
			break
		}
		matches, err := searchFile(cfg.WorkingDirectory, filePath, regex, contextLines)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if totalMatches >= maxResults {
				break
			}
			m.file = filePath
			results = append(results, m)
			totalMatches++
		}
	}

	var output strings.Builder
	fmt.Fprintf(&output, "PATTERN: %s\n", args.Pattern)
	fmt.Fprintf(&output, "SEARCH_PATH: %s\n", searchPath)
	fmt.Fprintf(&output, "STATS: Found %d matches in %d files searched\n", totalMatches, len(filesToSearch))
	output.WriteString(strings.Repeat("-", 60) + "\n")

	if len(results) == 0 {
		output.WriteString("\nNo matches found.\n")
	} else {
		currentFile := ""
		for _, m := range results {
			if m.file != currentFile {
				if currentFile != "" {
					output.WriteString("\n")
				}
				fmt.Fprintf(&output, "\nFILE: %s\n", m.file)
				currentFile = m.file
			}
			for _, ctx := range m.context {
				fmt.Fprintf(&output, "  %s\n", ctx)
			}
			fmt.Fprintf(&output, "-> %d: %s\n", m.line, m.content)
		}
	}

	if totalMatches >= maxResults {
		fmt.Fprintf(&output, "\nWARN: Results limited to %d matches\n", maxResults)
	}

	return output.String(), nil
}

func searchFile(workingDir, filePath string, regex *regexp.Regexp, contextLines int) ([]grepMatch, error) {
	fullPath := filepath.Join(workingDir, filePath)
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(content), "\n")
	var results []grepMatch

	for i, line := range lines {
		if !regex.MatchString(line) {
			continue
		}
		var context []string
		for j := contextLines; j > 0; j-- {
			if i-j >= 0 {
				context = append(context, fmt.Sprintf("%6d  %s", i-j+1, lines[i-j]))
			}
		}
		results = append(results, grepMatch{line: i + 1, content: line, context: context})
	}

	return results, nil
}

func matchesPattern(filename, pattern string) bool {
	matched, err := filepath.Match(pattern, filename)
	if err != nil {
		return false
	}
	return matched
}

func validateSearchPath(workingDir, path string) error {
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
	return nil
}
