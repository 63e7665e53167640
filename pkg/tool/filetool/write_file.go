package filetool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hanibalsk/orchestrate/pkg/tool"
	"github.com/hanibalsk/orchestrate/pkg/tool/functiontool"
)

// WriteFileArgs defines the parameters for writing a file.
type WriteFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=File path relative to working directory"`
	Content string `json:"content" jsonschema:"required,description=Content to write to the file"`
	Backup  *bool  `json:"backup,omitempty" jsonschema:"description=Create .bak backup if file exists,default=true"`
}

// WriteFileConfig defines configuration for the write_file tool.
type WriteFileConfig struct {
	MaxFileSize       int
	AllowedExtensions []string
	DeniedExtensions  []string
	BackupOnOverwrite bool
	WorkingDirectory  string
	AllowedAgentKinds []string
}

// NewWriteFile creates the write_file tool. Mutating safety level: it
// is excluded from read-only agent kinds (e.g. Explorer) by the caller
// supplying AllowedAgentKinds.
func NewWriteFile(cfg *WriteFileConfig) (tool.Tool, error) {
	if cfg == nil {
		cfg = &WriteFileConfig{}
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 1048576 // 1MB
	}
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = "./"
	}

	return functiontool.NewWithValidation(
		functiontool.Config{
			Name:              "write_file",
			Description:       "Create a new file or overwrite an existing file with content. Supports backups and safety checks.",
			Safety:            tool.Mutating,
			AllowedAgentKinds: agentKinds(cfg.AllowedAgentKinds),
		},
		func(_ tool.Context, args WriteFileArgs) (string, error) {
			return writeFileImpl(cfg, args)
		},
		func(args WriteFileArgs) error {
			if err := validateWritePath(cfg, args.Path); err != nil {
				return err
			}
			if len(args.Content) > cfg.MaxFileSize {
				return fmt.Errorf("content too large: %d bytes (max: %d)", len(args.Content), cfg.MaxFileSize)
			}
			return nil
		},
	)
}

func writeFileImpl(cfg *WriteFileConfig, args WriteFileArgs) (string, error) {
	fullPath := filepath.Join(cfg.WorkingDirectory, args.Path)
	backup := (args.Backup == nil || *args.Backup) && cfg.BackupOnOverwrite

	fileExisted := false
	if _, err := os.Stat(fullPath); err == nil {
		fileExisted = true
		if backup {
			if err := copyFile(fullPath, fullPath+".bak"); err != nil {
				return "", fmt.Errorf("create backup: %w", err)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(fullPath, []byte(args.Content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	action := "created"
	if fileExisted {
		action = "overwritten"
	}
	message := fmt.Sprintf("File %s successfully: %s (%d bytes)", action, args.Path, len(args.Content))
	if fileExisted && backup {
		message += fmt.Sprintf("\nBackup created: %s.bak", args.Path)
	}
	return message, nil
}

func validateWritePath(cfg *WriteFileConfig, path string) error {
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed, use relative paths")
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("directory traversal not allowed (..)")
	}

	absPath, err := filepath.Abs(filepath.Join(cfg.WorkingDirectory, cleaned))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	absWorkDir, err := filepath.Abs(cfg.WorkingDirectory)
	if err != nil {
		return fmt.Errorf("invalid working directory: %w", err)
	}
	if !strings.HasPrefix(absPath, absWorkDir) {
		return fmt.Errorf("path escapes working directory")
	}

	ext := filepath.Ext(path)
	if len(cfg.DeniedExtensions) > 0 {
		for _, denied := range cfg.DeniedExtensions {
			if ext == denied {
				return fmt.Errorf("file extension %s is explicitly denied", ext)
			}
		}
	}
	if len(cfg.AllowedExtensions) > 0 {
		allowed := false
		for _, a := range cfg.AllowedExtensions {
			if ext == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("file extension %s not allowed (allowed: %v)", ext, cfg.AllowedExtensions)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
