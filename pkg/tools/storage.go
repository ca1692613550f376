package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxFileNameLen = 50

// Storage is a flat sandbox directory the backend can read and write.
type Storage struct {
	Dir             string
	ValidExtensions []string
}

// NewStorage returns a storage rooted at dir.
func NewStorage(dir string, validExtensions []string) *Storage {
	return &Storage{Dir: dir, ValidExtensions: validExtensions}
}

type ListFilesInput struct{}

type ReadFileInput struct {
	FileName string `json:"file_name" jsonschema:"name of the file to read"`
}

type WriteFileInput struct {
	FileName string `json:"file_name" jsonschema:"name of the file to create or overwrite"`
	Content  string `json:"content" jsonschema:"full text content of the file"`
}

type CountWordsInput struct {
	FileName string `json:"file_name" jsonschema:"name of the file to count"`
}

// Tools returns the storage operations as tools, in a fixed order.
func (s *Storage) Tools() []Tool {
	return []Tool{
		MustFunc("list_files", "Get a list of all currently stored files.", s.ListFiles),
		MustFunc("read_file", "Read the content of a file.", s.ReadFile),
		MustFunc("write_file", fmt.Sprintf("Write content to a file (valid extensions are [%s]).", strings.Join(s.ValidExtensions, ", ")), s.WriteFile),
		MustFunc("count_words", "Count the number of words in a file.", s.CountWords),
	}
}

func (s *Storage) ListFiles(_ context.Context, _ ListFilesInput) (*Result, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", s.Dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return TextResult("No files found."), nil
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Files found:")
	for _, n := range names {
		sb.WriteString("\n- ")
		sb.WriteString(n)
	}
	return &Result{Content: sb.String(), Details: map[string]any{"count": len(names)}}, nil
}

func (s *Storage) ReadFile(_ context.Context, in ReadFileInput) (*Result, error) {
	path, msg := s.resolve(in.FileName)
	if msg != "" {
		return TextResult(msg), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return TextResult(fmt.Sprintf("!! [ERROR]: File '%s' not found.", in.FileName)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", in.FileName, err)
	}
	return TextResult(fmt.Sprintf("Successfully read file '%s'.\n<content>\n%s\n</content>", in.FileName, data)), nil
}

func (s *Storage) WriteFile(_ context.Context, in WriteFileInput) (*Result, error) {
	if in.FileName == "" {
		return TextResult("!! [ERROR]: File name cannot be empty."), nil
	}
	if len(in.FileName) > maxFileNameLen {
		return TextResult(fmt.Sprintf("!! [ERROR]: File name is too long. Maximum %d characters.", maxFileNameLen)), nil
	}
	if in.Content == "" {
		return TextResult("!! [ERROR]: Content cannot be empty."), nil
	}
	if !s.validExtension(in.FileName) {
		return TextResult(fmt.Sprintf("!! [ERROR]: Invalid file extension.\n!! Allowed extensions are: [ %s ]", strings.Join(s.ValidExtensions, ", "))), nil
	}

	path, msg := s.resolve(in.FileName)
	if msg != "" {
		return TextResult(msg), nil
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", s.Dir, err)
	}
	if err := os.WriteFile(path, []byte(in.Content), 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", in.FileName, err)
	}
	return &Result{
		Content: fmt.Sprintf("Successfully wrote content to file '%s'.", in.FileName),
		Details: map[string]any{"bytes": len(in.Content)},
	}, nil
}

func (s *Storage) CountWords(_ context.Context, in CountWordsInput) (*Result, error) {
	path, msg := s.resolve(in.FileName)
	if msg != "" {
		return TextResult(msg), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return TextResult(fmt.Sprintf("!! [ERROR]: File '%s' not found.", in.FileName)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", in.FileName, err)
	}
	n := len(strings.Fields(string(data)))
	return &Result{
		Content: fmt.Sprintf("Word count for '%s': %d words.", in.FileName, n),
		Details: map[string]any{"words": n},
	}, nil
}

// resolve keeps file names flat inside the sandbox. A non-empty message is
// the error text to hand back to the backend.
func (s *Storage) resolve(name string) (string, string) {
	if name == "" {
		return "", "!! [ERROR]: File name cannot be empty."
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Sprintf("!! [ERROR]: Invalid file name '%s'. Use a plain name without directories.", name)
	}
	return filepath.Join(s.Dir, name), ""
}

func (s *Storage) validExtension(name string) bool {
	if len(s.ValidExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, v := range s.ValidExtensions {
		if strings.EqualFold(v, ext) {
			return true
		}
	}
	return false
}
