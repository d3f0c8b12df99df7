package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/azyu/storyloom/pkg/types"
)

// FileInfo contains file metadata.
type FileInfo struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// FileSystem provides file operations rooted at a project directory.
type FileSystem struct {
	basePath string
}

// NewFileSystem creates a new file system handler.
func NewFileSystem(basePath string) *FileSystem {
	return &FileSystem{basePath: basePath}
}

// BasePath returns the base path of the filesystem.
func (fs *FileSystem) BasePath() string {
	return fs.basePath
}

// ReadFile reads a file relative to the base path.
func (fs *FileSystem) ReadFile(relativePath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(fs.basePath, relativePath))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", relativePath, err)
	}
	return string(data), nil
}

// WriteFile writes content atomically relative to the base path.
func (fs *FileSystem) WriteFile(relativePath, content string) error {
	return AtomicWriteFile(filepath.Join(fs.basePath, relativePath), []byte(content))
}

// EnsureDir ensures a directory exists.
func (fs *FileSystem) EnsureDir(relativePath string) error {
	return os.MkdirAll(filepath.Join(fs.basePath, relativePath), 0755)
}

// Exists checks if a file or directory exists.
func (fs *FileSystem) Exists(relativePath string) bool {
	_, err := os.Stat(filepath.Join(fs.basePath, relativePath))
	return err == nil
}

// ListMarkdownFiles lists markdown files under a directory, sorted by path.
func (fs *FileSystem) ListMarkdownFiles(relativePath string) ([]FileInfo, error) {
	dirPath := filepath.Join(fs.basePath, relativePath)

	var files []FileInfo
	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".md") {
			return nil
		}
		relPath, _ := filepath.Rel(fs.basePath, path)
		files = append(files, FileInfo{
			Path:    relPath,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return []FileInfo{}, nil
		}
		return nil, fmt.Errorf("failed to list markdown files: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// chapterFrontmatter is the YAML header of a chapter file.
type chapterFrontmatter struct {
	Number        int       `yaml:"number"`
	Title         string    `yaml:"title"`
	WordCount     int       `yaml:"word_count"`
	RevisionCount int       `yaml:"revision_count"`
	CommittedAt   time.Time `yaml:"committed_at"`
}

// WriteChapter writes a chapter as markdown with a YAML frontmatter header.
func (fs *FileSystem) WriteChapter(relativePath string, ch types.Chapter) error {
	front, err := yaml.Marshal(chapterFrontmatter{
		Number:        ch.Number,
		Title:         ch.Title,
		WordCount:     ch.WordCount,
		RevisionCount: ch.RevisionCount,
		CommittedAt:   ch.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", ch.Title)
	b.WriteString(strings.TrimSpace(ch.Content))
	b.WriteString("\n")

	return fs.WriteFile(relativePath, b.String())
}

// ReadChapter reads a chapter file written by WriteChapter.
func (fs *FileSystem) ReadChapter(relativePath string) (types.Chapter, error) {
	raw, err := fs.ReadFile(relativePath)
	if err != nil {
		return types.Chapter{}, err
	}

	front, body := SplitFrontmatter(raw)
	var meta chapterFrontmatter
	if front != "" {
		if err := yaml.Unmarshal([]byte(front), &meta); err != nil {
			return types.Chapter{}, fmt.Errorf("failed to parse frontmatter of %s: %w", relativePath, err)
		}
	}

	if heading, rest, ok := strings.Cut(body, "\n"); ok && strings.HasPrefix(heading, "# ") {
		if meta.Title == "" {
			meta.Title = strings.TrimSpace(strings.TrimPrefix(heading, "# "))
		}
		body = rest
	}

	return types.Chapter{
		Number:        meta.Number,
		Title:         meta.Title,
		Content:       strings.TrimSpace(body),
		WordCount:     meta.WordCount,
		RevisionCount: meta.RevisionCount,
		Status:        types.StatusCommitted,
		FilePath:      relativePath,
		UpdatedAt:     meta.CommittedAt,
	}, nil
}

// SplitFrontmatter separates a leading YAML frontmatter block from markdown.
func SplitFrontmatter(content string) (string, string) {
	lines := strings.Split(content, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != "---" {
		return "", content
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			front := strings.Join(lines[1:i], "\n")
			body := strings.Join(lines[i+1:], "\n")
			return front, strings.TrimSpace(body)
		}
	}
	return "", content
}
