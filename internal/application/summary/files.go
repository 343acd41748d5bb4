package summary

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "story-summary-ai/pkg/errors"
)

const chapterFileExt = ".txt"

// ResolveStoryDir 返回 <root>/<story>，explicit 非空时优先
func ResolveStoryDir(root, story, explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	return filepath.Join(root, story)
}

// ListChapterFiles 列出目录下的 .txt 章节文件，按文件名排序后跳过前 start 个
func ListChapterFiles(dir string, start int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Wrap(err, apperrors.CodeStoryNotFound, fmt.Sprintf("story directory %s not found", dir))
		}
		return nil, apperrors.Wrap(err, apperrors.CodeStorageError, "read story directory")
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), chapterFileExt) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	if start < 0 {
		start = 0
	}
	if start >= len(paths) {
		return []string{}, nil
	}
	return paths[start:], nil
}

// WriteResultFile 写入 <dir>/<story>_summary.txt 并返回路径
func WriteResultFile(dir, story, text string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeStorageError, "create output directory")
	}
	path := filepath.Join(dir, story+"_summary.txt")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(text)), 0o644); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeStorageError, "write summary file")
	}
	return path, nil
}
