package git

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFilter はレビュー対象外のパスを判定する。
// リポジトリの .gitignore のパターンとデフォルトの除外パターンを合成する
type IgnoreFilter struct {
	patterns *gitignore.GitIgnore
}

// NewIgnoreFilter は repoPath 配下の .gitignore を読み込んで
// IgnoreFilter を作成する
func NewIgnoreFilter(repoPath string) *IgnoreFilter {
	var patterns []string

	gitignorePath := filepath.Join(repoPath, ".gitignore")
	if content, err := os.ReadFile(gitignorePath); err == nil {
		for _, line := range strings.Split(string(content), "\n") {
			line = strings.TrimRight(line, "\r")
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
	}

	patterns = append(patterns, defaultIgnorePatterns()...)

	return &IgnoreFilter{
		patterns: gitignore.CompileIgnoreLines(patterns...),
	}
}

// ShouldIgnore はパスが除外対象かどうかを判定します
func (f *IgnoreFilter) ShouldIgnore(path string) bool {
	if f.patterns == nil {
		return false
	}
	return f.patterns.MatchesPath(path)
}

// defaultIgnorePatterns はレビューする価値のないパスのデフォルト除外パターン
func defaultIgnorePatterns() []string {
	return []string{
		// Git関連
		".git",
		".gitignore",
		".gitattributes",
		".gitmodules",

		// 依存関係・ビルド成果物
		"node_modules",
		"vendor",
		"dist",
		"build",
		"target",
		"out",
		"bin",

		// ロックファイル・生成物
		"*.lock",
		"package-lock.json",
		"yarn.lock",
		"go.sum",
		"*.min.js",
		"*.min.css",
		"*.pb.go",
		"*_generated.go",

		// バイナリ・アーカイブ
		"*.exe",
		"*.dll",
		"*.so",
		"*.dylib",
		"*.a",
		"*.o",
		"*.jar",
		"*.zip",
		"*.tar",
		"*.gz",

		// 画像・メディア
		"*.png",
		"*.jpg",
		"*.jpeg",
		"*.gif",
		"*.ico",
		"*.svg",
		"*.woff",
		"*.woff2",

		// キャッシュ・一時ファイル
		".cache",
		"__pycache__",
		"*.pyc",
		"*.log",
		"*.tmp",
		".DS_Store",
	}
}
