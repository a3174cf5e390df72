package git

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-enry/go-enry/v2"
	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/pr-analyzer/internal/core/review"
)

const maxFileSize = 1 << 20 // 1MiB を超えるファイルはレビュー対象外

// Source は Git リポジトリから変更ファイルを解決する review.ChangeSource 実装。
// changeRef が数値ならPR番号として refs/pull/<n>/head を取得し、
// それ以外はブランチ名・タグ名・コミットハッシュとして解決する
type Source struct {
	client        *Client
	cloneBaseDir  string
	defaultBranch string
}

// NewSource は新しい Source を作成する
func NewSource(client *Client, cloneBaseDir, defaultBranch string) *Source {
	return &Source{
		client:        client,
		cloneBaseDir:  cloneBaseDir,
		defaultBranch: defaultBranch,
	}
}

// ResolveChangedFiles はPRの変更ファイル一覧を解決する。
// デフォルトブランチとのマージベースを基点に差分を取り、各ファイルの
// ヘッド側の内容・差分・言語を返す。バイナリや除外パターンに一致する
// ファイルは対象外
func (s *Source) ResolveChangedFiles(ctx context.Context, repository, changeRef string) ([]*review.ChangedFile, error) {
	dirName, err := s.client.URLToDirectoryName(repository)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", review.ErrSourceUnavailable, err)
	}

	repoPath := filepath.Join(s.cloneBaseDir, dirName)
	repo, err := s.client.CloneOrOpen(ctx, repository, repoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", review.ErrSourceUnavailable, err)
	}

	headHash, err := s.resolveChangeHead(ctx, repo, changeRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", review.ErrSourceUnavailable, err)
	}

	baseHash, err := s.client.ResolveRef(repo, s.defaultBranch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", review.ErrSourceUnavailable, err)
	}

	changes, headTree, err := s.diffAgainstMergeBase(repo, baseHash, headHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", review.ErrSourceUnavailable, err)
	}

	files, err := s.loadChangedFiles(ctx, changes, headTree, repoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", review.ErrSourceUnavailable, err)
	}

	return files, nil
}

// resolveChangeHead は changeRef をヘッドコミットに解決する
func (s *Source) resolveChangeHead(ctx context.Context, repo *gogit.Repository, changeRef string) (plumbing.Hash, error) {
	if prNumber, err := strconv.Atoi(changeRef); err == nil {
		refSpec := gitconfig.RefSpec(fmt.Sprintf("+refs/pull/%d/head:refs/remotes/origin/pr/%d", prNumber, prNumber))
		if err := s.client.Fetch(ctx, repo, refSpec); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to fetch pull request %d: %w", prNumber, err)
		}
		return s.client.ResolveRef(repo, fmt.Sprintf("pr/%d", prNumber))
	}

	if err := s.client.Fetch(ctx, repo); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.client.ResolveRef(repo, changeRef)
}

// diffAgainstMergeBase はデフォルトブランチとのマージベースを基点に
// ヘッドまでの差分を取る。マージベースが見つからない場合はベース
// コミットそのものを基点とする
func (s *Source) diffAgainstMergeBase(repo *gogit.Repository, baseHash, headHash plumbing.Hash) (object.Changes, *object.Tree, error) {
	baseCommit, err := repo.CommitObject(baseHash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get base commit: %w", err)
	}
	headCommit, err := repo.CommitObject(headHash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get head commit: %w", err)
	}

	mergeBase := baseCommit
	if bases, err := headCommit.MergeBase(baseCommit); err == nil && len(bases) > 0 {
		mergeBase = bases[0]
	}

	baseTree, err := mergeBase.Tree()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get base tree: %w", err)
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get head tree: %w", err)
	}

	changes, err := baseTree.Diff(headTree)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	return changes, headTree, nil
}

// loadChangedFiles は差分からレビュー対象ファイルを並行に読み込む
func (s *Source) loadChangedFiles(ctx context.Context, changes object.Changes, headTree *object.Tree, repoPath string) ([]*review.ChangedFile, error) {
	ignoreFilter := NewIgnoreFilter(repoPath)

	loaded := make([]*review.ChangedFile, len(changes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i, change := range changes {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			// 削除されたファイルはヘッド側に存在しないため対象外
			path := change.To.Name
			if path == "" {
				return nil
			}
			if ignoreFilter.ShouldIgnore(path) {
				return nil
			}

			file, err := headTree.File(path)
			if err != nil {
				return fmt.Errorf("failed to get file %s: %w", path, err)
			}
			if file.Size > maxFileSize {
				return nil
			}

			content, err := file.Contents()
			if err != nil {
				return fmt.Errorf("failed to read file contents %s: %w", path, err)
			}
			if enry.IsBinary([]byte(content)) {
				return nil
			}

			language := enry.GetLanguage(filepath.Base(path), []byte(content))
			if language == "" {
				language = "Text"
			}

			patch, err := change.Patch()
			if err != nil {
				return fmt.Errorf("failed to build patch for %s: %w", path, err)
			}

			mu.Lock()
			loaded[i] = &review.ChangedFile{
				Path:     path,
				Content:  content,
				Diff:     patch.String(),
				Language: language,
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	files := make([]*review.ChangedFile, 0, len(loaded))
	for _, f := range loaded {
		if f != nil {
			files = append(files, f)
		}
	}
	return files, nil
}

// インターフェース実装の確認
var _ review.ChangeSource = (*Source)(nil)
