package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	giturls "github.com/whilp/git-urls"
)

// Client は Git リポジトリ操作を提供する
type Client struct {
	sshKeyPath  string
	sshPassword string
}

// NewClient は新しい Client を作成する
func NewClient(sshKeyPath, sshPassword string) *Client {
	return &Client{
		sshKeyPath:  sshKeyPath,
		sshPassword: sshPassword,
	}
}

// URLToDirectoryName はGit URLをディレクトリ名に変換する
// 例: git@github.com:user/repo.git -> github.com/user/repo
func (c *Client) URLToDirectoryName(gitURL string) (string, error) {
	u, err := giturls.Parse(gitURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse git URL: %w", err)
	}

	hostname := u.Hostname()
	if hostname == "" {
		hostname = u.Host
	}

	path := strings.TrimPrefix(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")

	return filepath.Join(hostname, path), nil
}

// CloneOrOpen はリポジトリが存在しない場合はクローンし、存在する場合は開く
func (c *Client) CloneOrOpen(ctx context.Context, url, destDir string) (*git.Repository, error) {
	gitDir := filepath.Join(destDir, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		auth, err := c.getSSHAuth()
		if err != nil {
			return nil, fmt.Errorf("failed to setup SSH auth: %w", err)
		}

		repo, err := git.PlainCloneContext(ctx, destDir, false, &git.CloneOptions{
			URL:  url,
			Auth: auth,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to clone repository: %w", err)
		}
		return repo, nil
	}

	repo, err := git.PlainOpen(destDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repo, nil
}

// Fetch は origin から指定された refspec を取得する
func (c *Client) Fetch(ctx context.Context, repo *git.Repository, refSpecs ...gitconfig.RefSpec) error {
	auth, err := c.getSSHAuth()
	if err != nil {
		return fmt.Errorf("failed to setup SSH auth: %w", err)
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		return fmt.Errorf("failed to get remote: %w", err)
	}

	opts := &git.FetchOptions{Auth: auth, Force: true}
	if len(refSpecs) > 0 {
		opts.RefSpecs = refSpecs
	}

	if err := remote.FetchContext(ctx, opts); err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	return nil
}

// ResolveRef はブランチ名、リモートブランチ名、タグ名、コミットハッシュの
// 順で ref を解決する
func (c *Client) ResolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(ref), true)
	if err == nil {
		return branchRef.Hash(), nil
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", ref), true)
	if err == nil {
		return remoteRef.Hash(), nil
	}

	tagRef, err := repo.Reference(plumbing.NewTagReferenceName(ref), true)
	if err == nil {
		return tagRef.Hash(), nil
	}

	if ref == "HEAD" {
		headRef, err := repo.Head()
		if err == nil {
			return headRef.Hash(), nil
		}
	}

	hash := plumbing.NewHash(ref)
	if !hash.IsZero() {
		_, err := repo.CommitObject(hash)
		if err == nil {
			return hash, nil
		}
	}

	return plumbing.ZeroHash, fmt.Errorf("failed to resolve ref: %s", ref)
}

func (c *Client) getSSHAuth() (*ssh.PublicKeys, error) {
	if c.sshKeyPath == "" {
		return nil, nil
	}

	if _, err := os.Stat(c.sshKeyPath); os.IsNotExist(err) {
		return nil, nil
	}

	auth, err := ssh.NewPublicKeysFromFile("git", c.sshKeyPath, c.sshPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}

	return auth, nil
}
