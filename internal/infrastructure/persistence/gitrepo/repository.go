// Package gitrepo stores user records as JSON files in a git working tree and
// uses the repository history as the durable record of every checkpoint.
//
// The layout is one file per key, {key}.json, at the root of the work tree.
// A checkpoint stages every change (additions, edits and deletions), commits
// it and pushes the branch. A refresh fetches the remote branch and hard
// resets the work tree onto it, discarding local state.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/persistence/recordstore"
	"github.com/JunyuanChen/SonnyBot-ng/pkg/retry"
)

const fileExt = ".json"

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the repository backend.
type Config struct {
	// Dir is the work tree holding the record files.
	Dir string

	// RemoteName is the remote checkpoints are pushed to. Default: origin.
	RemoteName string

	// RemoteURL is used to clone Dir when it is not a repository yet, and to
	// create RemoteName when it is missing. Empty means local-only mode when
	// the repository has no such remote.
	RemoteURL string

	// Branch to commit on and track. Empty means the branch HEAD points at.
	Branch string

	// Commit author.
	AuthorName  string
	AuthorEmail string

	// HTTP basic auth for the remote; Password is usually an access token.
	Username string
	Password string

	// NetworkTimeout bounds every push and fetch, retries included.
	NetworkTimeout time.Duration

	// PushAttempts is the number of push attempts per checkpoint.
	PushAttempts int

	Logger *slog.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Dir:            "data",
		RemoteName:     git.DefaultRemoteName,
		AuthorName:     "SonnyBot",
		AuthorEmail:    "sonnybot@users.noreply.github.com",
		NetworkTimeout: 30 * time.Second,
		PushAttempts:   3,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository is a recordstore.Backend over a git work tree.
type Repository struct {
	cfg       Config
	repo      *git.Repository
	auth      transport.AuthMethod
	hasRemote bool
	retrier   *retry.Retrier
	logger    *slog.Logger
}

var _ recordstore.Backend = (*Repository)(nil)

// Open opens the repository at cfg.Dir, cloning or initializing it first if
// needed.
func Open(ctx context.Context, cfg Config) (*Repository, error) {
	defaults := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = defaults.Dir
	}
	if cfg.RemoteName == "" {
		cfg.RemoteName = defaults.RemoteName
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = defaults.AuthorName
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = defaults.AuthorEmail
	}
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = defaults.NetworkTimeout
	}
	if cfg.PushAttempts <= 0 {
		cfg.PushAttempts = defaults.PushAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Repository{
		cfg:     cfg,
		retrier: retry.GitRetrier(cfg.PushAttempts).With(retry.WithRetryIf(isTransient)),
		logger:  logger.With("component", "gitrepo", "dir", cfg.Dir),
	}
	if cfg.Username != "" || cfg.Password != "" {
		r.auth = &githttp.BasicAuth{Username: cfg.Username, Password: cfg.Password}
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("gitrepo: create %s: %w", cfg.Dir, err)
	}

	repo, err := git.PlainOpen(cfg.Dir)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists):
		repo, err = r.create(ctx)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("gitrepo: open %s: %w", cfg.Dir, err)
	}
	r.repo = repo

	if err := r.ensureRemote(); err != nil {
		return nil, err
	}

	r.logger.Info("data repository opened",
		slog.Bool("remote", r.hasRemote),
		slog.String("remote_name", cfg.RemoteName),
	)
	return r, nil
}

// create clones the remote into Dir, or initializes an empty repository when
// there is nothing to clone.
func (r *Repository) create(ctx context.Context) (*git.Repository, error) {
	if r.cfg.RemoteURL != "" {
		cloneCtx, cancel := context.WithTimeout(ctx, r.cfg.NetworkTimeout)
		defer cancel()

		opts := &git.CloneOptions{
			URL:        r.cfg.RemoteURL,
			RemoteName: r.cfg.RemoteName,
			Auth:       r.auth,
		}
		if r.cfg.Branch != "" {
			opts.ReferenceName = plumbing.NewBranchReferenceName(r.cfg.Branch)
			opts.SingleBranch = true
		}

		repo, err := git.PlainCloneContext(cloneCtx, r.cfg.Dir, false, opts)
		if err == nil {
			r.logger.Info("cloned data repository", slog.String("url", r.cfg.RemoteURL))
			return repo, nil
		}
		if !errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, fmt.Errorf("gitrepo: clone %s: %w", r.cfg.RemoteURL, err)
		}
		// An empty remote: a failed clone may leave a partial .git behind.
		_ = os.RemoveAll(filepath.Join(r.cfg.Dir, git.GitDirName))
	}

	repo, err := git.PlainInit(r.cfg.Dir, false)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: init %s: %w", r.cfg.Dir, err)
	}
	if r.cfg.Branch != "" {
		head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(r.cfg.Branch))
		if err := repo.Storer.SetReference(head); err != nil {
			return nil, fmt.Errorf("gitrepo: set HEAD: %w", err)
		}
	}
	r.logger.Info("initialized empty data repository")
	return repo, nil
}

func (r *Repository) ensureRemote() error {
	_, err := r.repo.Remote(r.cfg.RemoteName)
	switch {
	case err == nil:
		r.hasRemote = true
	case errors.Is(err, git.ErrRemoteNotFound) && r.cfg.RemoteURL != "":
		_, err = r.repo.CreateRemote(&gitconfig.RemoteConfig{
			Name: r.cfg.RemoteName,
			URLs: []string{r.cfg.RemoteURL},
		})
		if err != nil {
			return fmt.Errorf("gitrepo: create remote %s: %w", r.cfg.RemoteName, err)
		}
		r.hasRemote = true
	case errors.Is(err, git.ErrRemoteNotFound):
		r.hasRemote = false
	default:
		return fmt.Errorf("gitrepo: remote %s: %w", r.cfg.RemoteName, err)
	}
	return nil
}

// Dir returns the work tree directory.
func (r *Repository) Dir() string {
	return r.cfg.Dir
}

// ─────────────────────────────────────────────────────────────────────────────
// Units
// ─────────────────────────────────────────────────────────────────────────────

func (r *Repository) path(key string) string {
	return filepath.Join(r.cfg.Dir, key+fileExt)
}

// Read returns the content of {key}.json.
func (r *Repository) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(r.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, recordstore.ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gitrepo: read %s: %w", key, err)
	}
	return data, nil
}

// Write replaces {key}.json atomically with a temp file and a rename.
func (r *Repository) Write(_ context.Context, key string, data []byte) error {
	tmp, err := os.CreateTemp(r.cfg.Dir, ".unit-*.tmp")
	if err != nil {
		return fmt.Errorf("gitrepo: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("gitrepo: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("gitrepo: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("gitrepo: close %s: %w", key, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("gitrepo: chmod %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, r.path(key)); err != nil {
		return fmt.Errorf("gitrepo: rename %s: %w", key, err)
	}
	committed = true
	return nil
}

// Remove deletes {key}.json from the work tree. The deletion is staged by the
// next checkpoint.
func (r *Repository) Remove(_ context.Context, key string) error {
	err := os.Remove(r.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return recordstore.ErrUnitNotFound
	}
	if err != nil {
		return fmt.Errorf("gitrepo: remove %s: %w", key, err)
	}
	return nil
}

// Keys lists the regular *.json files at the root of the work tree.
func (r *Repository) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: list %s: %w", r.cfg.Dir, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	return keys, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Versioning
// ─────────────────────────────────────────────────────────────────────────────

// Checkpoint stages all changes like `git add --all`, commits them when there
// is anything to commit, and pushes the branch. Pushing also delivers earlier
// commits whose push failed.
func (r *Repository) Checkpoint(ctx context.Context, message string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitrepo: worktree: %w", err)
	}

	staged, err := stageAll(wt)
	if err != nil {
		return err
	}

	if staged {
		hash, err := wt.Commit(message, &git.CommitOptions{Author: r.signature()})
		if err != nil {
			return fmt.Errorf("gitrepo: commit: %w", err)
		}
		r.logger.Info("committed", slog.String("commit", message), slog.String("hash", hash.String()))
	} else {
		r.logger.Debug("nothing to commit", slog.String("commit", message))
	}

	if !r.hasRemote {
		return nil
	}
	if _, err := r.repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		// No commit yet, so there is nothing to push.
		return nil
	}
	return r.push(ctx)
}

// stageAll stages every modified, untracked and deleted path and reports
// whether the index now differs from HEAD.
func stageAll(wt *git.Worktree) (bool, error) {
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("gitrepo: status: %w", err)
	}

	staged := false
	for path, st := range status {
		switch st.Worktree {
		case git.Unmodified:
		case git.Deleted:
			if _, err := wt.Remove(path); err != nil {
				return false, fmt.Errorf("gitrepo: stage removal of %s: %w", path, err)
			}
			staged = true
			continue
		default:
			if _, err := wt.Add(path); err != nil {
				return false, fmt.Errorf("gitrepo: stage %s: %w", path, err)
			}
			staged = true
			continue
		}
		if st.Staging != git.Unmodified && st.Staging != git.Untracked {
			staged = true
		}
	}
	return staged, nil
}

func (r *Repository) push(ctx context.Context) error {
	branch, err := r.branch()
	if err != nil {
		return err
	}
	ref := plumbing.NewBranchReferenceName(branch)
	spec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", ref, ref))

	ctx, cancel := context.WithTimeout(ctx, r.cfg.NetworkTimeout)
	defer cancel()

	start := time.Now()
	err = r.retrier.Do(ctx, func(ctx context.Context) error {
		err := r.repo.PushContext(ctx, &git.PushOptions{
			RemoteName: r.cfg.RemoteName,
			RefSpecs:   []gitconfig.RefSpec{spec},
			Auth:       r.auth,
		})
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("gitrepo: push %s to %s: %w", branch, r.cfg.RemoteName, err)
	}

	r.logger.Debug("pushed", slog.String("branch", branch), slog.Duration("duration", time.Since(start)))
	return nil
}

// Refresh fetches the remote branch, hard resets onto it and removes
// untracked files. In local-only mode it only discards uncommitted changes.
func (r *Repository) Refresh(ctx context.Context) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitrepo: worktree: %w", err)
	}

	var target plumbing.Hash
	if r.hasRemote {
		target, err = r.fetch(ctx)
		if err != nil && !errors.Is(err, errNoRemoteBranch) {
			return err
		}
	}
	// Local-only, or the remote has nothing to reset onto yet.
	if target.IsZero() {
		head, err := r.repo.Head()
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gitrepo: head: %w", err)
		}
		target = head.Hash()
	}

	if err := wt.Reset(&git.ResetOptions{Commit: target, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("gitrepo: reset to %s: %w", target, err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("gitrepo: clean: %w", err)
	}

	r.logger.Info("work tree reset", slog.String("hash", target.String()))
	return nil
}

// errNoRemoteBranch means the remote has no commits on the branch yet.
var errNoRemoteBranch = errors.New("gitrepo: remote branch does not exist")

// fetch updates the remote tracking branch and returns its head.
func (r *Repository) fetch(ctx context.Context) (plumbing.Hash, error) {
	branch, err := r.branch()
	if err != nil {
		return plumbing.ZeroHash, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.NetworkTimeout)
	defer cancel()

	err = r.retrier.Do(ctx, func(ctx context.Context) error {
		err := r.repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: r.cfg.RemoteName,
			Auth:       r.auth,
			Force:      true,
		})
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return err
	})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return plumbing.ZeroHash, errNoRemoteBranch
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: fetch %s: %w", r.cfg.RemoteName, err)
	}

	ref, err := r.repo.Reference(plumbing.NewRemoteReferenceName(r.cfg.RemoteName, branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, errNoRemoteBranch
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitrepo: remote branch %s/%s: %w", r.cfg.RemoteName, branch, err)
	}
	return ref.Hash(), nil
}

// branch returns the configured branch or the one HEAD points at.
func (r *Repository) branch() (string, error) {
	if r.cfg.Branch != "" {
		return r.cfg.Branch, nil
	}
	head, err := r.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("gitrepo: read HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference {
		return "", errors.New("gitrepo: HEAD is detached")
	}
	return head.Target().Short(), nil
}

func (r *Repository) signature() *object.Signature {
	return &object.Signature{
		Name:  r.cfg.AuthorName,
		Email: r.cfg.AuthorEmail,
		When:  time.Now(),
	}
}

// isTransient reports whether a remote operation is worth retrying.
// Authentication problems and rejected pushes are not.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, transport.ErrEmptyRemoteRepository),
		errors.Is(err, git.ErrNonFastForwardUpdate),
		errors.Is(err, git.ErrForceNeeded):
		return false
	}
	return true
}
