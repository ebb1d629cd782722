package changes

import (
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitOptions selects which git changes count.
type GitOptions struct {
	// Base, when set, adds every file that differs between this revision
	// and HEAD.
	Base string
	// Staged limits working tree changes to the index.
	Staged bool
	// Untracked includes untracked files.
	Untracked bool
}

// FromGit returns the files changed in the repository containing dir.
// Paths are absolute.
func FromGit(dir string, opts GitOptions) ([]string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, wrap("opening repository", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, wrap("opening worktree", err)
	}
	root := wt.Filesystem.Root()

	status, err := wt.Status()
	if err != nil {
		return nil, wrap("reading worktree status", err)
	}

	var files []string
	for path, st := range status {
		if !counts(st, opts) {
			continue
		}
		files = append(files, path)
		if st.Extra != "" {
			files = append(files, st.Extra)
		}
	}

	if opts.Base != "" {
		diff, err := diffBase(repo, opts.Base)
		if err != nil {
			return nil, err
		}
		files = append(files, diff...)
	}
	return absolute(root, files), nil
}

func counts(st *git.FileStatus, opts GitOptions) bool {
	if st.Staging == git.Untracked && st.Worktree == git.Untracked {
		return opts.Untracked && !opts.Staged
	}
	if st.Staging != git.Unmodified {
		return true
	}
	return !opts.Staged && st.Worktree != git.Unmodified
}

// diffBase lists the paths that differ between base and HEAD.
func diffBase(repo *git.Repository, base string) ([]string, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(base))
	if err != nil {
		return nil, unavailable("resolving base %q: not a branch, tag, or commit", base)
	}
	baseCommit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, wrap("getting base commit", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, wrap("resolving HEAD", err)
	}
	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, wrap("getting HEAD commit", err)
	}

	baseTree, err := baseCommit.Tree()
	if err != nil {
		return nil, wrap("getting base tree", err)
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return nil, wrap("getting head tree", err)
	}
	changes, err := object.DiffTree(baseTree, headTree)
	if err != nil {
		return nil, wrap("computing diff", err)
	}

	var out []string
	for _, c := range changes {
		if c.From.Name != "" {
			out = append(out, c.From.Name)
		}
		if c.To.Name != "" && c.To.Name != c.From.Name {
			out = append(out, c.To.Name)
		}
	}
	return out, nil
}
