package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
)

// runGit executes a git command in dir and returns its combined output.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: git %s: %s", ErrGitCommandFailed,
			strings.Join(args, " "), strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// isGitRepo checks if a path is a git repository. .git can be a directory
// (regular repo) or a file (worktree).
func isGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir() || info.Mode().IsRegular()
}

// branchExists checks if a branch exists in the repository.
func branchExists(ctx context.Context, repoPath, branch string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

// mergeBase returns the merge base of two refs.
func mergeBase(ctx context.Context, repoPath, a, b string) (string, error) {
	out, err := runGit(ctx, repoPath, "merge-base", a, b)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// aheadBehind returns how many commits branch is ahead of and behind base.
func aheadBehind(ctx context.Context, repoPath, base, branch string) (ahead, behind int, err error) {
	out, err := runGit(ctx, repoPath, "rev-list", "--left-right", "--count",
		fmt.Sprintf("%s...%s", base, branch))
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list output: %q", out)
	}
	behind, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, err
	}
	ahead, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

// diffStat summarizes the diff between base and branch.
func diffStat(ctx context.Context, repoPath, base, branch string) (files, insertions, deletions int, err error) {
	out, err := runGit(ctx, repoPath, "diff", "--shortstat",
		fmt.Sprintf("%s...%s", base, branch))
	if err != nil {
		return 0, 0, 0, err
	}
	// "3 files changed, 10 insertions(+), 2 deletions(-)"; empty on no diff.
	for _, part := range strings.Split(strings.TrimSpace(out), ",") {
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		n, convErr := strconv.Atoi(fields[0])
		if convErr != nil {
			continue
		}
		switch {
		case strings.HasPrefix(fields[1], "file"):
			files = n
		case strings.HasPrefix(fields[1], "insertion"):
			insertions = n
		case strings.HasPrefix(fields[1], "deletion"):
			deletions = n
		}
	}
	return files, insertions, deletions, nil
}

// splitLines splits command output into trimmed, non-empty lines.
func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// mergeTreeConflicts detects conflicts a merge of branch into base would
// produce, without touching the index or working tree.
func mergeTreeConflicts(ctx context.Context, repoPath, base, branch string) ([]apperrors.FileConflict, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-tree", "--write-tree", "--name-only", base, branch)
	cmd.Dir = repoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Exit status 1 means conflicts. The conflicted paths follow the
		// tree OID line; a blank line separates them from the
		// informational messages.
		exitErr, ok := err.(*exec.ExitError)
		if !ok || exitErr.ExitCode() != 1 {
			return nil, fmt.Errorf("%w: git merge-tree: %s", ErrGitCommandFailed,
				strings.TrimSpace(string(output)))
		}

		section := strings.SplitN(strings.TrimRight(string(output), "\n"), "\n\n", 2)[0]
		lines := strings.Split(section, "\n")
		conflicts := make([]apperrors.FileConflict, 0, len(lines))
		for _, line := range lines[1:] {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			conflicts = append(conflicts, apperrors.FileConflict{File: line, Type: "content"})
		}
		return conflicts, nil
	}
	return nil, nil
}
