package worktree

import (
	"regexp"
	"strings"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
)

var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// NormalizeName lowercases raw input and collapses every run of characters
// outside [a-z0-9] into a single hyphen, trimming leading and trailing
// hyphens. "Feature Auth!!" becomes "feature-auth". Returns a validation
// error when nothing usable remains or the result exceeds 63 characters.
func NormalizeName(raw string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))

	var b strings.Builder
	lastHyphen := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	name := strings.TrimSuffix(b.String(), "-")

	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// ValidateName checks an already-normalized name against the DNS label
// rules: lowercase alphanumerics and hyphens, 1 to 63 characters, no
// leading or trailing hyphen.
func ValidateName(name string) error {
	if name == "" {
		return apperrors.Validation("name", "worktree name is required")
	}
	if len(name) > 63 {
		return apperrors.Validation("name", "worktree name exceeds 63 characters")
	}
	if !namePattern.MatchString(name) {
		return apperrors.Validation("name", "worktree name must be lowercase alphanumerics and hyphens, with no leading or trailing hyphen")
	}
	return nil
}

// ValidateBranchRef checks a branch name against git ref-name rules.
func ValidateBranchRef(branch string) error {
	invalid := func(msg string) error {
		return apperrors.Validation("branch_name", msg)
	}

	if branch == "" {
		return invalid("branch name is required")
	}
	if strings.HasPrefix(branch, "/") || strings.HasSuffix(branch, "/") {
		return invalid("branch name must not start or end with a slash")
	}
	if strings.HasPrefix(branch, ".") || strings.HasSuffix(branch, ".") {
		return invalid("branch name must not start or end with a dot")
	}
	if strings.HasSuffix(branch, ".lock") {
		return invalid("branch name must not end with .lock")
	}
	if strings.Contains(branch, "..") {
		return invalid("branch name must not contain consecutive dots")
	}
	if strings.Contains(branch, "//") {
		return invalid("branch name must not contain consecutive slashes")
	}
	if strings.Contains(branch, "@{") {
		return invalid("branch name must not contain @{")
	}
	if strings.ContainsAny(branch, "~^:?*[\\ ") {
		return invalid("branch name contains forbidden characters")
	}
	for _, r := range branch {
		if r < 0x20 || r == 0x7f {
			return invalid("branch name must not contain control characters")
		}
	}
	for _, segment := range strings.Split(branch, "/") {
		if segment == "" {
			return invalid("branch name must not contain empty path segments")
		}
		if strings.HasPrefix(segment, ".") {
			return invalid("branch name segments must not start with a dot")
		}
	}
	return nil
}

// DeriveBranchName derives the default branch name from a worktree name.
func DeriveBranchName(name string) string {
	return name
}

// BranchDeriveState tracks whether the branch field still follows the
// worktree name. The branch auto-derives until the user edits it; if an
// edit lands back on the derived value the link re-engages. That re-sync is
// deliberate convenience, keyed on value equality rather than a sticky
// dirty flag.
type BranchDeriveState struct {
	name   string
	branch string
	dirty  bool
}

// NewBranchDeriveState starts with the branch tracking the name.
func NewBranchDeriveState(name string) *BranchDeriveState {
	return &BranchDeriveState{name: name, branch: DeriveBranchName(name)}
}

// SetName updates the worktree name. While tracking, the branch follows.
func (s *BranchDeriveState) SetName(name string) {
	s.name = name
	if !s.dirty {
		s.branch = DeriveBranchName(name)
	}
}

// SetBranch records a manual branch edit. Setting it to exactly the derived
// value re-engages tracking; anything else detaches it.
func (s *BranchDeriveState) SetBranch(branch string) {
	s.branch = branch
	s.dirty = branch != DeriveBranchName(s.name)
}

// Branch returns the current effective branch name.
func (s *BranchDeriveState) Branch() string { return s.branch }

// Derived reports whether the branch still follows the name.
func (s *BranchDeriveState) Derived() bool { return !s.dirty }
