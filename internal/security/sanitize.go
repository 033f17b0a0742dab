package security

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	branchPattern  = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
	servicePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// ValidateBranchName ensures an allow-listed branch name is something git
// would accept as a branch and cannot be mistaken for a flag.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}
	if strings.HasPrefix(branch, "refs/") {
		return fmt.Errorf("branch name must not include the refs/ prefix")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters")
	}
	return nil
}

// ValidateServiceName ensures the service name is safe for use in log lines,
// metric labels and GitHub status contexts.
func ValidateServiceName(name string) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("service name cannot start with '-' or '.'")
	}
	if !servicePattern.MatchString(name) {
		return fmt.Errorf("service name contains invalid characters (only a-z, A-Z, 0-9, _, ., - allowed)")
	}
	return nil
}
