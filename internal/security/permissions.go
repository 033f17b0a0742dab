package security

import (
	"fmt"
	"os"
)

const (
	// PermLogFile is for the listener's log file, which records repository
	// names, pushers and deploy output.
	// rw-r----- (0640): owner can read/write, group can read, others have no access.
	PermLogFile os.FileMode = 0640

	// PermLogDir is for the directory holding the log file.
	// rwxr-x--- (0750): owner can read/write/execute, group can read/execute, others have no access.
	PermLogDir os.FileMode = 0750
)

// IsWorldReadable checks if a file is readable by others.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable checks if a file is writable by others.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions validates that a file holding the webhook secret
// is neither world-readable nor world-writable.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()

	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o), which is insecure for sensitive data", path, perm)
	}

	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o), which is a serious security risk", path, perm)
	}

	return nil
}

// CheckDeployCommand reports problems with the deploy executable that would
// make every deployment fail or let other users alter what gets run.
func CheckDeployCommand(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("deploy command not accessible: %w", err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("deploy command %s is not a regular file", path)
	}

	perm := info.Mode().Perm()

	if perm&0111 == 0 {
		return fmt.Errorf("deploy command %s is not executable (%04o)", path, perm)
	}

	if IsWorldWritable(perm) {
		return fmt.Errorf("deploy command %s is world-writable (%04o)", path, perm)
	}

	return nil
}
