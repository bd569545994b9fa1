// Package git resolves the GitLab project to analyze from the working
// directory's git remote, so flakewatch can run without configuration
// inside a checkout of the project.
package git

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DetectProjectPath reads .git/config in the given directory and returns
// the GitLab project path ("group/subgroup/name") of the origin remote.
func DetectProjectPath(dir string) (string, error) {
	configPath := filepath.Join(dir, ".git", "config")
	f, err := os.Open(configPath)
	if err != nil {
		return "", fmt.Errorf("could not open .git/config: %w", err)
	}
	defer f.Close()

	var inOrigin bool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == `[remote "origin"]` {
			inOrigin = true
			continue
		}
		if inOrigin && strings.HasPrefix(line, "[") {
			break
		}
		if inOrigin && strings.HasPrefix(line, "url") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				return ParseRemoteURL(strings.TrimSpace(parts[1]))
			}
		}
	}
	return "", errors.New("no origin remote found in .git/config")
}

// ParseRemoteURL extracts the project path from a git remote URL.
// Supports HTTPS (https://gitlab.com/group/sub/repo.git) and SSH
// (git@gitlab.com:group/sub/repo.git) forms; GitLab subgroups mean the
// path can have more than two segments.
func ParseRemoteURL(rawURL string) (string, error) {
	normalized := strings.TrimSuffix(rawURL, ".git")

	if strings.HasPrefix(normalized, "git@") {
		trimmed := strings.TrimPrefix(normalized, "git@")
		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) != 2 || parts[1] == "" {
			return "", fmt.Errorf("invalid SSH remote URL: %s", rawURL)
		}
		return parts[1], nil
	}

	if strings.HasPrefix(normalized, "https://") || strings.HasPrefix(normalized, "http://") {
		withoutScheme := strings.TrimPrefix(normalized, "https://")
		withoutScheme = strings.TrimPrefix(withoutScheme, "http://")
		parts := strings.SplitN(withoutScheme, "/", 2)
		if len(parts) != 2 || !strings.Contains(parts[1], "/") {
			return "", fmt.Errorf("invalid HTTPS remote URL: %s", rawURL)
		}
		return parts[1], nil
	}

	return "", fmt.Errorf("unsupported remote URL format: %s", rawURL)
}
