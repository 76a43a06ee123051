package gitlab

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/secstack/secbot/common/config"
)

// ProjectName derives "host:group/project" from a git ssh url by stripping
// the git@ prefix and the .git suffix.
func ProjectName(gitSSHURL string) string {
	project := gitSSHURL
	project = strings.TrimPrefix(project, "git@")
	project = strings.TrimSuffix(project, ".git")
	return project
}

// SecurityID derives the stable external id of a check. The id is the
// instance prefix (there is more than one GitLab) plus a sha256 over the
// project path and the full commit hash, so the same commit always maps to
// the same check.
func SecurityID(prefix, gitSSHURL, commitID string) string {
	projectPath := ProjectName(gitSSHURL)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s", projectPath, commitID)))
	return fmt.Sprintf("%s_%x", prefix, sum)
}

// WriteGitCredentials writes ~/.git-credentials with an oauth2 entry per
// configured GitLab instance so git clone can authenticate over https.
func WriteGitCredentials(instances []config.GitlabInstance) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home dir: %w", err)
	}

	lines := make([]string, 0, len(instances))
	for _, instance := range instances {
		lines = append(lines, fmt.Sprintf("https://oauth2:%s@%s", instance.AuthToken, instance.Host))
	}

	path := filepath.Join(home, ".git-credentials")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		return fmt.Errorf("write git credentials: %w", err)
	}
	return nil
}
