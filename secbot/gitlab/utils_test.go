package gitlab

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectName(t *testing.T) {
	assert.Equal(t, "example.com:mike/diaspora", ProjectName("git@example.com:mike/diaspora.git"))
	assert.Equal(t, "example.com:mike/diaspora", ProjectName("example.com:mike/diaspora"))
	assert.Equal(t, "host/group/project", ProjectName("git@host/group/project.git"))
}

func TestSecurityID(t *testing.T) {
	sum := sha256.Sum256([]byte("example.com:mike/diaspora_deadbeef"))
	want := fmt.Sprintf("gl_%x", sum)

	got := SecurityID("gl", "git@example.com:mike/diaspora.git", "deadbeef")
	assert.Equal(t, want, got)

	// Same commit always maps to the same check
	assert.Equal(t, got, SecurityID("gl", "git@example.com:mike/diaspora.git", "deadbeef"))

	// A different instance prefix yields a different id
	assert.NotEqual(t, got, SecurityID("other", "git@example.com:mike/diaspora.git", "deadbeef"))
}
