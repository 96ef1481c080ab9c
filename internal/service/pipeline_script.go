package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haatos/deplora/internal"
	"github.com/haatos/deplora/internal/store"
)

var stageDeclaration = regexp.MustCompile(`\bstage\s*\(\s*(?:'([^']*)'|"([^"]*)")`)

// StageNames returns the stage names a pipeline script declares, in order of
// first declaration. Line comments are ignored.
func StageNames(script string) []string {
	var names []string
	seen := make(map[string]bool)
	for line := range strings.Lines(script) {
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}
		for _, m := range stageDeclaration.FindAllStringSubmatch(line, -1) {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// ResolvePipelineScript returns the script for a session: the session's own
// script, else the Jenkinsfile of its current plan, else the Jenkinsfile in
// its repository.
func ResolvePipelineScript(s *store.Session) (string, error) {
	if strings.TrimSpace(s.PipelineScript) != "" {
		return s.PipelineScript, nil
	}
	if script := s.CurrentPlan[internal.JenkinsfileName]; strings.TrimSpace(script) != "" {
		return script, nil
	}
	if s.RepoPath != "" {
		b, err := os.ReadFile(filepath.Join(s.RepoPath, internal.JenkinsfileName))
		if err == nil && strings.TrimSpace(string(b)) != "" {
			return string(b), nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("reading %s of session %s: %w", internal.JenkinsfileName, s.SessionID, err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrMissingPipelineScript, s.SessionID)
}
