package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace defines workspace-relative paths for feegowsync state and artifacts.
type Workspace struct {
	Root          string
	StateDir      string
	WatermarkPath string
	StateDBPath   string
	DaemonDBPath  string
	AuditDBPath   string
	LockPath      string
	ArtifactsDir  string
	LogDir        string
	EnvFile       string
}

// Resolve expands and validates the workspace root, ensuring it exists.
func Resolve(root string) (*Workspace, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", abs)
	}
	return newWorkspace(abs), nil
}

// ResolveRoot resolves the workspace root without requiring it to exist.
func ResolveRoot(root string) (string, error) {
	return resolveRoot(root)
}

// EnsureDirs creates the state, artifact and log directories.
func (w *Workspace) EnsureDirs() error {
	if w == nil {
		return fmt.Errorf("workspace is nil")
	}
	dirs := []string{
		w.StateDir,
		w.LogDir,
		filepath.Join(w.ArtifactsDir, "plans"),
		filepath.Join(w.ArtifactsDir, "runs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// RunDir returns the artifact directory of one run.
func (w *Workspace) RunDir(runID string) string {
	return filepath.Join(w.ArtifactsDir, "runs", runID)
}

// ResolvePath returns an absolute path, resolving relative paths from the workspace root.
// An empty path resolves to fallback.
func (w *Workspace) ResolvePath(path, fallback string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if strings.TrimSpace(path) == "" {
		return fallback, nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Abs(filepath.Join(w.Root, expanded))
}

func newWorkspace(root string) *Workspace {
	stateDir := filepath.Join(root, ".feegowsync")
	return &Workspace{
		Root:          root,
		StateDir:      stateDir,
		WatermarkPath: filepath.Join(stateDir, "pipeline_state", "feegow_state.json"),
		StateDBPath:   filepath.Join(stateDir, "state.sqlite"),
		DaemonDBPath:  filepath.Join(stateDir, "daemon.sqlite"),
		AuditDBPath:   filepath.Join(stateDir, "audit.sqlite"),
		LockPath:      filepath.Join(stateDir, "run.lock"),
		ArtifactsDir:  filepath.Join(root, "artifacts"),
		LogDir:        filepath.Join(stateDir, "logs"),
		EnvFile:       filepath.Join(root, ".env"),
	}
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", fmt.Errorf("workspace root is required")
	}
	expanded, err := expandHome(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return "", fmt.Errorf("unsupported home expansion: %s", path)
}
