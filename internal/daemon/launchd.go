package daemon

import (
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"feegowsync/internal/workspace"
)

// WorkspaceHash generates a stable short hash from the workspace root path.
func WorkspaceHash(wsRoot string) string {
	h := sha256.Sum256([]byte(wsRoot))
	return fmt.Sprintf("%x", h[:4])
}

// PlistLabel returns the LaunchAgent label for a workspace.
func PlistLabel(wsRoot string) string {
	return fmt.Sprintf("com.feegowsync.%s", WorkspaceHash(wsRoot))
}

// PlistPath returns the full path to the plist file for a workspace.
func PlistPath(wsRoot string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(homeDir, "Library", "LaunchAgents", PlistLabel(wsRoot)+".plist"), nil
}

// LogPath returns the path the daemon's stdout and stderr go to.
func LogPath(ws *workspace.Workspace) string {
	return filepath.Join(ws.LogDir, "daemon.log")
}

// GeneratePlist renders a LaunchAgent that keeps `feegowsync daemon run`
// alive for the workspace.
func GeneratePlist(ws *workspace.Workspace, binaryPath string) (string, error) {
	if ws == nil {
		return "", fmt.Errorf("workspace is nil")
	}

	absBinaryPath, err := filepath.Abs(binaryPath)
	if err != nil {
		return "", fmt.Errorf("resolve binary path: %w", err)
	}

	logPath := LogPath(ws)
	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
		<string>daemon</string>
		<string>run</string>
		<string>--workspace</string>
		<string>%s</string>
	</array>
	<key>WorkingDirectory</key>
	<string>%s</string>
	<key>StandardOutPath</key>
	<string>%s</string>
	<key>StandardErrorPath</key>
	<string>%s</string>
	<key>KeepAlive</key>
	<true/>
	<key>RunAtLoad</key>
	<true/>
</dict>
</plist>
`, PlistLabel(ws.Root), xmlEscape(absBinaryPath), xmlEscape(ws.Root), xmlEscape(ws.Root), xmlEscape(logPath), xmlEscape(logPath))

	return plist, nil
}

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// Install writes the LaunchAgent plist for the workspace and, when load is
// set, loads it with launchctl.
func Install(ws *workspace.Workspace, binaryPath string, load bool) (string, error) {
	if ws == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if err := os.MkdirAll(ws.LogDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure log dir: %w", err)
	}

	plistContent, err := GeneratePlist(ws, binaryPath)
	if err != nil {
		return "", fmt.Errorf("generate plist: %w", err)
	}
	plistPath, err := PlistPath(ws.Root)
	if err != nil {
		return "", fmt.Errorf("resolve plist path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure LaunchAgents dir: %w", err)
	}
	if err := os.WriteFile(plistPath, []byte(plistContent), 0o644); err != nil {
		return "", fmt.Errorf("write plist: %w", err)
	}

	if load {
		output, err := exec.Command("launchctl", "load", plistPath).CombinedOutput()
		if err != nil {
			return plistPath, fmt.Errorf("launchctl load failed: %w\nOutput: %s", err, strings.TrimSpace(string(output)))
		}
	}
	return plistPath, nil
}

// Uninstall unloads and removes the LaunchAgent plist for the workspace.
func Uninstall(ws *workspace.Workspace) error {
	if ws == nil {
		return fmt.Errorf("workspace is nil")
	}
	plistPath, err := PlistPath(ws.Root)
	if err != nil {
		return fmt.Errorf("resolve plist path: %w", err)
	}
	if _, err := os.Stat(plistPath); os.IsNotExist(err) {
		return fmt.Errorf("plist not found: %s", plistPath)
	}

	output, err := exec.Command("launchctl", "unload", plistPath).CombinedOutput()
	if err != nil {
		// Not loaded is fine.
		outputStr := strings.TrimSpace(string(output))
		if !strings.Contains(outputStr, "Could not find specified service") {
			return fmt.Errorf("launchctl unload failed: %w\nOutput: %s", err, outputStr)
		}
	}

	if err := os.Remove(plistPath); err != nil {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}
