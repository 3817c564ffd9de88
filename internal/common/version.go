package common

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Set with -ldflags "-X github.com/bobmcallan/molly/internal/common.Version=..."
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// VersionInfo is the build metadata reported by /api/version and the banner.
type VersionInfo struct {
	Version string `json:"version"`
	Build   string `json:"build"`
	Commit  string `json:"commit"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{Version: Version, Build: Build, Commit: GitCommit}
}

// LoadVersionFromFile fills any build variable still at its default from a
// ".version" file beside the binary. A missing file is ignored.
func LoadVersionFromFile() {
	exe, err := os.Executable()
	if err != nil {
		return
	}
	f, err := os.Open(filepath.Join(filepath.Dir(exe), ".version"))
	if err != nil {
		return
	}
	defer f.Close()

	fillVersion(f)
}

// fillVersion reads "key: value" lines (version, build, commit).
func fillVersion(r io.Reader) {
	targets := map[string]struct {
		dst *string
		def string
	}{
		"version": {&Version, "dev"},
		"build":   {&Build, "unknown"},
		"commit":  {&GitCommit, "unknown"},
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.HasPrefix(strings.TrimSpace(key), "#") {
			continue
		}
		t, known := targets[strings.TrimSpace(key)]
		if known && *t.dst == t.def {
			*t.dst = strings.TrimSpace(val)
		}
	}
}
