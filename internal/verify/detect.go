package verify

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// DetectProfile picks a built-in profile from the files in workspace:
// a package.json lint script, then a package.json test script, then
// go.mod, Cargo.toml and finally a Makefile with a test target.
func DetectProfile(workspace string) (string, bool) {
	if scripts, ok := packageScripts(filepath.Join(workspace, "package.json")); ok {
		if scripts["lint"] != "" {
			return "npm-lint", true
		}
		if scripts["test"] != "" {
			return "npm-test", true
		}
	}
	if fileExists(filepath.Join(workspace, "go.mod")) {
		return "go-test", true
	}
	if fileExists(filepath.Join(workspace, "Cargo.toml")) {
		return "cargo-check", true
	}
	if hasMakeTarget(filepath.Join(workspace, "Makefile"), "test") {
		return "make-test", true
	}
	return "", false
}

func packageScripts(path string) (map[string]string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, false
	}
	return pkg.Scripts, true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func hasMakeTarget(path, target string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, target+":") {
			return true
		}
	}
	return false
}
