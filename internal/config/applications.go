package config

import (
	"os"
	"path/filepath"
	"strings"

	"noded/pkg/types"
)

// ApplicationSpec is one discovered application's manifest plus its
// optional profile.
type ApplicationSpec struct {
	Name     string
	Manifest types.Manifest
	Profile  types.Profile
}

// DiscoverApplications scans pluginsDir for application manifests. Each
// application is a "<name>.manifest.<ext>" file, paired with an optional
// "<name>.profile.<ext>" file in the same directory; a missing profile file
// gets types.DefaultProfile(), and so does a malformed one. Malformed
// manifests are skipped without logging, not fatal, matching the reload
// policy of never letting one bad application block the rest of the list.
func DiscoverApplications(pluginsDir string) ([]ApplicationSpec, error) {
	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		return nil, err
	}

	var specs []ApplicationSpec
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := manifestName(entry.Name())
		if !ok {
			continue
		}
		manifest, err := LoadManifest(filepath.Join(pluginsDir, entry.Name()))
		if err != nil {
			continue
		}
		profile, _ := LoadProfile(findProfileFile(pluginsDir, name))
		specs = append(specs, ApplicationSpec{Name: name, Manifest: manifest, Profile: profile})
	}
	return specs, nil
}

func manifestName(filename string) (string, bool) {
	const suffix = ".manifest"
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	if !strings.HasSuffix(base, suffix) {
		return "", false
	}
	return strings.TrimSuffix(base, suffix), true
}

func findProfileFile(pluginsDir, name string) string {
	for _, ext := range []string{".json", ".yaml", ".yml", ".toml"} {
		p := filepath.Join(pluginsDir, name+".profile"+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
