package config

import (
	"testing"
)

func TestDiscoverApplicationsPairsManifestAndProfile(t *testing.T) {
	d := t.TempDir()
	writeTempFile(t, d, "echo.manifest.json", `{"name":"echo","slave":"/bin/echo-worker","endpoint":"/tmp/echo.sock"}`)
	writeTempFile(t, d, "echo.profile.json", `{"pool-limit": 3}`)
	writeTempFile(t, d, "notes.txt", "ignored")

	specs, err := DiscoverApplications(d)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d: %+v", len(specs), specs)
	}
	if specs[0].Name != "echo" || specs[0].Profile.PoolLimit != 3 {
		t.Fatalf("unexpected spec: %+v", specs[0])
	}
}

func TestDiscoverApplicationsDefaultsProfileWhenAbsent(t *testing.T) {
	d := t.TempDir()
	writeTempFile(t, d, "solo.manifest.json", `{"name":"solo","slave":"/bin/solo-worker","endpoint":"/tmp/solo.sock"}`)

	specs, err := DiscoverApplications(d)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(specs) != 1 || specs[0].Profile.PoolLimit != 10 {
		t.Fatalf("expected default profile, got %+v", specs)
	}
}

func TestDiscoverApplicationsSkipsMalformedManifest(t *testing.T) {
	d := t.TempDir()
	writeTempFile(t, d, "bad.manifest.json", `{"name":"bad"}`)
	writeTempFile(t, d, "good.manifest.json", `{"name":"good","slave":"/bin/good","endpoint":"/tmp/good.sock"}`)

	specs, err := DiscoverApplications(d)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "good" {
		t.Fatalf("expected only good application, got %+v", specs)
	}
}
