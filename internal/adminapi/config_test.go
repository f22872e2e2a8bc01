package adminapi

import "testing"

func TestSetMaxBodyBytesOverridesDefault(t *testing.T) {
	defer SetMaxBodyBytes(0)
	SetMaxBodyBytes(1024)
	if maxBodyBytes != 1024 {
		t.Fatalf("expected 1024, got %d", maxBodyBytes)
	}
}

func TestSetMaxBodyBytesNonPositiveResetsToDefault(t *testing.T) {
	SetMaxBodyBytes(1024)
	SetMaxBodyBytes(0)
	if maxBodyBytes != 1<<16 {
		t.Fatalf("expected default, got %d", maxBodyBytes)
	}
}

func TestSetCORSOptionsStoresValues(t *testing.T) {
	defer SetCORSOptions(false, nil, nil, nil)
	SetCORSOptions(true, []string{"https://ops.example"}, []string{"GET"}, []string{"Content-Type"})
	if !corsEnabled {
		t.Fatal("expected CORS to be enabled")
	}
	if len(corsAllowedOrigins) != 1 || corsAllowedOrigins[0] != "https://ops.example" {
		t.Fatalf("unexpected allowed origins: %v", corsAllowedOrigins)
	}
}
