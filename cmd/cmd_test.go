package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tani-shi/assetbundle-manager/cmd/common"
	bcommon "github.com/tani-shi/assetbundle-manager/common"
)

func TestExecute_Version(t *testing.T) {
	err := Execute([]string{"abm", "version"}, BuildArgs{
		Version:   "1.2.3",
		BuildType: "release",
		Date:      "2026-01-01",
		Commit:    "abc123",
	})
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	for _, want := range []string{"abm 1.2.3-release", "2026-01-01=abc123"} {
		if !strings.Contains(common.VersionCmdStr, want) {
			t.Errorf("version string %q missing %q", common.VersionCmdStr, want)
		}
	}
	if buildArgs.Commit != "abc123" {
		t.Errorf("build args not recorded: %+v", buildArgs)
	}
}

func TestExecute_Help(t *testing.T) {
	if err := Execute([]string{"abm", "fetch", "help"}, BuildArgs{}); err != nil {
		t.Errorf("fetch help: %v", err)
	}
}

func TestExecute_Check(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(manifest, []byte("bundles:\n  - name: a\n    dependencies: [a]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Execute([]string{"abm", "check", manifest}, BuildArgs{}); !errors.Is(err, errInvalidManifest) {
		t.Errorf("self dependency should fail the check, got %v", err)
	}
	// usage errors print the command help instead of failing
	if err := Execute([]string{"abm", "check"}, BuildArgs{}); err != nil {
		t.Errorf("check without a manifest: %v", err)
	}
}

func TestExecute_FetchNothing(t *testing.T) {
	if err := Execute([]string{"abm", "fetch"}, BuildArgs{}); err != nil {
		t.Errorf("fetch without arguments: %v", err)
	}
}

func TestExecute_CacheWithoutDir(t *testing.T) {
	t.Setenv("ABM_CACHE_DIR", "")
	err := Execute([]string{"abm", "cache", "list"}, BuildArgs{})
	if !errors.Is(err, errNoCacheDir) {
		t.Errorf("expected errNoCacheDir, got %v", err)
	}
}

func TestExecute_CacheClear(t *testing.T) {
	dir := t.TempDir()
	if err := Execute([]string{"abm", "cache", "clear", "--cache-dir", dir}, BuildArgs{}); err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	if err := Execute([]string{"abm", "cache", "prune", "--older-than", "1h", "--cache-dir", dir}, BuildArgs{}); err != nil {
		t.Fatalf("cache prune: %v", err)
	}
}

func TestExecute_RemoteUnreachable(t *testing.T) {
	err := Execute([]string{"abm", "remote", "status", "--addr", "127.0.0.1:1", "--secret", "x"}, BuildArgs{})
	if err == nil || !strings.HasPrefix(err.Error(), "remote status:") {
		t.Errorf("expected a dial error, got %v", err)
	}
	if err := Execute([]string{"abm", "remote", "add"}, BuildArgs{}); err != nil {
		t.Errorf("remote add without an asset: %v", err)
	}
}

func TestPrintStatus(t *testing.T) {
	var out bytes.Buffer
	printAssetStatus(&out, &bcommon.AssetStatusResult{
		ID:          "r1",
		Asset:       "Assets/Bundles/ui/title.txt",
		SubAsset:    "icon",
		Bundle:      "ui",
		State:       "done",
		BundleState: "loaded",
		Progress:    1,
		Done:        true,
		Loaded:      true,
	})
	for _, want := range []string{"r1 Assets/Bundles/ui/title.txt#icon", "ui (loaded)", "100%"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("asset status missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	printLoaderStatus(&out, &bcommon.LoaderStatusResult{ManifestError: "manifest missing"})
	if !strings.Contains(out.String(), "not ready") || !strings.Contains(out.String(), "manifest missing") {
		t.Errorf("unexpected not-ready status:\n%s", out.String())
	}

	out.Reset()
	printLoaderStatus(&out, &bcommon.LoaderStatusResult{
		Ready:           true,
		Bundles:         3,
		Downloading:     1,
		ActiveBytes:     1000,
		MaxRequestBytes: 2000,
		Progress:        0.5,
		Tracked:         2,
	})
	for _, want := range []string{"3 (0 pending, 1 downloading", "1.0 kB of 2.0 kB", "50%", "2 tracked"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("loader status missing %q:\n%s", want, out.String())
		}
	}
}
