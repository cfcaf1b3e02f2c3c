package verification

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

// nillionArtifactFiles are the VM launch artifacts a report's measurement
// is regenerated from: kernel image, initrd, bootloader, and firmware.
var nillionArtifactFiles = []string{"kernel", "initrd", "bootloader", "firmware"}

// LockedDownloader serializes writes into the artifact cache directory
// behind a single mutex, preventing two concurrently-processing
// assignments from racing to populate the same nilcc_version directory.
// Grounded on verification.rs's LockedDownloader wrapper around
// ReportArtifactsDownloader.
type LockedDownloader struct {
	mu         sync.Mutex
	httpClient *http.Client
}

// NewLockedDownloader builds a downloader using httpClient for artifact
// fetches; a nil client gets http.DefaultClient.
func NewLockedDownloader(httpClient *http.Client) *LockedDownloader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LockedDownloader{httpClient: httpClient}
}

// EnsureArtifacts makes sure destDir contains every file in
// nillionArtifactFiles, downloading any missing ones from
// baseURL/nilccVersion/<file>. A destDir that already exists is assumed
// complete and is not re-checked file by file.
func (d *LockedDownloader) EnsureArtifacts(ctx context.Context, baseURL, nilccVersion, destDir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info, err := os.Stat(destDir); err == nil && info.IsDir() {
		return nil
	}

	tmpDir := destDir + ".partial"
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("verification: creating artifact cache dir: %w", err)
	}

	for _, name := range nillionArtifactFiles {
		if err := d.downloadFile(ctx, fmt.Sprintf("%s/%s/%s", baseURL, nilccVersion, name), filepath.Join(tmpDir, name)); err != nil {
			return fmt.Errorf("verification: downloading artifact %q for %s: %w", name, nilccVersion, err)
		}
	}

	if err := os.Rename(tmpDir, destDir); err != nil {
		return fmt.Errorf("verification: finalizing artifact cache dir: %w", err)
	}
	return nil
}

func (d *LockedDownloader) downloadFile(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return nil
}
