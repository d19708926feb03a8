package provision

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultURLBase is the published location of the PV checkpoint files, used
// when neither a stage override nor MODEL_URL_BASE is configured.
const DefaultURLBase = "https://huggingface.co/Blehrmph/models-pv-project/resolve/main"

// placeholderMarker is the leading byte sequence of a git-lfs pointer file,
// the stub left by large-file tracking in place of real weights.
var placeholderMarker = []byte("version https://git-lfs.github.com/spec/v1")

// IsPlaceholder reports whether the file at path is a git-lfs pointer stub
// rather than actual weight data.
func IsPlaceholder(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 200)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return false
	}
	return bytes.HasPrefix(head[:n], placeholderMarker)
}

// validWeightsFile reports whether path holds something worth loading: a
// regular file that is not a placeholder stub.
func validWeightsFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return !IsPlaceholder(path)
}

// fetcher streams remote weight files to disk.
type fetcher struct {
	client *http.Client
}

func newFetcher(client *http.Client) *fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &fetcher{client: client}
}

// download streams url to a temporary sibling of dest and renames it into
// place on success. A failed or interrupted transfer never leaves a partial
// file at dest, so a concurrent reader or a later restart cannot mistake it
// for valid weights.
func (f *fetcher) download(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fetch %s: HTTP %d: %s", url, resp.StatusCode, bytes.TrimSpace(body))
	}

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fetch: %w", err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}
