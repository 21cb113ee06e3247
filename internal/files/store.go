package files

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pelicanone/backend/internal/models"
)

// URLPrefix is where persisted job files are served from.
const URLPrefix = "/api/v1/files"

// downloadDelays is the bounded retry schedule for fetching one remote file.
var downloadDelays = []time.Duration{0, 2 * time.Second, 5 * time.Second}

// Store downloads provider-returned file URLs into local storage and serves
// them back, rewriting result items to locally served URLs.
type Store struct {
	root       string
	httpClient *http.Client
	log        *slog.Logger
}

func NewStore(root string, httpClient *http.Client, log *slog.Logger) *Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{root: root, httpClient: httpClient, log: log}
}

func (s *Store) jobDir(jobID uuid.UUID) string {
	return filepath.Join(s.root, "jobs", jobID.String())
}

// Persist downloads each remote file item in result, stores it under the
// job's directory and rewrites the item URL to the local files endpoint.
// Items already pointing at local URLs are left untouched. Exhausting the
// download retries fails the whole persist, which the worker treats as a
// fatal job failure.
func (s *Store) Persist(ctx context.Context, jobID uuid.UUID, result *models.JobResult) (*models.JobResult, []models.StoredFile, error) {
	var hasFiles bool
	for _, item := range result.Items {
		if item.Kind == models.ResultItemFile && item.URL != "" {
			hasFiles = true
			break
		}
	}
	if !hasFiles {
		return result, nil, nil
	}

	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create job dir: %w", err)
	}

	var stored []models.StoredFile
	for i := range result.Items {
		item := &result.Items[i]
		if item.Kind != models.ResultItemFile || item.URL == "" {
			continue
		}
		if isLocalURL(item.URL) {
			if item.Filename == "" {
				item.Filename = path.Base(item.URL)
			}
			continue
		}
		filename, contentType, err := s.download(ctx, item.URL, dir)
		if err != nil {
			// A failed persist fails the job, so nothing will ever
			// reference files downloaded before the failure.
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				s.log.Warn("remove partial job dir failed", "job_id", jobID, "error", rmErr)
			}
			return nil, nil, fmt.Errorf("download %s: %w", item.URL, err)
		}
		item.Filename = filename
		item.ContentType = contentType
		item.URL = fmt.Sprintf("%s/%s/%s", URLPrefix, jobID, filename)
		stored = append(stored, models.StoredFile{
			Type:     result.Type,
			Path:     filepath.Join("jobs", jobID.String(), filename),
			URL:      item.URL,
			Filename: filename,
		})
	}
	return result, stored, nil
}

// download fetches one URL with the bounded retry schedule and writes it to
// dir under a random name.
func (s *Store) download(ctx context.Context, sourceURL, dir string) (filename, contentType string, err error) {
	var lastErr error
	for _, delay := range downloadDelays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(delay):
			}
		}
		filename, contentType, lastErr = s.downloadOnce(ctx, sourceURL, dir)
		if lastErr == nil {
			return filename, contentType, nil
		}
		s.log.Warn("file download failed", "url", sourceURL, "error", lastErr)
	}
	return "", "", lastErr
}

func (s *Store) downloadOnce(ctx context.Context, sourceURL, dir string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	contentType = strings.TrimSpace(strings.Split(contentType, ";")[0])

	filename := strings.ReplaceAll(uuid.NewString(), "-", "") + guessExtension(contentType, sourceURL)
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(f.Name())
		return "", "", err
	}
	return filename, contentType, nil
}

// Resolve maps a job id + filename to the on-disk path. Only bare filenames
// are accepted; anything carrying a separator or dot-dot is rejected.
func (s *Store) Resolve(jobID uuid.UUID, filename string) (string, error) {
	if filename == "" || filename == "." || filename == ".." ||
		strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	dir := s.jobDir(jobID)
	abs, err := filepath.Abs(filepath.Join(dir, filename))
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes job dir")
	}
	return abs, nil
}

// RemoveJobFiles deletes the job's storage directory.
func (s *Store) RemoveJobFiles(jobID uuid.UUID) error {
	return os.RemoveAll(s.jobDir(jobID))
}

func guessExtension(contentType, sourceURL string) string {
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	if u, err := url.Parse(sourceURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return ext
		}
	}
	return ".bin"
}

func isLocalURL(raw string) bool {
	if strings.HasPrefix(raw, URLPrefix+"/") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, URLPrefix+"/")
}
