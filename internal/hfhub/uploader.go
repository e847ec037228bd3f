// Package hfhub publishes generated training sets to a Hugging Face dataset repository.
package hfhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/lamim/animeforge/internal/writer"
)

const (
	// DefaultEndpoint is the public Hugging Face Hub
	DefaultEndpoint = "https://huggingface.co"
	// DefaultTimeout applies to API calls other than LFS transfers
	DefaultTimeout = 300 * time.Second
	// LFSUploadTimeout applies to individual LFS object uploads
	LFSUploadTimeout = 600 * time.Second
	// MaxRetries is the number of retries for LFS steps
	MaxRetries = 3
	// LogPreviewLength bounds payload previews in debug logs
	LogPreviewLength = 500
)

// Uploader pushes training folders to the Hub
type Uploader struct {
	endpoint   string
	token      string
	httpClient *http.Client
	lfsClient  *http.Client
	retryDelay time.Duration
	logger     *slog.Logger
}

// UploadResult summarizes a completed upload
type UploadResult struct {
	RepoID     string
	Files      int
	LFSObjects int
	URL        string
}

// NewUploader creates an uploader for endpoint (DefaultEndpoint when empty)
func NewUploader(endpoint, token string, logger *slog.Logger) *Uploader {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Uploader{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		lfsClient:  &http.Client{Timeout: LFSUploadTimeout},
		retryDelay: 2 * time.Second,
		logger:     logger.With("component", "hf_uploader"),
	}
}

// UploadTrainingSet publishes one character folder (images, captions and
// training_metadata.json) under <character>/ in the dataset repoID
func (u *Uploader) UploadTrainingSet(ctx context.Context, repoID, dir string) (*UploadResult, error) {
	if u.token == "" {
		return nil, fmt.Errorf("HUGGING_FACE_TOKEN is required for uploads")
	}
	if err := validateRepoID(repoID); err != nil {
		return nil, err
	}

	metaPath := writer.MetadataPath(dir)
	meta, err := writer.ReadMetadata(metaPath)
	if err != nil {
		return nil, err
	}
	prefix := meta.Character
	if prefix == "" {
		prefix = filepath.Base(dir)
	}

	u.logger.Info("Starting upload to Hugging Face Hub",
		"repo_id", repoID,
		"character", meta.Character,
		"images", meta.TotalImages)

	if err := u.ensureRepo(ctx, repoID); err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	ops := []*CommitOperation{inlineOperation(".gitattributes", []byte(gitAttributes))}

	metaOp, err := PrepareFileOperation(metaPath, path.Join(prefix, writer.MetadataFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare metadata: %w", err)
	}
	ops = append(ops, metaOp)

	for _, rec := range meta.Images {
		for _, name := range []string{rec.Filename, rec.CaptionFile} {
			local := filepath.Join(dir, name)
			if _, err := os.Stat(local); os.IsNotExist(err) {
				u.logger.Warn("File listed in metadata is missing, skipping", "file", name)
				continue
			}
			op, err := PrepareFileOperation(local, path.Join(prefix, name))
			if err != nil {
				return nil, fmt.Errorf("failed to prepare %s: %w", name, err)
			}
			ops = append(ops, op)
		}
	}

	var lfsFiles []*LFSFileInfo
	localByOID := make(map[string]string)
	for _, op := range ops {
		if op.LFSFile != nil {
			lfsFiles = append(lfsFiles, op.LFSFile)
			localByOID[op.LFSFile.SHA256] = op.localPath
		}
	}

	if len(lfsFiles) > 0 {
		u.logger.Info("Uploading LFS objects", "count", len(localByOID))

		var uploads map[string]*LFSUploadInfo
		err := u.withRetry(ctx, "LFS preupload", func() error {
			var err error
			uploads, err = u.preuploadLFS(ctx, repoID, lfsFiles)
			return err
		})
		if err != nil {
			return nil, err
		}

		for oid, info := range uploads {
			local, ok := localByOID[oid]
			if !ok {
				return nil, fmt.Errorf("LFS batch returned unknown object %s", oid)
			}
			if err := u.withRetry(ctx, "LFS upload "+filepath.Base(local), func() error {
				return u.uploadLFSFile(ctx, info, local)
			}); err != nil {
				return nil, err
			}
		}
	}

	summary := fmt.Sprintf("Add %d training images for %s", meta.TotalImages, prefix)
	description := fmt.Sprintf("run_id: %s\nmodel: %s\ngenerated: %s", meta.RunID, meta.Model, meta.GenerationDate)
	if err := u.createCommit(ctx, repoID, "main", summary, description, ops); err != nil {
		return nil, fmt.Errorf("failed to create commit: %w", err)
	}

	result := &UploadResult{
		RepoID:     repoID,
		Files:      len(ops),
		LFSObjects: len(localByOID),
		URL:        fmt.Sprintf("%s/datasets/%s", u.endpoint, repoID),
	}
	u.logger.Info("Upload completed successfully", "repo_id", repoID, "files", result.Files, "url", result.URL)
	return result, nil
}

func validateRepoID(repoID string) error {
	parts := strings.Split(repoID, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid repo_id format, expected 'username/reponame', got '%s'", repoID)
	}
	return nil
}

func (u *Uploader) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+u.token)
}

// ensureRepo creates the dataset repository unless it already exists
func (u *Uploader) ensureRepo(ctx context.Context, repoID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/datasets/%s", u.endpoint, repoID), nil)
	if err != nil {
		return err
	}
	u.authorize(req)

	resp, err := u.httpClient.Do(req)
	if err == nil {
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			u.logger.Debug("Repository already exists", "repo_id", repoID)
			return nil
		}
	}

	namespace, name, _ := strings.Cut(repoID, "/")
	body, err := json.Marshal(map[string]any{
		"name":         name,
		"organization": namespace,
		"type":         "dataset",
		"private":      false,
	})
	if err != nil {
		return err
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint+"/api/repos/create", bytes.NewReader(body))
	if err != nil {
		return err
	}
	u.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err = u.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		u.logger.Info("Repository ready", "repo_id", repoID)
		return nil
	default:
		return statusError("create repo", resp)
	}
}

func (u *Uploader) createCommit(ctx context.Context, repoID, branch, summary, description string, ops []*CommitOperation) error {
	payload, err := buildCommitPayload(summary, description, ops)
	if err != nil {
		return err
	}

	if len(payload) > LogPreviewLength {
		u.logger.Debug("Commit payload", "preview", string(payload[:LogPreviewLength])+"...")
	} else {
		u.logger.Debug("Commit payload", "preview", string(payload))
	}

	url := fmt.Sprintf("%s/api/datasets/%s/commit/%s", u.endpoint, repoID, branch)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	u.authorize(req)
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("commit", resp)
	}

	u.logger.Debug("Commit created", "branch", branch, "operations", len(ops))
	return nil
}

// withRetry runs fn up to MaxRetries+1 times with doubling delays
func (u *Uploader) withRetry(ctx context.Context, what string, fn func() error) error {
	var lastErr error
	delay := u.retryDelay

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			u.logger.Warn("Retrying", "operation", what, "attempt", attempt, "backoff", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		u.logger.Warn("Operation failed", "operation", what, "attempt", attempt, "error", lastErr)
	}

	return fmt.Errorf("%s failed after %d attempts: %w", what, MaxRetries+1, lastErr)
}

func statusError(what string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s failed with status %d: %s", what, resp.StatusCode, strings.TrimSpace(string(body)))
}
