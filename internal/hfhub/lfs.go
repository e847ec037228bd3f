package hfhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
)

// LFSUploadInfo holds where (if anywhere) an object must be uploaded
type LFSUploadInfo struct {
	OID       string
	Size      int64
	UploadURL string            // empty when the server already has the object
	Header    map[string]string // from actions.upload.header
}

type lfsBatchObject struct {
	OID     string      `json:"oid"`
	Size    int64       `json:"size"`
	Actions *lfsActions `json:"actions,omitempty"`
}

type lfsActions struct {
	Upload *lfsAction `json:"upload,omitempty"`
	Verify *lfsAction `json:"verify,omitempty"`
}

type lfsAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header"`
}

type lfsBatchRequest struct {
	Operation string           `json:"operation"`
	Transfers []string         `json:"transfers"`
	Objects   []lfsBatchObject `json:"objects"`
	HashAlgo  string           `json:"hash_algo"`
}

type lfsBatchResponse struct {
	Objects  []lfsBatchObject `json:"objects"`
	Transfer string           `json:"transfer,omitempty"`
}

// preuploadLFS asks the Git LFS batch endpoint for upload URLs
func (u *Uploader) preuploadLFS(ctx context.Context, repoID string, files []*LFSFileInfo) (map[string]*LFSUploadInfo, error) {
	uploads := make(map[string]*LFSUploadInfo)
	if len(files) == 0 {
		return uploads, nil
	}

	objects := make([]lfsBatchObject, 0, len(files))
	seen := make(map[string]bool)
	for _, f := range files {
		if seen[f.SHA256] {
			continue
		}
		seen[f.SHA256] = true
		objects = append(objects, lfsBatchObject{OID: f.SHA256, Size: f.Size})
	}

	body, err := json.Marshal(lfsBatchRequest{
		Operation: "upload",
		Transfers: []string{"basic", "multipart"},
		Objects:   objects,
		HashAlgo:  "sha256",
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/datasets/%s.git/info/lfs/objects/batch", u.endpoint, repoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	u.authorize(req)
	req.Header.Set("Content-Type", "application/vnd.git-lfs+json")
	req.Header.Set("Accept", "application/vnd.git-lfs+json")

	u.logger.Debug("LFS batch request", "url", url, "objects", len(objects))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("LFS batch", resp)
	}

	var batch lfsBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode LFS batch response: %w", err)
	}

	for _, obj := range batch.Objects {
		info := &LFSUploadInfo{OID: obj.OID, Size: obj.Size}
		if obj.Actions != nil && obj.Actions.Upload != nil {
			info.UploadURL = obj.Actions.Upload.Href
			info.Header = obj.Actions.Upload.Header
		}
		uploads[obj.OID] = info
	}

	u.logger.Debug("LFS batch completed", "objects", len(uploads), "transfer", batch.Transfer)
	return uploads, nil
}

// uploadLFSFile sends one object with the basic or multipart transfer
func (u *Uploader) uploadLFSFile(ctx context.Context, info *LFSUploadInfo, path string) error {
	if info.UploadURL == "" {
		u.logger.Debug("LFS object already present", "oid", info.OID)
		return nil
	}
	if chunk, ok := info.Header["chunk_size"]; ok {
		return u.uploadLFSMultipart(ctx, info, path, chunk)
	}
	return u.uploadLFSBasic(ctx, info, path)
}

func (u *Uploader) uploadLFSBasic(ctx context.Context, info *LFSUploadInfo, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, info.UploadURL, file)
	if err != nil {
		return err
	}
	req.ContentLength = stat.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range info.Header {
		if !isPartNumber(k) {
			req.Header.Set(k, v)
		}
	}

	resp, err := u.lfsClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("LFS upload", resp)
	}

	u.logger.Debug("LFS object uploaded", "oid", info.OID, "size", stat.Size())
	return nil
}

type completedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

func (u *Uploader) uploadLFSMultipart(ctx context.Context, info *LFSUploadInfo, path, chunkSize string) error {
	chunk, err := strconv.ParseInt(chunkSize, 10, 64)
	if err != nil || chunk <= 0 {
		return fmt.Errorf("invalid chunk_size: %s", chunkSize)
	}

	parts := partURLs(info.Header)
	if len(parts) == 0 {
		return fmt.Errorf("no part URLs in multipart upload response")
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	numbers := make([]int, 0, len(parts))
	for n := range parts {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	completed := make([]completedPart, 0, len(numbers))
	for _, n := range numbers {
		offset := int64(n-1) * chunk
		length := min(chunk, stat.Size()-offset)
		if length <= 0 {
			return fmt.Errorf("part %d starts past end of file", n)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, parts[n], io.NewSectionReader(file, offset, length))
		if err != nil {
			return err
		}
		req.ContentLength = length
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := u.lfsClient.Do(req)
		if err != nil {
			return fmt.Errorf("part %d: %w", n, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := statusError(fmt.Sprintf("part %d upload", n), resp)
			_ = resp.Body.Close()
			return err
		}
		etag := resp.Header.Get("ETag")
		_ = resp.Body.Close()
		if etag == "" {
			return fmt.Errorf("no ETag returned for part %d", n)
		}
		completed = append(completed, completedPart{PartNumber: n, ETag: etag})
	}

	body, err := json.Marshal(struct {
		OID   string          `json:"oid"`
		Parts []completedPart `json:"parts"`
	}{OID: info.OID, Parts: completed})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, info.UploadURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/vnd.git-lfs+json")
	req.Header.Set("Accept", "application/vnd.git-lfs+json")

	resp, err := u.lfsClient.Do(req)
	if err != nil {
		return fmt.Errorf("multipart completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("multipart completion", resp)
	}

	u.logger.Debug("LFS object uploaded (multipart)", "oid", info.OID, "parts", len(completed))
	return nil
}

// partURLs picks the numbered part URLs ("1", "2", ...) out of an upload header
func partURLs(header map[string]string) map[int]string {
	parts := make(map[int]string)
	for k, v := range header {
		if !isPartNumber(k) {
			continue
		}
		if n, err := strconv.Atoi(k); err == nil && n > 0 {
			parts[n] = v
		}
	}
	return parts
}

func isPartNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
