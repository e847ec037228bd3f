package hfhub

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CommitOperation represents a single file in a commit
type CommitOperation struct {
	Path    string       // Path in the repository
	Content string       // base64 content for inline files
	LFSFile *LFSFileInfo // set for files uploaded through LFS

	localPath string
}

// LFSFileInfo identifies an LFS object
type LFSFileInfo struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// LFSThreshold is the size above which any file goes through LFS (10MB)
const LFSThreshold = 10 * 1024 * 1024

// binaryExtensions are always stored in LFS regardless of size
var binaryExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// gitAttributes tracks images in LFS and keeps captions and metadata as text
const gitAttributes = `*.png filter=lfs diff=lfs merge=lfs -text
*.jpg filter=lfs diff=lfs merge=lfs -text
*.jpeg filter=lfs diff=lfs merge=lfs -text
*.webp filter=lfs diff=lfs merge=lfs -text
*.safetensors filter=lfs diff=lfs merge=lfs -text
*.ckpt filter=lfs diff=lfs merge=lfs -text
*.txt text
*.json text
`

// PrepareFileOperation hashes localPath and decides whether it is committed inline or via LFS
func PrepareFileOperation(localPath, pathInRepo string) (*CommitOperation, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return nil, err
	}

	op := &CommitOperation{Path: pathInRepo, localPath: localPath}

	if size >= LFSThreshold || binaryExtensions[strings.ToLower(filepath.Ext(localPath))] {
		op.LFSFile = &LFSFileInfo{
			SHA256: hex.EncodeToString(hasher.Sum(nil)),
			Size:   size,
		}
		return op, nil
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	op.Content = base64.StdEncoding.EncodeToString(data)
	return op, nil
}

// inlineOperation commits literal content
func inlineOperation(pathInRepo string, content []byte) *CommitOperation {
	return &CommitOperation{
		Path:    pathInRepo,
		Content: base64.StdEncoding.EncodeToString(content),
	}
}

type ndjsonLine struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type commitHeader struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

type commitFile struct {
	Content  string `json:"content"`
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
}

type commitLFSFile struct {
	Path string `json:"path"`
	Algo string `json:"algo"`
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// buildCommitPayload renders the NDJSON body for the commit endpoint
func buildCommitPayload(summary, description string, ops []*CommitOperation) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	if err := enc.Encode(ndjsonLine{Key: "header", Value: commitHeader{Summary: summary, Description: description}}); err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	for _, op := range ops {
		var line ndjsonLine
		if op.LFSFile != nil {
			line = ndjsonLine{Key: "lfsFile", Value: commitLFSFile{
				Path: op.Path,
				Algo: "sha256",
				OID:  op.LFSFile.SHA256,
				Size: op.LFSFile.Size,
			}}
		} else {
			line = ndjsonLine{Key: "file", Value: commitFile{
				Content:  op.Content,
				Path:     op.Path,
				Encoding: "base64",
			}}
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", op.Path, err)
		}
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
