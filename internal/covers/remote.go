package covers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/posterwall/backend/internal/models"
)

// Remote is the metadata store: an ordered list read and a full-list overwrite.
type Remote interface {
	Fetch(ctx context.Context) ([]models.CoverRecord, error)
	Save(ctx context.Context, records []models.CoverRecord) error
}

// FileRemote keeps the list as a pretty-printed metadata.json on disk.
type FileRemote struct {
	Path string
}

// NewFileRemote returns a FileRemote for path.
func NewFileRemote(path string) *FileRemote {
	return &FileRemote{Path: path}
}

// Fetch reads and decodes the metadata file.
func (f *FileRemote) Fetch(_ context.Context) ([]models.CoverRecord, error) {
	data, err := f.Raw()
	if err != nil {
		return nil, err
	}
	return DecodeList(data)
}

// Raw returns the file contents unparsed.
func (f *FileRemote) Raw() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("metadata file %s: %w", f.Path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata file: %w", err)
	}
	return data, nil
}

// Save atomically overwrites the metadata file.
func (f *FileRemote) Save(_ context.Context, records []models.CoverRecord) error {
	data, err := MarshalPretty(records)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(f.Path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending metadata file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace metadata file: %w", err)
	}
	return nil
}

// HTTPRemote talks to another running poster wall over its
// metadata.json and save_data endpoints.
type HTTPRemote struct {
	MetadataURL string
	SaveURL     string
	Client      *http.Client
}

// NewHTTPRemote returns an HTTPRemote using client, or http.DefaultClient.
func NewHTTPRemote(metadataURL, saveURL string, client *http.Client) *HTTPRemote {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRemote{MetadataURL: metadataURL, SaveURL: saveURL, Client: client}
}

// Fetch downloads the list.
func (h *HTTPRemote) Fetch(ctx context.Context) ([]models.CoverRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.MetadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch metadata: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return DecodeList(data)
}

// Save posts the full list.
func (h *HTTPRemote) Save(ctx context.Context, records []models.CoverRecord) error {
	if records == nil {
		records = []models.CoverRecord{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.SaveURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("save metadata: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var ack struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && ack.Success != nil && !*ack.Success {
		return fmt.Errorf("save metadata rejected: %s", ack.Error)
	}
	return nil
}
