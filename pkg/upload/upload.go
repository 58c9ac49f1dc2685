// Package upload stores photos with a Cloudinary-compatible image upload
// API and returns their public URL.
package upload

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/campuspulse/pkg/logging"
)

// DefaultBaseURL is the public upload API.
const DefaultBaseURL = "https://api.cloudinary.com"

var (
	// ErrNotConfigured is returned when no credentials are set.
	ErrNotConfigured = errors.New("photo upload not configured")

	// ErrUploadFailed covers transport errors, error statuses and
	// responses without a secure URL.
	ErrUploadFailed = errors.New("photo upload failed")
)

// Config holds upload credentials.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	BaseURL   string
	Timeout   time.Duration
}

// Uploader posts signed uploads. The zero clock is time.Now.
type Uploader struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// New creates an uploader.
func New(cfg Config) *Uploader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Uploader{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// Configured reports whether credentials are present.
func (u *Uploader) Configured() bool {
	return u.cfg.CloudName != "" && u.cfg.APIKey != "" && u.cfg.APISecret != ""
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Upload sends photo and returns its secure URL.
func (u *Uploader) Upload(ctx context.Context, mimeType string, photo []byte) (string, error) {
	if !u.Configured() {
		return "", ErrNotConfigured
	}
	if len(photo) == 0 {
		return "", fmt.Errorf("%w: empty photo", ErrUploadFailed)
	}

	params := map[string]string{
		"timestamp": strconv.FormatInt(u.now().Unix(), 10),
	}
	if u.cfg.Folder != "" {
		params["folder"] = u.cfg.Folder
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range params {
		if err := mw.WriteField(k, v); err != nil {
			return "", err
		}
	}
	fields := map[string]string{
		"file":      "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(photo),
		"api_key":   u.cfg.APIKey,
		"signature": Sign(params, u.cfg.APISecret),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/v1_1/%s/image/upload", strings.TrimRight(u.cfg.BaseURL, "/"), u.cfg.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: status %d", ErrUploadFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg := ""
		if out.Error != nil {
			msg = out.Error.Message
		}
		logging.Warn().Int("status", resp.StatusCode).Str("message", msg).Msg("photo upload rejected")
		return "", fmt.Errorf("%w: status %d %s", ErrUploadFailed, resp.StatusCode, msg)
	}
	if out.SecureURL == "" {
		return "", fmt.Errorf("%w: no secure URL returned", ErrUploadFailed)
	}
	return out.SecureURL, nil
}

// Sign computes the request signature: the hex SHA-1 of the sorted
// key=value pairs joined with & and followed by the secret.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}
