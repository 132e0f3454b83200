package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Enabled reports whether every credential is present.
func (c Config) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// DocumentArchive stores graded exam documents as raw Cloudinary assets.
type DocumentArchive struct {
	client *cloudinary.Cloudinary
	folder string
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a document archive backed by Cloudinary.
func New(cfg Config, logger zerolog.Logger) (*DocumentArchive, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &DocumentArchive{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		now:    time.Now,
		logger: logger.With().Str("component", "document_archive").Logger(),
	}, nil
}

// Upload archives a student document and returns its secure URL. Documents
// are text, so they go up as raw resources and keep their extension.
func (a *DocumentArchive) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	params := uploader.UploadParams{
		Folder:         a.folder,
		PublicID:       documentPublicID(name, a.now()),
		ResourceType:   "raw",
		Tags:           []string{"exam-document"},
		UniqueFilename: boolPtr(false),
		Overwrite:      boolPtr(true),
	}

	result, err := a.client.Upload.Upload(ctx, reader, params)
	if err != nil {
		return "", fmt.Errorf("failed to archive document %s: %w", name, err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to archive document %s: %s", name, result.Error.Message)
	}

	a.logger.Info().Str("public_id", result.PublicID).Int("bytes", result.Bytes).Msg("exam document archived")

	return result.SecureURL, nil
}

// documentPublicID keeps the extension because raw assets are served by
// their full public id.
func documentPublicID(name string, at time.Time) string {
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '-'
		}
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		base = "document"
	}
	if ext == "" {
		ext = ".txt"
	}

	return fmt.Sprintf("%s-%s%s", base, at.UTC().Format("20060102T150405"), ext)
}

func boolPtr(v bool) *bool {
	return &v
}
