// Package archive keeps a JSON copy of every digest in Azure Blob Storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
)

const contentType = "application/json"

// ErrMissingID is returned for a digest that was never stored.
var ErrMissingID = errors.New("digest has no id")

// Config selects the storage account and container.
type Config struct {
	ConnectionString string
	Container        string
}

// Blob archives digests to one container.
type Blob struct {
	client    *azblob.Client
	container string
	logger    *logger.Logger
}

// New creates the client. No request is made until EnsureContainer or
// Archive is called.
func New(cfg Config, log *logger.Logger) (*Blob, error) {
	if cfg.Container == "" {
		cfg.Container = "pulse-digests"
	}
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Blob{client: client, container: cfg.Container, logger: log.Named("archive")}, nil
}

// EnsureContainer creates the container if it does not exist yet.
func (b *Blob) EnsureContainer(ctx context.Context) error {
	if _, err := b.client.CreateContainer(ctx, b.container, nil); err != nil {
		if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("create container %s: %w", b.container, err)
		}
	}
	b.logger.Info("Archive container ready", zap.String("container", b.container))
	return nil
}

// Archive uploads the digest document.
func (b *Blob) Archive(ctx context.Context, d *model.Digest) error {
	key, err := Key(d)
	if err != nil {
		return err
	}
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}

	ct := contentType
	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
		Metadata: map[string]*string{
			"client_id": ptr(d.ClientID),
			"status":    ptr(string(d.Status)),
		},
	}
	if _, err := b.client.UploadStream(ctx, b.container, key, bytes.NewReader(body), opts); err != nil {
		return fmt.Errorf("upload digest %s: %w", key, err)
	}

	b.logger.Debug("Digest archived", zap.String("key", key))
	return nil
}

// Key returns the blob name of a digest: <client>/<period end date>/<id>.json.
func Key(d *model.Digest) (string, error) {
	if d.ID == "" {
		return "", ErrMissingID
	}
	return fmt.Sprintf("%s/%s/%s.json",
		segment(d.ClientID),
		d.PeriodEnd.UTC().Format("2006-01-02"),
		segment(d.ID),
	), nil
}

// segment keeps a path element from escaping its directory.
func segment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "_"
	}
	return s
}

func ptr[T any](v T) *T {
	return &v
}
