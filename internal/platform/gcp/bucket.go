package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

// AudioBucket stages local audio in GCS for providers that only read remote
// objects.
type AudioBucket interface {
	Upload(ctx context.Context, key, localPath string) (string, error)
	Delete(ctx context.Context, key string) error
	ListOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]string, error)
	URI(key string) string
	Close() error
}

type audioBucket struct {
	log    *logger.Logger
	client *storage.Client
	name   string
}

// NewAudioBucketFromEnv reads GCS_AUDIO_BUCKET.
func NewAudioBucketFromEnv(ctx context.Context, log *logger.Logger) (AudioBucket, error) {
	name := envutil.String("GCS_AUDIO_BUCKET", "")
	if name == "" {
		return nil, fmt.Errorf("missing env var GCS_AUDIO_BUCKET")
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return NewAudioBucket(client, name, log), nil
}

func NewAudioBucket(client *storage.Client, bucket string, log *logger.Logger) AudioBucket {
	if log == nil {
		log = logger.Nop()
	}
	return &audioBucket{
		log:    log.With("service", "AudioBucket"),
		client: client,
		name:   bucket,
	}
}

func (b *audioBucket) URI(key string) string {
	return ObjectURI(b.name, key)
}

func (b *audioBucket) Upload(ctx context.Context, key, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	w := b.client.Bucket(b.name).Object(key).NewWriter(ctx)
	w.ContentType = AudioContentType(key)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	b.log.Debug("Staged audio", "bucket", b.name, "key", key)
	return b.URI(key), nil
}

// Delete is idempotent: a missing object is not an error.
func (b *audioBucket) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := b.client.Bucket(b.name).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, b.name, err)
	}
	return nil
}

func (b *audioBucket) ListOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	it := b.client.Bucket(b.name).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if attrs.Created.Before(cutoff) {
			out = append(out, attrs.Name)
		}
	}
	return out, nil
}

func (b *audioBucket) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

func ObjectURI(bucket, key string) string {
	return "gs://" + bucket + "/" + strings.TrimPrefix(key, "/")
}

// AudioPrefix holds every staged audio object.
const AudioPrefix = "audio/"

// AudioKey is the object key for an episode's staged audio.
func AudioKey(youtubeID, localPath string) string {
	ext := strings.ToLower(path.Ext(localPath))
	if ext == "" {
		ext = ".mp3"
	}
	return AudioPrefix + youtubeID + ext
}

func AudioContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}
