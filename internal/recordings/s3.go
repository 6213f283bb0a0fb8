// Package recordings archives provider call recordings into an S3-compatible
// bucket and hands out short-lived signed URLs for playback.
package recordings

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/callsight/callsight/internal/config"
)

// maxRecordingBytes caps how much of a provider recording is downloaded.
// Anything larger is a provider bug, not a real call recording.
const maxRecordingBytes = 256 << 20

// Archive stores recordings under <tenant>/<call>.wav in one bucket.
type Archive struct {
	bucket  string
	client  *s3.Client
	presign *s3.PresignClient
	http    *http.Client
	signTTL time.Duration
}

// New builds an Archive from the recordings configuration. A custom endpoint
// (MinIO and friends) switches the client to path-style addressing.
func New(ctx context.Context, cfg config.RecordingsConfig) (*Archive, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("recordings: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Archive{
		bucket:  cfg.Bucket,
		client:  client,
		presign: s3.NewPresignClient(client),
		http:    &http.Client{Timeout: cfg.FetchTimeout},
		signTTL: cfg.SignTTL,
	}, nil
}

// Fetch downloads a provider-hosted recording. One attempt, bounded by the
// configured fetch timeout.
func (a *Archive) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("recordings: build request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recordings: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recordings: fetch: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes))
	if err != nil {
		return nil, fmt.Errorf("recordings: read body: %w", err)
	}
	return data, nil
}

// Put stores one recording and returns its object key.
func (a *Archive) Put(ctx context.Context, tenantID, callID string, data []byte) (string, error) {
	key := fmt.Sprintf("%s/%s.wav", tenantID, callID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("audio/wav"),
	})
	if err != nil {
		return "", fmt.Errorf("recordings: put %s: %w", key, err)
	}
	return key, nil
}

// SignedURL returns a presigned GET URL for a stored recording reference.
func (a *Archive) SignedURL(ctx context.Context, ref string) (string, error) {
	out, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(ref),
	}, s3.WithPresignExpires(a.signTTL))
	if err != nil {
		return "", fmt.Errorf("recordings: sign %s: %w", ref, err)
	}
	return out.URL, nil
}
