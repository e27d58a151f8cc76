package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nacexportpro/nacexportpro/internal/config"
	"github.com/nacexportpro/nacexportpro/pkg/logger"
)

// Uploader publishes a local file to object storage. Preflight runs before
// the appliance is touched at all: if storage can never accept the upload,
// there is no point generating a report.
type Uploader interface {
	Preflight(ctx context.Context) error
	Upload(ctx context.Context, localPath, objectName string) (string, error)
}

// MinioUploader publishes report files to an S3-compatible endpoint.
type MinioUploader struct {
	cfg           config.StorageConfig
	client        *minio.Client
	endpoint      string
	bucketEnsured bool
}

// NewMinioUploader builds the client; it does not touch the network.
func NewMinioUploader(cfg config.StorageConfig) (*MinioUploader, error) {
	host := strings.TrimSpace(cfg.Minio.Host)
	if host == "" || cfg.Minio.Port <= 0 {
		return nil, fmt.Errorf("storage.minio.host and port are required")
	}
	endpoint := fmt.Sprintf("%s:%d", host, cfg.Minio.Port)

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure:    cfg.Minio.Secure,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	return &MinioUploader{cfg: cfg, client: client, endpoint: endpoint}, nil
}

// Preflight checks connectivity and that the bucket exists (creating it if
// needed), so a misconfigured destination fails the run before any command
// is sent to the appliance.
func (u *MinioUploader) Preflight(ctx context.Context) error {
	if err := u.fastConnectivityCheck(ctx); err != nil {
		return fmt.Errorf("storage endpoint %s unreachable: %w", u.endpoint, err)
	}
	if err := u.ensureBucket(ctx, u.cfg.Minio.Bucket, 2); err != nil {
		return fmt.Errorf("bucket check failed: %w", err)
	}
	u.bucketEnsured = true
	return nil
}

// Upload publishes the file and returns its object URI. Bounded retries
// with backoff smooth over transient endpoint hiccups; the session engine
// above sees a single success/failure.
func (u *MinioUploader) Upload(ctx context.Context, localPath, objectName string) (string, error) {
	bucket := strings.TrimSpace(u.cfg.Minio.Bucket)
	if bucket == "" {
		return "", fmt.Errorf("storage.minio.bucket not configured")
	}

	if err := u.fastConnectivityCheck(ctx); err != nil {
		return "", fmt.Errorf("storage endpoint %s unreachable: %w", u.endpoint, err)
	}

	if !u.bucketEnsured {
		if err := u.ensureBucket(ctx, bucket, 3); err != nil {
			return "", fmt.Errorf("bucket check failed: %w", err)
		}
		u.bucketEnsured = true
	}

	var lastErr error
	backoffs := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i := 0; i < len(backoffs); i++ {
		attemptCtx, cancel := u.attemptContext(ctx, 60*time.Second)
		_, err := u.client.FPutObject(attemptCtx, bucket, objectName, localPath, minio.PutObjectOptions{
			ContentType: "text/csv",
		})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		logger.Warnf("upload attempt %d failed: %v", i+1, err)
		time.Sleep(backoffs[i])
	}
	if lastErr != nil {
		return "", fmt.Errorf("put object failed after retries: %w", lastErr)
	}

	uri := fmt.Sprintf("minio://%s/%s", bucket, objectName)
	logger.Infof("uploaded %s to %s", localPath, uri)
	return uri, nil
}

// fastConnectivityCheck dials the endpoint directly so unreachability is
// reported in seconds instead of after the SDK's full retry dance.
func (u *MinioUploader) fastConnectivityCheck(parent context.Context) error {
	d := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(parent, "tcp", u.endpoint)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

func (u *MinioUploader) ensureBucket(parent context.Context, bucket string, retries int) error {
	var lastErr error
	for i := 0; i <= retries; i++ {
		ctx, cancel := u.attemptContext(parent, 10*time.Second)
		exists, err := u.client.BucketExists(ctx, bucket)
		cancel()
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		if exists {
			return nil
		}
		ctx2, cancel2 := u.attemptContext(parent, 10*time.Second)
		mkErr := u.client.MakeBucket(ctx2, bucket, minio.MakeBucketOptions{})
		cancel2()
		if mkErr != nil {
			lastErr = mkErr
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("bucket ensure failed for %s", bucket)
}

// attemptContext bounds one attempt while respecting the parent deadline.
func (u *MinioUploader) attemptContext(parent context.Context, prefer time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		remain := time.Until(deadline)
		if remain > time.Second && prefer < remain {
			return context.WithTimeout(parent, prefer)
		}
		if remain > time.Second {
			return context.WithTimeout(parent, remain-time.Second)
		}
		return context.WithTimeout(parent, time.Second)
	}
	return context.WithTimeout(parent, prefer)
}
