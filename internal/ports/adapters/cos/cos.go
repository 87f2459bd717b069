// Package cos stores objects in a Tencent Cloud COS bucket.
package cos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	cossdk "github.com/tencentyun/cos-go-sdk-v5"

	"github.com/forPelevin/clipper/internal/ports"
)

const putRetries = 3

type Config struct {
	BucketURL string
	SecretID  string
	SecretKey string
}

type Store struct {
	client *cossdk.Client
}

func New(cfg Config) (*Store, error) {
	u, err := url.Parse(cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("parse COS bucket url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid COS bucket url %q", cfg.BucketURL)
	}
	client := cossdk.NewClient(&cossdk.BaseURL{BucketURL: u}, &http.Client{
		Transport: &cossdk.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})
	return &Store{client: client}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.Object.Get(ctx, key, nil)
	if err != nil {
		return nil, mapErr(key, err)
	}
	return resp.Body, nil
}

// Put retries only when r can be rewound.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	opt := &cossdk.ObjectPutOptions{
		ObjectPutHeaderOptions: &cossdk.ObjectPutHeaderOptions{
			ContentType:   contentType,
			ContentLength: size,
		},
	}
	seeker, canRetry := r.(io.Seeker)
	var err error
	for retryTime := 0; retryTime < putRetries; retryTime++ {
		if retryTime > 0 {
			if !canRetry {
				break
			}
			if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
				break
			}
		}
		_, err = s.client.Object.Put(ctx, key, r, opt)
		if err == nil || ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("cos put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Download(ctx context.Context, key, path string) error {
	body, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return fmt.Errorf("cos download %s: %w", key, err)
	}
	return f.Close()
}

func (s *Store) Upload(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	return s.Put(ctx, key, f, fi.Size(), contentType)
}

func mapErr(key string, err error) error {
	var er *cossdk.ErrorResponse
	if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("cos get %s: %w", key, ports.ErrNotFound)
	}
	return fmt.Errorf("cos get %s: %w", key, err)
}
