package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/pkg/utils"
)

const (
	// DefaultChunkSize is the Put Block size
	DefaultChunkSize = 6 * 1024 * 1024
	// DefaultRenewAfter is how long a storage URI is used before renewal;
	// the SAS issued by Intune expires after about ten minutes.
	DefaultRenewAfter = 7 * time.Minute
)

// URIRenewer returns a fresh storage URI for the same blob
type URIRenewer func(ctx context.Context) (string, error)

// BlobUploader writes the encrypted payload to Azure Blob Storage through a
// SAS URI.
type BlobUploader struct {
	HTTPClient *http.Client
	ChunkSize  int64
	RenewAfter time.Duration
	Now        func() time.Time
	Logger     utils.LeveledLogger
	Progress   func(string)

	backoff func() retry.Backoff
}

// NewBlobUploader creates an uploader with default settings
func NewBlobUploader(hc *http.Client) *BlobUploader {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Minute}
	}
	return &BlobUploader{
		HTTPClient: hc,
		ChunkSize:  DefaultChunkSize,
		RenewAfter: DefaultRenewAfter,
		Now:        time.Now,
		Logger:     utils.NopLogger(),
		backoff:    defaultBackoff,
	}
}

// UploadStats describes a finished upload
type UploadStats struct {
	Bytes    int64
	Blocks   int
	Renewals int
}

// blobTarget is the block blob client for the SAS URI currently in use.
type blobTarget struct {
	client *blockblob.Client
	uri    string
	issued time.Time
}

// Upload sends the file at path to sasURI. Files up to one chunk go as a
// single Put Blob; larger files as Put Block calls and a final Put Block
// List. When renew is set, the URI is renewed before a block or the block
// list once it is older than RenewAfter, and the upload continues at the
// same block.
func (u *BlobUploader) Upload(ctx context.Context, sasURI, path string, renew URIRenewer) (*UploadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeFileSystem, "PAYLOAD_READ", "failed to open payload")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeFileSystem, "PAYLOAD_READ", "failed to stat payload")
	}
	size := info.Size()
	progress := utils.NewProgressReader(f, size, "Uploading", u.Progress)
	stats := &UploadStats{Bytes: size}

	target, err := u.target(sasURI)
	if err != nil {
		return nil, err
	}

	if size <= u.ChunkSize {
		data, err := io.ReadAll(progress)
		if err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrorTypeFileSystem, "PAYLOAD_READ", "failed to read payload")
		}
		err = u.send(ctx, "Put Blob", target.uri, func(ctx context.Context) error {
			_, err := target.client.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), nil)
			return err
		})
		if err != nil {
			return nil, err
		}
		stats.Blocks = 1
		progress.Finish()
		return stats, nil
	}

	prefix := uuid.NewString()[:8]
	buf := make([]byte, u.ChunkSize)
	var ids []string

	for index := 0; ; index++ {
		n, readErr := io.ReadFull(progress, buf)
		if n == 0 {
			if readErr != nil && readErr != io.EOF {
				return nil, apperrors.WrapError(readErr, apperrors.ErrorTypeFileSystem, "PAYLOAD_READ", "failed to read payload")
			}
			break
		}

		if target, err = u.refresh(ctx, target, renew, stats, fmt.Sprintf("block %d", index)); err != nil {
			return nil, err
		}

		id := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s-%06d", prefix, index)))
		chunk := buf[:n]
		err = u.send(ctx, "Put Block", target.uri, func(ctx context.Context) error {
			_, err := target.client.StageBlock(ctx, id, streaming.NopCloser(bytes.NewReader(chunk)), nil)
			return err
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return nil, apperrors.WrapError(readErr, apperrors.ErrorTypeFileSystem, "PAYLOAD_READ", "failed to read payload")
		}
	}

	if target, err = u.refresh(ctx, target, renew, stats, "the block list"); err != nil {
		return nil, err
	}
	err = u.send(ctx, "Put Block List", target.uri, func(ctx context.Context) error {
		_, err := target.client.CommitBlockList(ctx, ids, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	stats.Blocks = len(ids)
	progress.Finish()
	return stats, nil
}

func (u *BlobUploader) target(sasURI string) (*blobTarget, error) {
	client, err := blockblob.NewClientWithNoCredential(sasURI, &blockblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: u.HTTPClient,
			// retries are ours so that every attempt is logged and bounded alike
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	})
	if err != nil {
		return nil, apperrors.NewProtocolError("UNEXPECTED_RESPONSE", "invalid storage URI").
			WithContext("uri", redact(sasURI))
	}
	return &blobTarget{client: client, uri: sasURI, issued: u.Now()}, nil
}

// refresh renews t once it is older than RenewAfter and returns the target
// to use for the next request.
func (u *BlobUploader) refresh(ctx context.Context, t *blobTarget, renew URIRenewer, stats *UploadStats, next string) (*blobTarget, error) {
	if renew == nil || u.RenewAfter <= 0 || u.Now().Sub(t.issued) < u.RenewAfter {
		return t, nil
	}

	u.Logger.Info("Renewing storage URI before %s", next)
	fresh, err := renew(ctx)
	if err != nil {
		return nil, err
	}
	renewed, err := u.target(fresh)
	if err != nil {
		return nil, err
	}
	stats.Renewals++
	return renewed, nil
}

// send runs one storage operation with the uploader's retry policy.
func (u *BlobUploader) send(ctx context.Context, op, sasURI string, call func(context.Context) error) error {
	return retry.Do(ctx, u.backoff(), func(ctx context.Context) error {
		err := call(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			statusErr := newStatusError(op, sasURI, respErr.StatusCode, nil)
			if respErr.ErrorCode != "" {
				statusErr.Message += ": " + respErr.ErrorCode
			}
			if retryableStatus(respErr.StatusCode) {
				u.Logger.Warn("%s returned %d, retrying", op, respErr.StatusCode)
				return retry.RetryableError(statusErr)
			}
			return statusErr
		}

		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = redact(urlErr.URL)
		}
		return retry.RetryableError(apperrors.WrapError(err, apperrors.ErrorTypeNetwork, ErrRequestFailed.Code,
			fmt.Sprintf("%s to %s failed", op, redact(sasURI))))
	})
}
