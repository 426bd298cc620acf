package graph

import (
	"context"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
)

const (
	// DefaultPollInterval is the wait between two polls
	DefaultPollInterval = 10 * time.Second
	// DefaultPollAttempts bounds a single wait to about 100 minutes
	DefaultPollAttempts = 600
)

// Upload stages polled by the driver
const (
	StageAzureStorageURIRequest = "azureStorageUriRequest"
	StageAzureStorageURIRenewal = "azureStorageUriRenewal"
	StageCommitFile             = "commitFile"
)

// Poller errors; compare with errors.Is.
var (
	ErrUnexpectedState = apperrors.Sentinel(apperrors.ErrorTypeProtocol, "UNEXPECTED_STATE")
	ErrPollTimeout     = apperrors.Sentinel(apperrors.ErrorTypeTimeout, "POLL_TIMEOUT")
)

// FileFetcher reads a content file resource
type FileFetcher func(ctx context.Context, locator string) (*ContentFile, error)

// Poller waits for a content file to reach a stage.
type Poller struct {
	Interval time.Duration
	Attempts int
	Fetch    FileFetcher
	Sleep    func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller that reads resources with fetch
func NewPoller(fetch FileFetcher, interval time.Duration, attempts int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	return &Poller{Interval: interval, Attempts: attempts, Fetch: fetch, Sleep: sleepContext}
}

// WaitFor polls locator until uploadState is "<stage>Success". A
// "<stage>Pending" state keeps waiting; any other state fails at once with
// the state in the error. The resource is fetched at most Attempts times.
func (p *Poller) WaitFor(ctx context.Context, locator, stage string) (*ContentFile, error) {
	success := stage + "Success"
	pending := stage + "Pending"

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		file, err := p.Fetch(ctx, locator)
		if err != nil {
			return nil, err
		}

		switch file.UploadState {
		case success:
			return file, nil
		case pending:
		default:
			return file, apperrors.NewProtocolError(ErrUnexpectedState.Code,
				fmt.Sprintf("unexpected upload state %q while waiting for %s", file.UploadState, success)).
				WithContext("state", file.UploadState).
				WithContext("stage", stage).
				WithContext("attempt", strconv.Itoa(attempt))
		}

		if attempt < p.Attempts {
			if err := p.Sleep(ctx, p.Interval); err != nil {
				return nil, err
			}
		}
	}

	return nil, apperrors.NewTimeoutError(ErrPollTimeout.Code,
		fmt.Sprintf("%s did not succeed after %d attempts", stage, p.Attempts)).
		WithContext("stage", stage).
		WithContext("interval", p.Interval.String())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
