package graph

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/pkg/intunewin"
	"github.com/ThomasHoins/Intunewin/pkg/models"
	"github.com/ThomasHoins/Intunewin/pkg/utils"
)

// State is a step of the upload protocol
type State int

const (
	StateCreated State = iota
	StateContentVersionOpened
	StateFileEntryRequested
	StateAzureURIPending
	StateAzureURIReady
	StateUploading
	StateCommitRequested
	StateCommitPending
	StateCommitted
	StateAppCommitted
	StateDone
	StateAborted
)

var stateNames = [...]string{
	"Created",
	"ContentVersionOpened",
	"FileEntryRequested",
	"AzureUriPending",
	"AzureUriReady",
	"Uploading",
	"CommitRequested",
	"CommitPending",
	"Committed",
	"AppCommitted",
	"Done",
	"Aborted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrContentVersionCommitted marks the soft stop on an app whose content is
// already sealed. Publish reports it through Result, not as an error.
var ErrContentVersionCommitted = apperrors.Sentinel(apperrors.ErrorTypeProtocol, "VERSION_COMMITTED")

// UploadSession is the state of one publish call
type UploadSession struct {
	AppID            string
	ContentVersionID string
	ContentFileID    string
	State            State
	AzureStorageURI  string
	ReusedApp        bool
}

// Result is returned by Publish
type Result struct {
	Session  UploadSession
	App      *MobileApp
	Upload   *UploadStats
	Stopped  bool                   // soft stop, nothing was uploaded
	Stop     *apperrors.IntuneError // matches ErrContentVersionCommitted
	Warnings []string
}

// Driver runs the upload protocol for one package at a time.
type Driver struct {
	client *Client
	poller *Poller
	blob   *BlobUploader
	logger utils.LeveledLogger
}

// DriverOptions tune polling and blob transfer
type DriverOptions struct {
	PollInterval time.Duration
	PollAttempts int
	ChunkSize    int64
	RenewAfter   time.Duration
	HTTPClient   *http.Client
	Logger       utils.LeveledLogger
	Progress     func(string)
}

// NewDriver creates a driver on top of client
func NewDriver(client *Client, opts DriverOptions) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = utils.NopLogger()
	}

	blob := NewBlobUploader(opts.HTTPClient)
	if opts.ChunkSize > 0 {
		blob.ChunkSize = opts.ChunkSize
	}
	if opts.RenewAfter > 0 {
		blob.RenewAfter = opts.RenewAfter
	}
	blob.Logger = logger
	blob.Progress = opts.Progress

	return &Driver{
		client: client,
		poller: NewPoller(client.GetFile, opts.PollInterval, opts.PollAttempts),
		blob:   blob,
		logger: logger,
	}
}

// Publish registers d (or reuses an app of the same display name), uploads
// the payload of pkg and commits it. On failure the session state is
// Aborted and the app is left as is; a re-run finds it by name.
func (dr *Driver) Publish(ctx context.Context, d *models.AppDescriptor, pkg *intunewin.Package) (*Result, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	res := &Result{}
	s := &res.Session
	abort := func(err error) (*Result, error) {
		failed := s.State
		s.State = StateAborted
		if e, ok := apperrors.As(err); ok {
			e.WithContext("state", failed.String())
			if s.AppID != "" {
				e.WithContext("app_id", s.AppID)
			}
		}
		return res, err
	}
	step := func(next State) {
		dr.logger.Debug("Upload state %s -> %s", s.State, next)
		s.State = next
	}

	// Created -> ContentVersionOpened
	app, err := dr.client.FindAppByDisplayName(ctx, d.DisplayName)
	if err != nil {
		return abort(err)
	}
	if app != nil {
		dr.logger.Info("Reusing app %s (%s)", app.DisplayName, app.ID)
		s.ReusedApp = true
		full, err := dr.client.GetApp(ctx, app.ID)
		if err != nil {
			return abort(err)
		}
		app = full
	} else {
		app, err = dr.client.CreateApp(ctx, d)
		if err != nil {
			return abort(err)
		}
		dr.logger.Info("Created app %s (%s)", d.DisplayName, app.ID)
	}
	s.AppID = app.ID
	res.App = app

	if app.CommittedContentVersion != "" {
		return dr.softStop(res, app.CommittedContentVersion), nil
	}

	cv, err := dr.client.CreateContentVersion(ctx, s.AppID)
	if err != nil {
		return abort(err)
	}
	s.ContentVersionID = cv.ID
	step(StateContentVersionOpened)

	// ContentVersionOpened -> FileEntryRequested
	m := pkg.Manifest
	file, err := dr.client.CreateFile(ctx, s.AppID, s.ContentVersionID, d.FileName, m.UnencryptedContentSize, m.EncryptedContentSize)
	if err != nil {
		if isCommittedConflict(err) {
			return dr.softStop(res, s.ContentVersionID), nil
		}
		return abort(err)
	}
	s.ContentFileID = file.ID
	step(StateFileEntryRequested)
	locator := FileLocator(s.AppID, s.ContentVersionID, s.ContentFileID)

	// FileEntryRequested -> AzureUriReady
	step(StateAzureURIPending)
	file, err = dr.poller.WaitFor(ctx, locator, StageAzureStorageURIRequest)
	if err != nil {
		return abort(err)
	}
	s.AzureStorageURI = file.AzureStorageURI
	step(StateAzureURIReady)

	// AzureUriReady -> Uploading
	step(StateUploading)
	renew := func(ctx context.Context) (string, error) {
		if err := dr.client.RenewUpload(ctx, locator); err != nil {
			return "", err
		}
		renewed, err := dr.poller.WaitFor(ctx, locator, StageAzureStorageURIRenewal)
		if err != nil {
			return "", err
		}
		s.AzureStorageURI = renewed.AzureStorageURI
		return renewed.AzureStorageURI, nil
	}
	stats, err := dr.blob.Upload(ctx, s.AzureStorageURI, pkg.PayloadPath, renew)
	if err != nil {
		return abort(err)
	}
	res.Upload = stats

	// Uploading -> CommitRequested -> Committed
	if err := ctx.Err(); err != nil {
		return abort(err)
	}
	if err := dr.client.CommitFile(ctx, locator, m.EncryptionInfo); err != nil {
		return abort(err)
	}
	step(StateCommitRequested)
	step(StateCommitPending)
	if _, err := dr.poller.WaitFor(ctx, locator, StageCommitFile); err != nil {
		return abort(err)
	}
	step(StateCommitted)

	// Committed -> AppCommitted
	if err := dr.client.PatchApp(ctx, s.AppID, map[string]interface{}{
		"committedContentVersion": s.ContentVersionID,
	}); err != nil {
		return abort(err)
	}
	step(StateAppCommitted)

	// AppCommitted -> Done; the content is usable already.
	if err := dr.client.PatchApp(ctx, s.AppID, map[string]interface{}{
		"displayVersion": d.DisplayVersion,
		"description":    d.Description,
	}); err != nil {
		msg := fmt.Sprintf("failed to update display version and description: %v", err)
		dr.logger.Warn("%s", msg)
		res.Warnings = append(res.Warnings, msg)
	}
	step(StateDone)
	return res, nil
}

func (dr *Driver) softStop(res *Result, version string) *Result {
	res.Stopped = true
	res.Stop = apperrors.NewError(apperrors.ErrorTypeProtocol, ErrContentVersionCommitted.Code,
		fmt.Sprintf("content version %s of app %s is already committed", version, res.Session.AppID)).
		WithContext("app_id", res.Session.AppID).
		WithSuggestion("Create a new app, for example with a different display name, instead of uploading again")
	dr.logger.Warn("%s", res.Stop.Message)
	return res
}

// isCommittedConflict reports a file request rejected because the content
// version is sealed.
func isCommittedConflict(err error) bool {
	code := StatusCode(err)
	if code != http.StatusBadRequest && code != http.StatusConflict {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "committed")
}
