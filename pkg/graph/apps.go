package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sethvargo/go-retry"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/pkg/intunewin"
	"github.com/ThomasHoins/Intunewin/pkg/models"
)

const mobileAppsPath = "/deviceAppManagement/mobileApps"

func appPath(appID string) string {
	return mobileAppsPath + "/" + url.PathEscape(appID)
}

func contentVersionsPath(appID string) string {
	return appPath(appID) + "/microsoft.graph.win32LobApp/contentVersions"
}

func filesPath(appID, versionID string) string {
	return contentVersionsPath(appID) + "/" + url.PathEscape(versionID) + "/files"
}

// FileLocator returns the path of a content file resource
func FileLocator(appID, versionID, fileID string) string {
	return filesPath(appID, versionID) + "/" + url.PathEscape(fileID)
}

// FindAppByDisplayName returns the first win32LobApp named displayName, or
// nil when there is none.
func (c *Client) FindAppByDisplayName(ctx context.Context, displayName string) (*MobileApp, error) {
	filter := fmt.Sprintf("displayName eq '%s'", strings.ReplaceAll(displayName, "'", "''"))
	path := mobileAppsPath + "?$filter=" + url.QueryEscape(filter)

	var page struct {
		Value []MobileApp `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}

	for i := range page.Value {
		app := &page.Value[i]
		if app.ODataType == odataWin32LobApp && app.DisplayName == displayName {
			return app, nil
		}
	}
	return nil, nil
}

// GetApp reads an app by id
func (c *Client) GetApp(ctx context.Context, appID string) (*MobileApp, error) {
	var app MobileApp
	if err := c.do(ctx, http.MethodGet, appPath(appID), nil, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// CreateApp registers a new win32LobApp. A 5xx or lost response leaves it
// unknown whether the app was stored, so before posting again the app is
// looked up by display name and returned when it exists.
func (c *Client) CreateApp(ctx context.Context, d *models.AppDescriptor) (*MobileApp, error) {
	body, err := appBody(d)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrorTypeValidation, "DESCRIPTOR_INVALID", "cannot render app descriptor")
	}

	var app *MobileApp
	attempt := 0
	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			existing, err := c.FindAppByDisplayName(ctx, d.DisplayName)
			if err != nil {
				return err
			}
			if existing != nil {
				c.logger.Warn("App %s (%s) was stored by an earlier attempt", existing.DisplayName, existing.ID)
				app = existing
				return nil
			}
		}

		var created MobileApp
		if err := c.create(ctx, mobileAppsPath, body, &created); err != nil {
			if uncertain(err) {
				c.logger.Warn("Creating app %s failed, checking whether it exists: %v", d.DisplayName, err)
				return retry.RetryableError(err)
			}
			return err
		}
		app = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	if app.ID == "" {
		return nil, apperrors.NewProtocolError("UNEXPECTED_RESPONSE", "app creation returned no id")
	}
	return app, nil
}

// PatchApp updates properties of an app
func (c *Client) PatchApp(ctx context.Context, appID string, fields map[string]interface{}) error {
	body := map[string]interface{}{"@odata.type": odataWin32LobApp}
	for k, v := range fields {
		body[k] = v
	}
	return c.do(ctx, http.MethodPatch, appPath(appID), body, nil)
}

// CreateContentVersion opens a new content version
func (c *Client) CreateContentVersion(ctx context.Context, appID string) (*ContentVersion, error) {
	var cv ContentVersion
	if err := c.create(ctx, contentVersionsPath(appID), map[string]interface{}{}, &cv); err != nil {
		return nil, err
	}
	if cv.ID == "" {
		return nil, apperrors.NewProtocolError("UNEXPECTED_RESPONSE", "content version creation returned no id")
	}
	return &cv, nil
}

// CreateFile requests a content file slot. size is the unencrypted size from
// the manifest, encrypted the measured payload length.
func (c *Client) CreateFile(ctx context.Context, appID, versionID, name string, size, encrypted uint64) (*ContentFile, error) {
	body := fileEntryBody{
		ODataType:     odataContentFile,
		Name:          name,
		Size:          size,
		SizeEncrypted: encrypted,
	}

	var f ContentFile
	if err := c.create(ctx, filesPath(appID, versionID), body, &f); err != nil {
		return nil, err
	}
	if f.ID == "" {
		return nil, apperrors.NewProtocolError("UNEXPECTED_RESPONSE", "file creation returned no id")
	}
	return &f, nil
}

// GetFile reads a content file by locator
func (c *Client) GetFile(ctx context.Context, locator string) (*ContentFile, error) {
	var f ContentFile
	if err := c.do(ctx, http.MethodGet, locator, nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// RenewUpload asks for a fresh storage URI
func (c *Client) RenewUpload(ctx context.Context, locator string) error {
	return c.do(ctx, http.MethodPost, locator+"/renewUpload", map[string]interface{}{}, nil)
}

// CommitFile submits the encryption info exactly as read from the manifest
func (c *Client) CommitFile(ctx context.Context, locator string, info intunewin.EncryptionInfo) error {
	body := struct {
		FileEncryptionInfo intunewin.EncryptionInfo `json:"fileEncryptionInfo"`
	}{info}
	return c.do(ctx, http.MethodPost, locator+"/commit", body, nil)
}
