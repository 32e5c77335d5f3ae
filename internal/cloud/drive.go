package cloud

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jacoelt/backrecorder/internal/types"
	"github.com/jacoelt/backrecorder/internal/vault"
)

const folderMimeType = "application/vnd.google-apps.folder"

// ErrNoFolder means the remote folder map has no entry for the requested
// role; SetupDrive has to run (again) before uploads can target it.
var ErrNoFolder = errors.New("remote folder not provisioned")

// Settings is read at the start of every cloud operation, so flag changes
// take effect without restarting the manager.
type Settings struct {
	Enabled         bool
	MaxStagingFiles int
}

// Options configures a Manager.
type Options struct {
	OAuth             *oauth2.Config
	FinalFolderName   string
	StagingFolderName string
	// Settings returns the current cloud configuration.
	Settings func() Settings
	// HTTPClient is used for the token endpoint; defaults to http.DefaultClient.
	HTTPClient *http.Client
	// DriveEndpoint overrides the Drive API base URL, used by tests.
	DriveEndpoint string
}

// Manager orchestrates the OAuth token lifecycle, idempotent folder
// provisioning, uploads and staging retention cleanup. Every operation is a
// silent no-op when cloud sync is disabled, and all network calls are
// single-attempt: failures surface to the immediate caller and never block
// a local save.
type Manager struct {
	vault         vault.Vault
	oauth         *oauth2.Config
	httpClient    *http.Client
	settings      func() Settings
	finalName     string
	stagingName   string
	driveEndpoint string

	stateMu   sync.Mutex
	state     string
	refreshMu sync.Mutex
}

// NewManager returns a manager persisting credentials and folder ids in v.
func NewManager(v vault.Vault, opts Options) *Manager {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	settings := opts.Settings
	if settings == nil {
		settings = func() Settings { return Settings{} }
	}

	m := &Manager{
		vault:         v,
		oauth:         opts.OAuth,
		httpClient:    httpClient,
		settings:      settings,
		finalName:     opts.FinalFolderName,
		stagingName:   opts.StagingFolderName,
		driveEndpoint: opts.DriveEndpoint,
		state:         StateSignedOut,
	}

	// A persisted refresh token means a previous sign-in survives restart.
	if tok, ok, _ := v.Get(vault.KeyRefreshToken); ok && tok != "" {
		m.state = StateSignedIn
		if _, ok, _ := v.Get(vault.KeyFinalFolderID); ok {
			m.state = StateReady
		}
	}
	return m
}

// driveService builds a Drive client authenticated with token.
func (m *Manager) driveService(ctx context.Context, token string) (*drive.Service, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if m.driveEndpoint != "" {
		opts = append(opts, option.WithEndpoint(m.driveEndpoint))
	}
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}
	return srv, nil
}

// SetupDrive provisions the final folder at the Drive root and the staging
// folder beneath it, then persists both ids. It is idempotent: as long as
// the remote folders still exist with the same name and parent, repeated
// calls reuse them and never create duplicates.
func (m *Manager) SetupDrive(ctx context.Context) error {
	if !m.settings().Enabled {
		return nil
	}

	token, err := m.getValidAccessToken(ctx)
	if err != nil {
		log.Printf("SetupDrive: no access token: %v", err)
		return err
	}
	srv, err := m.driveService(ctx, token)
	if err != nil {
		return err
	}

	finalID, err := m.findOrCreateFolder(srv, m.finalName, "root")
	if err != nil {
		m.noteAPIError(err)
		return fmt.Errorf("failed to provision final folder: %w", err)
	}
	stagingID, err := m.findOrCreateFolder(srv, m.stagingName, finalID)
	if err != nil {
		m.noteAPIError(err)
		return fmt.Errorf("failed to provision staging folder: %w", err)
	}

	if err := m.vault.Set(vault.KeyFinalFolderID, finalID); err != nil {
		return err
	}
	if err := m.vault.Set(vault.KeyStagingFolderID, stagingID); err != nil {
		return err
	}

	m.setState(StateReady)
	log.Printf("Drive folders ready (final: %s, staging: %s)", finalID, stagingID)
	return nil
}

// findOrCreateFolder looks a folder up by name under parentID and creates
// it when absent, returning its id. The first match wins.
func (m *Manager) findOrCreateFolder(srv *drive.Service, name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='%s' and trashed=false",
		name, parentID, folderMimeType)

	r, err := srv.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return "", fmt.Errorf("folder lookup failed: %w", err)
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}
	created, err := srv.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return "", fmt.Errorf("folder create failed: %w", err)
	}
	return created.Id, nil
}

// UploadFile uploads localPath as remoteName into the folder provisioned
// for role. The request is a single multipart POST: JSON metadata naming
// the file and its parent, plus the raw audio bytes.
func (m *Manager) UploadFile(ctx context.Context, localPath string, role types.FolderRole, remoteName string) error {
	if !m.settings().Enabled {
		return nil
	}

	folderID, err := m.folderID(role)
	if err != nil {
		return err
	}

	token, err := m.getValidAccessToken(ctx)
	if err != nil {
		log.Printf("UploadFile: no access token: %v", err)
		return err
	}
	srv, err := m.driveService(ctx, token)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	meta := &drive.File{
		Name:    remoteName,
		Parents: []string{folderID},
	}
	_, err = srv.Files.Create(meta).
		Media(f, googleapi.ContentType(types.AudioContentType)).
		Fields("id").
		Do()
	if err != nil {
		m.noteAPIError(err)
		return fmt.Errorf("upload of %s failed: %w", remoteName, err)
	}

	log.Printf("Uploaded %s to %s folder", remoteName, role)
	return nil
}

// DeleteOldestFromStaging lists the staging folder's non-trashed files in
// creation order and deletes the oldest until at most the configured
// maximum remain. One delete call per file; a failure is logged and the
// rest of the batch continues.
func (m *Manager) DeleteOldestFromStaging(ctx context.Context) error {
	cfg := m.settings()
	if !cfg.Enabled {
		return nil
	}

	stagingID, err := m.folderID(types.FolderStaging)
	if err != nil {
		return err
	}

	token, err := m.getValidAccessToken(ctx)
	if err != nil {
		log.Printf("DeleteOldestFromStaging: no access token: %v", err)
		return err
	}
	srv, err := m.driveService(ctx, token)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("'%s' in parents and trashed=false", stagingID)
	r, err := srv.Files.List().
		Q(query).
		Spaces("drive").
		OrderBy("createdTime,name").
		Fields("files(id, name)").
		Do()
	if err != nil {
		m.noteAPIError(err)
		return fmt.Errorf("staging listing failed: %w", err)
	}

	excess := len(r.Files) - cfg.MaxStagingFiles
	if excess <= 0 {
		return nil
	}

	for _, f := range r.Files[:excess] {
		if err := srv.Files.Delete(f.Id).Do(); err != nil {
			log.Printf("Failed to delete staging file %s (%s): %v", f.Name, f.Id, err)
			continue
		}
		log.Printf("Deleted staging file %s", f.Name)
	}
	return nil
}

// folderID resolves the persisted folder id for role.
func (m *Manager) folderID(role types.FolderRole) (string, error) {
	key := vault.KeyFinalFolderID
	if role == types.FolderStaging {
		key = vault.KeyStagingFolderID
	}
	id, ok, err := m.vault.Get(key)
	if err != nil {
		return "", err
	}
	if !ok || id == "" {
		return "", fmt.Errorf("%w (%s)", ErrNoFolder, role)
	}
	return id, nil
}

// noteAPIError drops the cached access token on an auth failure so the
// next operation refreshes before calling out.
func (m *Manager) noteAPIError(err error) {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		m.invalidateAccessToken()
	}
}
