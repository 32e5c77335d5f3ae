package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jacoelt/backrecorder/internal/types"
	"github.com/jacoelt/backrecorder/internal/vault"
)

type fakeFolder struct {
	ID     string
	Name   string
	Parent string
}

// fakeDrive is a minimal Drive v3 + token endpoint test double.
type fakeDrive struct {
	mu           sync.Mutex
	folders      []fakeFolder
	stagingFiles []fakeFolder // reuses the shape: ID, Name, Parent
	deleted      []string
	failDelete   map[string]bool
	creates      int
	requests     int
	uploads      []string // raw upload bodies
	authHeaders  []string
	tokenCalls   int
	refreshed    string // access token handed out by the token endpoint
}

var nameRe = regexp.MustCompile(`name='([^']*)'`)
var parentRe = regexp.MustCompile(`'([^']*)' in parents`)

func (d *fakeDrive) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.tokenCalls++
		tok := d.refreshed
		d.mu.Unlock()
		if tok == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"%s","token_type":"Bearer"}`, tok)
	})

	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.requests++
		d.authHeaders = append(d.authHeaders, r.Header.Get("Authorization"))

		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query().Get("q")
			var out []map[string]string

			if m := nameRe.FindStringSubmatch(q); m != nil {
				// Folder lookup by name + parent.
				parent := ""
				if pm := parentRe.FindStringSubmatch(q); pm != nil {
					parent = pm[1]
				}
				for _, f := range d.folders {
					if f.Name == m[1] && f.Parent == parent {
						out = append(out, map[string]string{"id": f.ID, "name": f.Name})
					}
				}
			} else if pm := parentRe.FindStringSubmatch(q); pm != nil {
				// Staging listing: children of a folder, server returns
				// them already ordered.
				for _, f := range d.stagingFiles {
					if f.Parent == pm[1] {
						out = append(out, map[string]string{"id": f.ID, "name": f.Name})
					}
				}
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"files": out})

		case http.MethodPost:
			// Folder create (metadata only).
			var meta struct {
				Name    string   `json:"name"`
				Parents []string `json:"parents"`
			}
			json.NewDecoder(r.Body).Decode(&meta)
			d.creates++
			id := fmt.Sprintf("created-%d", d.creates)
			parent := ""
			if len(meta.Parents) > 0 {
				parent = meta.Parents[0]
			}
			d.folders = append(d.folders, fakeFolder{ID: id, Name: meta.Name, Parent: parent})
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":"%s"}`, id)
		}
	})

	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.requests++
		if r.Method == http.MethodDelete {
			id := strings.TrimPrefix(r.URL.Path, "/files/")
			if d.failDelete[id] {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			d.deleted = append(d.deleted, id)
			w.WriteHeader(http.StatusNoContent)
		}
	})

	mux.HandleFunc("/upload/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.requests++
		d.authHeaders = append(d.authHeaders, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		d.uploads = append(d.uploads, string(body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"uploaded-1"}`)
	})

	return mux
}

type testEnv struct {
	drive    *fakeDrive
	server   *httptest.Server
	vault    *vault.BadgerVault
	manager  *Manager
	settings *Settings
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	d := &fakeDrive{failDelete: map[string]bool{}}
	ts := httptest.NewServer(d.handler())
	t.Cleanup(ts.Close)

	v, err := vault.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })

	settings := &Settings{Enabled: true, MaxStagingFiles: 10}
	m := NewManager(v, Options{
		OAuth: &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "http://localhost/auth/callback",
			Scopes:       []string{"https://www.googleapis.com/auth/drive.file"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  ts.URL + "/auth",
				TokenURL: ts.URL + "/token",
			},
		},
		FinalFolderName:   "BackRecorder",
		StagingFolderName: "staging",
		Settings:          func() Settings { return *settings },
		DriveEndpoint:     ts.URL,
	})

	return &testEnv{drive: d, server: ts, vault: v, manager: m, settings: settings}
}

func (e *testEnv) signIn(t *testing.T) {
	t.Helper()
	require.NoError(t, e.vault.Set(vault.KeyAccessToken, "valid-token"))
	require.NoError(t, e.vault.Set(vault.KeyRefreshToken, "refresh-token"))
}

func (e *testEnv) writeLocalFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "merged.ogg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestSetupDrive_CreatesThenReuses(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	ctx := context.Background()

	require.NoError(t, env.manager.SetupDrive(ctx))

	finalID1, ok, err := env.vault.Get(vault.KeyFinalFolderID)
	require.NoError(t, err)
	require.True(t, ok)
	stagingID1, ok, err := env.vault.Get(vault.KeyStagingFolderID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, env.drive.creates)
	assert.Equal(t, StateReady, env.manager.State())

	// Second invocation against the same remote state: same ids, no
	// duplicate folders.
	require.NoError(t, env.manager.SetupDrive(ctx))

	finalID2, _, _ := env.vault.Get(vault.KeyFinalFolderID)
	stagingID2, _, _ := env.vault.Get(vault.KeyStagingFolderID)
	assert.Equal(t, finalID1, finalID2)
	assert.Equal(t, stagingID1, stagingID2)
	assert.Equal(t, 2, env.drive.creates, "no duplicate folders on repeated setup")
}

func TestSetupDrive_StagingParentIsFinal(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)

	require.NoError(t, env.manager.SetupDrive(context.Background()))

	finalID, _, _ := env.vault.Get(vault.KeyFinalFolderID)
	var staging *fakeFolder
	for i := range env.drive.folders {
		if env.drive.folders[i].Name == "staging" {
			staging = &env.drive.folders[i]
		}
	}
	require.NotNil(t, staging)
	assert.Equal(t, finalID, staging.Parent)
}

func TestUploadFile_SendsMetadataAndBytes(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	require.NoError(t, env.vault.Set(vault.KeyFinalFolderID, "final-7"))

	path := env.writeLocalFile(t, "opus-bytes-here")
	err := env.manager.UploadFile(context.Background(), path, types.FolderFinal, "record_20250101_120000.ogg")
	require.NoError(t, err)

	require.Len(t, env.drive.uploads, 1)
	body := env.drive.uploads[0]
	assert.Contains(t, body, `"record_20250101_120000.ogg"`)
	assert.Contains(t, body, `"final-7"`)
	assert.Contains(t, body, "opus-bytes-here")
	assert.Contains(t, body, types.AudioContentType)
	assert.Equal(t, "Bearer valid-token", env.drive.authHeaders[0])
}

func TestUploadFile_NoFolderProvisioned(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)

	path := env.writeLocalFile(t, "x")
	err := env.manager.UploadFile(context.Background(), path, types.FolderFinal, "a.ogg")
	assert.ErrorIs(t, err, ErrNoFolder)
	assert.Zero(t, env.drive.requests, "no network call without a folder id")
}

func TestUploadFile_EmptyVaultNoRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.vault.Set(vault.KeyFinalFolderID, "final-7"))

	path := env.writeLocalFile(t, "x")
	err := env.manager.UploadFile(context.Background(), path, types.FolderFinal, "a.ogg")

	// Failure is reported, not thrown, and nothing reaches the Drive API.
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.Zero(t, env.drive.requests)
}

func TestUploadFile_RefreshesWhenAccessTokenMissing(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.vault.Set(vault.KeyRefreshToken, "refresh-token"))
	require.NoError(t, env.vault.Set(vault.KeyFinalFolderID, "final-7"))
	env.drive.refreshed = "fresh-token"

	path := env.writeLocalFile(t, "x")
	err := env.manager.UploadFile(context.Background(), path, types.FolderFinal, "a.ogg")
	require.NoError(t, err)

	assert.Equal(t, 1, env.drive.tokenCalls)
	assert.Equal(t, "Bearer fresh-token", env.drive.authHeaders[0])

	// The refreshed token is persisted for the next operation.
	tok, ok, err := env.vault.Get(vault.KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fresh-token", tok)
}

func TestUploadFile_RefreshFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.vault.Set(vault.KeyRefreshToken, "stale-refresh"))
	require.NoError(t, env.vault.Set(vault.KeyFinalFolderID, "final-7"))
	// refreshed stays empty: token endpoint answers 400.

	path := env.writeLocalFile(t, "x")
	err := env.manager.UploadFile(context.Background(), path, types.FolderFinal, "a.ogg")

	require.Error(t, err)
	assert.Equal(t, 1, env.drive.tokenCalls)
	assert.Zero(t, env.drive.requests, "failed refresh must abort before the Drive call")
}

func TestDeleteOldestFromStaging_TrimsToMax(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	require.NoError(t, env.vault.Set(vault.KeyStagingFolderID, "staging-1"))

	for i := 1; i <= 12; i++ {
		env.drive.stagingFiles = append(env.drive.stagingFiles, fakeFolder{
			ID:     fmt.Sprintf("file-%02d", i),
			Name:   fmt.Sprintf("record_%02d.ogg", i),
			Parent: "staging-1",
		})
	}

	require.NoError(t, env.manager.DeleteOldestFromStaging(context.Background()))

	// Exactly the two oldest go, the other ten stay untouched.
	assert.Equal(t, []string{"file-01", "file-02"}, env.drive.deleted)
}

func TestDeleteOldestFromStaging_UnderLimitIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	require.NoError(t, env.vault.Set(vault.KeyStagingFolderID, "staging-1"))

	for i := 1; i <= 10; i++ {
		env.drive.stagingFiles = append(env.drive.stagingFiles, fakeFolder{
			ID: fmt.Sprintf("file-%02d", i), Name: "r.ogg", Parent: "staging-1",
		})
	}

	require.NoError(t, env.manager.DeleteOldestFromStaging(context.Background()))
	assert.Empty(t, env.drive.deleted)
}

func TestDeleteOldestFromStaging_OneFailureDoesNotAbortBatch(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	require.NoError(t, env.vault.Set(vault.KeyStagingFolderID, "staging-1"))

	for i := 1; i <= 13; i++ {
		env.drive.stagingFiles = append(env.drive.stagingFiles, fakeFolder{
			ID: fmt.Sprintf("file-%02d", i), Name: "r.ogg", Parent: "staging-1",
		})
	}
	env.drive.failDelete["file-01"] = true

	require.NoError(t, env.manager.DeleteOldestFromStaging(context.Background()))

	// file-01 failed but file-02 and file-03 were still attempted.
	assert.Equal(t, []string{"file-02", "file-03"}, env.drive.deleted)
}

func TestCloudOperations_DisabledIsSilentNoop(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t)
	env.settings.Enabled = false

	path := env.writeLocalFile(t, "x")
	assert.NoError(t, env.manager.UploadFile(context.Background(), path, types.FolderFinal, "a.ogg"))
	assert.NoError(t, env.manager.DeleteOldestFromStaging(context.Background()))
	assert.NoError(t, env.manager.SetupDrive(context.Background()))

	assert.Zero(t, env.drive.requests, "disabled cloud sync must make no network calls")
	assert.Zero(t, env.drive.tokenCalls)
}

func TestManager_StateAfterRestartWithRefreshToken(t *testing.T) {
	v, err := vault.OpenInMemory()
	require.NoError(t, err)
	defer v.Close()
	require.NoError(t, v.Set(vault.KeyRefreshToken, "refresh"))
	require.NoError(t, v.Set(vault.KeyFinalFolderID, "final"))

	m := NewManager(v, Options{
		OAuth:    &oauth2.Config{},
		Settings: func() Settings { return Settings{Enabled: true} },
	})
	assert.Equal(t, StateReady, m.State())
}

func TestManager_SignInStateTransitions(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, StateSignedOut, env.manager.State())
	url := env.manager.SignInURL()
	assert.Contains(t, url, "client-id")
	assert.Equal(t, StateAuthorizationPending, env.manager.State())

	// A failed exchange returns to signed out.
	err := env.manager.HandleAuthCode(context.Background(), "bad-code")
	require.Error(t, err)
	assert.Equal(t, StateSignedOut, env.manager.State())
}
