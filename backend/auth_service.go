package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// AuthService はGoogleアカウントへのサインインとストア接続の初期化を担う
type AuthService interface {
	// 保存済みトークンでの自動サインイン。トークンが無ければ (false, nil)。
	InitializeWithSavedToken() (bool, error)
	// ブラウザを開いて手動サインインを開始する
	StartManualAuth() error
	// 進行中の手動サインインを中断する
	CancelAuth() error
	// サインアウトし、保存済みトークンを破棄する
	Logout() error
	CurrentUser() *UserIdentity
	// 保存済みセッションからキャッシュ鍵の材料を読む(ネットワーク不要)。
	// コールドスタートの初期描画で使う。
	SavedCacheSecret() (uid string, secret string)
	IsConnected() bool
	IsTestMode() bool
	GetCloudSync() *CloudSync
	// リモート操作のエラーを受けてオフライン遷移を処理する。
	// 一時的な失敗ならそのままエラーを返し、トークン失効なら完全オフラインへ落とす。
	HandleOfflineTransition(err error) error
	NotifyFrontendReady()
	GetFrontendReadyChan() chan struct{}
}

const (
	authRedirectPort = "34115"
	tokenFileName    = "token.json"
	sessionFileName  = "session.json"

	rootStoreFolderName        = "bukuma"
	collectionsStoreFolderName = "collections"
)

type authService struct {
	ctx           *Context
	appDataDir    string
	credentials   []byte
	cloudSync     *CloudSync
	logger        AppLogger
	isTestMode    bool
	frontendReady chan struct{}
	// サインイン状態が変わった時に呼ばれる(鍵の構成・キャッシュ制御用)
	onAuthChanged func(user *UserIdentity, cacheSecret string)
}

func NewAuthService(
	ctx *Context,
	appDataDir string,
	credentials []byte,
	logger AppLogger,
	frontendReady chan struct{},
	isTestMode bool,
	onAuthChanged func(user *UserIdentity, cacheSecret string),
) AuthService {
	return &authService{
		ctx:           ctx,
		appDataDir:    appDataDir,
		credentials:   credentials,
		cloudSync:     &CloudSync{},
		logger:        logger,
		isTestMode:    isTestMode,
		frontendReady: frontendReady,
		onAuthChanged: onAuthChanged,
	}
}

func (a *authService) GetCloudSync() *CloudSync {
	return a.cloudSync
}

func (a *authService) IsConnected() bool {
	return a.cloudSync.IsConnected()
}

func (a *authService) IsTestMode() bool {
	return a.isTestMode
}

func (a *authService) CurrentUser() *UserIdentity {
	return a.cloudSync.User()
}

func (a *authService) NotifyFrontendReady() {
	select {
	case <-a.frontendReady:
	default:
		close(a.frontendReady)
	}
}

func (a *authService) GetFrontendReadyChan() chan struct{} {
	return a.frontendReady
}

func (a *authService) tokenFilePath() string {
	return filepath.Join(a.appDataDir, tokenFileName)
}

func (a *authService) sessionFilePath() string {
	return filepath.Join(a.appDataDir, sessionFileName)
}

// ---------- OAuth設定 ----------

func (a *authService) oauthConfig() (*oauth2.Config, error) {
	if len(a.credentials) == 0 {
		return nil, errors.New("no OAuth credentials configured")
	}
	config, err := google.ConfigFromJSON(a.credentials,
		drive.DriveFileScope,
		oauth2api.UserinfoEmailScope,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OAuth credentials: %w", err)
	}
	config.RedirectURL = "http://localhost:" + authRedirectPort + "/oauth/callback"
	return config, nil
}

// ---------- 保存済みトークン ----------

func (a *authService) loadSavedToken() *oauth2.Token {
	data, err := os.ReadFile(a.tokenFilePath())
	if err != nil {
		return nil
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil
	}
	if token.RefreshToken == "" {
		return nil
	}
	return &token
}

func (a *authService) saveToken(token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.tokenFilePath(), data, 0600)
}

func (a *authService) removeSavedToken() {
	os.Remove(a.tokenFilePath())
}

// savedSession は最後にサインインしていたユーザーの記録。
// キャッシュの鍵を引くために平文で持つのはUIDとメールアドレスだけ。
type savedSession struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

func (a *authService) loadSavedSession() *savedSession {
	data, err := os.ReadFile(a.sessionFilePath())
	if err != nil {
		return nil
	}
	var session savedSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil
	}
	return &session
}

func (a *authService) saveSession(user *UserIdentity) {
	data, err := json.MarshalIndent(savedSession{UID: user.UID, Email: user.Email}, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(a.sessionFilePath(), data, 0600)
}

// SavedCacheSecret はネットワークへ出ずに鍵の材料を返す。
// リフレッシュトークンはこの端末でしか読めないので、キャッシュ鍵の
// シークレットとして流用する。
func (a *authService) SavedCacheSecret() (string, string) {
	session := a.loadSavedSession()
	token := a.loadSavedToken()
	if session == nil || token == nil {
		return "", ""
	}
	return session.UID, token.RefreshToken
}

// ---------- サインイン ----------

func (a *authService) InitializeWithSavedToken() (bool, error) {
	token := a.loadSavedToken()
	if token == nil {
		return false, nil
	}
	config, err := a.oauthConfig()
	if err != nil {
		return false, err
	}
	if err := a.initializeStoreService(config, token); err != nil {
		if isAuthRevokedError(err) {
			a.logger.Info("Saved sign-in is no longer valid")
			a.removeSavedToken()
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *authService) StartManualAuth() error {
	config, err := a.oauthConfig()
	if err != nil {
		return err
	}

	codeChan := make(chan string, 1)
	listener := make(chan struct{})
	a.cloudSync.mutex.Lock()
	a.cloudSync.config = config
	a.cloudSync.listener = listener
	a.cloudSync.mutex.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "authorization code missing", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, authCompletePage)
		select {
		case codeChan <- code:
		default:
		}
	})
	server := &http.Server{Addr: ":" + authRedirectPort, Handler: mux}
	a.cloudSync.mutex.Lock()
	a.cloudSync.server = server
	a.cloudSync.mutex.Unlock()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error(err, "auth callback server stopped")
		}
	}()

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	if !a.isTestMode {
		wailsRuntime.BrowserOpenURL(a.ctx.ctx, authURL)
	}

	go func() {
		defer a.shutdownAuthServer()
		select {
		case code := <-codeChan:
			token, err := config.Exchange(context.Background(), code)
			if err != nil {
				a.logger.ErrorWithNotify(err, "Sign-in failed")
				return
			}
			if err := a.initializeStoreService(config, token); err != nil {
				a.logger.ErrorWithNotify(err, "Failed to connect to Google Drive")
				return
			}
		case <-listener:
			a.logger.Console("manual sign-in cancelled")
		case <-time.After(5 * time.Minute):
			a.logger.Info("Sign-in timed out")
		}
	}()
	return nil
}

func (a *authService) CancelAuth() error {
	a.cloudSync.mutex.Lock()
	listener := a.cloudSync.listener
	a.cloudSync.listener = nil
	a.cloudSync.mutex.Unlock()
	if listener != nil {
		close(listener)
	}
	return nil
}

func (a *authService) shutdownAuthServer() {
	a.cloudSync.mutex.Lock()
	server := a.cloudSync.server
	a.cloudSync.server = nil
	a.cloudSync.mutex.Unlock()
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
}

// initializeStoreService はトークンからDriveサービスを作り、
// ユーザー情報の取得、フォルダの確保、接続状態の更新まで行う。
func (a *authService) initializeStoreService(config *oauth2.Config, token *oauth2.Token) error {
	httpClient := config.Client(context.Background(), token)

	driveService, err := drive.NewService(context.Background(), option.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("failed to create drive service: %w", err)
	}
	userinfoService, err := oauth2api.NewService(context.Background(), option.WithHTTPClient(httpClient))
	if err != nil {
		return fmt.Errorf("failed to create userinfo service: %w", err)
	}
	userinfo, err := userinfoService.Userinfo.Get().Do()
	if err != nil {
		return fmt.Errorf("failed to fetch user identity: %w", err)
	}
	user := &UserIdentity{UID: userinfo.Id, Email: userinfo.Email}

	ops := NewStoreOperations(driveService)
	rootID, collectionsID, err := ensureStoreFolders(ops)
	if err != nil {
		return fmt.Errorf("failed to prepare store folders: %w", err)
	}

	// 更新されたトークン(リフレッシュ後)を保存し直す
	if saved, err := httpClientToken(config, token); err == nil {
		token = saved
	}
	if err := a.saveToken(token); err != nil {
		a.logger.Error(err, "failed to save token")
	}

	a.cloudSync.mutex.Lock()
	a.cloudSync.service = driveService
	a.cloudSync.token = token
	a.cloudSync.config = config
	a.cloudSync.rootFolderID = rootID
	a.cloudSync.collectionsFolderID = collectionsID
	a.cloudSync.isConnected = true
	a.cloudSync.user = user
	a.cloudSync.mutex.Unlock()

	a.saveSession(user)
	if a.onAuthChanged != nil {
		a.onAuthChanged(user, token.RefreshToken)
	}

	a.logger.NotifyStoreStatus("synced")
	if !a.isTestMode {
		wailsRuntime.EventsEmit(a.ctx.ctx, "auth:changed", user)
	}
	a.logger.Console("signed in as %s", user.Email)
	return nil
}

// httpClientToken はTokenSourceから現在有効なトークンを取り出す
func httpClientToken(config *oauth2.Config, token *oauth2.Token) (*oauth2.Token, error) {
	current, err := config.TokenSource(context.Background(), token).Token()
	if err != nil {
		return nil, err
	}
	if current.RefreshToken == "" {
		current.RefreshToken = token.RefreshToken
	}
	return current, nil
}

// ensureStoreFolders はDrive上のアプリ用フォルダ階層を確保する
func ensureStoreFolders(ops StoreOperations) (rootID, collectionsID string, err error) {
	rootID, err = ops.GetFolderID(rootStoreFolderName, "")
	if err != nil {
		return "", "", err
	}
	if rootID == "" {
		rootID, err = ops.CreateFolder(rootStoreFolderName, "")
		if err != nil {
			return "", "", err
		}
	}
	collectionsID, err = ops.GetFolderID(collectionsStoreFolderName, rootID)
	if err != nil {
		return "", "", err
	}
	if collectionsID == "" {
		collectionsID, err = ops.CreateFolder(collectionsStoreFolderName, rootID)
		if err != nil {
			return "", "", err
		}
	}
	return rootID, collectionsID, nil
}

// ---------- サインアウトとオフライン遷移 ----------

func (a *authService) Logout() error {
	user := a.cloudSync.User()

	a.cloudSync.mutex.Lock()
	a.cloudSync.service = nil
	a.cloudSync.token = nil
	a.cloudSync.isConnected = false
	a.cloudSync.user = nil
	a.cloudSync.rootFolderID = ""
	a.cloudSync.collectionsFolderID = ""
	a.cloudSync.mutex.Unlock()

	a.removeSavedToken()
	os.Remove(a.sessionFilePath())

	if a.onAuthChanged != nil {
		a.onAuthChanged(nil, "")
	}
	a.logger.NotifyStoreStatus("offline")
	if !a.isTestMode {
		wailsRuntime.EventsEmit(a.ctx.ctx, "auth:changed", nil)
	}
	if user != nil {
		a.logger.Console("signed out %s", user.Email)
	}
	return nil
}

// HandleOfflineTransition はエラーの種類に応じてオフライン状態へ落とす。
// トークン失効は保存済みトークンごと破棄して完全オフラインへ、
// それ以外(ネットワーク断など)は接続フラグだけ落として復帰を待つ。
func (a *authService) HandleOfflineTransition(err error) error {
	if err == nil {
		return nil
	}
	if isAuthRevokedError(err) {
		a.logger.Error(err, "authorization revoked, going offline")
		a.cloudSync.SetConnected(false)
		a.removeSavedToken()
		a.cloudSync.SetUser(nil)
		if a.onAuthChanged != nil {
			a.onAuthChanged(nil, "")
		}
		a.logger.NotifyStoreStatus("offline")
		return fmt.Errorf("authorization revoked: %w", err)
	}
	a.cloudSync.SetConnected(false)
	a.logger.NotifyStoreStatus("offline")
	return err
}

const authCompletePage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Bukuma</title>
<style>
body { font-family: sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #1e1e2e; color: #cdd6f4; }
.card { text-align: center; }
</style>
</head>
<body>
<div class="card">
<h2>Sign-in complete</h2>
<p>You can close this window and return to Bukuma.</p>
</div>
</body>
</html>`
