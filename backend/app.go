package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// App は全サービスを束ねるルート。Wailsへバインドされ、
// エクスポートされたメソッドがそのままフロントエンドのAPIになる。
type App struct {
	ctx        *Context
	appDataDir string
	isTestMode bool

	logger       AppLogger
	settings     *SettingsService
	sessionState *SessionStateStore
	cacheStore   CacheStore
	crypto       *CryptoService
	cache        *CollectionCache
	auth         AuthService
	syncService  CollectionSyncService
	reconciler   *OrderReconciler
	drag         *DragService
	actions      *ActionService
	favicons     *FaviconService
	tabs         *TabService
	files        *FileService

	frontendReady chan struct{}
	unsubscribe   func()

	mutex       sync.Mutex
	collections []Collection // 最新の描画用一覧
}

func NewApp() *App {
	return &App{
		isTestMode:    os.Getenv("BUKUMA_TEST_MODE") == "1",
		frontendReady: make(chan struct{}),
	}
}

// ---------- ライフサイクル ----------

// Startup はWailsのOnStartupから呼ばれる。ここで全サービスを組み立てる。
func (a *App) Startup(ctx context.Context) {
	a.ctx = NewContext(ctx)

	appDataDir, err := a.ensureAppDataDir()
	if err != nil {
		fmt.Printf("failed to prepare app data directory: %v\n", err)
	}
	a.appDataDir = appDataDir

	a.logger = NewAppLogger(a.ctx, a.isTestMode, appDataDir)
	a.settings = NewSettingsService(appDataDir)
	a.sessionState = NewSessionStateStore(appDataDir)
	a.cacheStore = NewCacheStore(appDataDir, a.logger)
	a.crypto = NewCryptoService()
	a.cache = NewCollectionCache(a.cacheStore, a.crypto, a.logger)
	a.reconciler = NewOrderReconciler()
	a.favicons = NewFaviconService(a.cacheStore, a.logger)
	a.tabs = NewTabService(NewFileTabBridge(appDataDir))
	a.files = NewFileService(a.ctx, a.logger)

	credentials := a.loadCredentials()
	a.auth = NewAuthService(a.ctx, appDataDir, credentials, a.logger, a.frontendReady, a.isTestMode, a.handleAuthChanged)

	storeOps := NewCloudStoreOperations(a.auth.GetCloudSync())
	a.syncService = NewCollectionSyncService(storeOps, a.auth, a.logger)
	a.drag = NewDragService(a.reconciler, a.syncService, a.logger)
	a.actions = NewActionService(a.syncService, a.reconciler, a.logger)

	a.restoreFromCache()
}

// DomReady はフロントエンドの準備完了後にリモート接続を開始する
func (a *App) DomReady(ctx context.Context) {
	go func() {
		<-a.auth.GetFrontendReadyChan()
		a.publishCollections(a.currentCollections())
		a.initializeSync()
	}()
}

// BeforeClose はウィンドウ状態を保存して終了を許可する
func (a *App) BeforeClose(ctx context.Context) bool {
	if !a.isTestMode {
		width, height := wailsRuntime.WindowGetSize(ctx)
		x, y := wailsRuntime.WindowGetPosition(ctx)
		maximized := wailsRuntime.WindowIsMaximised(ctx)
		if err := a.settings.SaveWindowState(width, height, x, y, maximized); err != nil {
			a.logger.Error(err, "failed to save window state")
		}
	}
	a.stopSubscription()
	// 進行中のリモート書き込みを失わないよう、完了を待ってから閉じる
	if a.syncService != nil && a.syncService.HasPendingWrites() {
		a.syncService.WaitForPendingWrites()
	}
	if a.cacheStore != nil {
		a.cacheStore.Close()
	}
	return false
}

func (a *App) ensureAppDataDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(configDir, "Bukuma")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// loadCredentials はOAuthクライアント設定を読み込む。
// 無ければサインイン機能を無効にしたまま起動する(キャッシュ閲覧はできる)。
func (a *App) loadCredentials() []byte {
	data, err := os.ReadFile(filepath.Join(a.appDataDir, "credentials.json"))
	if err != nil {
		a.logger.Console("no OAuth credentials found, sign-in disabled")
		return nil
	}
	return data
}

// restoreFromCache はコールドスタート時に暗号化キャッシュから初期状態を復元する
func (a *App) restoreFromCache() {
	uid, secret := a.auth.SavedCacheSecret()
	if uid == "" || secret == "" {
		return
	}
	a.crypto.Configure(uid, secret)
	cached := a.cache.GetCollections(uid)
	if len(cached) == 0 {
		return
	}
	a.logger.Console("restored %d collections from cache", len(cached))
	a.setCollections(a.reconciler.Apply(cached))
}

// initializeSync は保存済みトークンでサインインし、購読を開始する
func (a *App) initializeSync() {
	a.logger.NotifyStoreStatus("syncing")
	ok, err := a.auth.InitializeWithSavedToken()
	if err != nil {
		a.logger.Error(err, "failed to restore sign-in")
		a.logger.NotifyStoreStatus("offline")
		return
	}
	if !ok {
		a.logger.NotifyStoreStatus("offline")
		return
	}
	a.StartSync()
}

// startSubscriptionLocked は a.mutex を保持した状態で呼ぶこと
func (a *App) startSubscriptionLocked() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	unsubscribe, err := a.syncService.Subscribe(a.handleRemoteCollections, a.handleSyncError)
	if err != nil {
		a.logger.Error(err, "failed to subscribe to remote store")
		return
	}
	a.unsubscribe = unsubscribe
}

func (a *App) stopSubscription() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

// handleRemoteCollections はリモートのスナップショットを受けてUIとキャッシュを更新する
func (a *App) handleRemoteCollections(collections []Collection) {
	render := a.reconciler.Apply(collections)
	a.setCollections(render)
	a.actions.SetReady(true)
	a.sessionState.MarkSynced()

	if user := a.auth.CurrentUser(); user != nil {
		a.cache.SetCollections(user.UID, collections)
	}
	a.publishCollections(render)
	a.logger.NotifyStoreStatus("synced")
}

func (a *App) handleSyncError(err error) {
	a.logger.Error(err, "sync subscription error")
}

// handleAuthChanged はサインイン・サインアウトを受けて鍵とキャッシュを切り替える
func (a *App) handleAuthChanged(user *UserIdentity, cacheSecret string) {
	if user != nil {
		a.crypto.Configure(user.UID, cacheSecret)
		a.sessionState.SetUser(user.UID, user.Email)
		a.cache.SetUser(user.UID, CachedUser{UID: user.UID, Email: user.Email})
		// 手動サインイン直後はここが購読開始の入口になる
		a.StartSync()
		return
	}

	// サインアウト: このユーザーの痕跡をローカルから消す
	if uid := a.sessionState.Get().LastUID; uid != "" {
		a.cache.Clear(uid)
	}
	a.crypto.Configure("", "")
	a.sessionState.Clear()
	a.actions.SetReady(false)
	a.stopSubscription()
	a.reconciler.Reset()
	a.setCollections([]Collection{})
	a.publishCollections([]Collection{})
}

func (a *App) setCollections(collections []Collection) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.collections = collections
}

func (a *App) currentCollections() []Collection {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.collections == nil {
		return []Collection{}
	}
	return a.collections
}

func (a *App) publishCollections(collections []Collection) {
	a.logger.NotifyCollections(collections)
}

// ---------- フロントエンドAPI: 起動と認証 ----------

// NotifyFrontendReady はフロントエンドの初期化完了を通知する
func (a *App) NotifyFrontendReady() {
	a.auth.NotifyFrontendReady()
}

// GetCollections は現在の描画用コレクション一覧を返す
func (a *App) GetCollections() []Collection {
	return a.currentCollections()
}

// GetCurrentUser はサインイン中(またはキャッシュ済み)のユーザーを返す
func (a *App) GetCurrentUser() *UserIdentity {
	if user := a.auth.CurrentUser(); user != nil {
		return user
	}
	state := a.sessionState.Get()
	if state.LastUID == "" {
		return nil
	}
	if cached := a.cache.GetUser(state.LastUID); cached != nil {
		return &UserIdentity{UID: cached.UID, Email: cached.Email}
	}
	return &UserIdentity{UID: state.LastUID, Email: state.LastEmail}
}

// SignIn は手動サインインを開始する
func (a *App) SignIn() error {
	if err := a.auth.StartManualAuth(); err != nil {
		a.logger.ErrorWithNotify(err, "Failed to start sign-in")
		return err
	}
	return nil
}

// CancelSignIn は進行中のサインインを中断する
func (a *App) CancelSignIn() error {
	return a.auth.CancelAuth()
}

// SignOut はサインアウトし、ローカルキャッシュを破棄する
func (a *App) SignOut() error {
	return a.auth.Logout()
}

// IsConnected はリモートストアと接続中かを返す
func (a *App) IsConnected() bool {
	return a.auth.IsConnected()
}

// StartSync は手動サインイン完了後の購読開始に使う
func (a *App) StartSync() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.auth.IsConnected() && a.unsubscribe == nil {
		a.startSubscriptionLocked()
	}
}

// ---------- フロントエンドAPI: コレクション操作 ----------

func (a *App) CreateCollection(name string) (*Collection, error) {
	return a.actions.CreateCollection(name)
}

func (a *App) RenameCollection(collectionID, name string) error {
	return a.actions.RenameCollection(collectionID, name)
}

func (a *App) DeleteCollection(collectionID string) error {
	return a.actions.DeleteCollection(collectionID)
}

func (a *App) CreateFolder(collectionID, name, icon string) (*Folder, error) {
	return a.actions.CreateFolder(collectionID, name, icon)
}

func (a *App) RenameFolder(collectionID, folderID, name string) error {
	return a.actions.RenameFolder(collectionID, folderID, name)
}

func (a *App) SetFolderIcon(collectionID, folderID, icon string) error {
	return a.actions.SetFolderIcon(collectionID, folderID, icon)
}

func (a *App) DeleteFolder(collectionID, folderID string) error {
	return a.actions.DeleteFolder(collectionID, folderID)
}

func (a *App) AddBookmark(collectionID, folderID, title, url, note string) (*Bookmark, error) {
	return a.actions.AddBookmark(collectionID, folderID, title, url, note)
}

func (a *App) UpdateBookmark(collectionID, folderID string, bookmark Bookmark) error {
	return a.actions.UpdateBookmark(collectionID, folderID, bookmark)
}

func (a *App) DeleteBookmark(collectionID, folderID, bookmarkID string) error {
	return a.actions.DeleteBookmark(collectionID, folderID, bookmarkID)
}

func (a *App) UndoDeleteBookmark(token string) error {
	return a.actions.UndoDeleteBookmark(token)
}

// ---------- フロントエンドAPI: ドラッグ&ドロップ ----------

func (a *App) UpdateLayout(rects []LayoutRect) {
	a.drag.UpdateLayout(rects)
}

func (a *App) DragStart(kind DragItemKind, itemID string) error {
	return a.drag.DragStart(kind, itemID)
}

// DragOver はドラッグ中のポインタ位置を受け、並びが変わればUIへ再配信する
func (a *App) DragOver(p DragPointer) {
	if a.drag.DragOver(p) {
		render := a.reconciler.Render()
		a.setCollections(render)
		a.publishCollections(render)
	}
}

func (a *App) DragEnd(p DragPointer) {
	a.drag.DragEnd(p)
}

func (a *App) DragCancel() {
	a.drag.DragCancel()
}

// ---------- フロントエンドAPI: その他 ----------

// ResolveFavicon はブックマークのファビコンをdata URLで返す
func (a *App) ResolveFavicon(bookmarkURL, overrideURL string) string {
	return a.favicons.Resolve(bookmarkURL, overrideURL)
}

// OpenURL はブックマークを既定のブラウザで開く
func (a *App) OpenURL(url string) {
	if !a.isTestMode {
		wailsRuntime.BrowserOpenURL(a.ctx.ctx, url)
	}
}

// ListBrowserTabs は拡張機能ブリッジ経由で開いているタブ一覧を返す
func (a *App) ListBrowserTabs() []Tab {
	tabs, ok := a.tabs.ListCurrentWindowTabs()
	if !ok {
		return []Tab{}
	}
	return tabs
}

// AddBrowserTabsToFolder は開いているタブを一括でブックマークにする
func (a *App) AddBrowserTabsToFolder(collectionID, folderID string) (int, error) {
	tabs, ok := a.tabs.ListCurrentWindowTabs()
	if !ok {
		return 0, ErrTabBridgeUnavailable
	}
	added := 0
	for _, tab := range tabs {
		if tab.URL == "" {
			continue
		}
		if _, err := a.actions.AddBookmark(collectionID, folderID, tab.Title, tab.URL, ""); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// GetSettings は設定を返す
func (a *App) GetSettings() (*Settings, error) {
	return a.settings.LoadSettings()
}

// SaveSettings は設定を保存する
func (a *App) SaveSettings(settings *Settings) error {
	return a.settings.SaveSettings(settings)
}

// ExportCollection はコレクションをJSONファイルへ書き出す
func (a *App) ExportCollection(collectionID string) error {
	for _, c := range a.currentCollections() {
		if c.ID == collectionID {
			return a.files.ExportCollection(c)
		}
	}
	return ErrCollectionNotFound
}

// ImportCollection はJSONファイルから新しいコレクションを作る。
// IDはすべて採番し直す(元ファイルのIDと衝突させない)。
func (a *App) ImportCollection() (*Collection, error) {
	doc, err := a.files.ReadCollectionFile()
	if err != nil {
		a.logger.ErrorWithNotify(err, "Failed to import collection")
		return nil, err
	}
	if doc == nil {
		return nil, nil // キャンセル
	}
	created, err := a.actions.CreateCollection(doc.Name)
	if err != nil {
		return nil, err
	}
	folders := make([]Folder, len(doc.Folders))
	for i, folder := range doc.Folders {
		folder.ID = uuid.New().String()
		bookmarks := make([]Bookmark, len(folder.Bookmarks))
		for j, bookmark := range folder.Bookmarks {
			bookmark.ID = uuid.New().String()
			bookmarks[j] = bookmark
		}
		folder.Bookmarks = bookmarks
		folders[i] = folder
	}
	if len(folders) > 0 {
		err = a.syncService.Mutate(created.ID, func(c *Collection) error {
			c.Folders = folders
			return nil
		})
		if err != nil {
			a.logger.ErrorWithNotify(err, "Failed to import collection contents")
			return created, err
		}
	}
	a.logger.NotifySuccess("Imported %q", created.Name)
	return created, nil
}
