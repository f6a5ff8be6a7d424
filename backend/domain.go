package backend

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
)

// ---------- アプリケーションのコアドメインモデル ----------

// Bookmark は1件のブックマークを表す
type Bookmark struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Note       string `json:"note"`
	FaviconURL string `json:"faviconUrl,omitempty"`
	CreatedAt  int64  `json:"createdAt"` // エポックミリ秒
	UpdatedAt  int64  `json:"updatedAt"` // エポックミリ秒
}

// Folder はコレクション内のブックマークのグループを表す
type Folder struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Icon      string     `json:"icon,omitempty"`
	CreatedAt int64      `json:"createdAt"`
	Bookmarks []Bookmark `json:"bookmarks"`
}

// Collection はリモートストア上の1ドキュメントに対応する最上位の単位。
// ID はストア側で採番されたドキュメントIDをそのまま使う。
type Collection struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
	Folders   []Folder `json:"folders"`
}

// UserIdentity はサインイン中のユーザーを表す
type UserIdentity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// CachedUser は暗号化キャッシュに保存するユーザー情報
type CachedUser struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Settings はウィンドウ状態と表示設定
type Settings struct {
	WindowWidth        int  `json:"windowWidth"`
	WindowHeight       int  `json:"windowHeight"`
	WindowX            int  `json:"windowX"`
	WindowY            int  `json:"windowY"`
	IsMaximized        bool `json:"isMaximized"`
	IsDarkMode         bool `json:"isDarkMode"`
	SidebarWidth       int  `json:"sidebarWidth"`
	ShowFavicons       bool `json:"showFavicons"`
	OpenLinksInBrowser bool `json:"openLinksInBrowser"`
}

// Tab はブラウザの開いているタブ1件(拡張機能ブリッジ経由)
type Tab struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Context はWailsのコンテキストを保持する
type Context struct {
	ctx context.Context
}

func NewContext(ctx context.Context) *Context {
	return &Context{ctx: ctx}
}

// ---------- 表示用プレースホルダと補正 ----------

const (
	placeholderCollectionName = "Untitled collection"
	placeholderFolderName     = "Untitled folder"
	placeholderBookmarkTitle  = "Untitled bookmark"
)

// folderIconCatalog はフォルダに設定できるアイコン名の一覧。
// 一覧にない値は読み込み時に空文字へ落とす。
var folderIconCatalog = map[string]bool{
	"default":  true,
	"work":     true,
	"home":     true,
	"star":     true,
	"book":     true,
	"code":     true,
	"music":    true,
	"games":    true,
	"shopping": true,
	"travel":   true,
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// NormalizeCollection はリモートから読んだ生のコレクションを表示可能な形へ補正する。
// id はストア側のドキュメントIDで、ドキュメント本文より常に優先する。
// 欠損フィールドはここで埋めるので、以降の層は補正済みであることを前提にできる。
func NormalizeCollection(id string, c Collection) Collection {
	c.ID = id
	if c.Name == "" {
		c.Name = placeholderCollectionName
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = nowUnixMilli()
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = c.CreatedAt
	}
	if c.Folders == nil {
		c.Folders = []Folder{}
	}
	for i := range c.Folders {
		c.Folders[i] = normalizeFolder(c.Folders[i])
	}
	return c
}

func normalizeFolder(f Folder) Folder {
	if f.Name == "" {
		f.Name = placeholderFolderName
	}
	if f.Icon != "" && !folderIconCatalog[f.Icon] {
		f.Icon = ""
	}
	if f.CreatedAt == 0 {
		f.CreatedAt = nowUnixMilli()
	}
	if f.Bookmarks == nil {
		f.Bookmarks = []Bookmark{}
	}
	for i := range f.Bookmarks {
		f.Bookmarks[i] = normalizeBookmark(f.Bookmarks[i])
	}
	return f
}

func normalizeBookmark(b Bookmark) Bookmark {
	if b.Title == "" {
		b.Title = placeholderBookmarkTitle
	}
	if b.CreatedAt == 0 {
		b.CreatedAt = nowUnixMilli()
	}
	if b.UpdatedAt == 0 {
		b.UpdatedAt = b.CreatedAt
	}
	return b
}

// CloneCollection はコレクションの深いコピーを返す。
// Mutate のアップデータに渡す前に必ずコピーし、共有状態の書き換えを防ぐ。
func CloneCollection(c Collection) Collection {
	out := c
	out.Folders = make([]Folder, len(c.Folders))
	for i, f := range c.Folders {
		nf := f
		nf.Bookmarks = make([]Bookmark, len(f.Bookmarks))
		copy(nf.Bookmarks, f.Bookmarks)
		out.Folders[i] = nf
	}
	return out
}

func cloneCollections(cols []Collection) []Collection {
	out := make([]Collection, len(cols))
	for i, c := range cols {
		out[i] = CloneCollection(c)
	}
	return out
}

// ---------- クラウド同期の状態 ----------

// CloudSync はGoogle Driveとの接続状態を保持する
type CloudSync struct {
	service             *drive.Service
	token               *oauth2.Token
	config              *oauth2.Config
	server              *http.Server
	listener            chan struct{}
	rootFolderID        string
	collectionsFolderID string
	mutex               sync.Mutex
	isConnected         bool
	user                *UserIdentity
}

func (cs *CloudSync) SetConnected(connected bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.isConnected = connected
}

func (cs *CloudSync) IsConnected() bool {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	return cs.isConnected
}

func (cs *CloudSync) SetService(service *drive.Service) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.service = service
}

func (cs *CloudSync) GetService() *drive.Service {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	return cs.service
}

func (cs *CloudSync) SetFolderIDs(rootID, collectionsID string) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.rootFolderID = rootID
	cs.collectionsFolderID = collectionsID
}

func (cs *CloudSync) CollectionsFolderID() string {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	return cs.collectionsFolderID
}

func (cs *CloudSync) SetUser(user *UserIdentity) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	cs.user = user
}

func (cs *CloudSync) User() *UserIdentity {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	return cs.user
}
