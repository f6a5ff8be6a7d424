package backend

// テスト共通のフェイク実装。
// リモートストアとの通信を伴うサービスはここのフェイクに差し替えてテストする。

import (
	"fmt"
	"sync"

	"google.golang.org/api/drive/v3"
)

func newTestLogger() AppLogger {
	return NewAppLogger(nil, true, "")
}

// ---------- 同期サービスのフェイク ----------

// syncCall は発行されたリモート操作1件の記録
type syncCall struct {
	Method       string
	CollectionID string
	FolderID     string
	TargetFolder string
	BookmarkID   string
	IDs          []string
	Index        int
	Bookmark     Bookmark
}

// fakeSyncService は全操作を記録するCollectionSyncServiceの実装
type fakeSyncService struct {
	mutex        sync.Mutex
	calls        []syncCall
	subscribed   int
	unsubscribed int
	// 設定されていれば全操作がこのエラーを返す
	err error
	// CreateCollectionが返すコレクション
	created *Collection
}

func newFakeSyncService() *fakeSyncService {
	return &fakeSyncService{}
}

func (f *fakeSyncService) record(call syncCall) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeSyncService) Calls() []syncCall {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := make([]syncCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeSyncService) CallsFor(method string) []syncCall {
	var out []syncCall
	for _, call := range f.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (f *fakeSyncService) Subscribe(onData func([]Collection), onError func(error)) (func(), error) {
	f.mutex.Lock()
	f.subscribed++
	f.mutex.Unlock()
	return func() {
		f.mutex.Lock()
		f.unsubscribed++
		f.mutex.Unlock()
	}, nil
}

func (f *fakeSyncService) subscribeCounts() (int, int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.subscribed, f.unsubscribed
}

func (f *fakeSyncService) Mutate(collectionID string, updater CollectionUpdater) error {
	return f.record(syncCall{Method: "Mutate", CollectionID: collectionID})
}

func (f *fakeSyncService) CreateCollection(name string) (*Collection, error) {
	if err := f.record(syncCall{Method: "CreateCollection"}); err != nil {
		return nil, err
	}
	if f.created != nil {
		return f.created, nil
	}
	c := NormalizeCollection("created-id", Collection{Name: name})
	return &c, nil
}

func (f *fakeSyncService) DeleteCollection(collectionID string) error {
	return f.record(syncCall{Method: "DeleteCollection", CollectionID: collectionID})
}

func (f *fakeSyncService) RenameCollection(collectionID, name string) error {
	return f.record(syncCall{Method: "RenameCollection", CollectionID: collectionID})
}

func (f *fakeSyncService) CreateFolder(collectionID string, folder Folder) error {
	return f.record(syncCall{Method: "CreateFolder", CollectionID: collectionID, FolderID: folder.ID})
}

func (f *fakeSyncService) RenameFolder(collectionID, folderID, name string) error {
	return f.record(syncCall{Method: "RenameFolder", CollectionID: collectionID, FolderID: folderID})
}

func (f *fakeSyncService) SetFolderIcon(collectionID, folderID, icon string) error {
	return f.record(syncCall{Method: "SetFolderIcon", CollectionID: collectionID, FolderID: folderID})
}

func (f *fakeSyncService) DeleteFolder(collectionID, folderID string) error {
	return f.record(syncCall{Method: "DeleteFolder", CollectionID: collectionID, FolderID: folderID})
}

func (f *fakeSyncService) AddBookmark(collectionID, folderID string, bookmark Bookmark) error {
	return f.record(syncCall{Method: "AddBookmark", CollectionID: collectionID, FolderID: folderID, Bookmark: bookmark})
}

func (f *fakeSyncService) UpdateBookmark(collectionID, folderID string, bookmark Bookmark) error {
	return f.record(syncCall{Method: "UpdateBookmark", CollectionID: collectionID, FolderID: folderID, Bookmark: bookmark})
}

func (f *fakeSyncService) RemoveBookmark(collectionID, folderID, bookmarkID string) error {
	return f.record(syncCall{Method: "RemoveBookmark", CollectionID: collectionID, FolderID: folderID, BookmarkID: bookmarkID})
}

func (f *fakeSyncService) RestoreBookmark(collectionID, folderID string, bookmark Bookmark, index int) error {
	return f.record(syncCall{Method: "RestoreBookmark", CollectionID: collectionID, FolderID: folderID, Bookmark: bookmark, Index: index})
}

func (f *fakeSyncService) ReorderFolders(collectionID string, folderIDs []string) error {
	return f.record(syncCall{Method: "ReorderFolders", CollectionID: collectionID, IDs: folderIDs})
}

func (f *fakeSyncService) ReorderBookmarks(collectionID, folderID string, bookmarkIDs []string) error {
	return f.record(syncCall{Method: "ReorderBookmarks", CollectionID: collectionID, FolderID: folderID, IDs: bookmarkIDs})
}

func (f *fakeSyncService) MoveBookmark(collectionID, sourceFolderID, targetFolderID, bookmarkID string, targetIndex int) error {
	return f.record(syncCall{
		Method:       "MoveBookmark",
		CollectionID: collectionID,
		FolderID:     sourceFolderID,
		TargetFolder: targetFolderID,
		BookmarkID:   bookmarkID,
		Index:        targetIndex,
	})
}

func (f *fakeSyncService) ResetPollingInterval() {}

func (f *fakeSyncService) HasPendingWrites() bool { return false }

func (f *fakeSyncService) WaitForPendingWrites() {}

// ---------- 認証サービスのフェイク ----------

type fakeAuthService struct {
	cloudSync *CloudSync
	connected bool
	user      *UserIdentity
}

func newFakeAuthService() *fakeAuthService {
	cs := &CloudSync{}
	cs.SetFolderIDs("root-folder", "collections-folder")
	cs.SetConnected(true)
	return &fakeAuthService{cloudSync: cs, connected: true}
}

func (f *fakeAuthService) InitializeWithSavedToken() (bool, error) { return f.connected, nil }
func (f *fakeAuthService) StartManualAuth() error                  { return nil }
func (f *fakeAuthService) CancelAuth() error                       { return nil }
func (f *fakeAuthService) Logout() error                           { return nil }
func (f *fakeAuthService) CurrentUser() *UserIdentity              { return f.user }
func (f *fakeAuthService) SavedCacheSecret() (string, string)      { return "", "" }
func (f *fakeAuthService) IsConnected() bool                       { return f.connected }
func (f *fakeAuthService) IsTestMode() bool                        { return true }
func (f *fakeAuthService) GetCloudSync() *CloudSync                { return f.cloudSync }
func (f *fakeAuthService) HandleOfflineTransition(err error) error { return err }
func (f *fakeAuthService) NotifyFrontendReady()                    {}
func (f *fakeAuthService) GetFrontendReadyChan() chan struct{}     { return nil }

// ---------- ストア操作のモック ----------

type mockStoredFile struct {
	name         string
	content      []byte
	parentID     string
	createdTime  string
	modifiedTime string
}

// mockStoreOperations はインメモリのDriveもどき
type mockStoreOperations struct {
	mutex         sync.Mutex
	files         map[string]*mockStoredFile
	nextID        int
	modifiedClock int

	downloadCount map[string]int
	listCount     int
	// 設定されていれば該当操作がこのエラーを返す
	downloadErr error
	updateErr   error
	listErr     error
}

func newMockStoreOperations() *mockStoreOperations {
	return &mockStoreOperations{
		files:         make(map[string]*mockStoredFile),
		downloadCount: make(map[string]int),
	}
}

func (m *mockStoreOperations) putFile(id string, content []byte, parentID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.modifiedClock++
	m.files[id] = &mockStoredFile{
		content:      content,
		parentID:     parentID,
		createdTime:  "2026-01-01T00:00:00Z",
		modifiedTime: fmt.Sprintf("t%06d", m.modifiedClock),
	}
}

func (m *mockStoreOperations) CreateFile(name string, content []byte, parentID string, mimeType string) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.nextID++
	m.modifiedClock++
	id := fmt.Sprintf("file-%d", m.nextID)
	m.files[id] = &mockStoredFile{
		name:         name,
		content:      content,
		parentID:     parentID,
		createdTime:  "2026-01-01T00:00:00Z",
		modifiedTime: fmt.Sprintf("t%06d", m.modifiedClock),
	}
	return id, nil
}

func (m *mockStoreOperations) UpdateFile(fileID string, content []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	file, ok := m.files[fileID]
	if !ok {
		return fmt.Errorf("googleapi: Error 404: File not found: %s, notFound", fileID)
	}
	m.modifiedClock++
	file.content = content
	file.modifiedTime = fmt.Sprintf("t%06d", m.modifiedClock)
	return nil
}

func (m *mockStoreOperations) DeleteFile(fileID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.files[fileID]; !ok {
		return fmt.Errorf("googleapi: Error 404: File not found: %s, notFound", fileID)
	}
	delete(m.files, fileID)
	return nil
}

func (m *mockStoreOperations) DownloadFile(fileID string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.downloadCount[fileID]++
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	file, ok := m.files[fileID]
	if !ok {
		return nil, fmt.Errorf("googleapi: Error 404: File not found: %s, notFound", fileID)
	}
	out := make([]byte, len(file.content))
	copy(out, file.content)
	return out, nil
}

func (m *mockStoreOperations) CreateFolder(name string, parentID string) (string, error) {
	return m.CreateFile(name, nil, parentID, "application/vnd.google-apps.folder")
}

func (m *mockStoreOperations) GetFolderID(name string, parentID string) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for id, file := range m.files {
		if file.name == name && file.parentID == parentID {
			return id, nil
		}
	}
	return "", nil
}

func (m *mockStoreOperations) ListFiles(query string) ([]*drive.File, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.listCount++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*drive.File
	for id, file := range m.files {
		out = append(out, &drive.File{
			Id:           id,
			Name:         file.name,
			CreatedTime:  file.createdTime,
			ModifiedTime: file.modifiedTime,
		})
	}
	return out, nil
}

func (m *mockStoreOperations) GetFileID(name string, parentID string) (string, error) {
	return m.GetFolderID(name, parentID)
}
