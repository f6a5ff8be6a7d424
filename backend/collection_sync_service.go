package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrNotConnected       = errors.New("not connected to remote store")
)

// CollectionSyncService はリモートストア上のコレクション群との同期を担う。
//
// 購読はポーリングで実装する。ドキュメントごとに modifiedTime の影
// (シャドウ)を持ち、変わったドキュメントだけをダウンロードし直して、
// 常に補正済みの全コレクション一覧をコールバックへ渡す。
//
// ミューテーションは read-modify-write。最新のドキュメントを取得し、
// 補正し、深いコピーにアップデータを適用し、updatedAt を更新して
// 書き戻す。同一コレクションへのミューテーションは直列化する。
type CollectionSyncService interface {
	Subscribe(onData func([]Collection), onError func(error)) (func(), error)
	Mutate(collectionID string, updater CollectionUpdater) error

	CreateCollection(name string) (*Collection, error)
	DeleteCollection(collectionID string) error
	RenameCollection(collectionID, name string) error
	CreateFolder(collectionID string, folder Folder) error
	RenameFolder(collectionID, folderID, name string) error
	SetFolderIcon(collectionID, folderID, icon string) error
	DeleteFolder(collectionID, folderID string) error
	AddBookmark(collectionID, folderID string, bookmark Bookmark) error
	UpdateBookmark(collectionID, folderID string, bookmark Bookmark) error
	RemoveBookmark(collectionID, folderID, bookmarkID string) error
	RestoreBookmark(collectionID, folderID string, bookmark Bookmark, index int) error
	ReorderFolders(collectionID string, folderIDs []string) error
	ReorderBookmarks(collectionID, folderID string, bookmarkIDs []string) error
	MoveBookmark(collectionID, sourceFolderID, targetFolderID, bookmarkID string, targetIndex int) error

	ResetPollingInterval()
	HasPendingWrites() bool
	WaitForPendingWrites()
}

// ---------- リトライ設定 ----------

type retryConfig struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
}

var (
	defaultRetryConfig = retryConfig{
		maxRetries:   3,
		initialDelay: 1 * time.Second,
		maxDelay:     10 * time.Second,
		factor:       2.0,
	}
	downloadRetryConfig = retryConfig{
		maxRetries:   4,
		initialDelay: 500 * time.Millisecond,
		maxDelay:     8 * time.Second,
		factor:       2.0,
	}
	uploadRetryConfig = retryConfig{
		maxRetries:   5,
		initialDelay: 1 * time.Second,
		maxDelay:     30 * time.Second,
		factor:       2.0,
	}
	listRetryConfig = retryConfig{
		maxRetries:   2,
		initialDelay: 500 * time.Millisecond,
		maxDelay:     4 * time.Second,
		factor:       2.0,
	}
)

// withRetry は操作を指数バックオフ付きで再試行する。
// 404 は再試行しても無駄なので即座に返す。
func withRetry[T any](config retryConfig, operation func() (T, error)) (T, error) {
	var result T
	var err error
	delay := config.initialDelay
	for attempt := 0; attempt <= config.maxRetries; attempt++ {
		result, err = operation()
		if err == nil || isNotFoundError(err) {
			return result, err
		}
		if attempt == config.maxRetries {
			break
		}
		time.Sleep(delay)
		delay = time.Duration(float64(delay) * config.factor)
		if delay > config.maxDelay {
			delay = config.maxDelay
		}
	}
	return result, err
}

// ---------- ポーリング設定 ----------

const (
	initialPollingInterval = 15 * time.Second
	maxPollingInterval     = 3 * time.Minute
	pollingIntervalFactor  = 1.5
)

// ---------- 実装 ----------

type docShadow struct {
	modifiedTime string
	collection   Collection
}

type collectionSyncService struct {
	ops    *storeOperationsQueue
	auth   AuthService
	logger AppLogger

	shadowMutex sync.Mutex
	shadow      map[string]*docShadow
	polledOnce  bool

	// コレクションIDごとのミューテーション直列化
	mutateMutex sync.Mutex
	mutateLocks map[string]*sync.Mutex

	resetPollingChan chan struct{}
	subscribeMutex   sync.Mutex
	stopPolling      context.CancelFunc
}

func NewCollectionSyncService(ops StoreOperations, auth AuthService, logger AppLogger) CollectionSyncService {
	return &collectionSyncService{
		ops:              NewStoreOperationsQueue(ops),
		auth:             auth,
		logger:           logger,
		shadow:           make(map[string]*docShadow),
		mutateLocks:      make(map[string]*sync.Mutex),
		resetPollingChan: make(chan struct{}, 1),
	}
}

func (s *collectionSyncService) HasPendingWrites() bool {
	return s.ops.HasPendingOperations()
}

// WaitForPendingWrites は全ての書き込みが完了するまでブロックする。終了処理用。
func (s *collectionSyncService) WaitForPendingWrites() {
	s.ops.WaitUntilIdle()
}

// ResetPollingInterval はポーリング間隔を初期値へ戻す。
// 自分が書き込んだ直後は変更がすぐ返ってくるはずなので、書き込み側が呼ぶ。
func (s *collectionSyncService) ResetPollingInterval() {
	select {
	case s.resetPollingChan <- struct{}{}:
	default:
	}
}

// ---------- 購読(ポーリングループ) ----------

// Subscribe はポーリングループを開始し、停止用の関数を返す。
// 初回は即座にポーリングし、以後は変化が無いほど間隔を広げる。
func (s *collectionSyncService) Subscribe(onData func([]Collection), onError func(error)) (func(), error) {
	s.subscribeMutex.Lock()
	defer s.subscribeMutex.Unlock()

	if s.stopPolling != nil {
		return nil, errors.New("already subscribed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopPolling = cancel

	go s.pollLoop(ctx, onData, onError)

	return func() {
		s.subscribeMutex.Lock()
		defer s.subscribeMutex.Unlock()
		if s.stopPolling != nil {
			s.stopPolling()
			s.stopPolling = nil
		}
	}, nil
}

func (s *collectionSyncService) pollLoop(ctx context.Context, onData func([]Collection), onError func(error)) {
	interval := initialPollingInterval
	first := true

	for {
		if !first {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.resetPollingChan:
				timer.Stop()
				interval = initialPollingInterval
				s.logger.Console("polling interval reset to %v", interval)
				continue
			case <-timer.C:
			}
		}
		first = false

		if !s.auth.IsConnected() {
			// 一時的なオフラインからの復帰を保存済みトークンで試みる
			if ok, err := s.auth.InitializeWithSavedToken(); err != nil || !ok {
				continue
			}
			s.logger.NotifyStoreStatus("synced")
		}
		// 書き込みが飛んでいる最中のポーリングは自分の変更と競合するので見送る
		if s.ops.HasPendingOperations() {
			interval = initialPollingInterval
			continue
		}

		collections, changed, err := s.pollOnce()
		if err != nil {
			interval = initialPollingInterval
			if handled := s.auth.HandleOfflineTransition(err); handled != nil {
				onError(handled)
			}
			continue
		}
		if changed {
			interval = initialPollingInterval
			onData(collections)
		} else {
			interval = time.Duration(float64(interval) * pollingIntervalFactor)
			if interval > maxPollingInterval {
				interval = maxPollingInterval
			}
		}
	}
}

// pollOnce はコレクション一覧を取得し、前回から変化があったかを返す。
// 初回(シャドウが空)は必ず changed=true で全件を返す。
func (s *collectionSyncService) pollOnce() ([]Collection, bool, error) {
	folderID := s.auth.GetCloudSync().CollectionsFolderID()
	if folderID == "" {
		return nil, false, ErrNotConnected
	}

	query := fmt.Sprintf("'%s' in parents and trashed=false and mimeType='application/json'", folderID)
	files, err := withRetry(listRetryConfig, func() ([]*driveFileInfo, error) {
		raw, err := s.ops.ListFiles(query)
		if err != nil {
			return nil, err
		}
		infos := make([]*driveFileInfo, len(raw))
		for i, f := range raw {
			infos[i] = &driveFileInfo{id: f.Id, modifiedTime: f.ModifiedTime, createdTime: f.CreatedTime}
		}
		return infos, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to list collections: %w", err)
	}

	s.shadowMutex.Lock()
	firstPoll := !s.polledOnce
	s.polledOnce = true
	s.shadowMutex.Unlock()

	changed := firstPoll
	collections := make([]Collection, 0, len(files))
	seen := make(map[string]bool, len(files))

	for _, file := range files {
		if seen[file.id] {
			continue
		}
		seen[file.id] = true

		s.shadowMutex.Lock()
		cached, ok := s.shadow[file.id]
		s.shadowMutex.Unlock()

		if ok && cached.modifiedTime == file.modifiedTime {
			collections = append(collections, cached.collection)
			continue
		}

		collection, err := s.downloadCollection(file.id, file.createdTime)
		if err != nil {
			// 壊れた・消えたドキュメントは一覧から外すだけにする
			s.logger.Console("skipping unreadable collection %s: %v", file.id, err)
			continue
		}
		changed = true
		s.shadowMutex.Lock()
		s.shadow[file.id] = &docShadow{modifiedTime: file.modifiedTime, collection: collection}
		s.shadowMutex.Unlock()
		collections = append(collections, collection)
	}

	// 消えたドキュメントのシャドウを掃除する
	s.shadowMutex.Lock()
	for id := range s.shadow {
		if !seen[id] {
			delete(s.shadow, id)
			changed = true
		}
	}
	s.shadowMutex.Unlock()

	sort.Slice(collections, func(i, j int) bool {
		if collections[i].CreatedAt != collections[j].CreatedAt {
			return collections[i].CreatedAt < collections[j].CreatedAt
		}
		return collections[i].ID < collections[j].ID
	})
	return collections, changed, nil
}

type driveFileInfo struct {
	id           string
	modifiedTime string
	createdTime  string
}

func (s *collectionSyncService) downloadCollection(fileID, createdTime string) (Collection, error) {
	content, err := withRetry(downloadRetryConfig, func() ([]byte, error) {
		return s.ops.DownloadFile(fileID)
	})
	if err != nil {
		return Collection{}, err
	}
	var raw Collection
	if err := json.Unmarshal(content, &raw); err != nil {
		return Collection{}, fmt.Errorf("failed to parse collection document: %w", err)
	}
	if raw.CreatedAt == 0 {
		if t, err := time.Parse(time.RFC3339, createdTime); err == nil {
			raw.CreatedAt = t.UnixMilli()
		}
	}
	return NormalizeCollection(fileID, raw), nil
}

// ---------- ミューテーション ----------

func (s *collectionSyncService) lockFor(collectionID string) *sync.Mutex {
	s.mutateMutex.Lock()
	defer s.mutateMutex.Unlock()
	lock, ok := s.mutateLocks[collectionID]
	if !ok {
		lock = &sync.Mutex{}
		s.mutateLocks[collectionID] = lock
	}
	return lock
}

// Mutate は read-modify-write を1サイクル実行する
func (s *collectionSyncService) Mutate(collectionID string, updater CollectionUpdater) error {
	if !s.auth.IsConnected() {
		return ErrNotConnected
	}
	lock := s.lockFor(collectionID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.downloadCollection(collectionID, "")
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
		}
		return s.auth.HandleOfflineTransition(err)
	}

	updated := CloneCollection(current)
	if err := updater(&updated); err != nil {
		return err
	}
	updated.UpdatedAt = nowUnixMilli()

	content, err := json.MarshalIndent(updated, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize collection: %w", err)
	}
	_, err = withRetry(uploadRetryConfig, func() (struct{}, error) {
		return struct{}{}, s.ops.UpdateFile(collectionID, content)
	})
	if err != nil {
		return s.auth.HandleOfflineTransition(fmt.Errorf("failed to upload collection: %w", err))
	}

	// シャドウを無効化し、次のポーリングで必ず再取得・配信させる
	s.shadowMutex.Lock()
	delete(s.shadow, collectionID)
	s.shadowMutex.Unlock()
	s.ResetPollingInterval()
	return nil
}

// ---------- コレクションのCRUD ----------

func (s *collectionSyncService) CreateCollection(name string) (*Collection, error) {
	if !s.auth.IsConnected() {
		return nil, ErrNotConnected
	}
	folderID := s.auth.GetCloudSync().CollectionsFolderID()
	if folderID == "" {
		return nil, ErrNotConnected
	}

	now := nowUnixMilli()
	doc := Collection{
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Folders:   []Folder{},
	}
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize collection: %w", err)
	}
	fileName := fmt.Sprintf("collection-%s.json", uuid.New().String())
	fileID, err := withRetry(uploadRetryConfig, func() (string, error) {
		return s.ops.CreateFile(fileName, content, folderID, "application/json")
	})
	if err != nil {
		return nil, s.auth.HandleOfflineTransition(fmt.Errorf("failed to create collection: %w", err))
	}
	created := NormalizeCollection(fileID, doc)
	s.ResetPollingInterval()
	return &created, nil
}

func (s *collectionSyncService) DeleteCollection(collectionID string) error {
	if !s.auth.IsConnected() {
		return ErrNotConnected
	}
	lock := s.lockFor(collectionID)
	lock.Lock()
	defer lock.Unlock()

	_, err := withRetry(defaultRetryConfig, func() (struct{}, error) {
		return struct{}{}, s.ops.DeleteFile(collectionID)
	})
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
		}
		return s.auth.HandleOfflineTransition(err)
	}
	s.shadowMutex.Lock()
	delete(s.shadow, collectionID)
	s.shadowMutex.Unlock()
	s.ResetPollingInterval()
	return nil
}

func (s *collectionSyncService) RenameCollection(collectionID, name string) error {
	return s.Mutate(collectionID, renameCollectionUpdater(name))
}

func (s *collectionSyncService) CreateFolder(collectionID string, folder Folder) error {
	return s.Mutate(collectionID, appendFolderUpdater(folder))
}

func (s *collectionSyncService) RenameFolder(collectionID, folderID, name string) error {
	return s.Mutate(collectionID, renameFolderUpdater(folderID, name))
}

func (s *collectionSyncService) SetFolderIcon(collectionID, folderID, icon string) error {
	return s.Mutate(collectionID, setFolderIconUpdater(folderID, icon))
}

func (s *collectionSyncService) DeleteFolder(collectionID, folderID string) error {
	return s.Mutate(collectionID, deleteFolderUpdater(folderID))
}

func (s *collectionSyncService) AddBookmark(collectionID, folderID string, bookmark Bookmark) error {
	return s.Mutate(collectionID, appendBookmarkUpdater(folderID, bookmark))
}

func (s *collectionSyncService) UpdateBookmark(collectionID, folderID string, bookmark Bookmark) error {
	return s.Mutate(collectionID, updateBookmarkUpdater(folderID, bookmark))
}

func (s *collectionSyncService) RemoveBookmark(collectionID, folderID, bookmarkID string) error {
	return s.Mutate(collectionID, removeBookmarkUpdater(folderID, bookmarkID))
}

func (s *collectionSyncService) RestoreBookmark(collectionID, folderID string, bookmark Bookmark, index int) error {
	return s.Mutate(collectionID, restoreBookmarkUpdater(folderID, bookmark, index))
}

func (s *collectionSyncService) ReorderFolders(collectionID string, folderIDs []string) error {
	return s.Mutate(collectionID, reorderFoldersUpdater(folderIDs))
}

func (s *collectionSyncService) ReorderBookmarks(collectionID, folderID string, bookmarkIDs []string) error {
	return s.Mutate(collectionID, reorderBookmarksUpdater(folderID, bookmarkIDs))
}

func (s *collectionSyncService) MoveBookmark(collectionID, sourceFolderID, targetFolderID, bookmarkID string, targetIndex int) error {
	return s.Mutate(collectionID, moveBookmarkUpdater(sourceFolderID, targetFolderID, bookmarkID, targetIndex))
}

// isAuthRevokedError はトークン失効を示すエラーかを判定する
func isAuthRevokedError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "invalid_grant") ||
		strings.Contains(message, "unauthorized") ||
		strings.Contains(message, "revoked") ||
		strings.Contains(message, "invalid_token")
}
