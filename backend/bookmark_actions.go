package backend

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrStillSyncing = errors.New("still syncing with remote store")
	ErrEmptyName    = errors.New("name must not be empty")
	ErrEmptyURL     = errors.New("url must not be empty")
	ErrUndoExpired  = errors.New("nothing to undo")
)

// bookmarkUndo は直前の削除を取り消すための記録
type bookmarkUndo struct {
	Token        string
	CollectionID string
	FolderID     string
	Bookmark     Bookmark
	Index        int
}

// ActionService はUIから呼ばれるユーザー操作の入口。
// 入力の検証、同期完了前のガード、操作結果の通知、削除のアンドゥを担い、
// 実際の書き込みは同期サービスへ委譲する。
type ActionService struct {
	sync       CollectionSyncService
	reconciler *OrderReconciler
	logger     AppLogger

	mutex sync.Mutex
	ready bool
	// 直近の削除1件だけを保持する
	pendingUndo *bookmarkUndo
}

func NewActionService(syncService CollectionSyncService, reconciler *OrderReconciler, logger AppLogger) *ActionService {
	return &ActionService{
		sync:       syncService,
		reconciler: reconciler,
		logger:     logger,
	}
}

// SetReady は最初のリモートスナップショット受信後に呼ばれる。
// それまでの書き込み操作は受け付けない(古い状態への上書きを防ぐ)。
func (s *ActionService) SetReady(ready bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.ready = ready
}

func (s *ActionService) guard() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.ready {
		s.logger.ErrorWithNotify(nil, "Still syncing, please wait a moment")
		return ErrStillSyncing
	}
	return nil
}

// ---------- コレクション ----------

func (s *ActionService) CreateCollection(name string) (*Collection, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		s.logger.ErrorWithNotify(nil, "Collection name must not be empty")
		return nil, ErrEmptyName
	}
	created, err := s.sync.CreateCollection(name)
	if err != nil {
		s.logger.ErrorWithNotify(err, "Failed to create collection")
		return nil, err
	}
	s.logger.NotifySuccess("Created collection %q", name)
	return created, nil
}

func (s *ActionService) RenameCollection(collectionID, name string) error {
	if err := s.guard(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		s.logger.ErrorWithNotify(nil, "Collection name must not be empty")
		return ErrEmptyName
	}
	if err := s.sync.RenameCollection(collectionID, name); err != nil {
		s.logger.ErrorWithNotify(err, "Failed to rename collection")
		return err
	}
	return nil
}

func (s *ActionService) DeleteCollection(collectionID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.sync.DeleteCollection(collectionID); err != nil {
		s.logger.ErrorWithNotify(err, "Failed to delete collection")
		return err
	}
	s.logger.NotifySuccess("Collection deleted")
	return nil
}

// ---------- フォルダ ----------

func (s *ActionService) CreateFolder(collectionID, name, icon string) (*Folder, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		s.logger.ErrorWithNotify(nil, "Folder name must not be empty")
		return nil, ErrEmptyName
	}
	if !folderIconCatalog[icon] {
		icon = ""
	}
	folder := Folder{
		ID:        uuid.New().String(),
		Name:      name,
		Icon:      icon,
		CreatedAt: nowUnixMilli(),
		Bookmarks: []Bookmark{},
	}
	if err := s.sync.CreateFolder(collectionID, folder); err != nil {
		s.logger.ErrorWithNotify(err, "Failed to create folder")
		return nil, err
	}
	s.logger.NotifySuccess("Created folder %q", name)
	return &folder, nil
}

func (s *ActionService) RenameFolder(collectionID, folderID, name string) error {
	if err := s.guard(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		s.logger.ErrorWithNotify(nil, "Folder name must not be empty")
		return ErrEmptyName
	}
	if err := s.sync.RenameFolder(collectionID, folderID, name); err != nil {
		s.logger.ErrorWithNotify(err, "Failed to rename folder")
		return err
	}
	return nil
}

func (s *ActionService) SetFolderIcon(collectionID, folderID, icon string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if icon != "" && !folderIconCatalog[icon] {
		return errors.New("unknown folder icon: " + icon)
	}
	if err := s.sync.SetFolderIcon(collectionID, folderID, icon); err != nil {
		s.logger.ErrorWithNotify(err, "Failed to change folder icon")
		return err
	}
	return nil
}

func (s *ActionService) DeleteFolder(collectionID, folderID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.sync.DeleteFolder(collectionID, folderID); err != nil {
		s.logger.ErrorWithNotify(err, "Failed to delete folder")
		return err
	}
	s.logger.NotifySuccess("Folder deleted")
	return nil
}

// ---------- ブックマーク ----------

// normalizeBookmarkURL はスキームの無い入力に https:// を補う
func normalizeBookmarkURL(raw string) string {
	if !strings.Contains(raw, "://") {
		return "https://" + raw
	}
	return raw
}

func (s *ActionService) AddBookmark(collectionID, folderID, title, rawURL, note string) (*Bookmark, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		s.logger.ErrorWithNotify(nil, "URL must not be empty")
		return nil, ErrEmptyURL
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = placeholderBookmarkTitle
	}
	now := nowUnixMilli()
	bookmark := Bookmark{
		ID:        uuid.New().String(),
		Title:     title,
		URL:       normalizeBookmarkURL(rawURL),
		Note:      strings.TrimSpace(note),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sync.AddBookmark(collectionID, folderID, bookmark); err != nil {
		s.logger.ErrorWithNotify(err, "Failed to add bookmark")
		return nil, err
	}
	s.logger.NotifySuccess("Added %q", title)
	return &bookmark, nil
}

func (s *ActionService) UpdateBookmark(collectionID, folderID string, bookmark Bookmark) error {
	if err := s.guard(); err != nil {
		return err
	}
	bookmark.Title = strings.TrimSpace(bookmark.Title)
	if bookmark.Title == "" {
		bookmark.Title = placeholderBookmarkTitle
	}
	bookmark.URL = strings.TrimSpace(bookmark.URL)
	if bookmark.URL == "" {
		s.logger.ErrorWithNotify(nil, "URL must not be empty")
		return ErrEmptyURL
	}
	bookmark.URL = normalizeBookmarkURL(bookmark.URL)
	bookmark.UpdatedAt = nowUnixMilli()
	if err := s.sync.UpdateBookmark(collectionID, folderID, bookmark); err != nil {
		s.logger.ErrorWithNotify(err, "Failed to update bookmark")
		return err
	}
	return nil
}

// DeleteBookmark は削除を実行し、アンドゥ用トークンを発行して通知する
func (s *ActionService) DeleteBookmark(collectionID, folderID, bookmarkID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	// 削除前に現在の描画位置を控えておく(アンドゥで同じ場所へ戻すため)
	bookmark, index, found := s.reconciler.LookupBookmark(folderID, bookmarkID)

	if err := s.sync.RemoveBookmark(collectionID, folderID, bookmarkID); err != nil {
		s.logger.ErrorWithNotify(err, "Failed to delete bookmark")
		return err
	}

	if found {
		token := uuid.New().String()
		s.mutex.Lock()
		s.pendingUndo = &bookmarkUndo{
			Token:        token,
			CollectionID: collectionID,
			FolderID:     folderID,
			Bookmark:     bookmark,
			Index:        index,
		}
		s.mutex.Unlock()
		s.logger.NotifyUndo("Deleted "+bookmark.Title, token)
	} else {
		s.logger.NotifySuccess("Bookmark deleted")
	}
	return nil
}

// UndoDeleteBookmark はトークンが一致する直近の削除を取り消す
func (s *ActionService) UndoDeleteBookmark(token string) error {
	if err := s.guard(); err != nil {
		return err
	}
	s.mutex.Lock()
	undo := s.pendingUndo
	if undo == nil || undo.Token != token {
		s.mutex.Unlock()
		return ErrUndoExpired
	}
	s.pendingUndo = nil
	s.mutex.Unlock()

	if err := s.sync.RestoreBookmark(undo.CollectionID, undo.FolderID, undo.Bookmark, undo.Index); err != nil {
		s.logger.ErrorWithNotify(err, "Failed to restore bookmark")
		return err
	}
	s.logger.NotifySuccess("Restored %q", undo.Bookmark.Title)
	return nil
}
