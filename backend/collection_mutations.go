package backend

import (
	"errors"
	"fmt"
)

// CollectionUpdater はコレクション1件への純粋な変換。
// 同期サービスが最新のドキュメントの深いコピーに適用する。
// エラーを返すとミューテーション全体が中止され、リモートには何も書かれない。
type CollectionUpdater func(c *Collection) error

var (
	ErrFolderNotFound   = errors.New("folder not found")
	ErrBookmarkNotFound = errors.New("bookmark not found")
)

func findFolder(c *Collection, folderID string) (*Folder, error) {
	for i := range c.Folders {
		if c.Folders[i].ID == folderID {
			return &c.Folders[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
}

func renameCollectionUpdater(name string) CollectionUpdater {
	return func(c *Collection) error {
		c.Name = name
		return nil
	}
}

func appendFolderUpdater(folder Folder) CollectionUpdater {
	return func(c *Collection) error {
		c.Folders = append(c.Folders, folder)
		return nil
	}
}

func renameFolderUpdater(folderID, name string) CollectionUpdater {
	return func(c *Collection) error {
		folder, err := findFolder(c, folderID)
		if err != nil {
			return err
		}
		folder.Name = name
		return nil
	}
}

func setFolderIconUpdater(folderID, icon string) CollectionUpdater {
	return func(c *Collection) error {
		folder, err := findFolder(c, folderID)
		if err != nil {
			return err
		}
		folder.Icon = icon
		return nil
	}
}

func deleteFolderUpdater(folderID string) CollectionUpdater {
	return func(c *Collection) error {
		for i := range c.Folders {
			if c.Folders[i].ID == folderID {
				c.Folders = append(c.Folders[:i], c.Folders[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
	}
}

func appendBookmarkUpdater(folderID string, bookmark Bookmark) CollectionUpdater {
	return func(c *Collection) error {
		folder, err := findFolder(c, folderID)
		if err != nil {
			return err
		}
		folder.Bookmarks = append(folder.Bookmarks, bookmark)
		return nil
	}
}

func updateBookmarkUpdater(folderID string, bookmark Bookmark) CollectionUpdater {
	return func(c *Collection) error {
		folder, err := findFolder(c, folderID)
		if err != nil {
			return err
		}
		for i := range folder.Bookmarks {
			if folder.Bookmarks[i].ID == bookmark.ID {
				folder.Bookmarks[i] = bookmark
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrBookmarkNotFound, bookmark.ID)
	}
}

func removeBookmarkUpdater(folderID, bookmarkID string) CollectionUpdater {
	return func(c *Collection) error {
		folder, err := findFolder(c, folderID)
		if err != nil {
			return err
		}
		for i := range folder.Bookmarks {
			if folder.Bookmarks[i].ID == bookmarkID {
				folder.Bookmarks = append(folder.Bookmarks[:i], folder.Bookmarks[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrBookmarkNotFound, bookmarkID)
	}
}

// restoreBookmarkUpdater は削除のアンドゥ用。元の位置へ挿入し直す。
// 位置が範囲外になっていたら末尾へクランプする。
func restoreBookmarkUpdater(folderID string, bookmark Bookmark, index int) CollectionUpdater {
	return func(c *Collection) error {
		folder, err := findFolder(c, folderID)
		if err != nil {
			return err
		}
		if index < 0 || index > len(folder.Bookmarks) {
			index = len(folder.Bookmarks)
		}
		folder.Bookmarks = append(folder.Bookmarks, Bookmark{})
		copy(folder.Bookmarks[index+1:], folder.Bookmarks[index:])
		folder.Bookmarks[index] = bookmark
		return nil
	}
}

// reorderFoldersUpdater はフォルダの並びを指定のID順に合わせる。
// 指定に無いフォルダは元の相対順のまま末尾へ回し、取りこぼしを防ぐ。
func reorderFoldersUpdater(folderIDs []string) CollectionUpdater {
	return func(c *Collection) error {
		byID := make(map[string]Folder, len(c.Folders))
		for _, f := range c.Folders {
			byID[f.ID] = f
		}
		reordered := make([]Folder, 0, len(c.Folders))
		used := make(map[string]bool, len(c.Folders))
		for _, id := range folderIDs {
			if f, ok := byID[id]; ok && !used[id] {
				reordered = append(reordered, f)
				used[id] = true
			}
		}
		for _, f := range c.Folders {
			if !used[f.ID] {
				reordered = append(reordered, f)
			}
		}
		c.Folders = reordered
		return nil
	}
}

// reorderBookmarksUpdater はフォルダ内のブックマークの並びを指定のID順に合わせる
func reorderBookmarksUpdater(folderID string, bookmarkIDs []string) CollectionUpdater {
	return func(c *Collection) error {
		folder, err := findFolder(c, folderID)
		if err != nil {
			return err
		}
		byID := make(map[string]Bookmark, len(folder.Bookmarks))
		for _, b := range folder.Bookmarks {
			byID[b.ID] = b
		}
		reordered := make([]Bookmark, 0, len(folder.Bookmarks))
		used := make(map[string]bool, len(folder.Bookmarks))
		for _, id := range bookmarkIDs {
			if b, ok := byID[id]; ok && !used[id] {
				reordered = append(reordered, b)
				used[id] = true
			}
		}
		for _, b := range folder.Bookmarks {
			if !used[b.ID] {
				reordered = append(reordered, b)
			}
		}
		folder.Bookmarks = reordered
		return nil
	}
}

// moveBookmarkUpdater はブックマークを別フォルダの指定位置へ移す。
// EndIndex は末尾を意味する。
func moveBookmarkUpdater(sourceFolderID, targetFolderID, bookmarkID string, targetIndex int) CollectionUpdater {
	return func(c *Collection) error {
		source, err := findFolder(c, sourceFolderID)
		if err != nil {
			return err
		}
		var moved *Bookmark
		for i := range source.Bookmarks {
			if source.Bookmarks[i].ID == bookmarkID {
				b := source.Bookmarks[i]
				moved = &b
				source.Bookmarks = append(source.Bookmarks[:i], source.Bookmarks[i+1:]...)
				break
			}
		}
		if moved == nil {
			return fmt.Errorf("%w: %s", ErrBookmarkNotFound, bookmarkID)
		}
		target, err := findFolder(c, targetFolderID)
		if err != nil {
			return err
		}
		index := targetIndex
		if index == EndIndex || index > len(target.Bookmarks) {
			index = len(target.Bookmarks)
		}
		if index < 0 {
			index = 0
		}
		target.Bookmarks = append(target.Bookmarks, Bookmark{})
		copy(target.Bookmarks[index+1:], target.Bookmarks[index:])
		target.Bookmarks[index] = *moved
		return nil
	}
}
