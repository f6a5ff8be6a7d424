package backend

// ユーザー操作サービスのテスト
//
// テストケース:
// 1. 初回同期が完了するまで書き込み操作が拒否されること
// 2. 空の名前・URLの検証
// 3. URLのスキーム補完
// 4. ブックマーク削除がアンドゥトークンを発行し、元の位置へ戻せること
// 5. アンドゥトークンの期限切れ・不一致
// 6. 不明なフォルダアイコンの拒否

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestActionService(t *testing.T) (*ActionService, *fakeSyncService, *OrderReconciler) {
	t.Helper()
	reconciler := NewOrderReconciler()
	reconciler.Apply([]Collection{makeCollection("c1",
		makeFolder("f1", "b1", "b2", "b3"),
	)})
	syncService := newFakeSyncService()
	actions := NewActionService(syncService, reconciler, newTestLogger())
	actions.SetReady(true)
	return actions, syncService, reconciler
}

func TestActions_GuardBeforeFirstSync(t *testing.T) {
	actions, syncService, _ := newTestActionService(t)
	actions.SetReady(false)

	_, err := actions.CreateCollection("New")
	assert.ErrorIs(t, err, ErrStillSyncing)

	err = actions.DeleteBookmark("c1", "f1", "b1")
	assert.ErrorIs(t, err, ErrStillSyncing)

	assert.Empty(t, syncService.Calls())

	// 同期完了後は通る
	actions.SetReady(true)
	_, err = actions.CreateCollection("New")
	assert.NoError(t, err)
}

func TestActions_NameValidation(t *testing.T) {
	actions, syncService, _ := newTestActionService(t)

	_, err := actions.CreateCollection("   ")
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = actions.CreateFolder("c1", "", "")
	assert.ErrorIs(t, err, ErrEmptyName)

	err = actions.RenameFolder("c1", "f1", "  ")
	assert.ErrorIs(t, err, ErrEmptyName)

	assert.Empty(t, syncService.Calls())
}

func TestActions_AddBookmark(t *testing.T) {
	actions, syncService, _ := newTestActionService(t)

	_, err := actions.AddBookmark("c1", "f1", "Example", "", "")
	assert.ErrorIs(t, err, ErrEmptyURL)

	bookmark, err := actions.AddBookmark("c1", "f1", "  Example  ", "example.com/page", " a note ")
	require.NoError(t, err)
	assert.NotEmpty(t, bookmark.ID)
	assert.Equal(t, "Example", bookmark.Title)
	// スキームが無ければ https を補う
	assert.Equal(t, "https://example.com/page", bookmark.URL)
	assert.Equal(t, "a note", bookmark.Note)
	assert.NotZero(t, bookmark.CreatedAt)

	calls := syncService.CallsFor("AddBookmark")
	require.Len(t, calls, 1)
	assert.Equal(t, bookmark.ID, calls[0].Bookmark.ID)

	// タイトル未入力はプレースホルダになる
	untitled, err := actions.AddBookmark("c1", "f1", "", "https://example.com", "")
	require.NoError(t, err)
	assert.Equal(t, placeholderBookmarkTitle, untitled.Title)
}

func TestActions_DeleteAndUndoBookmark(t *testing.T) {
	actions, syncService, reconciler := newTestActionService(t)

	// 見た目の並びを変えてから消す。アンドゥは見た目の位置へ戻すべき。
	reconciler.MoveBookmark("b3", "f1", "f1", 0)

	require.NoError(t, actions.DeleteBookmark("c1", "f1", "b3"))

	removes := syncService.CallsFor("RemoveBookmark")
	require.Len(t, removes, 1)
	assert.Equal(t, "b3", removes[0].BookmarkID)

	// アンドゥ
	token := actions.pendingUndo.Token
	require.NotEmpty(t, token)
	require.NoError(t, actions.UndoDeleteBookmark(token))

	restores := syncService.CallsFor("RestoreBookmark")
	require.Len(t, restores, 1)
	assert.Equal(t, "f1", restores[0].FolderID)
	assert.Equal(t, "b3", restores[0].Bookmark.ID)
	assert.Equal(t, 0, restores[0].Index)

	// 使用済みトークンは無効
	err := actions.UndoDeleteBookmark(token)
	assert.ErrorIs(t, err, ErrUndoExpired)
}

func TestActions_UndoWithWrongToken(t *testing.T) {
	actions, _, _ := newTestActionService(t)

	require.NoError(t, actions.DeleteBookmark("c1", "f1", "b1"))

	err := actions.UndoDeleteBookmark("wrong-token")
	assert.ErrorIs(t, err, ErrUndoExpired)
}

func TestActions_CreateFolderIconValidation(t *testing.T) {
	actions, syncService, _ := newTestActionService(t)

	folder, err := actions.CreateFolder("c1", "Work", "work")
	require.NoError(t, err)
	assert.Equal(t, "work", folder.Icon)
	assert.NotEmpty(t, folder.ID)

	// 未知のアイコンは黙って落とす
	folder, err = actions.CreateFolder("c1", "Misc", "no-such-icon")
	require.NoError(t, err)
	assert.Equal(t, "", folder.Icon)

	err = actions.SetFolderIcon("c1", "f1", "no-such-icon")
	assert.Error(t, err)
	assert.Empty(t, syncService.CallsFor("SetFolderIcon"))

	require.NoError(t, actions.SetFolderIcon("c1", "f1", "star"))
	require.Len(t, syncService.CallsFor("SetFolderIcon"), 1)
}

func TestActions_UpdateBookmarkValidation(t *testing.T) {
	actions, syncService, _ := newTestActionService(t)

	err := actions.UpdateBookmark("c1", "f1", Bookmark{ID: "b1", Title: "x", URL: "  "})
	assert.ErrorIs(t, err, ErrEmptyURL)
	assert.Empty(t, syncService.Calls())

	err = actions.UpdateBookmark("c1", "f1", Bookmark{ID: "b1", Title: "", URL: "example.org"})
	require.NoError(t, err)

	calls := syncService.CallsFor("UpdateBookmark")
	require.Len(t, calls, 1)
	assert.Equal(t, placeholderBookmarkTitle, calls[0].Bookmark.Title)
	assert.Equal(t, "https://example.org", calls[0].Bookmark.URL)
	assert.NotZero(t, calls[0].Bookmark.UpdatedAt)
}
