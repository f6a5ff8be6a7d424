package backend

// ドラッグ&ドロップのテスト
//
// テストケース:
// 1. 同一フォルダ内の並び替えがドロップ時に1回のリモート操作になること
// 2. フォルダをまたぐ移動が1回の移動操作になること
// 3. 有効なドロップ先が無い場合に何も発行されないこと
// 4. 自分自身への落下が何も発行しないこと
// 5. フォルダのドラッグによる並び替え
// 6. 当たり判定の2段階フォールバック(フォルダの余白への落下)
// 7. ドラッグ中のセッション管理(多重開始の拒否、キャンセル)

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dragTestEnv struct {
	reconciler *OrderReconciler
	sync       *fakeSyncService
	drag       *DragService
}

// 2フォルダ構成のレイアウトを組み立てる。
//
//	f1 (0,0)-(200,300): b1, b2, b3 (各高さ50)
//	f2 (220,0)-(420,300): b4 (高さ50)
func newDragTestEnv(t *testing.T) *dragTestEnv {
	t.Helper()
	reconciler := NewOrderReconciler()
	reconciler.Apply([]Collection{makeCollection("c1",
		makeFolder("f1", "b1", "b2", "b3"),
		makeFolder("f2", "b4"),
	)})
	syncService := newFakeSyncService()
	drag := NewDragService(reconciler, syncService, newTestLogger())

	drag.UpdateLayout([]LayoutRect{
		{ID: "f1", Kind: DragKindFolder, CollectionID: "c1", X: 0, Y: 0, Width: 200, Height: 300},
		{ID: "b1", Kind: DragKindBookmark, CollectionID: "c1", FolderID: "f1", X: 0, Y: 0, Width: 200, Height: 50},
		{ID: "b2", Kind: DragKindBookmark, CollectionID: "c1", FolderID: "f1", X: 0, Y: 50, Width: 200, Height: 50},
		{ID: "b3", Kind: DragKindBookmark, CollectionID: "c1", FolderID: "f1", X: 0, Y: 100, Width: 200, Height: 50},
		{ID: "f2", Kind: DragKindFolder, CollectionID: "c1", X: 220, Y: 0, Width: 200, Height: 300},
		{ID: "b4", Kind: DragKindBookmark, CollectionID: "c1", FolderID: "f2", X: 220, Y: 0, Width: 200, Height: 50},
	})
	return &dragTestEnv{reconciler: reconciler, sync: syncService, drag: drag}
}

// ドロップ後の非同期発行を待つ
func waitForCalls(t *testing.T, syncService *fakeSyncService, count int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(syncService.Calls()) >= count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, syncService.Calls(), count)
}

func TestDrag_ReorderWithinFolder(t *testing.T) {
	env := newDragTestEnv(t)

	// b3 を掴んで b1 の上へ運ぶ
	require.NoError(t, env.drag.DragStart(DragKindBookmark, "b3"))
	moved := env.drag.DragOver(DragPointer{X: 100, Y: 25})
	assert.True(t, moved)
	assert.Equal(t, []string{"b3", "b1", "b2"}, env.reconciler.BookmarkOrder("f1"))

	env.drag.DragEnd(DragPointer{X: 100, Y: 25})
	waitForCalls(t, env.sync, 1)

	calls := env.sync.CallsFor("ReorderBookmarks")
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].CollectionID)
	assert.Equal(t, "f1", calls[0].FolderID)
	assert.Equal(t, []string{"b3", "b1", "b2"}, calls[0].IDs)
	// リモート操作は全体でも1回だけ
	assert.Len(t, env.sync.Calls(), 1)
}

func TestDrag_MoveAcrossFolders(t *testing.T) {
	env := newDragTestEnv(t)

	// b2 を f2 の b4 の位置へ
	require.NoError(t, env.drag.DragStart(DragKindBookmark, "b2"))
	moved := env.drag.DragOver(DragPointer{X: 320, Y: 25})
	assert.True(t, moved)
	assert.Equal(t, []string{"b1", "b3"}, env.reconciler.BookmarkOrder("f1"))
	assert.Equal(t, []string{"b2", "b4"}, env.reconciler.BookmarkOrder("f2"))

	env.drag.DragEnd(DragPointer{X: 320, Y: 25})
	waitForCalls(t, env.sync, 1)

	calls := env.sync.CallsFor("MoveBookmark")
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].CollectionID)
	assert.Equal(t, "f1", calls[0].FolderID)
	assert.Equal(t, "f2", calls[0].TargetFolder)
	assert.Equal(t, "b2", calls[0].BookmarkID)
	assert.Equal(t, 0, calls[0].Index)
	assert.Len(t, env.sync.Calls(), 1)
}

func TestDrag_DropOnFolderGapAppendsToEnd(t *testing.T) {
	env := newDragTestEnv(t)

	require.NoError(t, env.drag.DragStart(DragKindBookmark, "b1"))
	// f2 のブックマークの無い余白(y=200)へ。ブックマーク矩形には当たらず
	// コンテナのフォールバックで f2 が選ばれる。
	moved := env.drag.DragOver(DragPointer{X: 320, Y: 200})
	assert.True(t, moved)
	assert.Equal(t, []string{"b4", "b1"}, env.reconciler.BookmarkOrder("f2"))

	env.drag.DragEnd(DragPointer{X: 320, Y: 200})
	waitForCalls(t, env.sync, 1)

	calls := env.sync.CallsFor("MoveBookmark")
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].Index)
}

func TestDrag_AbortOutsideAnyTarget(t *testing.T) {
	env := newDragTestEnv(t)

	require.NoError(t, env.drag.DragStart(DragKindBookmark, "b1"))
	env.drag.DragEnd(DragPointer{X: 999, Y: 999})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, env.sync.Calls())
	assert.False(t, env.drag.IsDragging())
}

func TestDrag_DropOnSelfIsNoOp(t *testing.T) {
	env := newDragTestEnv(t)

	require.NoError(t, env.drag.DragStart(DragKindBookmark, "b1"))
	// 自分の矩形の上で離す
	env.drag.DragEnd(DragPointer{X: 100, Y: 25})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, env.sync.Calls())
}

func TestDrag_FolderReorder(t *testing.T) {
	env := newDragTestEnv(t)

	require.NoError(t, env.drag.DragStart(DragKindFolder, "f2"))
	moved := env.drag.DragOver(DragPointer{X: 100, Y: 250})
	assert.True(t, moved)
	assert.Equal(t, []string{"f2", "f1"}, env.reconciler.FolderOrder("c1"))

	env.drag.DragEnd(DragPointer{X: 100, Y: 250})
	waitForCalls(t, env.sync, 1)

	calls := env.sync.CallsFor("ReorderFolders")
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].CollectionID)
	assert.Equal(t, []string{"f2", "f1"}, calls[0].IDs)
}

func TestDrag_SecondStartIsRejected(t *testing.T) {
	env := newDragTestEnv(t)

	require.NoError(t, env.drag.DragStart(DragKindBookmark, "b1"))
	err := env.drag.DragStart(DragKindBookmark, "b2")
	assert.ErrorIs(t, err, ErrDragInProgress)
}

func TestDrag_UnknownItemIsRejected(t *testing.T) {
	env := newDragTestEnv(t)
	err := env.drag.DragStart(DragKindBookmark, "nope")
	assert.Error(t, err)
}

func TestDrag_CancelKeepsLocalOrderButSendsNothing(t *testing.T) {
	env := newDragTestEnv(t)

	require.NoError(t, env.drag.DragStart(DragKindBookmark, "b3"))
	env.drag.DragOver(DragPointer{X: 100, Y: 25})
	env.drag.DragCancel()

	// キャンセル後のDragOver/DragEndは無視される
	assert.False(t, env.drag.DragOver(DragPointer{X: 100, Y: 75}))
	env.drag.DragEnd(DragPointer{X: 100, Y: 75})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, env.sync.Calls())
}

func TestDrag_EventsIgnoredWhenIdle(t *testing.T) {
	env := newDragTestEnv(t)

	assert.False(t, env.drag.DragOver(DragPointer{X: 100, Y: 25}))
	env.drag.DragEnd(DragPointer{X: 100, Y: 25})
	assert.Empty(t, env.sync.Calls())
}
