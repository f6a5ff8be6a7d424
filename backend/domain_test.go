package backend

// ドメインモデルのテスト
//
// テストケース:
// 1. 部分的なドキュメントの補正(名前・タイムスタンプ・スライス)
// 2. ドキュメントIDが本文のIDより優先されること
// 3. 不明なフォルダアイコンの無効化
// 4. 深いコピーの独立性

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCollection_FillsMissingFields(t *testing.T) {
	normalized := NormalizeCollection("doc-id", Collection{
		ID: "stale-id",
		Folders: []Folder{
			{ID: "f1", Bookmarks: []Bookmark{{ID: "b1", URL: "https://example.com"}}},
			{ID: "f2"},
		},
	})

	assert.Equal(t, "doc-id", normalized.ID)
	assert.Equal(t, placeholderCollectionName, normalized.Name)
	assert.NotZero(t, normalized.CreatedAt)
	assert.Equal(t, normalized.CreatedAt, normalized.UpdatedAt)

	require.Len(t, normalized.Folders, 2)
	assert.Equal(t, placeholderFolderName, normalized.Folders[0].Name)
	assert.NotNil(t, normalized.Folders[1].Bookmarks)
	assert.Empty(t, normalized.Folders[1].Bookmarks)

	bookmark := normalized.Folders[0].Bookmarks[0]
	assert.Equal(t, placeholderBookmarkTitle, bookmark.Title)
	assert.NotZero(t, bookmark.CreatedAt)
}

func TestNormalizeCollection_NilFolders(t *testing.T) {
	normalized := NormalizeCollection("doc-id", Collection{Name: "Ok"})

	assert.NotNil(t, normalized.Folders)
	assert.Empty(t, normalized.Folders)
	assert.Equal(t, "Ok", normalized.Name)
}

func TestNormalizeCollection_KeepsValidValues(t *testing.T) {
	original := makeCollection("ignored", makeFolder("f1", "b1"))
	normalized := NormalizeCollection("doc-id", original)

	assert.Equal(t, "collection ignored", normalized.Name)
	assert.Equal(t, int64(1000), normalized.CreatedAt)
	assert.Equal(t, "title b1", normalized.Folders[0].Bookmarks[0].Title)
}

func TestNormalizeFolder_UnknownIconDropped(t *testing.T) {
	normalized := normalizeFolder(Folder{ID: "f1", Name: "x", Icon: "no-such-icon"})
	assert.Equal(t, "", normalized.Icon)

	kept := normalizeFolder(Folder{ID: "f1", Name: "x", Icon: "star"})
	assert.Equal(t, "star", kept.Icon)
}

func TestCloneCollection_IsDeep(t *testing.T) {
	original := makeCollection("c1", makeFolder("f1", "b1"))
	clone := CloneCollection(original)

	clone.Folders[0].Name = "changed"
	clone.Folders[0].Bookmarks[0].Title = "changed"
	clone.Folders = append(clone.Folders, makeFolder("f2"))

	assert.Equal(t, "folder f1", original.Folders[0].Name)
	assert.Equal(t, "title b1", original.Folders[0].Bookmarks[0].Title)
	assert.Len(t, original.Folders, 1)
}

func TestCloudSync_Accessors(t *testing.T) {
	cs := &CloudSync{}

	assert.False(t, cs.IsConnected())
	cs.SetConnected(true)
	assert.True(t, cs.IsConnected())

	cs.SetFolderIDs("root", "collections")
	assert.Equal(t, "collections", cs.CollectionsFolderID())

	cs.SetUser(&UserIdentity{UID: "u1", Email: "taro@example.com"})
	require.NotNil(t, cs.User())
	assert.Equal(t, "u1", cs.User().UID)
}
