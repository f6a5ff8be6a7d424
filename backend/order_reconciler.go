package backend

import (
	"sync"
)

// EndIndex は並び替え先として「末尾」を指定するための番兵値
const EndIndex = -1

// OrderReconciler はリモートの並び順とローカルのドラッグ操作を突き合わせる。
//
// フォルダ順(コレクション単位)とブックマーク順(フォルダ単位)をID配列として
// 保持し、リモートのスナップショットが届くたびに次の規則で更新する。
//
//   - リモートの並びが「前回観測したリモートの並び」から変わっていれば、
//     リモートを正としてローカルの並びを置き換える。
//   - 変わっていなければローカルの並びを維持する。こうすることで、無関係な
//     更新(ブックマークの改名など)がドラッグ直後の並びを巻き戻さない。
//   - その上でID集合をリモートに合わせる。リモートから消えたIDは落とし、
//     ローカルにまだ無いIDは末尾に足す。
//
// ブックマークの解決はコレクション単位の結合マップで行うため、ローカルで
// 別フォルダへ移動済み(リモート未反映)のブックマークも正しく描画される。
type OrderReconciler struct {
	mutex sync.Mutex

	// collectionID -> フォルダIDの並び
	folderOrder map[string][]string
	// folderID -> ブックマークIDの並び
	bookmarkOrder map[string][]string
	// 前回観測したリモートの並び(変更検知用)
	lastRemoteFolderIDs   map[string][]string
	lastRemoteBookmarkIDs map[string][]string
	// 最後に受け取った補正済みリモートスナップショット
	remote []Collection
}

func NewOrderReconciler() *OrderReconciler {
	return &OrderReconciler{
		folderOrder:           make(map[string][]string),
		bookmarkOrder:         make(map[string][]string),
		lastRemoteFolderIDs:   make(map[string][]string),
		lastRemoteBookmarkIDs: make(map[string][]string),
	}
}

// Reset は全ての状態を破棄する(サインアウト時)
func (r *OrderReconciler) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.folderOrder = make(map[string][]string)
	r.bookmarkOrder = make(map[string][]string)
	r.lastRemoteFolderIDs = make(map[string][]string)
	r.lastRemoteBookmarkIDs = make(map[string][]string)
	r.remote = nil
}

// Apply はリモートのスナップショットを取り込み、描画用の一覧を返す
func (r *OrderReconciler) Apply(remote []Collection) []Collection {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.remote = cloneCollections(remote)

	seenCollections := make(map[string]bool)
	seenFolders := make(map[string]bool)

	for _, c := range r.remote {
		seenCollections[c.ID] = true

		remoteFolderIDs := folderIDsOf(c)
		if !sameIDOrder(r.lastRemoteFolderIDs[c.ID], remoteFolderIDs) {
			// リモート側でフォルダの並びが変わった。リモートを正とする。
			r.folderOrder[c.ID] = cloneIDs(remoteFolderIDs)
		} else if _, ok := r.folderOrder[c.ID]; !ok {
			r.folderOrder[c.ID] = cloneIDs(remoteFolderIDs)
		}
		r.folderOrder[c.ID] = conformToIDSet(r.folderOrder[c.ID], remoteFolderIDs)
		r.lastRemoteFolderIDs[c.ID] = cloneIDs(remoteFolderIDs)

		// フォルダ単位の置き換え判定
		for _, f := range c.Folders {
			seenFolders[f.ID] = true
			remoteBookmarkIDs := bookmarkIDsOf(f)
			if !sameIDOrder(r.lastRemoteBookmarkIDs[f.ID], remoteBookmarkIDs) {
				r.bookmarkOrder[f.ID] = cloneIDs(remoteBookmarkIDs)
			} else if _, ok := r.bookmarkOrder[f.ID]; !ok {
				r.bookmarkOrder[f.ID] = cloneIDs(remoteBookmarkIDs)
			}
			r.lastRemoteBookmarkIDs[f.ID] = cloneIDs(remoteBookmarkIDs)
		}

		// ブックマークのID集合の整合はコレクション全体で取る。
		// ローカルで別フォルダへ移動済みのIDを元のフォルダに復活させないため、
		// 「ローカルのどのフォルダにも無いID」だけをリモートが示すフォルダへ足す。
		r.conformBookmarksLocked(c)
	}

	// 消えたコレクション・フォルダの状態を掃除する
	for id := range r.folderOrder {
		if !seenCollections[id] {
			delete(r.folderOrder, id)
			delete(r.lastRemoteFolderIDs, id)
		}
	}
	for id := range r.bookmarkOrder {
		if !seenFolders[id] {
			delete(r.bookmarkOrder, id)
			delete(r.lastRemoteBookmarkIDs, id)
		}
	}

	return r.renderLocked()
}

func (r *OrderReconciler) conformBookmarksLocked(c Collection) {
	// コレクション内の全リモートブックマークと、リモート上の所属フォルダ
	remoteOwner := make(map[string]string)
	for _, f := range c.Folders {
		for _, b := range f.Bookmarks {
			remoteOwner[b.ID] = f.ID
		}
	}

	// ローカルに存在するID(コレクション内の全フォルダ横断、重複は先勝ち)
	localSeen := make(map[string]bool)
	for _, f := range c.Folders {
		order := r.bookmarkOrder[f.ID]
		kept := order[:0:0]
		for _, id := range order {
			if _, exists := remoteOwner[id]; !exists {
				continue // リモートから削除された
			}
			if localSeen[id] {
				continue // 別フォルダに既にある(移動の残骸)
			}
			localSeen[id] = true
			kept = append(kept, id)
		}
		r.bookmarkOrder[f.ID] = kept
	}

	// リモートにあってローカルのどこにも無いIDを、リモートの所属フォルダ末尾へ
	for _, f := range c.Folders {
		for _, b := range f.Bookmarks {
			if !localSeen[b.ID] {
				r.bookmarkOrder[f.ID] = append(r.bookmarkOrder[f.ID], b.ID)
				localSeen[b.ID] = true
			}
		}
	}
}

// Render は現在のローカル順で描画用の一覧を組み立て直す。
// ドラッグ中の並び替え直後に呼び、リモートを待たずにUIへ反映する。
func (r *OrderReconciler) Render() []Collection {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.renderLocked()
}

func (r *OrderReconciler) renderLocked() []Collection {
	out := make([]Collection, 0, len(r.remote))
	for _, c := range r.remote {
		folderByID := make(map[string]Folder)
		// ブックマークはフォルダ横断の結合マップで解決する
		bookmarkByID := make(map[string]Bookmark)
		for _, f := range c.Folders {
			shallow := f
			shallow.Bookmarks = nil
			folderByID[f.ID] = shallow
			for _, b := range f.Bookmarks {
				bookmarkByID[b.ID] = b
			}
		}

		rendered := c
		rendered.Folders = make([]Folder, 0, len(c.Folders))
		for _, folderID := range r.folderOrder[c.ID] {
			folder, ok := folderByID[folderID]
			if !ok {
				continue
			}
			folder.Bookmarks = make([]Bookmark, 0, len(r.bookmarkOrder[folderID]))
			for _, bookmarkID := range r.bookmarkOrder[folderID] {
				if b, ok := bookmarkByID[bookmarkID]; ok {
					folder.Bookmarks = append(folder.Bookmarks, b)
				}
			}
			rendered.Folders = append(rendered.Folders, folder)
		}
		out = append(out, rendered)
	}
	return out
}

// MoveFolder はコレクション内のフォルダを指定位置へ移動する
func (r *OrderReconciler) MoveFolder(collectionID, folderID string, targetIndex int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	order := r.folderOrder[collectionID]
	removed := removeID(order, folderID)
	if len(removed) == len(order) {
		return // 知らないフォルダは無視
	}
	r.folderOrder[collectionID] = insertID(removed, folderID, targetIndex)
}

// MoveBookmark はブックマークを同一フォルダ内または別フォルダへ移動する。
// targetIndex に EndIndex を渡すと末尾へ挿入する。
func (r *OrderReconciler) MoveBookmark(bookmarkID, sourceFolderID, targetFolderID string, targetIndex int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	source := r.bookmarkOrder[sourceFolderID]
	removed := removeID(source, bookmarkID)
	if len(removed) == len(source) {
		return
	}
	r.bookmarkOrder[sourceFolderID] = removed
	r.bookmarkOrder[targetFolderID] = insertID(r.bookmarkOrder[targetFolderID], bookmarkID, targetIndex)
}

// FolderOrder は現在のフォルダ順のコピーを返す
func (r *OrderReconciler) FolderOrder(collectionID string) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return cloneIDs(r.folderOrder[collectionID])
}

// BookmarkOrder は現在のブックマーク順のコピーを返す
func (r *OrderReconciler) BookmarkOrder(folderID string) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return cloneIDs(r.bookmarkOrder[folderID])
}

// CollectionIDForFolder はフォルダが属するコレクションIDを返す
func (r *OrderReconciler) CollectionIDForFolder(folderID string) (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, c := range r.remote {
		for _, f := range c.Folders {
			if f.ID == folderID {
				return c.ID, true
			}
		}
	}
	return "", false
}

// LookupBookmark は現在の描画上の位置でブックマークを探す。
// 削除のアンドゥで元の位置へ戻すために使う。
func (r *OrderReconciler) LookupBookmark(folderID, bookmarkID string) (Bookmark, int, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	index := -1
	for i, id := range r.bookmarkOrder[folderID] {
		if id == bookmarkID {
			index = i
			break
		}
	}
	if index < 0 {
		return Bookmark{}, 0, false
	}
	for _, c := range r.remote {
		for _, f := range c.Folders {
			for _, b := range f.Bookmarks {
				if b.ID == bookmarkID {
					return b, index, true
				}
			}
		}
	}
	return Bookmark{}, 0, false
}

// ---------- ID配列のヘルパー ----------

func folderIDsOf(c Collection) []string {
	ids := make([]string, len(c.Folders))
	for i, f := range c.Folders {
		ids[i] = f.ID
	}
	return ids
}

func bookmarkIDsOf(f Folder) []string {
	ids := make([]string, len(f.Bookmarks))
	for i, b := range f.Bookmarks {
		ids[i] = b.ID
	}
	return ids
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func sameIDOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// conformToIDSet はローカル順のID集合をリモートに一致させる。
// 並びはローカル優先のまま、消えたIDを落とし新しいIDを末尾へ足す。
func conformToIDSet(local, remote []string) []string {
	remoteSet := make(map[string]bool, len(remote))
	for _, id := range remote {
		remoteSet[id] = true
	}
	out := make([]string, 0, len(remote))
	seen := make(map[string]bool, len(remote))
	for _, id := range local {
		if remoteSet[id] && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	for _, id := range remote {
		if !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// insertID はIDを指定位置へ挿入する。範囲外は両端へクランプし、
// EndIndex は末尾を意味する。
func insertID(ids []string, id string, index int) []string {
	if index == EndIndex || index > len(ids) {
		index = len(ids)
	}
	if index < 0 {
		index = 0
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	out = append(out, ids[index:]...)
	return out
}
