package backend

import (
	"encoding/json"
	"sync"
)

// CollectionCache はコレクション一覧とユーザー情報の暗号化ローカルキャッシュ。
// コールドスタート時にリモートへ問い合わせる前の初期描画に使う。
// 復号や解析に失敗したエントリは黙って破棄する(次の同期で上書きされる)。
type CollectionCache struct {
	store  CacheStore
	crypto *CryptoService
	logger AppLogger

	mutex sync.Mutex
	// 書き込み済みペイロードのメモ化。同じ内容の再暗号化・再書き込みを省く。
	lastPayload map[string]string
}

func NewCollectionCache(store CacheStore, crypto *CryptoService, logger AppLogger) *CollectionCache {
	c := &CollectionCache{
		store:       store,
		crypto:      crypto,
		logger:      logger,
		lastPayload: make(map[string]string),
	}
	// 鍵が無効化されたらメモ化は意味を持たないので捨てる
	crypto.OnDisabled(c.clearMemo)
	return c
}

func (c *CollectionCache) clearMemo() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lastPayload = make(map[string]string)
}

func collectionsCacheKey(uid string) string {
	return "collections:" + uid
}

func userCacheKey(uid string) string {
	return "user:" + uid
}

// GetCollections はキャッシュ済みのコレクション一覧を返す。
// キャッシュミス・復号失敗・解析失敗はすべて空の一覧として扱う。
func (c *CollectionCache) GetCollections(uid string) []Collection {
	key := collectionsCacheKey(uid)
	payload := c.store.Read(key)
	if payload == nil {
		return []Collection{}
	}
	plaintext := c.crypto.Decrypt(uid, payload)
	if plaintext == nil {
		// 鍵が変わったか封筒が壊れている。残しておいても読めないので消す。
		c.logger.Console("collection cache for %s is unreadable, purging", uid)
		c.store.Write(key, nil)
		return []Collection{}
	}
	var collections []Collection
	if err := json.Unmarshal(plaintext, &collections); err != nil {
		c.logger.Console("collection cache for %s failed to parse, purging: %v", uid, err)
		c.store.Write(key, nil)
		return []Collection{}
	}
	for i := range collections {
		collections[i] = NormalizeCollection(collections[i].ID, collections[i])
	}
	return collections
}

// SetCollections はコレクション一覧を暗号化して保存する。
// 直前に書いた内容と同一ならストアへは触らない。
func (c *CollectionCache) SetCollections(uid string, collections []Collection) {
	plaintext, err := json.Marshal(collections)
	if err != nil {
		return
	}
	c.writeEncrypted(uid, collectionsCacheKey(uid), plaintext)
}

// GetUser はキャッシュ済みのユーザー情報を返す。読めなければ nil。
func (c *CollectionCache) GetUser(uid string) *CachedUser {
	payload := c.store.Read(userCacheKey(uid))
	if payload == nil {
		return nil
	}
	plaintext := c.crypto.Decrypt(uid, payload)
	if plaintext == nil {
		c.store.Write(userCacheKey(uid), nil)
		return nil
	}
	var user CachedUser
	if err := json.Unmarshal(plaintext, &user); err != nil {
		c.store.Write(userCacheKey(uid), nil)
		return nil
	}
	return &user
}

func (c *CollectionCache) SetUser(uid string, user CachedUser) {
	plaintext, err := json.Marshal(user)
	if err != nil {
		return
	}
	c.writeEncrypted(uid, userCacheKey(uid), plaintext)
}

// Clear は指定ユーザーのキャッシュを全て削除する(サインアウト時)
func (c *CollectionCache) Clear(uid string) {
	c.store.Write(collectionsCacheKey(uid), nil)
	c.store.Write(userCacheKey(uid), nil)
	c.mutex.Lock()
	delete(c.lastPayload, collectionsCacheKey(uid))
	delete(c.lastPayload, userCacheKey(uid))
	c.mutex.Unlock()
}

func (c *CollectionCache) writeEncrypted(uid, key string, plaintext []byte) {
	c.mutex.Lock()
	if c.lastPayload[key] == string(plaintext) {
		c.mutex.Unlock()
		return
	}
	c.mutex.Unlock()

	payload := c.crypto.Encrypt(uid, plaintext)
	if payload == nil {
		// 鍵が未構成なら平文を書く選択肢はない。何もしない。
		return
	}
	c.store.Write(key, payload)

	c.mutex.Lock()
	c.lastPayload[key] = string(plaintext)
	c.mutex.Unlock()
}
