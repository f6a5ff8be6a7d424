package backend

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"sync"
)

// ローカルキャッシュ暗号の封筒フォーマット。
// バージョン番号を上げたら古い封筒は復号せず破棄する。
const cacheEnvelopeVersion = 1

// 鍵導出に混ぜる固定ソルト。変更すると既存キャッシュは全て読めなくなる。
const cacheKeySalt = "bukuma-cache-v1"

// CacheEnvelope は暗号化済みキャッシュ1件のJSON表現
type CacheEnvelope struct {
	V int    `json:"v"` // フォーマットバージョン
	I string `json:"i"` // nonce (base64)
	D string `json:"d"` // 暗号文 (base64)
}

// CryptoService はユーザーごとの鍵でキャッシュの暗号化・復号を行う。
// 鍵はサインイン中のユーザーIDとアカウント由来のシークレットから決定的に導出する。
type CryptoService struct {
	mutex      sync.Mutex
	uid        string
	secret     string
	aead       cipher.AEAD
	onDisabled []func()
}

func NewCryptoService() *CryptoService {
	return &CryptoService{}
}

// OnDisabled は使っていた鍵が破棄または差し替えされた時に呼ぶフックを登録する。
// キャッシュ層がメモ化のクリアに使う。
func (s *CryptoService) OnDisabled(fn func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onDisabled = append(s.onDisabled, fn)
}

// Configure はサインイン状態の変化を受けて鍵を導出し直す。
// uid か secret が空なら未構成状態になり、以後の暗号化・復号は全て失敗扱いになる。
// 同じ uid と secret での再設定は何もしない。
func (s *CryptoService) Configure(uid, secret string) {
	s.mutex.Lock()
	if s.aead != nil && uid == s.uid && secret == s.secret {
		s.mutex.Unlock()
		return
	}
	hadKey := s.aead != nil
	s.uid = ""
	s.secret = ""
	s.aead = nil
	if uid != "" && secret != "" {
		if aead, err := deriveCacheKey(uid, secret); err == nil {
			s.uid = uid
			s.secret = secret
			s.aead = aead
		}
	}
	hooks := s.onDisabled
	s.mutex.Unlock()

	// 鍵を持っていたなら、その鍵で作った状態は全て無効
	if hadKey {
		for _, fn := range hooks {
			fn()
		}
	}
}

// Ready は指定ユーザー向けの鍵が使える状態かを返す
func (s *CryptoService) Ready(uid string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.aead != nil && s.uid == uid
}

// Encrypt は平文を封筒JSONへ暗号化する。鍵が未構成・不一致なら nil を返す。
func (s *CryptoService) Encrypt(uid string, plaintext []byte) []byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.aead == nil || s.uid != uid {
		return nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil
	}
	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	envelope := CacheEnvelope{
		V: cacheEnvelopeVersion,
		I: base64.StdEncoding.EncodeToString(nonce),
		D: base64.StdEncoding.EncodeToString(sealed),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil
	}
	return payload
}

// Decrypt は封筒JSONを復号する。封筒が壊れている、バージョンが違う、
// 鍵が合わない場合はすべて nil を返し、呼び出し側でキャッシュミス扱いにする。
func (s *CryptoService) Decrypt(uid string, payload []byte) []byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.aead == nil || s.uid != uid {
		return nil
	}
	var envelope CacheEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil
	}
	if envelope.V != cacheEnvelopeVersion {
		return nil
	}
	nonce, err := base64.StdEncoding.DecodeString(envelope.I)
	if err != nil || len(nonce) != s.aead.NonceSize() {
		return nil
	}
	sealed, err := base64.StdEncoding.DecodeString(envelope.D)
	if err != nil {
		return nil
	}
	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil
	}
	return plaintext
}

// deriveCacheKey は uid とシークレットから AES-256-GCM の AEAD を作る
func deriveCacheKey(uid, secret string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(uid + "\x00" + secret + "\x00" + cacheKeySalt))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
