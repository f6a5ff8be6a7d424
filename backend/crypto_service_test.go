package backend

// キャッシュ暗号のテスト
//
// テストケース:
// 1. 暗号化と復号のラウンドトリップ
// 2. 封筒のフォーマット(バージョンとbase64フィールド)
// 3. 別ユーザーの鍵では暗号化も復号もできないこと
// 4. 鍵の差し替え後に古い封筒が読めなくなること
// 5. 壊れた封筒・改ざんされた封筒の復号が失敗すること
// 6. 未構成状態での全操作が失敗すること
// 7. 無効化フックの発火
// 8. 同一の鍵での再設定がno-opになること

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrypto_RoundTrip(t *testing.T) {
	s := NewCryptoService()
	s.Configure("user-1", "secret-1")

	plaintext := []byte(`{"hello":"world"}`)
	payload := s.Encrypt("user-1", plaintext)
	require.NotNil(t, payload)
	assert.NotContains(t, string(payload), "world") // 平文が漏れていないこと

	decrypted := s.Decrypt("user-1", payload)
	assert.Equal(t, plaintext, decrypted)
}

func TestCrypto_EnvelopeFormat(t *testing.T) {
	s := NewCryptoService()
	s.Configure("user-1", "secret-1")

	payload := s.Encrypt("user-1", []byte("data"))
	require.NotNil(t, payload)

	var envelope CacheEnvelope
	require.NoError(t, json.Unmarshal(payload, &envelope))
	assert.Equal(t, cacheEnvelopeVersion, envelope.V)
	assert.NotEmpty(t, envelope.I)
	assert.NotEmpty(t, envelope.D)
}

func TestCrypto_WrongUserFails(t *testing.T) {
	s := NewCryptoService()
	s.Configure("user-1", "secret-1")

	payload := s.Encrypt("user-1", []byte("data"))
	require.NotNil(t, payload)

	assert.Nil(t, s.Encrypt("user-2", []byte("data")))
	assert.Nil(t, s.Decrypt("user-2", payload))
}

func TestCrypto_ReconfigureInvalidatesOldPayloads(t *testing.T) {
	s := NewCryptoService()
	s.Configure("user-1", "secret-1")
	payload := s.Encrypt("user-1", []byte("data"))
	require.NotNil(t, payload)

	// 同じユーザーでもシークレットが変わると鍵が変わる
	s.Configure("user-1", "secret-2")
	assert.Nil(t, s.Decrypt("user-1", payload))

	// 元のシークレットへ戻せばまた読める(決定的な鍵導出)
	s.Configure("user-1", "secret-1")
	assert.Equal(t, []byte("data"), s.Decrypt("user-1", payload))
}

func TestCrypto_TamperedPayloadFails(t *testing.T) {
	s := NewCryptoService()
	s.Configure("user-1", "secret-1")
	payload := s.Encrypt("user-1", []byte("data"))
	require.NotNil(t, payload)

	var envelope CacheEnvelope
	require.NoError(t, json.Unmarshal(payload, &envelope))

	// 暗号文の改ざん
	tampered := envelope
	tampered.D = "AAAA" + tampered.D[4:]
	tamperedPayload, _ := json.Marshal(tampered)
	assert.Nil(t, s.Decrypt("user-1", tamperedPayload))

	// バージョン違い
	wrongVersion := envelope
	wrongVersion.V = 99
	wrongVersionPayload, _ := json.Marshal(wrongVersion)
	assert.Nil(t, s.Decrypt("user-1", wrongVersionPayload))

	// JSONですらない
	assert.Nil(t, s.Decrypt("user-1", []byte("not json")))
}

func TestCrypto_Unconfigured(t *testing.T) {
	s := NewCryptoService()

	assert.False(t, s.Ready("user-1"))
	assert.Nil(t, s.Encrypt("user-1", []byte("data")))
	assert.Nil(t, s.Decrypt("user-1", []byte("{}")))

	s.Configure("user-1", "secret-1")
	assert.True(t, s.Ready("user-1"))
	assert.False(t, s.Ready("user-2"))

	// 空のシークレットで未構成へ戻る
	s.Configure("user-1", "")
	assert.False(t, s.Ready("user-1"))
	assert.Nil(t, s.Encrypt("user-1", []byte("data")))
}

func TestCrypto_OnDisabledHook(t *testing.T) {
	s := NewCryptoService()
	fired := 0
	s.OnDisabled(func() { fired++ })

	// 未構成→未構成では発火しない
	s.Configure("", "")
	assert.Equal(t, 0, fired)

	s.Configure("user-1", "secret-1")
	assert.Equal(t, 0, fired)

	// 構成済み→未構成で発火する
	s.Configure("", "")
	assert.Equal(t, 1, fired)
}

func TestCrypto_IdenticalReconfigureIsNoOp(t *testing.T) {
	s := NewCryptoService()
	fired := 0
	s.OnDisabled(func() { fired++ })

	s.Configure("user-1", "secret-1")
	sealed := s.Encrypt("user-1", []byte("payload"))
	require.NotNil(t, sealed)

	// 同じ uid と secret での再設定は鍵を差し替えない
	s.Configure("user-1", "secret-1")
	assert.Equal(t, 0, fired)
	assert.Equal(t, []byte("payload"), s.Decrypt("user-1", sealed))

	// secret が変われば差し替え扱い
	s.Configure("user-1", "secret-2")
	assert.Equal(t, 1, fired)
	assert.Nil(t, s.Decrypt("user-1", sealed))
}
