// Package cache はRedisを使用した短命な読み取りキャッシュを提供する。
//
// 管理ダッシュボードの統計のような集計クエリの結果を短いTTLで保持し、
// データベースへの負荷を抑える。Redisが設定されていない、または
// 到達できない場合はフェイルオープンし、すべての参照をミスとして扱う。
// キャッシュの不調がアプリケーションの応答を妨げることはない。
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// operationTimeout はRedis操作1回あたりのタイムアウト。
// キャッシュはあくまで最適化であり、遅いRedisを待つより
// データベースに問い合わせた方が速い。
const operationTimeout = 250 * time.Millisecond

// Store はバイト列キャッシュのインターフェース。
// サービス層からはこのインターフェース経由で利用する。
type Store interface {
	// Get はキーに対応する値を返す。
	// キャッシュミスまたはRedisエラーの場合は ok=false を返す。
	Get(ctx context.Context, key string) (value []byte, ok bool)
	// Set は値を指定TTLで保存する。エラーは記録するだけで呼び出し元には返さない。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Delete はキーを削除する。エラーは記録するだけで呼び出し元には返さない。
	Delete(ctx context.Context, key string)
	// Close は接続を閉じる。
	Close() error
}

// RedisStore はStoreのRedis実装。
// clientがnilの場合（Redis未設定）はすべての操作がno-opになる。
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

// コンパイル時にインターフェースを満たすことを確認
var _ Store = (*RedisStore)(nil)

// NewRedisStore は新しいRedisStoreを生成する。
// addrが空文字列の場合はキャッシュ無効のストアを返す。
// 起動時にRedisへ到達できなくても起動は継続し、以降の操作がミスになるだけ。
func NewRedisStore(addr string, logger *slog.Logger) *RedisStore {
	s := &RedisStore{
		logger: logger,
		prefix: "teamman:cache:",
	}
	if addr == "" {
		return s
	}

	s.client = redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redisへの接続確認に失敗しました（キャッシュはフェイルオープンで継続）",
			slog.String("addr", addr),
			slog.String("error", err.Error()),
		)
	}

	return s
}

// Enabled はキャッシュが有効かどうかを返す。
func (s *RedisStore) Enabled() bool {
	return s.client != nil
}

// Get はキーに対応する値を返す。ミスまたはエラーの場合は ok=false。
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if s.client == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("キャッシュの取得に失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	return value, true
}

// Set は値を指定TTLで保存する。
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if s.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		s.logger.Warn("キャッシュの保存に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Delete はキーを削除する。
func (s *RedisStore) Delete(ctx context.Context, key string) {
	if s.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		s.logger.Warn("キャッシュの削除に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Close は接続を閉じる。キャッシュ無効の場合はnilを返す。
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
