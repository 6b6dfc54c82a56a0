package xredis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// renewScript 只有持有者才能续期，避免 GET + EXPIRE 之间被别人抢走
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// LeaderLock 基于 SETNX 的主节点选举，多副本时只有一个实例跑后台任务
type LeaderLock struct {
	rdb *redis.Client
	key string
	id  string // 当前节点的唯一ID（hostname + uuid）
}

func NewLeaderLock(rdb *redis.Client, key string) *LeaderLock {
	host, _ := os.Hostname()
	return &LeaderLock{
		rdb: rdb,
		key: key,
		id:  fmt.Sprintf("%s-%s", host, uuid.NewString()),
	}
}

// TryAcquire 抢锁或续期，返回当前节点是否为 leader
func (l *LeaderLock) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	// SETNX: 如果 Key 不存在则设置成功；带过期时间防止 leader 挂了后死锁
	ok, err := l.rdb.SetNX(ctx, l.key, l.id, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.id, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *LeaderLock) ID() string { return l.id }
