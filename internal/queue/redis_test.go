package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// scriptedHook answers Redis commands in-process so RedisQueue logic can be
// exercised without a server. Single commands succeed; pipelines fail with
// pipelineErr when set.
type scriptedHook struct {
	pipelineErr error
	deleted     []string
	setKeys     []string
}

func (h *scriptedHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h *scriptedHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		switch cmd.Name() {
		case "set":
			if key, ok := cmd.Args()[1].(string); ok {
				h.setKeys = append(h.setKeys, key)
			}
			cmd.(*redis.BoolCmd).SetVal(true)
		case "del":
			if key, ok := cmd.Args()[1].(string); ok {
				h.deleted = append(h.deleted, key)
			}
			cmd.(*redis.IntCmd).SetVal(1)
		}
		return nil
	}
}

func (h *scriptedHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if h.pipelineErr != nil {
			return h.pipelineErr
		}
		return next(ctx, cmds)
	}
}

func TestRedisEnqueueFreesIdempotencyKeyOnFailedWrite(t *testing.T) {
	hook := &scriptedHook{pipelineErr: errors.New("write failed")}
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	client.AddHook(hook)
	q := NewRedisQueue(client)

	job := NewJob("ingest-message", []byte(`{}`), time.Time{}, "ingest:1:m1")
	err := q.Enqueue(context.Background(), job)
	if err == nil {
		t.Fatal("expected enqueue to surface the pipeline failure")
	}

	wantKey := idemKeyPre + "ingest:1:m1"
	claimed := false
	for _, k := range hook.setKeys {
		if k == wantKey {
			claimed = true
		}
	}
	if !claimed {
		t.Fatalf("idempotency key %s was never claimed (set keys: %v)", wantKey, hook.setKeys)
	}

	freed := false
	for _, k := range hook.deleted {
		if k == wantKey {
			freed = true
		}
	}
	if !freed {
		t.Errorf("idempotency key %s not freed after failed write (deleted: %v)", wantKey, hook.deleted)
	}
}
