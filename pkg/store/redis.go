package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// RedisStore is the production Store backend. It keeps every record as JSON
// under the keys in keys.go and runs multi-key mutations as Lua scripts so
// concurrent governors and workers never observe partial state.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an already-connected client. Callers own the client's
// lifecycle configuration; Close closes it.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *RedisStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Sessions.

func (s *RedisStore) SaveSession(ctx context.Context, rec *models.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", rec.SessionID, err)
	}
	// KEEPTTL preserves the retention countdown on already-terminal records.
	return s.client.Set(ctx, SessionKey(rec.SessionID), data, redis.KeepTTL).Err()
}

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	data, err := s.client.Get(ctx, SessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (s *RedisStore) GetSessions(ctx context.Context, sessionIDs []string) ([]*models.SessionRecord, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(sessionIDs))
	for i, id := range sessionIDs {
		keys[i] = SessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	records := make([]*models.SessionRecord, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec models.SessionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

func (s *RedisStore) UpdateSessionCAS(ctx context.Context, rec *models.SessionRecord, expected models.SessionStatus) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal session %s: %w", rec.SessionID, err)
	}
	res, err := casSessionScript.Run(ctx, s.client,
		[]string{SessionKey(rec.SessionID)},
		string(expected), string(data)).Int()
	if err != nil {
		return false, err
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrNotFound
	}
}

func (s *RedisStore) ExpireSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	return s.client.PExpire(ctx, SessionKey(sessionID), ttl).Err()
}

func (s *RedisStore) ListSessions(ctx context.Context) ([]*models.SessionRecord, error) {
	ids, err := s.scanKeys(ctx, sessionPrefix+"*")
	if err != nil {
		return nil, err
	}
	sessionIDs := make([]string, 0, len(ids))
	for _, key := range ids {
		sessionIDs = append(sessionIDs, strings.TrimPrefix(key, sessionPrefix))
	}
	return s.GetSessions(ctx, sessionIDs)
}

// Queue.

func (s *RedisStore) EnqueueWork(ctx context.Context, sessionID string, priority int, queuedAt int64) error {
	return s.client.ZAdd(ctx, QueueKey, redis.Z{
		Score:  QueueScore(priority, queuedAt),
		Member: sessionID,
	}).Err()
}

func (s *RedisStore) RemoveQueued(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.ZRem(ctx, QueueKey, sessionID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) PeekQueue(ctx context.Context, limit int64) ([]string, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	return s.client.ZRange(ctx, QueueKey, 0, stop).Result()
}

func (s *RedisStore) QueueDepth(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, QueueKey).Result()
}

func (s *RedisStore) ClaimSession(ctx context.Context, sessionID, workerID string, claimTTL time.Duration) (*models.ClaimResult, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{QueueKey, SessionKey(sessionID), ClaimKey(sessionID), WorkerSessionsKey(workerID)},
		sessionID, workerID, claimTTL.Milliseconds(), s.now().UnixMilli()).Slice()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("claim script returned empty result for session %s", sessionID)
	}
	verdict, _ := res[0].(string)
	if verdict != "claimed" {
		return &models.ClaimResult{Reason: models.ClaimReason(verdict)}, nil
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("claim script returned no session payload for %s", sessionID)
	}
	raw, _ := res[1].(string)
	var rec models.SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal claimed session %s: %w", sessionID, err)
	}
	return &models.ClaimResult{
		Claimed: true,
		Session: &rec,
		Work:    models.WorkFromSession(&rec),
	}, nil
}

// Claim leases.

func (s *RedisStore) GetClaimOwner(ctx context.Context, sessionID string) (string, error) {
	val, err := s.client.Get(ctx, ClaimKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (s *RedisStore) RefreshClaim(ctx context.Context, sessionID, workerID string, ttl time.Duration) (bool, error) {
	res, err := renewIfOwnedScript.Run(ctx, s.client,
		[]string{ClaimKey(sessionID)}, workerID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) ReleaseClaim(ctx context.Context, sessionID, workerID string) (bool, error) {
	res, err := deleteIfOwnedScript.Run(ctx, s.client,
		[]string{ClaimKey(sessionID)}, workerID).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) ForceReleaseClaim(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, ClaimKey(sessionID)).Err()
}

func (s *RedisStore) TransferSession(ctx context.Context, sessionID, fromWorkerID, toWorkerID string, claimTTL time.Duration) (bool, error) {
	res, err := transferScript.Run(ctx, s.client,
		[]string{SessionKey(sessionID), ClaimKey(sessionID), WorkerSessionsKey(fromWorkerID), WorkerSessionsKey(toWorkerID)},
		sessionID, fromWorkerID, toWorkerID, claimTTL.Milliseconds(), s.now().UnixMilli()).Int()
	if err != nil {
		return false, err
	}
	switch res {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, ErrNotFound
	}
}

// Issue locks.

func (s *RedisStore) AcquireIssueLock(ctx context.Context, lock *models.IssueLock, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(lock)
	if err != nil {
		return false, fmt.Errorf("marshal lock for issue %s: %w", lock.IssueID, err)
	}
	return s.client.SetNX(ctx, IssueLockKey(lock.IssueID), data, ttl).Result()
}

func (s *RedisStore) GetIssueLock(ctx context.Context, issueID string) (*models.IssueLock, error) {
	data, err := s.client.Get(ctx, IssueLockKey(issueID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lock models.IssueLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("unmarshal lock for issue %s: %w", issueID, err)
	}
	return &lock, nil
}

func (s *RedisStore) RefreshIssueLock(ctx context.Context, issueID, sessionID string, ttl time.Duration) (bool, error) {
	res, err := renewLockScript.Run(ctx, s.client,
		[]string{IssueLockKey(issueID)}, sessionID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) ReleaseIssueLock(ctx context.Context, issueID, sessionID string) (bool, error) {
	res, err := releaseLockScript.Run(ctx, s.client,
		[]string{IssueLockKey(issueID)}, sessionID).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) ListIssueLocks(ctx context.Context) ([]*models.IssueLock, error) {
	keys, err := s.scanKeys(ctx, lockPrefix+"*")
	if err != nil {
		return nil, err
	}
	locks := make([]*models.IssueLock, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var lock models.IssueLock
		if err := json.Unmarshal(data, &lock); err != nil {
			continue
		}
		locks = append(locks, &lock)
	}
	return locks, nil
}

// Parked work.

func (s *RedisStore) ParkWork(ctx context.Context, work *models.QueuedWork) (bool, error) {
	data, err := json.Marshal(work)
	if err != nil {
		return false, fmt.Errorf("marshal parked work for issue %s: %w", work.IssueID, err)
	}
	res, err := parkScript.Run(ctx, s.client,
		[]string{ParkedKey(work.IssueID)}, string(data), string(work.WorkType)).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) PopParked(ctx context.Context, issueID string) (*models.QueuedWork, error) {
	res, err := popParkedScript.Run(ctx, s.client, []string{ParkedKey(issueID)}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, ok := res.(string)
	if !ok {
		return nil, nil
	}
	var work models.QueuedWork
	if err := json.Unmarshal([]byte(raw), &work); err != nil {
		return nil, fmt.Errorf("unmarshal parked work for issue %s: %w", issueID, err)
	}
	return &work, nil
}

func (s *RedisStore) RemoveParked(ctx context.Context, issueID, sessionID string) (bool, error) {
	res, err := removeParkedScript.Run(ctx, s.client,
		[]string{ParkedKey(issueID)}, sessionID).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) ListParked(ctx context.Context, issueID string) ([]*models.QueuedWork, error) {
	items, err := s.client.LRange(ctx, ParkedKey(issueID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	works := make([]*models.QueuedWork, 0, len(items))
	for _, raw := range items {
		var work models.QueuedWork
		if err := json.Unmarshal([]byte(raw), &work); err != nil {
			continue
		}
		works = append(works, &work)
	}
	return works, nil
}

func (s *RedisStore) ParkedDepth(ctx context.Context) (int64, error) {
	keys, err := s.scanKeys(ctx, parkedPrefix+"*")
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range keys {
		n, err := s.client.LLen(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Overrides.

func (s *RedisStore) SaveOverride(ctx context.Context, rec *models.OverrideRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal override for issue %s: %w", rec.IssueID, err)
	}
	return s.client.Set(ctx, OverrideKey(rec.IssueID), data, 0).Err()
}

func (s *RedisStore) GetOverride(ctx context.Context, issueID string) (*models.OverrideRecord, error) {
	data, err := s.client.Get(ctx, OverrideKey(issueID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.OverrideRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal override for issue %s: %w", issueID, err)
	}
	return &rec, nil
}

func (s *RedisStore) ClearOverride(ctx context.Context, issueID string) error {
	return s.client.Del(ctx, OverrideKey(issueID)).Err()
}

// Processing phases.

func (s *RedisStore) MarkPhaseCompleted(ctx context.Context, rec *models.ProcessingPhaseRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal phase record for issue %s: %w", rec.IssueID, err)
	}
	return s.client.Set(ctx, PhaseKey(rec.IssueID, rec.Phase), data, ttl).Err()
}

func (s *RedisStore) GetPhaseRecord(ctx context.Context, issueID string, phase models.ProcessingPhase) (*models.ProcessingPhaseRecord, error) {
	data, err := s.client.Get(ctx, PhaseKey(issueID, phase)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.ProcessingPhaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal phase record for issue %s: %w", issueID, err)
	}
	return &rec, nil
}

// Dedup markers.

func (s *RedisStore) CheckAndMarkDedup(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, DedupMarkerKey(key), "1", window).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (s *RedisStore) ClearDedup(ctx context.Context, key string) error {
	return s.client.Del(ctx, DedupMarkerKey(key)).Err()
}

// Cooldowns.

func (s *RedisStore) SetCooldown(ctx context.Context, issueID string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return s.client.Set(ctx, CooldownKey(issueID), "1", d).Err()
}

func (s *RedisStore) InCooldown(ctx context.Context, issueID string) (bool, error) {
	n, err := s.client.Exists(ctx, CooldownKey(issueID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Worker registry.

func (s *RedisStore) SaveWorker(ctx context.Context, rec *models.WorkerRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal worker %s: %w", rec.ID, err)
	}
	return s.client.Set(ctx, WorkerKey(rec.ID), data, ttl).Err()
}

func (s *RedisStore) GetWorker(ctx context.Context, workerID string) (*models.WorkerRecord, error) {
	data, err := s.client.Get(ctx, WorkerKey(workerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.WorkerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal worker %s: %w", workerID, err)
	}
	return &rec, nil
}

func (s *RedisStore) DeleteWorker(ctx context.Context, workerID string) error {
	return s.client.Del(ctx, WorkerKey(workerID), WorkerSessionsKey(workerID)).Err()
}

func (s *RedisStore) ListWorkers(ctx context.Context) ([]*models.WorkerRecord, error) {
	keys, err := s.scanKeys(ctx, workerPrefix+"*")
	if err != nil {
		return nil, err
	}
	workers := make([]*models.WorkerRecord, 0, len(keys))
	for _, key := range keys {
		// The scan pattern also matches the per-worker session sets.
		if strings.HasSuffix(key, ":sessions") {
			continue
		}
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec models.WorkerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		workers = append(workers, &rec)
	}
	return workers, nil
}

func (s *RedisStore) AddWorkerSession(ctx context.Context, workerID, sessionID string) error {
	return s.client.SAdd(ctx, WorkerSessionsKey(workerID), sessionID).Err()
}

func (s *RedisStore) RemoveWorkerSession(ctx context.Context, workerID, sessionID string) error {
	return s.client.SRem(ctx, WorkerSessionsKey(workerID), sessionID).Err()
}

func (s *RedisStore) ListWorkerSessions(ctx context.Context, workerID string) ([]string, error) {
	return s.client.SMembers(ctx, WorkerSessionsKey(workerID)).Result()
}

// Pending prompts.

func (s *RedisStore) AppendPrompt(ctx context.Context, p *models.PendingPrompt) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prompt for session %s: %w", p.SessionID, err)
	}
	return s.client.RPush(ctx, PromptsKey(p.SessionID), data).Err()
}

func (s *RedisStore) ListPrompts(ctx context.Context, sessionID string) ([]*models.PendingPrompt, error) {
	items, err := s.client.LRange(ctx, PromptsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	prompts := make([]*models.PendingPrompt, 0, len(items))
	for _, raw := range items {
		var p models.PendingPrompt
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		prompts = append(prompts, &p)
	}
	return prompts, nil
}

func (s *RedisStore) PopPrompt(ctx context.Context, sessionID string) (*models.PendingPrompt, error) {
	raw, err := s.client.LPop(ctx, PromptsKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p models.PendingPrompt
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("unmarshal prompt for session %s: %w", sessionID, err)
	}
	return &p, nil
}

func (s *RedisStore) TakePrompt(ctx context.Context, sessionID, promptID string) (*models.PendingPrompt, error) {
	res, err := takePromptScript.Run(ctx, s.client,
		[]string{PromptsKey(sessionID)}, promptID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, ok := res.(string)
	if !ok {
		return nil, nil
	}
	var p models.PendingPrompt
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("unmarshal prompt %s: %w", promptID, err)
	}
	return &p, nil
}

// Webhook idempotency.

func (s *RedisStore) MarkWebhookProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, WebhookKey(key), "1", ttl).Result()
}

func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
