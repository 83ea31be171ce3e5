package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// MemoryStore implements Store behind a single mutex. It mirrors the Redis
// backend's semantics, including lazy TTL expiry, and backs unit tests and
// single-process deployments.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	sessions       map[string]*memSession
	queue          map[string]float64
	claims         map[string]*memClaim
	locks          map[string]*memLock
	parked         map[string][]models.QueuedWork
	overrides      map[string]models.OverrideRecord
	phases         map[string]*memPhase
	dedup          map[string]time.Time
	cooldowns      map[string]time.Time
	workers        map[string]*memWorker
	workerSessions map[string]map[string]struct{}
	prompts        map[string][]models.PendingPrompt
	webhooks       map[string]time.Time
}

type memSession struct {
	rec       models.SessionRecord
	expiresAt time.Time
}

type memClaim struct {
	owner     string
	expiresAt time.Time
}

type memLock struct {
	lock      models.IssueLock
	expiresAt time.Time
}

type memPhase struct {
	rec       models.ProcessingPhaseRecord
	expiresAt time.Time
}

type memWorker struct {
	rec       models.WorkerRecord
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:            time.Now,
		sessions:       make(map[string]*memSession),
		queue:          make(map[string]float64),
		claims:         make(map[string]*memClaim),
		locks:          make(map[string]*memLock),
		parked:         make(map[string][]models.QueuedWork),
		overrides:      make(map[string]models.OverrideRecord),
		phases:         make(map[string]*memPhase),
		dedup:          make(map[string]time.Time),
		cooldowns:      make(map[string]time.Time),
		workers:        make(map[string]*memWorker),
		workerSessions: make(map[string]map[string]struct{}),
		prompts:        make(map[string][]models.PendingPrompt),
		webhooks:       make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }

// past reports whether an expiry deadline has been reached. Zero means no
// expiry was set.
func (s *MemoryStore) past(deadline time.Time) bool {
	return !deadline.IsZero() && !s.now().Before(deadline)
}

// liveSession returns the stored entry unless it is missing or lazily
// expired. Callers hold at least the read lock.
func (s *MemoryStore) liveSession(sessionID string) *memSession {
	entry, ok := s.sessions[sessionID]
	if !ok || s.past(entry.expiresAt) {
		return nil
	}
	return entry
}

// Sessions.

func (s *MemoryStore) SaveSession(ctx context.Context, rec *models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiresAt time.Time
	if existing := s.liveSession(rec.SessionID); existing != nil {
		expiresAt = existing.expiresAt
	}
	s.sessions[rec.SessionID] = &memSession{rec: *rec, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry := s.liveSession(sessionID)
	if entry == nil {
		return nil, nil
	}
	rec := entry.rec
	return &rec, nil
}

func (s *MemoryStore) GetSessions(ctx context.Context, sessionIDs []string) ([]*models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*models.SessionRecord, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if entry := s.liveSession(id); entry != nil {
			rec := entry.rec
			records = append(records, &rec)
		}
	}
	return records, nil
}

func (s *MemoryStore) UpdateSessionCAS(ctx context.Context, rec *models.SessionRecord, expected models.SessionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.liveSession(rec.SessionID)
	if entry == nil {
		return false, ErrNotFound
	}
	if entry.rec.Status != expected {
		return false, nil
	}
	entry.rec = *rec
	return true, nil
}

func (s *MemoryStore) ExpireSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry := s.liveSession(sessionID); entry != nil {
		entry.expiresAt = s.now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) ListSessions(ctx context.Context) ([]*models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*models.SessionRecord, 0, len(s.sessions))
	for id := range s.sessions {
		if entry := s.liveSession(id); entry != nil {
			rec := entry.rec
			records = append(records, &rec)
		}
	}
	return records, nil
}

// Queue.

func (s *MemoryStore) EnqueueWork(ctx context.Context, sessionID string, priority int, queuedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[sessionID] = QueueScore(priority, queuedAt)
	return nil
}

func (s *MemoryStore) RemoveQueued(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[sessionID]; !ok {
		return false, nil
	}
	delete(s.queue, sessionID)
	return true, nil
}

func (s *MemoryStore) PeekQueue(ctx context.Context, limit int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.queueOrder()
	if limit > 0 && int64(len(ids)) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// queueOrder sorts members by score, ties broken by member, matching sorted
// set iteration order. Callers hold at least the read lock.
func (s *MemoryStore) queueOrder() []string {
	ids := make([]string, 0, len(s.queue))
	for id := range s.queue {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := s.queue[ids[i]], s.queue[ids[j]]
		if si != sj {
			return si < sj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (s *MemoryStore) QueueDepth(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.queue)), nil
}

func (s *MemoryStore) ClaimSession(ctx context.Context, sessionID, workerID string, claimTTL time.Duration) (*models.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[sessionID]; !ok {
		return &models.ClaimResult{Reason: models.ClaimReasonExpired}, nil
	}
	delete(s.queue, sessionID)
	entry := s.liveSession(sessionID)
	if entry == nil {
		return &models.ClaimResult{Reason: models.ClaimReasonExpired}, nil
	}
	if entry.rec.Status != models.SessionStatusPending {
		return &models.ClaimResult{Reason: models.ClaimReasonWrongStatus}, nil
	}
	if c, ok := s.claims[sessionID]; ok && !s.past(c.expiresAt) {
		// Someone else holds a live claim lease; put the work back.
		s.queue[sessionID] = QueueScore(entry.rec.Priority, entry.rec.QueuedAt)
		return &models.ClaimResult{Reason: models.ClaimReasonTransientFailure}, nil
	}
	now := s.now()
	s.claims[sessionID] = &memClaim{owner: workerID, expiresAt: now.Add(claimTTL)}
	entry.rec.Status = models.SessionStatusClaimed
	entry.rec.WorkerID = workerID
	entry.rec.ClaimedAt = now.UnixMilli()
	entry.rec.UpdatedAt = now.UnixMilli()
	s.addWorkerSession(workerID, sessionID)
	rec := entry.rec
	return &models.ClaimResult{
		Claimed: true,
		Session: &rec,
		Work:    models.WorkFromSession(&rec),
	}, nil
}

// Claim leases.

func (s *MemoryStore) GetClaimOwner(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[sessionID]
	if !ok || s.past(c.expiresAt) {
		return "", nil
	}
	return c.owner, nil
}

func (s *MemoryStore) RefreshClaim(ctx context.Context, sessionID, workerID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[sessionID]
	if !ok || s.past(c.expiresAt) || c.owner != workerID {
		return false, nil
	}
	c.expiresAt = s.now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) ReleaseClaim(ctx context.Context, sessionID, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[sessionID]
	if !ok || s.past(c.expiresAt) || c.owner != workerID {
		return false, nil
	}
	delete(s.claims, sessionID)
	return true, nil
}

func (s *MemoryStore) ForceReleaseClaim(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, sessionID)
	return nil
}

func (s *MemoryStore) TransferSession(ctx context.Context, sessionID, fromWorkerID, toWorkerID string, claimTTL time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.liveSession(sessionID)
	if entry == nil {
		return false, ErrNotFound
	}
	if entry.rec.WorkerID != fromWorkerID {
		return false, nil
	}
	now := s.now()
	entry.rec.WorkerID = toWorkerID
	entry.rec.UpdatedAt = now.UnixMilli()
	s.claims[sessionID] = &memClaim{owner: toWorkerID, expiresAt: now.Add(claimTTL)}
	if set, ok := s.workerSessions[fromWorkerID]; ok {
		delete(set, sessionID)
	}
	s.addWorkerSession(toWorkerID, sessionID)
	return true, nil
}

// Issue locks.

func (s *MemoryStore) AcquireIssueLock(ctx context.Context, lock *models.IssueLock, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.locks[lock.IssueID]; ok && !s.past(existing.expiresAt) {
		return false, nil
	}
	s.locks[lock.IssueID] = &memLock{lock: *lock, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) GetIssueLock(ctx context.Context, issueID string) (*models.IssueLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.locks[issueID]
	if !ok || s.past(entry.expiresAt) {
		return nil, nil
	}
	lock := entry.lock
	return &lock, nil
}

func (s *MemoryStore) RefreshIssueLock(ctx context.Context, issueID, sessionID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.locks[issueID]
	if !ok || s.past(entry.expiresAt) || entry.lock.SessionID != sessionID {
		return false, nil
	}
	entry.expiresAt = s.now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) ReleaseIssueLock(ctx context.Context, issueID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.locks[issueID]
	if !ok || s.past(entry.expiresAt) || entry.lock.SessionID != sessionID {
		return false, nil
	}
	delete(s.locks, issueID)
	return true, nil
}

func (s *MemoryStore) ListIssueLocks(ctx context.Context) ([]*models.IssueLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	locks := make([]*models.IssueLock, 0, len(s.locks))
	for _, entry := range s.locks {
		if s.past(entry.expiresAt) {
			continue
		}
		lock := entry.lock
		locks = append(locks, &lock)
	}
	return locks, nil
}

// Parked work.

func (s *MemoryStore) ParkWork(ctx context.Context, work *models.QueuedWork) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.parked[work.IssueID]
	for i := range list {
		if list[i].WorkType == work.WorkType {
			list[i] = *work
			return true, nil
		}
	}
	s.parked[work.IssueID] = append(list, *work)
	return false, nil
}

func (s *MemoryStore) PopParked(ctx context.Context, issueID string) (*models.QueuedWork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.parked[issueID]
	if len(list) == 0 {
		return nil, nil
	}
	best := 0
	for i := 1; i < len(list); i++ {
		if list[i].Priority < list[best].Priority ||
			(list[i].Priority == list[best].Priority && list[i].QueuedAt < list[best].QueuedAt) {
			best = i
		}
	}
	work := list[best]
	s.parked[issueID] = append(list[:best], list[best+1:]...)
	if len(s.parked[issueID]) == 0 {
		delete(s.parked, issueID)
	}
	return &work, nil
}

func (s *MemoryStore) RemoveParked(ctx context.Context, issueID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.parked[issueID]
	for i := range list {
		if list[i].SessionID == sessionID {
			s.parked[issueID] = append(list[:i], list[i+1:]...)
			if len(s.parked[issueID]) == 0 {
				delete(s.parked, issueID)
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListParked(ctx context.Context, issueID string) ([]*models.QueuedWork, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.parked[issueID]
	works := make([]*models.QueuedWork, 0, len(list))
	for i := range list {
		work := list[i]
		works = append(works, &work)
	}
	return works, nil
}

func (s *MemoryStore) ParkedDepth(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, list := range s.parked {
		total += int64(len(list))
	}
	return total, nil
}

// Overrides.

func (s *MemoryStore) SaveOverride(ctx context.Context, rec *models.OverrideRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[rec.IssueID] = *rec
	return nil
}

func (s *MemoryStore) GetOverride(ctx context.Context, issueID string) (*models.OverrideRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.overrides[issueID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) ClearOverride(ctx context.Context, issueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, issueID)
	return nil
}

// Processing phases.

func (s *MemoryStore) MarkPhaseCompleted(ctx context.Context, rec *models.ProcessingPhaseRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases[PhaseKey(rec.IssueID, rec.Phase)] = &memPhase{rec: *rec, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) GetPhaseRecord(ctx context.Context, issueID string, phase models.ProcessingPhase) (*models.ProcessingPhaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.phases[PhaseKey(issueID, phase)]
	if !ok || s.past(entry.expiresAt) {
		return nil, nil
	}
	rec := entry.rec
	return &rec, nil
}

// Dedup markers.

func (s *MemoryStore) CheckAndMarkDedup(ctx context.Context, key string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deadline, ok := s.dedup[key]; ok && !s.past(deadline) {
		return true, nil
	}
	s.dedup[key] = s.now().Add(window)
	return false, nil
}

func (s *MemoryStore) ClearDedup(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dedup, key)
	return nil
}

// Cooldowns.

func (s *MemoryStore) SetCooldown(ctx context.Context, issueID string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[issueID] = s.now().Add(d)
	return nil
}

func (s *MemoryStore) InCooldown(ctx context.Context, issueID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	deadline, ok := s.cooldowns[issueID]
	return ok && !s.past(deadline), nil
}

// Worker registry.

func (s *MemoryStore) SaveWorker(ctx context.Context, rec *models.WorkerRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	clone.Projects = append([]string(nil), rec.Projects...)
	s.workers[rec.ID] = &memWorker{rec: clone, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) GetWorker(ctx context.Context, workerID string) (*models.WorkerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.workers[workerID]
	if !ok || s.past(entry.expiresAt) {
		return nil, nil
	}
	rec := entry.rec
	rec.Projects = append([]string(nil), entry.rec.Projects...)
	return &rec, nil
}

func (s *MemoryStore) DeleteWorker(ctx context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, workerID)
	delete(s.workerSessions, workerID)
	return nil
}

func (s *MemoryStore) ListWorkers(ctx context.Context) ([]*models.WorkerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workers := make([]*models.WorkerRecord, 0, len(s.workers))
	for _, entry := range s.workers {
		if s.past(entry.expiresAt) {
			continue
		}
		rec := entry.rec
		rec.Projects = append([]string(nil), entry.rec.Projects...)
		workers = append(workers, &rec)
	}
	return workers, nil
}

// addWorkerSession requires the write lock.
func (s *MemoryStore) addWorkerSession(workerID, sessionID string) {
	set, ok := s.workerSessions[workerID]
	if !ok {
		set = make(map[string]struct{})
		s.workerSessions[workerID] = set
	}
	set[sessionID] = struct{}{}
}

func (s *MemoryStore) AddWorkerSession(ctx context.Context, workerID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addWorkerSession(workerID, sessionID)
	return nil
}

func (s *MemoryStore) RemoveWorkerSession(ctx context.Context, workerID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.workerSessions[workerID]; ok {
		delete(set, sessionID)
	}
	return nil
}

func (s *MemoryStore) ListWorkerSessions(ctx context.Context, workerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.workerSessions[workerID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Pending prompts.

func (s *MemoryStore) AppendPrompt(ctx context.Context, p *models.PendingPrompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[p.SessionID] = append(s.prompts[p.SessionID], *p)
	return nil
}

func (s *MemoryStore) ListPrompts(ctx context.Context, sessionID string) ([]*models.PendingPrompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.prompts[sessionID]
	prompts := make([]*models.PendingPrompt, 0, len(list))
	for i := range list {
		p := list[i]
		prompts = append(prompts, &p)
	}
	return prompts, nil
}

func (s *MemoryStore) PopPrompt(ctx context.Context, sessionID string) (*models.PendingPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.prompts[sessionID]
	if len(list) == 0 {
		return nil, nil
	}
	p := list[0]
	s.prompts[sessionID] = list[1:]
	if len(s.prompts[sessionID]) == 0 {
		delete(s.prompts, sessionID)
	}
	return &p, nil
}

func (s *MemoryStore) TakePrompt(ctx context.Context, sessionID, promptID string) (*models.PendingPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.prompts[sessionID]
	for i := range list {
		if list[i].ID == promptID {
			p := list[i]
			s.prompts[sessionID] = append(list[:i], list[i+1:]...)
			if len(s.prompts[sessionID]) == 0 {
				delete(s.prompts, sessionID)
			}
			return &p, nil
		}
	}
	return nil, nil
}

// Webhook idempotency.

func (s *MemoryStore) MarkWebhookProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deadline, ok := s.webhooks[key]; ok && !s.past(deadline) {
		return false, nil
	}
	s.webhooks[key] = s.now().Add(ttl)
	return true, nil
}
