package state

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/baton/pkg/models"
)

// ErrStoreClosed is returned by mutating calls after Close.
var ErrStoreClosed = errors.New("session store is closed")

// DefaultCompletionStep is the completion added per SUCCESS packet.
const DefaultCompletionStep = 10.0

// MetaInitialAgent is the metadata key CreateSession records the initial
// agent under.
const MetaInitialAgent = "initial_agent"

// Counter names persisted alongside the sessions.
const (
	counterSessionsCreated    = "sessions_created"
	counterSessionsResumed    = "sessions_resumed"
	counterPacketsCached      = "packets_cached"
	counterCheckpointsCreated = "checkpoints_created"
	counterWorkflowsCompleted = "workflows_completed"
	counterWorkflowsFailed    = "workflows_failed"
)

// Statistics summarizes store activity.
type Statistics struct {
	SessionsCreated    int64   `json:"sessions_created"`
	SessionsResumed    int64   `json:"sessions_resumed"`
	PacketsCached      int64   `json:"packets_cached"`
	CheckpointsCreated int64   `json:"checkpoints_created"`
	WorkflowsCompleted int64   `json:"workflows_completed"`
	WorkflowsFailed    int64   `json:"workflows_failed"`
	CacheHitRate       float64 `json:"cache_hit_rate"`
	ActiveSessions     int     `json:"active_sessions"`
}

// Options configures a Store.
type Options struct {
	// CompletionStep is added to completion per SUCCESS packet.
	// Zero means DefaultCompletionStep.
	CompletionStep float64
	Logger         *zap.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store keeps every workflow session in memory and writes each mutation
// through to a Persister. A single mutex guards all state.
type Store struct {
	mu       sync.Mutex
	db       Persister
	codec    *codec
	sessions map[string]*models.WorkflowSession
	counters map[string]int64
	lookups  int64
	hits     int64
	closed   bool

	completionStep float64
	logger         *zap.Logger
	now            func() time.Time
}

// OpenStore opens (creating if needed) the session database in dir using
// driver and loads every session.
func OpenStore(dir, driver string, opts Options) (*Store, error) {
	db, err := OpenWithDriver(driver, filepath.Join(dir, DBFileName))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	s, err := NewStore(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("session store opened",
		zap.String("path", db.Path()),
		zap.String("driver", db.Driver()))
	return s, nil
}

// NewStore creates a store over db and eagerly loads all persisted
// sessions. Blobs that cannot be decoded are skipped with a warning.
// The store takes ownership of db and closes it on Close.
func NewStore(db Persister, opts Options) (*Store, error) {
	c, err := newCodec()
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:             db,
		codec:          c,
		sessions:       make(map[string]*models.WorkflowSession),
		completionStep: opts.CompletionStep,
		logger:         opts.Logger,
		now:            opts.Now,
	}
	if s.completionStep <= 0 || s.completionStep > 100 {
		s.completionStep = DefaultCompletionStep
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	recs, err := db.LoadSessions()
	if err != nil {
		c.close()
		return nil, err
	}
	for _, rec := range recs {
		sess, err := c.decode(rec.Data)
		if err != nil {
			s.logger.Warn("skipping unreadable session blob",
				zap.String("session_id", rec.ID), zap.Error(err))
			continue
		}
		s.sessions[sess.SessionID] = sess
	}
	counters, err := db.Counters()
	if err != nil {
		c.close()
		return nil, err
	}
	s.counters = counters
	s.logger.Debug("session store loaded", zap.Int("sessions", len(s.sessions)))
	return s, nil
}

// CreateSession starts a new ACTIVE session and persists it. The id is
// derived from a hash of the workflow name and the creation time.
func (s *Store) CreateSession(workflowName string, initialAgent models.Agent, metadata map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}

	now := s.now()
	id := s.newID(workflowName, now)
	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[MetaInitialAgent] = string(initialAgent)

	sess := &models.WorkflowSession{
		SessionID:      id,
		WorkflowName:   workflowName,
		StartedAt:      models.EpochSeconds(now),
		UpdatedAt:      models.EpochSeconds(now),
		State:          models.SessionActive,
		HandoffPackets: []*models.HandoffPacket{},
		CurrentAgent:   string(initialAgent),
		Checkpoints:    make(map[string]bool),
		Metadata:       meta,
	}
	if err := s.persist(sess, map[string]int64{counterSessionsCreated: 1}); err != nil {
		return "", err
	}
	s.sessions[id] = sess
	s.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("workflow", workflowName),
		zap.String("agent", string(initialAgent)))
	return id, nil
}

// AddPacket appends a packet to a session. It returns false when the
// session is unknown. SUCCESS packets advance completion while the session
// is ACTIVE or RESUMED, and reaching 100 completes it; a FAILURE packet
// fails any session that has not already finished. When checkpoint is
// true the packet's task id is recorded as a resume point.
func (s *Store) AddPacket(sessionID string, packet *models.HandoffPacket, checkpoint bool) (bool, error) {
	if packet == nil {
		return false, fmt.Errorf("add packet: nil packet")
	}
	if err := packet.Validate(); err != nil {
		return false, fmt.Errorf("add packet: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	cur, ok := s.lookup(sessionID)
	if !ok {
		return false, nil
	}

	next := cur.Clone()
	deltas := map[string]int64{counterPacketsCached: 1}
	next.HandoffPackets = append(next.HandoffPackets, packet.Clone())
	next.CurrentAgent = packet.AgentName
	if agent, ok := packet.NextStepSuggestion.Agent(); ok {
		next.NextSuggestedAgent = string(agent)
	} else {
		next.NextSuggestedAgent = ""
	}
	if checkpoint && !next.Checkpoints[packet.CompletedTaskID] {
		next.Checkpoints[packet.CompletedTaskID] = true
		deltas[counterCheckpointsCreated] = 1
	}

	switch {
	case packet.Status == models.PacketFailure && !next.State.Terminal():
		next.State = models.SessionFailed
		deltas[counterWorkflowsFailed] = 1
	case packet.Status == models.PacketSuccess && next.State.Progressing():
		if packet.NextStepSuggestion == models.NextStepWorkflowComplete {
			next.CompletionPercentage = 100
		} else {
			next.CompletionPercentage = min(next.CompletionPercentage+s.completionStep, 100)
		}
		if next.CompletionPercentage >= 100 {
			next.State = models.SessionCompleted
			deltas[counterWorkflowsCompleted] = 1
		}
	}
	next.UpdatedAt = models.EpochSeconds(s.now())

	if err := s.persist(next, deltas); err != nil {
		return false, err
	}
	s.sessions[sessionID] = next
	return true, nil
}

// Pause moves a non-terminal session to PAUSED. It returns false when the
// session is unknown or already completed or failed.
func (s *Store) Pause(sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	cur, ok := s.lookup(sessionID)
	if !ok || cur.State.Terminal() {
		return false, nil
	}
	if cur.State == models.SessionPaused {
		return true, nil
	}

	next := cur.Clone()
	next.State = models.SessionPaused
	next.UpdatedAt = models.EpochSeconds(s.now())
	if err := s.persist(next, nil); err != nil {
		return false, err
	}
	s.sessions[sessionID] = next
	s.logger.Info("session paused", zap.String("session_id", sessionID))
	return true, nil
}

// Resume reopens a paused or failed session that holds at least one
// packet. ok is false when the session is unknown or not resumable, in
// which case nothing changes. On success the session becomes RESUMED and
// the newest checkpointed SUCCESS packet is returned; a nil packet means
// no checkpoint exists and the workflow restarts from the beginning.
func (s *Store) Resume(sessionID string) (*models.HandoffPacket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}
	cur, ok := s.lookup(sessionID)
	if !ok || !cur.Resumable() {
		return nil, false, nil
	}

	var resumeFrom *models.HandoffPacket
	for i := len(cur.HandoffPackets) - 1; i >= 0; i-- {
		p := cur.HandoffPackets[i]
		if p.Status == models.PacketSuccess && cur.IsCheckpoint(p.CompletedTaskID) {
			resumeFrom = p
			break
		}
	}

	next := cur.Clone()
	next.State = models.SessionResumed
	next.UpdatedAt = models.EpochSeconds(s.now())
	if err := s.persist(next, map[string]int64{counterSessionsResumed: 1}); err != nil {
		return nil, false, err
	}
	s.sessions[sessionID] = next
	s.logger.Info("session resumed",
		zap.String("session_id", sessionID),
		zap.Bool("from_checkpoint", resumeFrom != nil))
	return resumeFrom.Clone(), true, nil
}

// CleanupExpired deletes COMPLETED and FAILED sessions last updated more
// than maxAgeDays ago, from memory and from disk. It returns the number
// removed.
func (s *Store) CleanupExpired(maxAgeDays int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := models.EpochSeconds(s.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour))
	var expired []string
	for id, sess := range s.sessions {
		if sess.State.Terminal() && sess.UpdatedAt < cutoff {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	sort.Strings(expired)
	if _, err := s.db.DeleteSessions(expired); err != nil {
		return 0, err
	}
	for _, id := range expired {
		delete(s.sessions, id)
	}
	s.logger.Info("expired sessions removed", zap.Int("count", len(expired)))
	return len(expired), nil
}

// Session returns a deep copy of the session.
func (s *Store) Session(sessionID string) (*models.WorkflowSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.lookup(sessionID)
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Sessions returns deep copies of every session, oldest first.
func (s *Store) Sessions() []*models.WorkflowSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.WorkflowSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sortSessions(out)
	return out
}

// ListActive returns the ids of ACTIVE and RESUMED sessions, oldest first.
func (s *Store) ListActive() []string {
	return s.ids(func(sess *models.WorkflowSession) bool { return sess.State.Progressing() })
}

// ListResumable returns the ids of resumable sessions, oldest first.
func (s *Store) ListResumable() []string {
	return s.ids(func(sess *models.WorkflowSession) bool { return sess.Resumable() })
}

// Statistics returns the store counters. The cache hit rate covers id
// lookups made by this process.
func (s *Store) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Statistics{
		SessionsCreated:    s.counters[counterSessionsCreated],
		SessionsResumed:    s.counters[counterSessionsResumed],
		PacketsCached:      s.counters[counterPacketsCached],
		CheckpointsCreated: s.counters[counterCheckpointsCreated],
		WorkflowsCompleted: s.counters[counterWorkflowsCompleted],
		WorkflowsFailed:    s.counters[counterWorkflowsFailed],
	}
	if s.lookups > 0 {
		st.CacheHitRate = float64(s.hits) / float64(s.lookups)
	}
	for _, sess := range s.sessions {
		if sess.State.Progressing() {
			st.ActiveSessions++
		}
	}
	return st
}

// Close releases the codec and the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.codec.close()
	return s.db.Close()
}

func (s *Store) ids(keep func(*models.WorkflowSession) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.WorkflowSession
	for _, sess := range s.sessions {
		if keep(sess) {
			matched = append(matched, sess)
		}
	}
	sortSessions(matched)
	out := make([]string, len(matched))
	for i, sess := range matched {
		out[i] = sess.SessionID
	}
	return out
}

// lookup finds a session and records the hit or miss. Caller holds mu.
func (s *Store) lookup(id string) (*models.WorkflowSession, bool) {
	s.lookups++
	sess, ok := s.sessions[id]
	if ok {
		s.hits++
	}
	return sess, ok
}

// persist writes sess through to disk and, on success, folds deltas into
// the in-memory counters. Caller holds mu.
func (s *Store) persist(sess *models.WorkflowSession, deltas map[string]int64) error {
	blob, err := s.codec.encode(sess)
	if err != nil {
		return err
	}
	rec := BlobRecord{
		ID:           sess.SessionID,
		WorkflowName: sess.WorkflowName,
		State:        string(sess.State),
		UpdatedAt:    sess.UpdatedAt,
		Data:         blob,
	}
	if err := s.db.SaveSession(rec, deltas); err != nil {
		return err
	}
	for k, v := range deltas {
		s.counters[k] += v
	}
	return nil
}

func (s *Store) newID(workflowName string, now time.Time) string {
	seed := workflowName + strconv.FormatInt(now.UnixNano(), 10)
	for i := 0; ; i++ {
		sum := sha256.Sum256([]byte(seed + suffix(i)))
		id := hex.EncodeToString(sum[:])[:16]
		if _, taken := s.sessions[id]; !taken {
			return id
		}
	}
}

func suffix(i int) string {
	if i == 0 {
		return ""
	}
	return "#" + strconv.Itoa(i)
}

func sortSessions(list []*models.WorkflowSession) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt != list[j].StartedAt {
			return list[i].StartedAt < list[j].StartedAt
		}
		return list[i].SessionID < list[j].SessionID
	})
}
