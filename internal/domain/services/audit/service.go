// Package audit implements an append-only, hash-chained audit log:
// every entry's signature is an HMAC-SHA256 over a canonicalized
// subset of its fields, and each entry's previousHash links it to the
// prior entry's signature and timestamp.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/entities"
	"github.com/railguard/sentinel/pkg/metrics"
)

// Repository is the append-only persistence contract; Postgres schema
// migrations reject UPDATE/DELETE on this table outright.
type Repository interface {
	Insert(ctx context.Context, entry *entities.AuditLogEntry) error
	Latest(ctx context.Context) (*entities.AuditLogEntry, error)
	ListRange(ctx context.Context, start, end time.Time, limit int) ([]*entities.AuditLogEntry, error)
}

// Service writes and verifies the chain. lastSignature/lastTimestamp cache
// the tail in memory so a burst of writes from one process doesn't
// need a read round-trip per entry; it is a convenience, not a
// correctness requirement — the chain is a best-effort tamper-detection
// mechanism, not serialized across writers.
type Service struct {
	repo          Repository
	logger        *zap.Logger
	auditKey      []byte
	mu            sync.Mutex
	lastSignature string
	lastTimestamp time.Time
	haveLast      bool
}

func NewService(repo Repository, logger *zap.Logger, auditKey []byte) *Service {
	return &Service{repo: repo, logger: logger, auditKey: auditKey}
}

// Record writes one entry, computing previousHash and signature per
// the writer protocol. Audit-write failures are logged and counted but
// never returned as a hard error: the chain entry may be missing but
// the originating operation still completes. Callers that need
// failure visibility should inspect the AuditWriteFailuresTotal metric.
func (s *Service) Record(ctx context.Context, in entities.AuditRecordInput) error {
	entry := &entities.AuditLogEntry{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		EventType:    in.EventType,
		UserID:       in.UserID,
		Action:       in.Action,
		Resource:     in.Resource,
		ResourceID:   in.ResourceID,
		Changes:      in.Changes,
		Metadata:     in.Metadata,
		Result:       in.Result,
		ErrorMessage: in.ErrorMessage,
		RiskScore:    in.RiskScore,
	}

	prevSig, prevTS, ok := s.tail(ctx)
	if ok {
		entry.PreviousHash = previousHash(prevSig, prevTS)
	}
	entry.Signature = s.sign(entry)

	if err := s.repo.Insert(ctx, entry); err != nil {
		metrics.AuditWriteFailuresTotal.WithLabelValues(string(in.EventType)).Inc()
		s.logger.Error("audit: write failed",
			zap.Error(err), zap.String("event_type", string(in.EventType)))
		return nil
	}

	s.mu.Lock()
	s.lastSignature = entry.Signature
	s.lastTimestamp = entry.Timestamp
	s.haveLast = true
	s.mu.Unlock()

	return nil
}

func (s *Service) tail(ctx context.Context) (signature string, ts time.Time, ok bool) {
	s.mu.Lock()
	if s.haveLast {
		sig, t := s.lastSignature, s.lastTimestamp
		s.mu.Unlock()
		return sig, t, true
	}
	s.mu.Unlock()

	latest, err := s.repo.Latest(ctx)
	if err != nil || latest == nil {
		return "", time.Time{}, false
	}
	return latest.Signature, latest.Timestamp, true
}

// canonicalFields is the exact subset signed over, in a stable field
// order.
type canonicalFields struct {
	Timestamp string                  `json:"timestamp"`
	EventType entities.AuditEventType `json:"eventType"`
	UserID    string                  `json:"userId"`
	Action    string                  `json:"action"`
	Resource  string                  `json:"resource"`
	Result    entities.AuditResult    `json:"result"`
}

func canonicalize(e *entities.AuditLogEntry) []byte {
	userID := ""
	if e.UserID != nil {
		userID = *e.UserID
	}
	cf := canonicalFields{
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		EventType: e.EventType,
		UserID:    userID,
		Action:    e.Action,
		Resource:  e.Resource,
		Result:    e.Result,
	}
	raw, _ := json.Marshal(cf)
	return raw
}

func (s *Service) sign(e *entities.AuditLogEntry) string {
	mac := hmac.New(sha256.New, s.auditKey)
	mac.Write(canonicalize(e))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes an entry's signature and compares in
// constant time.
func (s *Service) VerifySignature(e *entities.AuditLogEntry) bool {
	want := s.sign(e)
	return hmac.Equal([]byte(want), []byte(e.Signature))
}

func previousHash(signature string, timestamp time.Time) string {
	sum := sha256.Sum256([]byte(signature + timestamp.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}

// VerifyChain walks forward from the earliest entry in [start,end],
// recomputing previousHash and signature at each step. It is tolerant
// of out-of-order previousHash linkage but flags the first mismatch
// found, and flags any entry whose signature itself doesn't verify.
func (s *Service) VerifyChain(ctx context.Context, start, end time.Time) (*entities.AuditComplianceReport, error) {
	entries, err := s.repo.ListRange(ctx, start, end, 100000)
	if err != nil {
		return nil, fmt.Errorf("audit: list range: %w", err)
	}

	report := &entities.AuditComplianceReport{
		PeriodStart:      start,
		PeriodEnd:        end,
		GeneratedAt:      time.Now().UTC(),
		TotalEvents:      int64(len(entries)),
		EventBreakdown:   map[string]int64{},
		ChainIntegrityOK: true,
	}

	uniqueUsers := map[string]struct{}{}
	var prevSig string
	var prevTS time.Time
	havePrev := false

	for _, e := range entries {
		report.EventBreakdown[string(e.EventType)]++
		if e.UserID != nil {
			uniqueUsers[*e.UserID] = struct{}{}
		}
		if isSecurityEvent(e.EventType) {
			report.SecurityEvents++
		}
		if e.EventType == entities.EventSecurityFailedLogin {
			report.FailedLogins++
		}

		if !s.VerifySignature(e) && report.ChainIntegrityOK {
			report.ChainIntegrityOK = false
			report.FirstBrokenLinkID = e.ID
		}
		if havePrev {
			expected := previousHash(prevSig, prevTS)
			if e.PreviousHash != expected && report.ChainIntegrityOK {
				report.ChainIntegrityOK = false
				report.FirstBrokenLinkID = e.ID
			}
		}
		prevSig, prevTS, havePrev = e.Signature, e.Timestamp, true
	}

	report.UniqueUsers = int64(len(uniqueUsers))
	return report, nil
}

func isSecurityEvent(t entities.AuditEventType) bool {
	switch t {
	case entities.EventSecurityFailedLogin,
		entities.EventSecurityRateLimitExceeded,
		entities.EventSecuritySuspiciousActivity,
		entities.EventSecurityFraudDetected,
		entities.EventAuthSessionRevoke,
		entities.EventUserAccountLocked:
		return true
	default:
		return false
	}
}
