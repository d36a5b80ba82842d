package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/domain/entities"
)

type fakeRepo struct {
	mu      sync.Mutex
	entries []*entities.AuditLogEntry
}

func (r *fakeRepo) Insert(_ context.Context, e *entities.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *fakeRepo) Latest(_ context.Context) (*entities.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil, nil
	}
	return r.entries[len(r.entries)-1], nil
}

func (r *fakeRepo) ListRange(_ context.Context, _, _ time.Time, _ int) ([]*entities.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entities.AuditLogEntry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

func newTestService() (*Service, *fakeRepo) {
	repo := &fakeRepo{}
	return NewService(repo, zap.NewNop(), []byte("audit-hmac-key")), repo
}

func TestRecordChainsPreviousHash(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, entities.AuditRecordInput{
		EventType: entities.EventAuthLogin, Action: "login", Resource: "session", Result: entities.ResultSuccess,
	}))
	require.NoError(t, svc.Record(ctx, entities.AuditRecordInput{
		EventType: entities.EventAuthLogout, Action: "logout", Resource: "session", Result: entities.ResultSuccess,
	}))

	require.Len(t, repo.entries, 2)
	require.Empty(t, repo.entries[0].PreviousHash)
	require.NotEmpty(t, repo.entries[1].PreviousHash)
	require.Equal(t, previousHash(repo.entries[0].Signature, repo.entries[0].Timestamp), repo.entries[1].PreviousHash)
}

func TestVerifySignatureDetectsTamper(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	require.NoError(t, svc.Record(ctx, entities.AuditRecordInput{
		EventType: entities.EventAuthRegister, Action: "register", Resource: "user", Result: entities.ResultSuccess,
	}))

	require.True(t, svc.VerifySignature(repo.entries[0]))

	tampered := *repo.entries[0]
	tampered.Action = "register_tampered"
	require.False(t, svc.VerifySignature(&tampered))
}

func TestVerifyChainFlagsBrokenLink(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	require.NoError(t, svc.Record(ctx, entities.AuditRecordInput{
		EventType: entities.EventAuthLogin, Action: "login", Resource: "session", Result: entities.ResultSuccess,
	}))
	require.NoError(t, svc.Record(ctx, entities.AuditRecordInput{
		EventType: entities.EventSecurityFailedLogin, Action: "login", Resource: "session", Result: entities.ResultFailure,
	}))

	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)

	report, err := svc.VerifyChain(ctx, start, end)
	require.NoError(t, err)
	require.True(t, report.ChainIntegrityOK)
	require.Equal(t, int64(1), report.FailedLogins)

	repo.entries[1].PreviousHash = "corrupted"
	report, err = svc.VerifyChain(ctx, start, end)
	require.NoError(t, err)
	require.False(t, report.ChainIntegrityOK)
	require.Equal(t, repo.entries[1].ID, report.FirstBrokenLinkID)
}
