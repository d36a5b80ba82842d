package entities

import "time"

// AuditEventType is the closed taxonomy of events the audit log accepts.
type AuditEventType string

const (
	EventAuthLogin         AuditEventType = "auth.login"
	EventAuthLogout        AuditEventType = "auth.logout"
	EventAuthRegister      AuditEventType = "auth.register"
	EventAuthPasswordReset AuditEventType = "auth.password_reset"
	EventAuthEmailVerify   AuditEventType = "auth.email_verify"
	EventAuth2FAEnable     AuditEventType = "auth.2fa_enable"
	EventAuth2FADisable    AuditEventType = "auth.2fa_disable"
	EventAuthSessionRevoke AuditEventType = "auth.session_revoke"

	EventPaymentInitiated AuditEventType = "payment.initiated"
	EventPaymentCompleted AuditEventType = "payment.completed"
	EventPaymentFailed    AuditEventType = "payment.failed"
	EventPaymentRefunded  AuditEventType = "payment.refunded"

	EventOrderCreated   AuditEventType = "order.created"
	EventOrderUpdated   AuditEventType = "order.updated"
	EventOrderCancelled AuditEventType = "order.cancelled"
	EventOrderShipped   AuditEventType = "order.shipped"

	EventUserProfileUpdate AuditEventType = "user.profile_update"
	EventUserAddressChange AuditEventType = "user.address_change"
	EventUserRoleChange    AuditEventType = "user.role_change"
	EventUserAccountLocked AuditEventType = "user.account_locked"

	EventAdminUserAccess     AuditEventType = "admin.user_access"
	EventAdminConfigChange   AuditEventType = "admin.config_change"
	EventAdminDataExport     AuditEventType = "admin.data_export"
	EventAdminProductCreated AuditEventType = "admin.product_created"
	EventAdminProductUpdated AuditEventType = "admin.product_updated"
	EventAdminProductDeleted AuditEventType = "admin.product_deleted"

	EventSecurityFailedLogin        AuditEventType = "security.failed_login"
	EventSecurityRateLimitExceeded  AuditEventType = "security.rate_limit_exceeded"
	EventSecuritySuspiciousActivity AuditEventType = "security.suspicious_activity"
	EventSecurityFraudDetected      AuditEventType = "security.fraud_detected"

	EventSystemBackup      AuditEventType = "system.backup"
	EventSystemRestore     AuditEventType = "system.restore"
	EventSystemMaintenance AuditEventType = "system.maintenance"
)

type AuditResult string

const (
	ResultSuccess AuditResult = "success"
	ResultFailure AuditResult = "failure"
	ResultPartial AuditResult = "partial"
)

// AuditChanges captures a before/after pair for mutation events.
type AuditChanges struct {
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
}

// AuditMetadata is free-form request context attached to an entry.
type AuditMetadata struct {
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Location  string         `json:"location,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// AuditLogEntry is one immutable, hash-chained row. Signature and
// PreviousHash are computed by the audit service at write time; callers
// never set them directly — that would defeat the chain.
type AuditLogEntry struct {
	ID           string         `db:"id" json:"id"`
	Timestamp    time.Time      `db:"timestamp" json:"timestamp"`
	EventType    AuditEventType `db:"event_type" json:"eventType"`
	UserID       *string        `db:"user_id" json:"userId,omitempty"`
	Action       string         `db:"action" json:"action"`
	Resource     string         `db:"resource" json:"resource"`
	ResourceID   *string        `db:"resource_id" json:"resourceId,omitempty"`
	Changes      *AuditChanges  `db:"-" json:"changes,omitempty"`
	Metadata     AuditMetadata  `db:"-" json:"metadata"`
	Result       AuditResult    `db:"result" json:"result"`
	ErrorMessage *string        `db:"error_message" json:"errorMessage,omitempty"`
	RiskScore    *int           `db:"risk_score" json:"riskScore,omitempty"`

	Signature    string `db:"signature" json:"signature"`
	PreviousHash string `db:"previous_hash" json:"previousHash,omitempty"`
}

// AuditRecordInput is what a caller supplies to write one entry; the
// audit service fills in ID, Timestamp, Signature, and PreviousHash.
type AuditRecordInput struct {
	EventType    AuditEventType
	UserID       *string
	Action       string
	Resource     string
	ResourceID   *string
	Changes      *AuditChanges
	Metadata     AuditMetadata
	Result       AuditResult
	ErrorMessage *string
	RiskScore    *int
}

// AuditComplianceReport summarizes a time window of the chain for
// SOC2/PCI-DSS style reporting.
type AuditComplianceReport struct {
	PeriodStart       time.Time        `json:"periodStart"`
	PeriodEnd         time.Time        `json:"periodEnd"`
	GeneratedAt       time.Time        `json:"generatedAt"`
	TotalEvents       int64            `json:"totalEvents"`
	UniqueUsers       int64            `json:"uniqueUsers"`
	EventBreakdown    map[string]int64 `json:"eventBreakdown"`
	SecurityEvents    int64            `json:"securityEvents"`
	FailedLogins      int64            `json:"failedLogins"`
	ChainIntegrityOK  bool             `json:"chainIntegrityOk"`
	FirstBrokenLinkID string           `json:"firstBrokenLinkId,omitempty"`
}
