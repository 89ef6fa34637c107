// Package store implements the persistent repositories backing the
// dispatch engine: credentials, channel/AI-channel templates, messages,
// and their per-channel delivery attempts.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by GetByID/GetByToken-style lookups that find no row.
var ErrNotFound = errors.New("store: not found")

// ErrCASFailed is returned by a compare-and-set status transition whose
// current row status did not match the expected "from" status.
var ErrCASFailed = errors.New("store: compare-and-set failed")

// CredentialStatus is the lifecycle state of a Credential.
type CredentialStatus string

const (
	CredentialEnabled  CredentialStatus = "enabled"
	CredentialDisabled CredentialStatus = "disabled"
)

// Credential authorises a caller to submit messages and carries default
// fan-out targets used when a push request omits them.
type Credential struct {
	ID                uuid.UUID
	Name              string
	Token             string
	DefaultChannelIDs []string
	DefaultAIID       *string
	ExpiresAt         *time.Time
	Status            CredentialStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Valid reports whether the credential may currently be used to submit
// messages: enabled and, if it carries an expiry, not yet expired.
func (c *Credential) Valid(now time.Time) bool {
	if c.Status != CredentialEnabled {
		return false
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return false
	}
	return true
}

// HTTPMethod is the outbound method a template dispatches with.
type HTTPMethod string

const (
	MethodGET    HTTPMethod = "GET"
	MethodPOST   HTTPMethod = "POST"
	MethodPUT    HTTPMethod = "PUT"
	MethodDELETE HTTPMethod = "DELETE"
)

// ContentType selects the outbound body encoding for POST/PUT templates.
type ContentType string

const (
	ContentForm ContentType = "form"
	ContentJSON ContentType = "json"
	ContentXML  ContentType = "xml"
)

// TemplateStatus mirrors CredentialStatus for channel/AI-channel templates.
type TemplateStatus string

const (
	TemplateEnabled  TemplateStatus = "enabled"
	TemplateDisabled TemplateStatus = "disabled"
)

// ProxyConfig names the http/https proxy URLs a template routes through.
type ProxyConfig struct {
	HTTP  string `json:"http,omitempty"`
	HTTPS string `json:"https,omitempty"`
}

// DefaultMaxLength is the channel template max_length applied when a
// template row omits one.
const DefaultMaxLength = 2000

// ChannelTemplate describes how to construct an outbound push call to a
// single delivery channel (a chat bot, webhook, or phone-push gateway).
type ChannelTemplate struct {
	ID           uuid.UUID
	Name         string
	APIURL       string
	Method       HTTPMethod
	ContentType  ContentType
	Params       map[string]string
	Headers      map[string]string
	Placeholders map[string]string
	Proxy        *ProxyConfig
	MaxLength    int
	Status       TemplateStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (t *ChannelTemplate) Enabled() bool { return t.Status == TemplateEnabled }

// AIChannelTemplate describes a chat-completion-style HTTP endpoint used
// to produce a derived result alongside a message.
type AIChannelTemplate struct {
	ID           uuid.UUID
	Name         string
	APIURL       string
	Method       HTTPMethod // always MethodPOST
	Model        string
	Params       map[string]string
	Headers      map[string]string
	Placeholders map[string]string
	Prompt       string
	Proxy        *ProxyConfig
	Status       TemplateStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (t *AIChannelTemplate) Enabled() bool { return t.Status == TemplateEnabled }

// Message is the immutable (save for url_content/file_storage) envelope a
// caller submits: at least one of Title/Content/URL is non-empty.
type Message struct {
	ID           uuid.UUID
	CredentialID uuid.UUID
	Title        *string
	Content      *string
	URL          *string
	URLContent   *string
	FileStorage  *string
	ViewToken    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AttemptStatus is the delivery state of a per-(message,channel) Attempt.
type AttemptStatus string

const (
	AttemptWaiting AttemptStatus = "waiting"
	AttemptSending AttemptStatus = "sending"
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

// DefaultMaxRetries is the retry budget AttemptRepo/AIAttemptRepo give new
// rows until SetDefaultMaxRetries overrides it.
const DefaultMaxRetries = 3

// Attempt is the persistent record of one (message, channel) delivery
// attempt and its terminal outcome.
type Attempt struct {
	ID          uuid.UUID
	MessageID   uuid.UUID
	ChannelID   uuid.UUID
	Status      AttemptStatus
	Error       *string
	SentAt      *time.Time
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AIAttemptStatus is the processing state of an AIAttempt.
type AIAttemptStatus string

const (
	AIAttemptWaiting    AIAttemptStatus = "waiting"
	AIAttemptProcessing AIAttemptStatus = "processing"
	AIAttemptSuccess    AIAttemptStatus = "success"
	AIAttemptFailed     AIAttemptStatus = "failed"
)

// AIAttempt is the at-most-one-per-message record of an AI channel
// submission and its result.
type AIAttempt struct {
	ID          uuid.UUID
	MessageID   uuid.UUID
	AIChannelID uuid.UUID
	Prompt      string
	Result      *string
	Status      AIAttemptStatus
	Error       *string
	ProcessedAt *time.Time
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SystemConfig is a single key/value/description tunable row, the
// authoritative source of runtime defaults at Supervisor startup.
type SystemConfig struct {
	Key         string
	Value       string
	Description string
}
