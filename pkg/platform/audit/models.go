// Package audit records who did what to which record. Entries are written
// off the request path; a failed write never fails the action it describes.
package audit

import (
	"context"
	"encoding/json"
	"time"

	id "gatehouse/pkg/domain"
	"gatehouse/pkg/requestcontext"
)

// Action names what happened.
type Action string

const (
	// Visit events
	ActionVisitCreated      Action = "RegistroCreated"
	ActionVisitCheckout     Action = "RegistroSalida"
	ActionVisitUpdated      Action = "RegistroUpdated"
	ActionVisitsExportCSV   Action = "RegistrosExportCsv"
	ActionVisitsExportExcel Action = "RegistrosExportExcel"

	// Operator account events
	ActionUserCreated       Action = "UserCreated"
	ActionUserUpdated       Action = "UserUpdated"
	ActionPasswordChanged   Action = "PasswordChanged"
	ActionUserDeleted       Action = "UserDeleted"
	ActionUserPasswordReset Action = "UserPasswordReset"

	// Session events
	ActionLoginSucceeded Action = "LoginSucceeded"
	ActionLoginFailed    Action = "LoginFailed"
	ActionTokenRefreshed Action = "TokenRefreshed"
	ActionLogout         Action = "Logout"
)

// Entity names the kind of record an entry is about.
const (
	EntityVisit = "Registro"
	EntityUser  = "User"
)

// Entry is one audit log row.
type Entry struct {
	ID        id.AuditEntryID
	Action    Action
	Entity    string
	EntityID  string
	Data      json.RawMessage
	ActorID   *id.OperatorID
	IP        string
	UserAgent string
	RequestID string
	CreatedAt time.Time
}

// NewEntry builds an entry for the current request: the actor, client
// address, user agent and request id come from ctx. data is marshalled to
// JSON; values that cannot be marshalled are dropped.
func NewEntry(ctx context.Context, action Action, entity, entityID string, data any) Entry {
	e := Entry{
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		IP:        requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
		RequestID: requestcontext.RequestID(ctx),
		CreatedAt: requestcontext.Now(ctx),
	}
	if op, ok := requestcontext.CurrentOperator(ctx); ok && !op.ID.IsNil() {
		actor := op.ID
		e.ActorID = &actor
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

// Filter selects entries for the admin listing. From and Until are both
// inclusive UTC instants.
type Filter struct {
	ActorID  *id.OperatorID
	Action   Action
	From     *time.Time
	Until    *time.Time
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Normalize applies paging defaults.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PageSize <= 0:
		f.PageSize = DefaultPageSize
	case f.PageSize > MaxPageSize:
		f.PageSize = MaxPageSize
	}
}

func (f Filter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Matches applies the filter to one entry.
func (f Filter) Matches(e Entry) bool {
	if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.Until != nil && e.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

// Store persists entries and serves the admin listing, newest first.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, int, error)
}

// Sink receives a copy of every stored entry, e.g. a Kafka topic.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}
