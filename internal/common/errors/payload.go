package errors

import stderrors "errors"

// Error kinds used on the wire.
const (
	KindConflict     = "conflict"
	KindPrecondition = "precondition"
	KindNotFound     = "not_found"
	KindRefusal      = "refusal"
	KindValidation   = "validation"
	KindInternal     = "internal"
)

// Payload is the wire shape of a structured error. Clients branch on Kind
// (and Code for preconditions); Message is advisory.
type Payload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`

	SessionID string         `json:"session_id,omitempty"`
	Conflicts []FileConflict `json:"conflicts,omitempty"`

	Code         string `json:"code,omitempty"`
	ProviderID   string `json:"provider_id,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`

	Resource string `json:"resource,omitempty"`
	Value    string `json:"value,omitempty"`

	Field string `json:"field,omitempty"`
}

// ToPayload converts an error into its wire shape, unwrapping as needed.
func ToPayload(err error) *Payload {
	var (
		conflict     *ConflictError
		precondition *PreconditionError
		notFound     *NotFoundError
		refusal      *RefusalError
		validation   *ValidationError
	)
	switch {
	case stderrors.As(err, &conflict):
		return &Payload{
			Kind:      KindConflict,
			Message:   conflict.Message,
			SessionID: conflict.SessionID,
			Conflicts: conflict.Conflicts,
		}
	case stderrors.As(err, &precondition):
		return &Payload{
			Kind:         KindPrecondition,
			Message:      precondition.Message,
			Code:         precondition.Code,
			ProviderID:   precondition.ProviderID,
			ProviderName: precondition.ProviderName,
		}
	case stderrors.As(err, &notFound):
		return &Payload{
			Kind:     KindNotFound,
			Message:  notFound.Error(),
			Resource: notFound.Resource,
			Value:    notFound.Value,
		}
	case stderrors.As(err, &refusal):
		return &Payload{Kind: KindRefusal, Message: refusal.Message}
	case stderrors.As(err, &validation):
		return &Payload{Kind: KindValidation, Message: validation.Message, Field: validation.Field}
	default:
		return &Payload{Kind: KindInternal, Message: err.Error()}
	}
}

// Err reconstructs the typed error from its wire shape. Unknown kinds come
// back as a plain error carrying the message.
func (p *Payload) Err() error {
	switch p.Kind {
	case KindConflict:
		return &ConflictError{Message: p.Message, SessionID: p.SessionID, Conflicts: p.Conflicts}
	case KindPrecondition:
		return &PreconditionError{
			Code:         p.Code,
			ProviderID:   p.ProviderID,
			ProviderName: p.ProviderName,
			Message:      p.Message,
		}
	case KindNotFound:
		return &NotFoundError{Resource: p.Resource, Value: p.Value}
	case KindRefusal:
		return &RefusalError{Message: p.Message}
	case KindValidation:
		return &ValidationError{Field: p.Field, Message: p.Message}
	default:
		return stderrors.New(p.Message)
	}
}
