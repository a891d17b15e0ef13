package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/formweave/webhook-engine/internal/adapter"
	"github.com/formweave/webhook-engine/internal/domain"
	"github.com/formweave/webhook-engine/internal/store"
	"github.com/formweave/webhook-engine/internal/store/schema"
)

// secretBytes is the length of a generated signing secret before hex encoding
const secretBytes = 32

// Caller identifies who is invoking a registry operation
type Caller struct {
	// AccountID is the client account, empty for admin callers
	AccountID string
	// AdminID is the admin identity, empty for client callers
	AdminID string
}

// IsAdmin reports whether the caller holds the admin role
func (c Caller) IsAdmin() bool {
	return c.AdminID != ""
}

// CreateInput is the client-facing input for registering a webhook
type CreateInput struct {
	FormID               string
	AccountID            string
	URL                  string
	EventTypes           []domain.EventType
	AuthMode             domain.AuthMode
	AuthCredentials      *domain.AuthCredentials
	FieldFilter          *domain.FieldFilter
	MaxAttempts          int
	RetryIntervalSeconds int
}

// UpdateInput carries the mutable registration fields; nil fields are
// left unchanged
type UpdateInput struct {
	URL                  *string
	EventTypes           []domain.EventType
	AuthMode             *domain.AuthMode
	AuthCredentials      *domain.AuthCredentials
	FieldFilter          *domain.FieldFilter
	MaxAttempts          *int
	RetryIntervalSeconds *int
}

// Registry manages the webhook registration lifecycle: creation,
// client edits, and the admin trust verbs
type Registry struct {
	store store.Store
	json  adapter.JSON
}

// NewRegistry creates a new registry service
func NewRegistry(st store.Store, json adapter.JSON) *Registry {
	return &Registry{store: st, json: json}
}

// generateSecret produces a new hex-encoded signing secret
func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// validateURL checks the endpoint URL is a usable http(s) address
func validateURL(raw string) error {
	if raw == "" {
		return domain.NewValidationError("url", "must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return domain.NewValidationError("url", "must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return domain.NewValidationError("url", "scheme must be http or https")
	}
	if u.Host == "" {
		return domain.NewValidationError("url", "must include a host")
	}
	return nil
}

// validateEventTypes checks the subscription set is non-empty and drawn
// from the event enum
func validateEventTypes(types []domain.EventType) error {
	if len(types) == 0 {
		return domain.NewValidationError("event_types", "must subscribe to at least one event type")
	}
	for _, et := range types {
		if !et.Valid() {
			return domain.NewValidationError("event_types", fmt.Sprintf("unknown event type %q", et))
		}
	}
	return nil
}

// validateAuth checks the credentials are consistent with the auth mode
func validateAuth(mode domain.AuthMode, creds *domain.AuthCredentials) error {
	if !mode.Valid() {
		return domain.NewValidationError("auth_mode", fmt.Sprintf("unknown auth mode %q", mode))
	}
	switch mode {
	case domain.AuthModeNone:
		return nil
	case domain.AuthModeBasic:
		if creds == nil || creds.Username == "" || creds.Password == "" {
			return domain.NewValidationError("auth_credentials", "basic auth requires username and password")
		}
	case domain.AuthModeBearer:
		if creds == nil || creds.Token == "" {
			return domain.NewValidationError("auth_credentials", "bearer auth requires a token")
		}
	case domain.AuthModeAPIKey:
		if creds == nil || creds.Header == "" || creds.Key == "" {
			return domain.NewValidationError("auth_credentials", "api key auth requires a header name and key")
		}
	}
	return nil
}

// validateFieldFilter checks a filter, when present, has a known mode and
// non-empty keys
func validateFieldFilter(filter *domain.FieldFilter) error {
	if filter == nil {
		return nil
	}
	if filter.Mode != domain.FilterModeInclude && filter.Mode != domain.FilterModeExclude {
		return domain.NewValidationError("field_filter", fmt.Sprintf("unknown filter mode %q", filter.Mode))
	}
	if len(filter.Keys) == 0 {
		return domain.NewValidationError("field_filter", "keys must not be empty")
	}
	for _, k := range filter.Keys {
		if k == "" {
			return domain.NewValidationError("field_filter", "keys must not contain empty strings")
		}
	}
	return nil
}

// Create validates the input, generates the signing secret and persists a
// new registration in the pending_approval state. The returned registration
// carries the secret; this is the only time it is ever exposed.
func (r *Registry) Create(ctx context.Context, input CreateInput) (*schema.WebhookRegistration, error) {
	if input.FormID == "" {
		return nil, domain.NewValidationError("form_id", "must not be empty")
	}
	if input.AccountID == "" {
		return nil, domain.NewValidationError("account_id", "must not be empty")
	}
	if err := validateURL(input.URL); err != nil {
		return nil, err
	}
	if err := validateEventTypes(input.EventTypes); err != nil {
		return nil, err
	}
	if err := validateAuth(input.AuthMode, input.AuthCredentials); err != nil {
		return nil, err
	}
	if err := validateFieldFilter(input.FieldFilter); err != nil {
		return nil, err
	}
	if input.MaxAttempts < 1 {
		return nil, domain.NewValidationError("max_attempts", "must be at least 1")
	}
	if input.RetryIntervalSeconds < 1 {
		return nil, domain.NewValidationError("retry_interval_seconds", "must be at least 1")
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	eventTypes, err := r.json.Marshal(input.EventTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event types: %w", err)
	}

	reg := &schema.WebhookRegistration{
		ID:                   uuid.NewString(),
		FormID:               input.FormID,
		AccountID:            input.AccountID,
		URL:                  input.URL,
		EventTypes:           datatypes.JSON(eventTypes),
		Secret:               secret,
		AuthMode:             input.AuthMode,
		MaxAttempts:          input.MaxAttempts,
		RetryIntervalSeconds: input.RetryIntervalSeconds,
		Active:               true,
		AdminApproved:        domain.ApprovalPending,
	}
	if input.AuthCredentials != nil {
		creds, err := r.json.Marshal(input.AuthCredentials)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal auth credentials: %w", err)
		}
		reg.AuthCredentials = datatypes.JSON(creds)
	}
	if input.FieldFilter != nil {
		filter, err := r.json.Marshal(input.FieldFilter)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field filter: %w", err)
		}
		reg.FieldFilter = datatypes.JSON(filter)
	}

	if err := r.store.CreateWebhookRegistration(ctx, reg); err != nil {
		return nil, err
	}

	return reg, nil
}

// getOwned loads a registration and enforces client ownership. Admin
// callers see every registration; client callers only their own.
func (r *Registry) getOwned(ctx context.Context, id string, caller Caller) (*schema.WebhookRegistration, error) {
	reg, err := r.store.GetWebhookRegistration(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, domain.ErrWebhookNotFound
	}
	if !caller.IsAdmin() && reg.AccountID != caller.AccountID {
		// Not the owner: do not reveal that the webhook exists
		return nil, domain.ErrWebhookNotFound
	}
	return reg, nil
}

// Get returns a registration visible to the caller
func (r *Registry) Get(ctx context.Context, id string, caller Caller) (*schema.WebhookRegistration, error) {
	return r.getOwned(ctx, id, caller)
}

// ListByAccount pages the registrations owned by an account
func (r *Registry) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*schema.WebhookRegistration, error) {
	return r.store.ListWebhookRegistrationsByAccount(ctx, accountID, limit, offset)
}

// ListByForm lists the registrations attached to a form
func (r *Registry) ListByForm(ctx context.Context, formID string) ([]*schema.WebhookRegistration, error) {
	return r.store.ListWebhookRegistrationsByForm(ctx, formID)
}

// Update applies a partial edit. Client edits fail ErrLocked while the
// registration is admin-locked; admin edits always go through.
func (r *Registry) Update(ctx context.Context, id string, input UpdateInput, caller Caller) (*schema.WebhookRegistration, error) {
	reg, err := r.getOwned(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if reg.AdminLocked && !caller.IsAdmin() {
		return nil, domain.ErrLocked
	}

	updates := map[string]interface{}{}

	if input.URL != nil {
		if err := validateURL(*input.URL); err != nil {
			return nil, err
		}
		updates["url"] = *input.URL
	}
	if input.EventTypes != nil {
		if err := validateEventTypes(input.EventTypes); err != nil {
			return nil, err
		}
		eventTypes, err := r.json.Marshal(input.EventTypes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event types: %w", err)
		}
		updates["event_types"] = datatypes.JSON(eventTypes)
	}
	if input.AuthMode != nil {
		if err := validateAuth(*input.AuthMode, input.AuthCredentials); err != nil {
			return nil, err
		}
		updates["auth_mode"] = *input.AuthMode
		if input.AuthCredentials != nil {
			creds, err := r.json.Marshal(input.AuthCredentials)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal auth credentials: %w", err)
			}
			updates["auth_credentials"] = datatypes.JSON(creds)
		} else {
			updates["auth_credentials"] = nil
		}
	}
	if input.FieldFilter != nil {
		if err := validateFieldFilter(input.FieldFilter); err != nil {
			return nil, err
		}
		filter, err := r.json.Marshal(input.FieldFilter)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field filter: %w", err)
		}
		updates["field_filter"] = datatypes.JSON(filter)
	}
	if input.MaxAttempts != nil {
		if *input.MaxAttempts < 1 {
			return nil, domain.NewValidationError("max_attempts", "must be at least 1")
		}
		updates["max_attempts"] = *input.MaxAttempts
	}
	if input.RetryIntervalSeconds != nil {
		if *input.RetryIntervalSeconds < 1 {
			return nil, domain.NewValidationError("retry_interval_seconds", "must be at least 1")
		}
		updates["retry_interval_seconds"] = *input.RetryIntervalSeconds
	}

	if len(updates) == 0 {
		return reg, nil
	}

	if err := r.store.UpdateWebhookRegistration(ctx, id, updates); err != nil {
		return nil, err
	}

	return r.store.GetWebhookRegistration(ctx, id)
}

// Delete soft-deletes a registration. Clients cannot delete while the
// registration is admin-locked.
func (r *Registry) Delete(ctx context.Context, id string, caller Caller) error {
	reg, err := r.getOwned(ctx, id, caller)
	if err != nil {
		return err
	}
	if reg.AdminLocked && !caller.IsAdmin() {
		return domain.ErrLocked
	}
	return r.store.SoftDeleteWebhookRegistration(ctx, id)
}

// Activate re-enables dispatch for a client-deactivated webhook.
// Admin-deactivated webhooks stay off until an admin reactivates them.
func (r *Registry) Activate(ctx context.Context, id string, caller Caller) error {
	reg, err := r.getOwned(ctx, id, caller)
	if err != nil {
		return err
	}
	if reg.AdminLocked && !caller.IsAdmin() {
		return domain.ErrLocked
	}
	if reg.DeactivatedByID != nil && !caller.IsAdmin() {
		return domain.ErrForbiddenTransition
	}
	return r.store.UpdateWebhookRegistration(ctx, id, map[string]interface{}{
		"active": true,
	})
}

// Deactivate switches a webhook off on behalf of its owner
func (r *Registry) Deactivate(ctx context.Context, id string, caller Caller) error {
	reg, err := r.getOwned(ctx, id, caller)
	if err != nil {
		return err
	}
	if reg.AdminLocked && !caller.IsAdmin() {
		return domain.ErrLocked
	}
	return r.store.UpdateWebhookRegistration(ctx, id, map[string]interface{}{
		"active": false,
	})
}

// Approve marks the registration trusted for dispatch
func (r *Registry) Approve(ctx context.Context, id string) error {
	return r.adminTransition(ctx, id, map[string]interface{}{
		"admin_approved": domain.ApprovalApproved,
	})
}

// Reject marks the registration rejected; it never dispatches
func (r *Registry) Reject(ctx context.Context, id string) error {
	return r.adminTransition(ctx, id, map[string]interface{}{
		"admin_approved": domain.ApprovalRejected,
	})
}

// Lock freezes client edits without affecting dispatch eligibility
func (r *Registry) Lock(ctx context.Context, id string) error {
	return r.adminTransition(ctx, id, map[string]interface{}{
		"admin_locked": true,
	})
}

// Unlock releases the admin edit freeze
func (r *Registry) Unlock(ctx context.Context, id string) error {
	return r.adminTransition(ctx, id, map[string]interface{}{
		"admin_locked": false,
	})
}

// AdminDeactivate force-deactivates a webhook and records which admin
// did it; the owner cannot reactivate until an admin clears the mark
func (r *Registry) AdminDeactivate(ctx context.Context, id string, adminID string) error {
	return r.adminTransition(ctx, id, map[string]interface{}{
		"active":            false,
		"deactivated_by_id": adminID,
	})
}

// Reactivate clears an admin deactivation and switches the webhook back on
func (r *Registry) Reactivate(ctx context.Context, id string) error {
	return r.adminTransition(ctx, id, map[string]interface{}{
		"active":            true,
		"deactivated_by_id": nil,
	})
}

func (r *Registry) adminTransition(ctx context.Context, id string, updates map[string]interface{}) error {
	reg, err := r.store.GetWebhookRegistration(ctx, id)
	if err != nil {
		return err
	}
	if reg == nil {
		return domain.ErrWebhookNotFound
	}
	return r.store.UpdateWebhookRegistration(ctx, id, updates)
}
