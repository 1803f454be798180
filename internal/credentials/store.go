package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowmesh-io/flowmesh/internal/domain/models"
	"github.com/flowmesh-io/flowmesh/internal/pkg/crypto"
	"github.com/flowmesh-io/flowmesh/internal/schema"
)

var (
	ErrUnknownType   = errors.New("unknown credential type")
	ErrDuplicateName = errors.New("credential name already in use")
	ErrNotFound      = errors.New("credential not found")
	ErrExpired       = errors.New("credential has expired")
	ErrForbidden     = errors.New("credential operation requires ownership")
)

// rotationExtension is how far a rotation pushes expiry into the future.
const rotationExtension = 90 * 24 * time.Hour

// ValidationError aggregates the per-field failures of a payload check.
type ValidationError struct {
	Fields []schema.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i := range e.Fields {
		msgs[i] = e.Fields[i].Error()
	}
	return "credential payload invalid: " + strings.Join(msgs, "; ")
}

// Identity is the caller on whose behalf a store operation runs. TeamIDs are
// resolved by the session layer; the store only matches them against shares.
type Identity struct {
	UserID  uuid.UUID
	TeamIDs []uuid.UUID
}

// Repository is the persistence surface the store needs. FindByID must load
// the credential's shares.
type Repository interface {
	Insert(ctx context.Context, cred *models.Credential) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Credential, error)
	FindByIDAndUser(ctx context.Context, id, userID uuid.UUID) (*models.Credential, error)
	FindByUser(ctx context.Context, userID uuid.UUID, typeFilter string) ([]models.Credential, error)
	Update(ctx context.Context, cred *models.Credential) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindExpiring(ctx context.Context, userID uuid.UUID, within time.Duration) ([]models.Credential, error)
	InsertShare(ctx context.Context, share *models.CredentialShare) error
	DeleteShare(ctx context.Context, credentialID uuid.UUID, userID, teamID *uuid.UUID) error
}

// Store encrypts credential payloads at rest and mediates every read through
// ownership and share checks. Decrypted payloads leave the store only via
// Get and ExecutionPayload.
type Store struct {
	repo     Repository
	enc      *crypto.Encryptor
	types    *TypeRegistry
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time
}

func NewStore(repo Repository, enc *crypto.Encryptor, types *TypeRegistry, log zerolog.Logger) *Store {
	return &Store{
		repo:     repo,
		enc:      enc,
		types:    types,
		validate: validator.New(),
		log:      log.With().Str("component", "credential_store").Logger(),
		now:      time.Now,
	}
}

type CreateInput struct {
	UserID    uuid.UUID              `validate:"required"`
	Name      string                 `validate:"required,max=100"`
	Type      string                 `validate:"required,max=50"`
	Payload   map[string]interface{} `validate:"required"`
	ExpiresAt *time.Time
}

// Create validates the payload against its type schema, encrypts it and
// persists the record. Names are unique per user.
func (s *Store) Create(ctx context.Context, in CreateInput) (*models.Credential, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid create input: %w", err)
	}

	credType, payload, err := s.checkPayload(in.Type, in.Payload)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByUser(ctx, in.UserID, "")
	if err != nil {
		return nil, fmt.Errorf("checking name uniqueness: %w", err)
	}
	for i := range existing {
		if existing[i].Name == in.Name {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, in.Name)
		}
	}

	ciphertext, err := s.encryptPayload(payload)
	if err != nil {
		return nil, err
	}

	cred := &models.Credential{
		ID:         uuid.New(),
		UserID:     in.UserID,
		Name:       in.Name,
		Type:       credType.Name,
		Ciphertext: ciphertext,
		ExpiresAt:  in.ExpiresAt,
	}
	if err := s.repo.Insert(ctx, cred); err != nil {
		return nil, fmt.Errorf("persisting credential: %w", err)
	}

	s.log.Info().
		Str("credential_id", cred.ID.String()).
		Str("type", cred.Type).
		Msg("credential created")
	return cred, nil
}

// Get returns the decrypted payload when the identity owns the credential or
// holds a USE or EDIT share. A VIEW share gets the payload with secret fields
// redacted. No access reads as not found.
func (s *Store) Get(ctx context.Context, id uuid.UUID, ident Identity) (map[string]interface{}, error) {
	cred, level, err := s.load(ctx, id, ident)
	if err != nil {
		return nil, err
	}
	if s.expired(cred) {
		return nil, fmt.Errorf("%w: %s", ErrExpired, cred.Name)
	}

	payload, err := s.decryptPayload(cred)
	if err != nil {
		return nil, err
	}
	if level == models.SharePermissionView {
		s.redactSecrets(cred.Type, payload)
	}
	return payload, nil
}

// ExecutionPayload returns the sanitized decrypted payload for injection into
// an execution scope and stamps last-used. VIEW shares do not qualify.
func (s *Store) ExecutionPayload(ctx context.Context, id uuid.UUID, ident Identity) (map[string]interface{}, error) {
	cred, level, err := s.load(ctx, id, ident)
	if err != nil {
		return nil, err
	}
	if level == models.SharePermissionView {
		return nil, ErrNotFound
	}
	if s.expired(cred) {
		return nil, fmt.Errorf("%w: %s", ErrExpired, cred.Name)
	}

	payload, err := s.decryptPayload(cred)
	if err != nil {
		return nil, err
	}

	touched := s.now()
	cred.LastUsedAt = &touched
	if err := s.repo.Update(ctx, cred); err != nil {
		s.log.Warn().Err(err).Str("credential_id", id.String()).Msg("failed to stamp last used")
	}

	return SanitizePayload(payload), nil
}

// Describe returns credential metadata without any payload, for any identity
// with at least VIEW access.
func (s *Store) Describe(ctx context.Context, id uuid.UUID, ident Identity) (*models.Credential, error) {
	cred, _, err := s.load(ctx, id, ident)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

type UpdateInput struct {
	Name      *string `validate:"omitempty,max=100"`
	Payload   map[string]interface{}
	ExpiresAt *time.Time
}

// Update applies a partial patch. Owner only; a provided payload is fully
// re-validated and re-encrypted.
func (s *Store) Update(ctx context.Context, id, userID uuid.UUID, in UpdateInput) (*models.Credential, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid update input: %w", err)
	}

	cred, err := s.requireOwner(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil && *in.Name != cred.Name {
		existing, err := s.repo.FindByUser(ctx, userID, "")
		if err != nil {
			return nil, fmt.Errorf("checking name uniqueness: %w", err)
		}
		for i := range existing {
			if existing[i].Name == *in.Name && existing[i].ID != cred.ID {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateName, *in.Name)
			}
		}
		cred.Name = *in.Name
	}

	if in.Payload != nil {
		_, payload, err := s.checkPayload(cred.Type, in.Payload)
		if err != nil {
			return nil, err
		}
		ciphertext, err := s.encryptPayload(payload)
		if err != nil {
			return nil, err
		}
		cred.Ciphertext = ciphertext
	}

	if in.ExpiresAt != nil {
		cred.ExpiresAt = in.ExpiresAt
	}

	if err := s.repo.Update(ctx, cred); err != nil {
		return nil, fmt.Errorf("persisting credential: %w", err)
	}
	return cred, nil
}

// Delete removes a credential and, by cascade, its shares. Owner only.
func (s *Store) Delete(ctx context.Context, id, userID uuid.UUID) error {
	cred, err := s.requireOwner(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, cred.ID); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	s.log.Info().Str("credential_id", id.String()).Msg("credential deleted")
	return nil
}

// Rotate swaps in a fresh payload and pushes expiry out by ninety days.
// Owner only.
func (s *Store) Rotate(ctx context.Context, id, userID uuid.UUID, newPayload map[string]interface{}) (*models.Credential, error) {
	cred, err := s.requireOwner(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	_, payload, err := s.checkPayload(cred.Type, newPayload)
	if err != nil {
		return nil, err
	}
	ciphertext, err := s.encryptPayload(payload)
	if err != nil {
		return nil, err
	}

	expires := s.now().Add(rotationExtension)
	cred.Ciphertext = ciphertext
	cred.ExpiresAt = &expires

	if err := s.repo.Update(ctx, cred); err != nil {
		return nil, fmt.Errorf("persisting credential: %w", err)
	}
	s.log.Info().Str("credential_id", id.String()).Time("expires_at", expires).Msg("credential rotated")
	return cred, nil
}

// Test runs the type's test hook against a payload without persisting
// anything. Validation failures are reported through the result, not an
// error.
func (s *Store) Test(typeName string, payload map[string]interface{}) (TestResult, error) {
	credType, ok := s.types.Get(typeName)
	if !ok {
		return TestResult{}, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}

	values := schema.ApplyDefaults(credType.Properties, payload)
	if errs := schema.Validate(credType.Properties, values); len(errs) > 0 {
		return TestResult{Success: false, Message: (&ValidationError{Fields: errs}).Error()}, nil
	}
	if credType.Test == nil {
		return TestResult{Success: true, Message: "credential format is valid"}, nil
	}
	return credType.Test(values), nil
}

type ShareInput struct {
	UserID     *uuid.UUID
	TeamID     *uuid.UUID
	Permission string `validate:"required,oneof=use view edit"`
}

// Share grants a user or a team access at a permission level. Owner only;
// exactly one of UserID/TeamID must be set.
func (s *Store) Share(ctx context.Context, id, ownerID uuid.UUID, in ShareInput) (*models.CredentialShare, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid share input: %w", err)
	}
	if (in.UserID == nil) == (in.TeamID == nil) {
		return nil, fmt.Errorf("exactly one of user or team must be given")
	}

	cred, err := s.requireOwner(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if in.UserID != nil && *in.UserID == ownerID {
		return nil, fmt.Errorf("cannot share a credential with its owner")
	}

	share := &models.CredentialShare{
		ID:           uuid.New(),
		CredentialID: cred.ID,
		UserID:       in.UserID,
		TeamID:       in.TeamID,
		Permission:   in.Permission,
	}
	if err := s.repo.InsertShare(ctx, share); err != nil {
		return nil, fmt.Errorf("persisting share: %w", err)
	}
	return share, nil
}

// Unshare revokes a user's or team's access. Owner only.
func (s *Store) Unshare(ctx context.Context, id, ownerID uuid.UUID, userID, teamID *uuid.UUID) error {
	if _, err := s.requireOwner(ctx, id, ownerID); err != nil {
		return err
	}
	return s.repo.DeleteShare(ctx, id, userID, teamID)
}

// List returns the caller's own credentials, optionally filtered by type.
func (s *Store) List(ctx context.Context, userID uuid.UUID, typeFilter string) ([]models.Credential, error) {
	return s.repo.FindByUser(ctx, userID, typeFilter)
}

// FindExpiring returns the caller's credentials whose expiry falls within the
// given number of days.
func (s *Store) FindExpiring(ctx context.Context, userID uuid.UUID, withinDays int) ([]models.Credential, error) {
	return s.repo.FindExpiring(ctx, userID, time.Duration(withinDays)*24*time.Hour)
}

// Types exposes the registry, for parameter validation in the node layer.
func (s *Store) Types() *TypeRegistry {
	return s.types
}

func (s *Store) checkPayload(typeName string, payload map[string]interface{}) (*Type, map[string]interface{}, error) {
	credType, ok := s.types.Get(typeName)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	values := schema.ApplyDefaults(credType.Properties, payload)
	if errs := schema.Validate(credType.Properties, values); len(errs) > 0 {
		return nil, nil, &ValidationError{Fields: errs}
	}
	return credType, values, nil
}

func (s *Store) encryptPayload(payload map[string]interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serializing payload: %w", err)
	}
	ciphertext, err := s.enc.Encrypt(raw)
	if err != nil {
		return "", fmt.Errorf("encrypting payload: %w", err)
	}
	return ciphertext, nil
}

func (s *Store) decryptPayload(cred *models.Credential) (map[string]interface{}, error) {
	raw, err := s.enc.Decrypt(cred.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypting credential %s: %w", cred.ID, err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("deserializing credential %s: %w", cred.ID, err)
	}
	return payload, nil
}

// load fetches a credential and resolves the identity's access level:
// "owner", a share permission, or not found.
func (s *Store) load(ctx context.Context, id uuid.UUID, ident Identity) (*models.Credential, string, error) {
	cred, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if cred.UserID == ident.UserID {
		return cred, "owner", nil
	}
	level := shareLevel(cred.Shares, ident)
	if level == "" {
		return nil, "", ErrNotFound
	}
	return cred, level, nil
}

func (s *Store) requireOwner(ctx context.Context, id, userID uuid.UUID) (*models.Credential, error) {
	cred, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cred.UserID != userID {
		// Shared users learn the credential exists but may not mutate it.
		if shareLevel(cred.Shares, Identity{UserID: userID}) != "" {
			return nil, ErrForbidden
		}
		return nil, ErrNotFound
	}
	return cred, nil
}

// shareLevel returns the strongest permission the identity holds through
// shares, or "".
func shareLevel(shares []models.CredentialShare, ident Identity) string {
	rank := map[string]int{
		models.SharePermissionView: 1,
		models.SharePermissionUse:  2,
		models.SharePermissionEdit: 3,
	}
	best := ""
	for i := range shares {
		sh := &shares[i]
		matched := false
		if sh.UserID != nil && *sh.UserID == ident.UserID {
			matched = true
		}
		if sh.TeamID != nil {
			for _, team := range ident.TeamIDs {
				if *sh.TeamID == team {
					matched = true
					break
				}
			}
		}
		if matched && rank[sh.Permission] > rank[best] {
			best = sh.Permission
		}
	}
	return best
}

func (s *Store) expired(cred *models.Credential) bool {
	return cred.ExpiresAt != nil && cred.ExpiresAt.Before(s.now())
}

// redactSecrets blanks password and hidden kind fields in place, for
// VIEW-level reads.
func (s *Store) redactSecrets(typeName string, payload map[string]interface{}) {
	credType, ok := s.types.Get(typeName)
	if !ok {
		return
	}
	for i := range credType.Properties {
		p := &credType.Properties[i]
		if p.Kind != schema.KindPassword && p.Kind != schema.KindHidden {
			continue
		}
		if _, present := payload[p.Name]; present {
			payload[p.Name] = "********"
		}
	}
}
