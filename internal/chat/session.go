package chat

import (
	"fmt"

	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Session is the identity on whose behalf views and resolvers act.
type Session struct {
	UserID string
}

// NewSession returns a validated session for userID.
func NewSession(userID string) (Session, error) {
	s := Session{UserID: userID}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Validate rejects sessions without a user.
func (s Session) Validate() error {
	if s.UserID == "" {
		return &Error{Code: CodeInvalidArgument, Op: "session", Err: fmt.Errorf("%w: empty user id", store.ErrInvalidArgument)}
	}
	return nil
}

func (s Session) requireParticipant(op string, conv *store.Conversation) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if !conv.Has(s.UserID) {
		return &Error{Code: CodeNotAuthorized, Op: op, Err: fmt.Errorf("%w: %s is not in conversation %s", store.ErrNotAuthorized, s.UserID, conv.ID)}
	}
	return nil
}
