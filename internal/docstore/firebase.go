package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/errorutils"
	"github.com/prudhvinik1/locsync/internal/apperr"
)

// FirebaseStore talks to a Firebase Realtime Database.
type FirebaseStore struct {
	client *db.Client
}

func NewFirebaseStore(client *db.Client) *FirebaseStore {
	return &FirebaseStore{client: client}
}

func (s *FirebaseStore) Get(ctx context.Context, path string, dest any) error {
	var raw json.RawMessage
	if err := s.client.NewRef(path).Get(ctx, &raw); err != nil {
		return classify("docstore.get", path, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return apperr.NotFound("docstore.get", "no value at %s", path)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (s *FirebaseStore) Set(ctx context.Context, path string, value any) error {
	if err := s.client.NewRef(path).Set(ctx, value); err != nil {
		return classify("docstore.set", path, err)
	}
	return nil
}

func (s *FirebaseStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := s.client.NewRef(path).Update(ctx, fields); err != nil {
		return classify("docstore.update", path, err)
	}
	return nil
}

func (s *FirebaseStore) Delete(ctx context.Context, path string) error {
	if err := s.client.NewRef(path).Delete(ctx); err != nil {
		return classify("docstore.delete", path, err)
	}
	return nil
}

// QueryEqual needs an ".indexOn" rule for child on path in the database rules.
func (s *FirebaseStore) QueryEqual(ctx context.Context, path, child string, value any, dest any) error {
	var raw json.RawMessage
	if err := s.client.NewRef(path).OrderByChild(child).EqualTo(value).Get(ctx, &raw); err != nil {
		return classify("docstore.query", path, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode query %s: %w", path, err)
	}
	return nil
}

// Transaction uses the database's ETag based conditional write. The SDK
// re-runs fn with the fresh value when another writer got there first.
func (s *FirebaseStore) Transaction(ctx context.Context, path string, fn TxFunc) error {
	err := s.client.NewRef(path).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var current json.RawMessage
		if err := node.Unmarshal(&current); err != nil {
			return nil, err
		}
		if len(current) == 0 {
			current = json.RawMessage(`null`)
		}
		return fn(current)
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return err
		}
		return classify("docstore.transaction", path, err)
	}
	return nil
}

func classify(op, path string, err error) error {
	if errorutils.IsUnavailable(err) || errorutils.IsDeadlineExceeded(err) || apperr.IsTransient(err) {
		return apperr.Transient(op, fmt.Errorf("%s: %w", path, err))
	}
	if errorutils.IsPermissionDenied(err) || errorutils.IsUnauthenticated(err) {
		return apperr.Wrap(apperr.KindAuthorization, op, fmt.Errorf("%s: %w", path, err))
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
