package database

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// NewFirebaseDatabase connects to a Realtime Database. An empty credentials
// file falls back to Application Default Credentials.
func NewFirebaseDatabase(ctx context.Context, databaseURL, credentialsFile string, logger *logrus.Logger) (*db.Client, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("firebase database URL is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error creating firebase database client: %w", err)
	}

	logger.WithField("database_url", databaseURL).Info("Firebase database client created successfully")

	return client, nil
}
