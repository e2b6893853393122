// Package runstore records one Firestore document per resource run. The
// records make redeliveries observable (attempt counter) and give operators
// an audit trail; the pipeline itself never reads them to make decisions.
package runstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/hdxlabs/sdd-pipeline/internal/models"
)

// Run statuses.
const (
	StatusReceived  = "received"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRecord is the Firestore document for one resource.
type RunRecord struct {
	ResourceID   string    `firestore:"resourceId"`
	FileURL      string    `firestore:"fileUrl"`
	Status       string    `firestore:"status"`
	FailureStage string    `firestore:"failureStage,omitempty"`
	PIISensitive bool      `firestore:"piiSensitive"`
	Degraded     bool      `firestore:"degraded"`
	Attempts     int       `firestore:"attempts"`
	StartedAt    time.Time `firestore:"startedAt"`
	FinishedAt   time.Time `firestore:"finishedAt,omitempty"`
}

// Store writes run records to one Firestore collection.
type Store struct {
	client     *firestore.Client
	collection string
}

// NewStore creates a Store. It centralizes Firestore client creation for
// the worker.
func NewStore(ctx context.Context, projectID, collection string) (*Store, error) {
	if projectID == "" || collection == "" {
		return nil, fmt.Errorf("projectID and collection must be provided to create a run store")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &Store{client: client, collection: collection}, nil
}

// Begin marks the resource as received and bumps the attempt counter, so a
// redelivered event shows up as attempt > 1.
func (s *Store) Begin(ctx context.Context, ev *models.InboundEvent) error {
	ref := s.client.Collection(s.collection).Doc(ev.ResourceID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempts := 0
		snap, err := tx.Get(ref)
		if err == nil {
			var prev RunRecord
			if err := snap.DataTo(&prev); err == nil {
				attempts = prev.Attempts
			}
		}
		return tx.Set(ref, RunRecord{
			ResourceID: ev.ResourceID,
			FileURL:    ev.FileURL,
			Status:     StatusReceived,
			Attempts:   attempts + 1,
			StartedAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("begin run record for %s: %w", ev.ResourceID, err)
	}
	return nil
}

// Finish writes the terminal status for the resource.
func (s *Store) Finish(ctx context.Context, res *models.PipelineResult) error {
	status := StatusCompleted
	if !res.ProcessingSuccess {
		status = StatusFailed
	}
	ref := s.client.Collection(s.collection).Doc(res.ResourceID)
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "status", Value: status},
		{Path: "failureStage", Value: res.FailureStage},
		{Path: "piiSensitive", Value: res.PIISensitive},
		{Path: "degraded", Value: res.Degraded},
		{Path: "finishedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("finish run record for %s: %w", res.ResourceID, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
