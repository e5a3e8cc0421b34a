package nlp

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orz-miniprogram/NeptuneHub-Public/internal/models"
)

// ResourceUpdater is the store surface the classify handler needs.
type ResourceUpdater interface {
	FindResource(ctx context.Context, id primitive.ObjectID) (*models.Resource, error)
	SetClassified(ctx context.Context, id primitive.ObjectID, category string, specs map[string]interface{}) error
	SetClassificationFailed(ctx context.Context, id primitive.ObjectID, message string) error
}

// ClassifyHandler processes classifyResource jobs: classify the posting's
// text, merge specs and move the resource into matching status.
type ClassifyHandler struct {
	classifier *Classifier
	resources  ResourceUpdater
	logger     *log.Logger
}

func NewClassifyHandler(classifier *Classifier, resources ResourceUpdater) *ClassifyHandler {
	return &ClassifyHandler{
		classifier: classifier,
		resources:  resources,
		logger:     log.New(log.Writer(), "[CLASSIFY] ", log.LstdFlags),
	}
}

// Handle classifies one resource. A missing resource is not an error (the
// posting may have been deleted since enqueue); store failures mark the
// resource classification_failed and propagate so the queue can retry.
func (h *ClassifyHandler) Handle(ctx context.Context, resourceID string) error {
	id, err := primitive.ObjectIDFromHex(resourceID)
	if err != nil {
		h.logger.Printf("invalid resourceId %q: %v", resourceID, err)
		return nil
	}

	resource, err := h.resources.FindResource(ctx, id)
	if err != nil {
		return h.fail(ctx, id, fmt.Errorf("fetch resource: %w", err))
	}
	if resource == nil {
		h.logger.Printf("resource %s not found for classification", resourceID)
		return nil
	}
	if resource.Status == models.ResourceCanceled {
		h.logger.Printf("resource %s canceled before classification, skipping", resourceID)
		return nil
	}

	result := h.classifier.Classify(ctx, resource.Name, resource.Description, resource.Specifications)
	if err := h.resources.SetClassified(ctx, id, result.Category, result.Specifications); err != nil {
		return h.fail(ctx, id, fmt.Errorf("persist classification: %w", err))
	}

	h.logger.Printf("classified resource %s as %q (%d specs)", resourceID, result.Category, len(result.Specifications))
	return nil
}

func (h *ClassifyHandler) fail(ctx context.Context, id primitive.ObjectID, cause error) error {
	msg := cause.Error()
	if len(msg) > 255 {
		msg = msg[:255]
	}
	if err := h.resources.SetClassificationFailed(ctx, id, msg); err != nil {
		h.logger.Printf("failed to mark resource %s classification_failed: %v", id.Hex(), err)
	}
	return cause
}
