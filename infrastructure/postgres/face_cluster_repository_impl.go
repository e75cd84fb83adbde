package postgres

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
)

type FaceClusterRepositoryImpl struct {
	db *gorm.DB
}

func NewFaceClusterRepository(db *gorm.DB) repositories.FaceClusterRepository {
	return &FaceClusterRepositoryImpl{db: db}
}

// ReplaceForEvent rewrites the event's clustering state in one transaction.
// Face labels and cluster rows always change together; a label pointing at a
// deleted cluster would break cover photo lookups.
func (r *FaceClusterRepositoryImpl) ReplaceForEvent(ctx context.Context, eventID uuid.UUID, clusters []*models.FaceCluster, labels map[int][]uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", eventID).Delete(&models.FaceCluster{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Face{}).Where("event_id = ?", eventID).
			Update("cluster_label", nil).Error; err != nil {
			return err
		}

		if len(clusters) == 0 {
			return nil
		}

		for _, cluster := range clusters {
			cluster.EventID = eventID
		}
		if err := tx.CreateInBatches(clusters, 50).Error; err != nil {
			return err
		}

		for label, faceIDs := range labels {
			if len(faceIDs) == 0 {
				continue
			}
			if err := tx.Model(&models.Face{}).Where("id IN ?", faceIDs).
				Update("cluster_label", label).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *FaceClusterRepositoryImpl) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.FaceCluster, error) {
	var clusters []models.FaceCluster
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("face_count DESC, cluster_label ASC").
		Find(&clusters).Error
	return clusters, err
}

func (r *FaceClusterRepositoryImpl) CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.FaceCluster{}).Where("event_id = ?", eventID).Count(&count).Error
	return count, err
}
