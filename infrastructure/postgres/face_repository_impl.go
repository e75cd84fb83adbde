package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
)

type FaceRepositoryImpl struct {
	db *gorm.DB
}

func NewFaceRepository(db *gorm.DB) repositories.FaceRepository {
	return &FaceRepositoryImpl{db: db}
}

func (r *FaceRepositoryImpl) CreateBatch(ctx context.Context, faces []*models.Face) error {
	if len(faces) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(faces, 50).Error
}

func (r *FaceRepositoryImpl) GetByPhoto(ctx context.Context, photoID uuid.UUID) ([]models.Face, error) {
	var faces []models.Face
	err := r.db.WithContext(ctx).
		Where("photo_id = ?", photoID).
		Order("face_index ASC").
		Find(&faces).Error
	return faces, err
}

func (r *FaceRepositoryImpl) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Face, error) {
	var faces []models.Face
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("photo_id ASC, face_index ASC").
		Find(&faces).Error
	return faces, err
}

func (r *FaceRepositoryImpl) ListEmbeddingsByEvent(ctx context.Context, eventID uuid.UUID) ([]repositories.FaceEmbeddingRow, error) {
	var rows []repositories.FaceEmbeddingRow
	err := r.db.WithContext(ctx).
		Model(&models.Face{}).
		Select("photo_id", "embedding").
		Where("event_id = ?", eventID).
		Order("photo_id ASC, face_index ASC").
		Find(&rows).Error
	return rows, err
}

func (r *FaceRepositoryImpl) DeleteByPhoto(ctx context.Context, photoID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("photo_id = ?", photoID).Delete(&models.Face{}).Error
}

// SearchSimilarByEvent finds the event's faces closest to the embedding.
// pgvector's <=> operator is cosine distance, so similarity = 1 - distance.
func (r *FaceRepositoryImpl) SearchSimilarByEvent(ctx context.Context, eventID uuid.UUID, embedding pgvector.Vector, limit int, threshold float64) ([]repositories.FaceSearchResult, error) {
	var results []repositories.FaceSearchResult

	rows, err := r.db.WithContext(ctx).Raw(`
		SELECT
			f.id, f.event_id, f.photo_id, f.face_index, f.embedding,
			f.bbox_x, f.bbox_y, f.bbox_width, f.bbox_height,
			f.area_ratio, f.det_confidence, f.sharpness, f.cluster_label,
			f.created_at, f.updated_at,
			p.id, p.drive_file_id, p.file_name, p.thumbnail_path,
			p.web_view_url, p.preview_url, p.download_url,
			1 - (f.embedding <=> ?) as similarity
		FROM faces f
		JOIN photos p ON f.photo_id = p.id
		WHERE f.event_id = ?
		AND 1 - (f.embedding <=> ?) >= ?
		ORDER BY f.embedding <=> ?
		LIMIT ?
	`, embedding, eventID, embedding, threshold, embedding, limit).Rows()

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var result repositories.FaceSearchResult
		var face models.Face
		var photo models.Photo

		err := rows.Scan(
			&face.ID, &face.EventID, &face.PhotoID, &face.FaceIndex, &face.Embedding,
			&face.BboxX, &face.BboxY, &face.BboxWidth, &face.BboxHeight,
			&face.AreaRatio, &face.DetConfidence, &face.Sharpness, &face.ClusterLabel,
			&face.CreatedAt, &face.UpdatedAt,
			&photo.ID, &photo.DriveFileID, &photo.FileName, &photo.ThumbnailPath,
			&photo.WebViewURL, &photo.PreviewURL, &photo.DownloadURL,
			&result.Similarity,
		)
		if err != nil {
			return nil, err
		}

		result.Face = face
		result.Photo = photo
		results = append(results, result)
	}

	return results, rows.Err()
}

func (r *FaceRepositoryImpl) CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Face{}).Where("event_id = ?", eventID).Count(&count).Error
	return count, err
}
