package repository

import (
	"selfinsight_backend/internal/model"

	"gorm.io/gorm"
)

type SubmissionRepository struct {
	DB *gorm.DB
}

func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{DB: db}
}

func (r *SubmissionRepository) Create(rec *model.SubmissionRecord) error {
	return r.DB.Create(rec).Error
}

func (r *SubmissionRepository) FindByID(id uint) (*model.SubmissionRecord, error) {
	var rec model.SubmissionRecord
	err := r.DB.First(&rec, id).Error
	return &rec, err
}

func (r *SubmissionRepository) FindBySubmissionID(submissionID string) (*model.SubmissionRecord, error) {
	var rec model.SubmissionRecord
	err := r.DB.Where("submission_id = ?", submissionID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *SubmissionRepository) List(page, limit int, userID uint) ([]model.SubmissionRecord, int64, error) {
	var recs []model.SubmissionRecord
	var total int64
	query := r.DB.Model(&model.SubmissionRecord{})
	if userID > 0 {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("created_at desc").Offset(offset).Limit(limit).Find(&recs).Error
	return recs, total, err
}

func (r *SubmissionRepository) UpdateStatus(submissionID, status string) error {
	return r.DB.Model(&model.SubmissionRecord{}).
		Where("submission_id = ?", submissionID).
		Update("status", status).Error
}
