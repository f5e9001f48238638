package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"stonetify/models"
)

// GormStore persists documents in the `documents` table. Conditions on
// user_id and provider run against indexed columns; the rest are checked
// against the decoded JSON.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, collection string, doc Document) (string, error) {
	stored, err := cloneDocument(doc)
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	if stored == nil {
		stored = Document{}
	}
	id := uuid.NewString()
	stored["id"] = id

	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}

	row := &models.Document{ID: id, Collection: collection, Data: string(data)}
	row.UserID, row.Provider = indexedFields(stored)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}
	return id, nil
}

func (s *GormStore) GetByID(ctx context.Context, collection, id string) (Document, error) {
	var row models.Document
	err := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return decodeRow(row)
}

func (s *GormStore) QueryByField(ctx context.Context, collection, field string, value any) ([]Document, error) {
	return s.QueryByFields(ctx, collection, []Condition{{Field: field, Value: value}})
}

func (s *GormStore) QueryByFields(ctx context.Context, collection string, conditions []Condition) ([]Document, error) {
	q := s.db.WithContext(ctx).Where("collection = ?", collection)
	for _, c := range conditions {
		v, ok := c.Value.(string)
		if !ok {
			continue
		}
		if col, indexed := indexedColumns[c.Field]; indexed {
			q = q.Where(col+" = ?", v)
		}
	}

	var rows []models.Document
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	var out []Document
	for _, row := range rows {
		doc, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		ok, err := matches(doc, conditions)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *GormStore) Update(ctx context.Context, collection, id string, partial Document) error {
	patch, err := cloneDocument(partial)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Document
		if err := tx.Where("collection = ? AND id = ?", collection, id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load document: %w", err)
		}

		doc, err := decodeRow(row)
		if err != nil {
			return err
		}
		for k, v := range patch {
			if k == "id" {
				continue
			}
			doc[k] = v
		}

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		userID, provider := indexedFields(doc)
		err = tx.Model(&row).Updates(map[string]any{
			"data":     string(data),
			"user_id":  userID,
			"provider": provider,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
		return nil
	})
}

func (s *GormStore) Delete(ctx context.Context, collection, id string) error {
	err := s.db.WithContext(ctx).Where("collection = ? AND id = ?", collection, id).Delete(&models.Document{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// indexedColumns maps document fields to the columns that mirror them.
var indexedColumns = map[string]string{
	"user_id":  "user_id",
	"provider": "provider",
}

func indexedFields(doc Document) (userID, provider string) {
	userID, _ = doc["user_id"].(string)
	provider, _ = doc["provider"].(string)
	return userID, provider
}

// BackfillIndexColumns fills the owner columns of rows written before they
// existed. It returns how many rows were updated.
func (s *GormStore) BackfillIndexColumns(ctx context.Context) (int, error) {
	var rows []models.Document
	err := s.db.WithContext(ctx).
		Where("(user_id IS NULL OR user_id = '') AND (provider IS NULL OR provider = '')").
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load documents for backfill: %w", err)
	}

	updated := 0
	for _, row := range rows {
		doc, err := decodeRow(row)
		if err != nil {
			return updated, err
		}
		userID, provider := indexedFields(doc)
		if userID == "" && provider == "" {
			continue
		}
		err = s.db.WithContext(ctx).Model(&models.Document{}).Where("id = ?", row.ID).
			Updates(map[string]any{"user_id": userID, "provider": provider}).Error
		if err != nil {
			return updated, fmt.Errorf("failed to backfill document %s: %w", row.ID, err)
		}
		updated++
	}
	return updated, nil
}

func decodeRow(row models.Document) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(row.Data), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", row.ID, err)
	}
	if doc == nil {
		doc = Document{}
	}
	doc["id"] = row.ID
	return doc, nil
}
