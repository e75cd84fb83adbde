package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// EmbeddingDim is the dimensionality of face embeddings.
const EmbeddingDim = 512

// Vector512 holds a face embedding. On postgres the column is the pgvector
// vector(512) type; other dialects fall back to a JSON text column so the
// models stay portable. The serialized form "[f1,f2,...]" is readable by both.
type Vector512 []float32

func (Vector512) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return fmt.Sprintf("vector(%d)", EmbeddingDim)
	}
	return "json"
}

func (v Vector512) Value() (driver.Value, error) {
	if len(v) != EmbeddingDim {
		return nil, fmt.Errorf("embedding must have %d dimensions, got %d", EmbeddingDim, len(v))
	}
	var sb strings.Builder
	sb.Grow(len(v) * 10)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String(), nil
}

func (v *Vector512) Scan(src interface{}) error {
	switch s := src.(type) {
	case nil:
		*v = nil
		return nil
	case []byte:
		return v.parse(string(s))
	case string:
		return v.parse(s)
	}
	return fmt.Errorf("unsupported embedding source type %T", src)
}

func (v *Vector512) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*v = nil
		return nil
	}
	// pgvector text output and a JSON array both read as "[f,f,...]".
	var floats []float32
	if err := json.Unmarshal([]byte(s), &floats); err != nil {
		return fmt.Errorf("failed to parse embedding: %w", err)
	}
	*v = floats
	return nil
}
