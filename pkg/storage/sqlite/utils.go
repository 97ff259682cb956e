package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// encodeEmbedding stores a vector as a JSON array; a nil vector stays NULL.
func encodeEmbedding(vec []float64) (sql.NullString, error) {
	if len(vec) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeEmbedding(raw sql.NullString) ([]float64, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var vec []float64
	if err := json.Unmarshal([]byte(raw.String), &vec); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	return vec, nil
}
