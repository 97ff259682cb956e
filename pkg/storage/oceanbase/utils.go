package oceanbase

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/oceanbase/vectormem/pkg/errs"
	"github.com/oceanbase/vectormem/pkg/storage"
)

// errDupKeyName is the MySQL error number for an index name that already exists.
const errDupKeyName = 1061

// vectorParam converts a vector to an OceanBase VECTOR literal. A nil vector binds as NULL.
func vectorParam(vector []float64) interface{} {
	if len(vector) == 0 {
		return nil
	}
	return storage.FormatVector(vector)
}

// distanceName maps a metric to the OceanBase vector index distance.
func distanceName(metric storage.MetricType) (string, error) {
	switch metric {
	case storage.MetricCosine, "":
		return "cosine", nil
	case storage.MetricL2:
		return "l2", nil
	case storage.MetricIP:
		return "inner_product", nil
	default:
		return "", errs.InvalidInput("unsupported metric type: %s", metric)
	}
}

// formatTime stores timestamps as RFC3339 strings with nanosecond precision.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isDuplicateIndex(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDupKeyName
}

// generateHash generates an MD5 hash for content.
func generateHash(content string) string {
	hash := md5.Sum([]byte(content))
	return hex.EncodeToString(hash[:])
}
