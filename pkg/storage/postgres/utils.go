package postgres

import (
	"fmt"
	"strings"

	"github.com/oceanbase/vectormem/pkg/errs"
	"github.com/oceanbase/vectormem/pkg/storage"
)

// vectorParam converts a vector to a pgvector literal. A nil vector binds as NULL.
func vectorParam(vector []float64) interface{} {
	if len(vector) == 0 {
		return nil
	}
	return storage.FormatVector(vector)
}

// operatorClass maps a metric to the pgvector operator class.
func operatorClass(metric storage.MetricType) (string, error) {
	switch metric {
	case storage.MetricCosine, "":
		return "vector_cosine_ops", nil
	case storage.MetricL2:
		return "vector_l2_ops", nil
	case storage.MetricIP:
		return "vector_ip_ops", nil
	default:
		return "", errs.InvalidInput("unsupported metric type: %s", metric)
	}
}

// indexName returns the configured index name or derives one from the table,
// index type and metric.
func indexName(table string, config *storage.VectorIndexConfig) string {
	if config.IndexName != "" {
		return config.IndexName
	}
	metric := config.MetricType
	if metric == "" {
		metric = storage.MetricCosine
	}
	return fmt.Sprintf("idx_%s_%s_%s", table, strings.ToLower(string(config.IndexType)), metric)
}
