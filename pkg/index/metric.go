package index

import (
	"fmt"
	"math"
	"strings"
)

// Metric is the distance function used by every index variant.
type Metric string

const (
	// MetricCosine ranks by cosine similarity.
	MetricCosine Metric = "cosine"

	// MetricL2 ranks by Euclidean distance.
	MetricL2 Metric = "l2"

	// MetricIP ranks by inner (dot) product.
	MetricIP Metric = "ip"
)

// ParseMetric accepts the canonical names plus "euclidean" and "inner_product".
// An empty string selects cosine.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return MetricCosine, nil
	case "l2", "euclidean":
		return MetricL2, nil
	case "ip", "inner_product", "dot":
		return MetricIP, nil
	}
	return "", fmt.Errorf("unknown distance metric %q", s)
}

// Distance returns a value where smaller means closer.
func (m Metric) Distance(a, b []float64) float64 {
	switch m {
	case MetricL2:
		var sum float64
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return math.Sqrt(sum)
	case MetricIP:
		return -dot(a, b)
	default:
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot(a, b)/(na*nb)
	}
}

// Score converts a distance into a similarity where larger means closer:
// cosine similarity, 1/(1+d) for l2, and the dot product for ip.
func (m Metric) Score(distance float64) float64 {
	switch m {
	case MetricL2:
		return 1 / (1 + distance)
	case MetricIP:
		return -distance
	default:
		return 1 - distance
	}
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(a []float64) float64 {
	return math.Sqrt(dot(a, a))
}
