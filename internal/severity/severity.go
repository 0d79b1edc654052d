// Package severity normalizes the severity encodings found in vulnerability
// feed records onto a single scale.
//
// A record expresses severity in exactly one of four ways, modeled as the
// closed Encoding set: a feed label, a list of scored vectors, an
// informational-only marker, or nothing at all.
package severity

import (
	"math"
	"strings"

	"github.com/ethanolivertroy/sbomgraph/internal/models"
	gocvss20 "github.com/pandatix/go-cvss/20"
	gocvss30 "github.com/pandatix/go-cvss/30"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
)

// Encoding is the severity information a feed record carries
type Encoding interface {
	encoding()
}

// Labeled is a feed-specific severity label such as "HIGH" or "Moderate"
type Labeled struct {
	Label string
}

// Vectored is a set of scored impact vectors
type Vectored struct {
	Vectors []string
}

// Informational marks an advisory with no security impact, e.g. an unmaintained package
type Informational struct {
	Reason string
}

// Absent means the record carries no severity information
type Absent struct{}

func (Labeled) encoding()       {}
func (Vectored) encoding()      {}
func (Informational) encoding() {}
func (Absent) encoding()        {}

// Classify picks the encoding that decides severity for a record. An
// informational marker wins, then a recognized label, then vectors.
func Classify(label string, vectors []string, informational string) Encoding {
	if informational != "" {
		return Informational{Reason: informational}
	}
	if _, ok := models.ParseSeverity(label); ok {
		return Labeled{Label: label}
	}

	var usable []string
	for _, v := range vectors {
		if v = strings.TrimSpace(v); v != "" {
			usable = append(usable, v)
		}
	}
	if len(usable) > 0 {
		return Vectored{Vectors: usable}
	}
	return Absent{}
}

// Normalize maps an encoding onto the severity scale
func Normalize(enc Encoding) models.Severity {
	switch e := enc.(type) {
	case Informational:
		return models.SeverityInformational
	case Labeled:
		s, _ := models.ParseSeverity(e.Label)
		return s
	case Vectored:
		score, ok := MaxScore(e.Vectors)
		if !ok {
			return models.SeverityUnknown
		}
		return Bucket(score)
	case Absent:
		return models.SeverityUnknown
	default:
		return models.SeverityUnknown
	}
}

// Assess classifies and normalizes a record, also returning the highest vector
// score it carries (0 when none scores)
func Assess(label string, vectors []string, informational string) (models.Severity, float64) {
	score, _ := MaxScore(vectors)
	return Normalize(Classify(label, vectors, informational)), score
}

// Bucket maps a 0-10 score to a severity
func Bucket(score float64) models.Severity {
	switch {
	case score >= 9.0:
		return models.SeverityCritical
	case score >= 7.0:
		return models.SeverityHigh
	case score >= 4.0:
		return models.SeverityMedium
	case score > 0:
		return models.SeverityLow
	default:
		return models.SeverityUnknown
	}
}

// MaxScore returns the highest score among the vectors that can be scored
func MaxScore(vectors []string) (float64, bool) {
	best, found := 0.0, false
	for _, v := range vectors {
		if s, ok := Score(v); ok && (!found || s > best) {
			best, found = s, true
		}
	}
	return best, found
}

// Score computes the base score of a CVSS vector. Vectors that no CVSS
// version accepts fall back to averaging their C/I/A impact metrics.
func Score(vector string) (float64, bool) {
	vector = strings.TrimSpace(vector)
	switch {
	case strings.HasPrefix(vector, "CVSS:4.0/"):
		if c, err := gocvss40.ParseVector(vector); err == nil {
			return c.Score(), true
		}
	case strings.HasPrefix(vector, "CVSS:3.1/"):
		if c, err := gocvss31.ParseVector(vector); err == nil {
			return c.BaseScore(), true
		}
	case strings.HasPrefix(vector, "CVSS:3.0/"):
		if c, err := gocvss30.ParseVector(vector); err == nil {
			return c.BaseScore(), true
		}
	default:
		trimmed := strings.TrimSuffix(strings.TrimPrefix(vector, "("), ")")
		if c, err := gocvss20.ParseVector(trimmed); err == nil {
			return c.BaseScore(), true
		}
	}
	return impactScore(vector)
}

// impact weights for confidentiality, integrity and availability metrics
var impactWeights = map[string]float64{
	"H": 1.0, // high
	"C": 1.0, // complete (v2)
	"L": 0.5, // low
	"P": 0.5, // partial (v2)
	"N": 0.0,
}

// impactScore extracts C/I/A sub-scores and maps their mean onto 0-10
func impactScore(vector string) (float64, bool) {
	var sum float64
	var n int
	for _, part := range strings.Split(vector, "/") {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		switch strings.ToUpper(key) {
		case "C", "I", "A", "VC", "VI", "VA":
			w, known := impactWeights[strings.ToUpper(value)]
			if !known {
				continue
			}
			sum += w
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return math.Round(sum/float64(n)*100) / 10, true
}
