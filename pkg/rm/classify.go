package rm

import "strings"

// Classifier maps a branch's resourceId to the handler that understands
// it. The default implementation uses a prefix convention; deployments
// needing annotation-style routing can supply their own Classifier.
type Classifier interface {
	Classify(resourceID string) string
}

// PrefixClassifier classifies resourceId by a literal prefix, e.g.
// "at:account_db" -> "at", "tcc:inventory" -> "tcc". Unprefixed ids fall
// back to a configured default (AT, since it is the most common mode).
type PrefixClassifier struct {
	Default string
}

// NewPrefixClassifier builds a PrefixClassifier defaulting unprefixed
// resourceIds to "at".
func NewPrefixClassifier() *PrefixClassifier {
	return &PrefixClassifier{Default: "at"}
}

func (c *PrefixClassifier) Classify(resourceID string) string {
	if idx := strings.IndexByte(resourceID, ':'); idx > 0 {
		prefix := strings.ToLower(resourceID[:idx])
		switch prefix {
		case "at", "tcc", "xa", "mq", "http":
			return prefix
		}
	}
	return c.Default
}
