package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a random unique ID
func GenerateID() string {
	return uuid.NewString()
}

// GenerateRunID generates an experiment run ID with a timestamp prefix
func GenerateRunID() string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	id := uuid.New()
	return fmt.Sprintf("exp-%s-%x", timestamp, id[:4])
}

// GenerateStudyID generates the ID of an optimisation study
func GenerateStudyID() string {
	return "study-" + uuid.NewString()
}
