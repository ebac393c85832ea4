package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/shared-calendar/models"
)

// GenerateETag builds a strong ETag for a single stored record.
func GenerateETag(id primitive.ObjectID, updatedAt time.Time) string {
	h := sha1.New()
	h.Write([]byte(id.Hex()))
	h.Write([]byte(strconv.FormatInt(updatedAt.UnixMilli(), 10)))
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
}

// WindowETag fingerprints an expanded window. It changes whenever an
// occurrence appears, disappears, or its base record is updated.
func WindowETag(window string, occs []models.Occurrence) string {
	h := sha1.New()
	h.Write([]byte(window))
	for _, o := range occs {
		h.Write([]byte{0})
		h.Write([]byte(o.ID))
		updated := o.UpdatedAt
		if o.BaseEvent != nil {
			updated = o.BaseEvent.UpdatedAt
		}
		h.Write([]byte(strconv.FormatInt(updated.UnixMilli(), 10)))
	}
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
}

// LastModified returns the newest update time across the occurrences.
func LastModified(occs []models.Occurrence) time.Time {
	var latest time.Time
	for _, o := range occs {
		updated := o.UpdatedAt
		if o.BaseEvent != nil {
			updated = o.BaseEvent.UpdatedAt
		}
		if updated.After(latest) {
			latest = updated
		}
	}
	return latest
}
