package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidator(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	t.Run("ValidManifest", func(t *testing.T) {
		result := sv.ValidateManifest(map[string]interface{}{
			"run_id":         "4f1c2a3e-9d1b-4b5a-8e3f-2a1b3c4d5e6f",
			"format_version": 1,
			"file":           "snapshot_v3.csnp",
			"checksum":       "0a4d55a8d778e5022fab701977c5d840bbc486d0c2c9f14e3c7f1e1e3c1f4a9b",
			"trained_at":     "2026-10-19T10:00:00Z",
			"saved_at":       "2026-10-19T10:00:01.5Z",
			"users":          10,
		})
		assert.True(t, result.Valid, "%v", result.Errors)
		assert.NoError(t, result.Err())
	})

	t.Run("RedisKeyManifest", func(t *testing.T) {
		result := sv.ValidateManifest(map[string]interface{}{
			"run_id":         "4f1c2a3e-9d1b-4b5a-8e3f-2a1b3c4d5e6f",
			"format_version": 2,
			"file":           "cinesense:snapshot:data",
			"checksum":       "0a4d55a8d778e5022fab701977c5d840bbc486d0c2c9f14e3c7f1e1e3c1f4a9b",
			"trained_at":     "2026-10-19T10:00:00Z",
			"saved_at":       "2026-10-19T10:00:01Z",
		})
		assert.True(t, result.Valid, "%v", result.Errors)
	})

	t.Run("InvalidManifest", func(t *testing.T) {
		result := sv.ValidateManifest(`{"run_id": "x", "format_version": 0, "file": "../etc/passwd"}`)
		assert.False(t, result.Valid)
		assert.NotEmpty(t, result.Errors)
		assert.Error(t, result.Err())
	})

	t.Run("RetrainRequest", func(t *testing.T) {
		valid := []byte(`{"id": "4f1c2a3e-9d1b-4b5a-8e3f-2a1b3c4d5e6f", "type": "retrain_requested", "timestamp": "2026-10-19T10:00:00Z", "source": "csv"}`)
		assert.True(t, sv.ValidateRetrainRequest(valid).Valid)

		invalid := []byte(`{"id": "4f1c2a3e-9d1b-4b5a-8e3f-2a1b3c4d5e6f", "type": "delete_everything", "timestamp": "2026-10-19T10:00:00Z"}`)
		assert.False(t, sv.ValidateRetrainRequest(invalid).Valid)
	})

	t.Run("RecommendationRequest", func(t *testing.T) {
		assert.True(t, sv.ValidateRecommendationRequest(map[string]interface{}{"user_id": "42", "count": 10}).Valid)
		assert.False(t, sv.ValidateRecommendationRequest(map[string]interface{}{"user_id": "", "count": 0}).Valid)
	})

	t.Run("UnknownSchema", func(t *testing.T) {
		result := sv.validate("nope", `{}`)
		assert.False(t, result.Valid)
		assert.Equal(t, "SCHEMA_NOT_FOUND", result.Errors[0].Code)
	})
}
