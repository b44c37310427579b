package outbox

// Event types emitted through the outbox.
const (
	EventTypeScoreUpdated  = "score.updated"
	EventTypeSyncCompleted = "sync.completed"
)

const scoreUpdatedSchema = `{
  "type": "object",
  "title": "ScoreUpdated",
  "properties": {
    "user_id": {"type": "string"},
    "event_id": {"type": "string"},
    "activity_id": {"type": "integer"},
    "activity_date": {"type": "string", "format": "date"},
    "base_points": {"type": "number"},
    "final_points": {"type": "number"},
    "blocked": {"type": "boolean"},
    "applied_bonus": {"type": ["string", "null"]},
    "version": {"type": "string"}
  },
  "required": ["user_id", "event_id", "activity_id", "activity_date", "base_points", "final_points", "blocked", "version"],
  "additionalProperties": false
}`

const syncCompletedSchema = `{
  "type": "object",
  "title": "SyncCompleted",
  "properties": {
    "user_id": {"type": "string"},
    "synced": {"type": "integer"},
    "skipped": {"type": "integer"},
    "errors": {"type": "integer"},
    "watermark": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["user_id", "synced", "skipped", "errors", "version"],
  "additionalProperties": false
}`
