package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the session
// token on outbound backend calls.
const AccessTokenHeaderName = "access_token"

// Metadata keys persisted in the local metadata table.
const (
	MetaDeviceID      = "device_id"
	MetaLastDrainedAt = "last_drained_at"
	MetaLastUploadAt  = "last_upload_at"
)
