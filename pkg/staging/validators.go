package staging

import "mime/multipart"

// UploadPayload is a multipart upload. Every file part is staged, whatever
// its field name.
type UploadPayload struct {
	Contributor string                             `form:"contributor" json:"contributor" mod:"trim" validate:"omitempty,contributor"`
	FormFiles   map[string][]*multipart.FileHeader `form:"-" json:"-"`
}

type ListStagedQuery struct {
	Contributor *string  `query:"contributor" json:"contributor,omitempty" validate:"omitempty,contributor"`
	Status      []string `query:"status" json:"status,omitempty" validate:"dive,oneof=staged held committed"`
	Limit       int      `query:"limit" json:"limit,omitempty" default:"200" validate:"min=1,max=1000"`
}

type CleanupPayload struct {
	MaxAge *string `json:"max_age,omitempty" validate:"omitempty"`
}
