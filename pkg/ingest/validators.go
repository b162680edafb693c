package ingest

type StartPayload struct {
	Contributor string `json:"contributor" mod:"trim" validate:"omitempty,contributor"`
}

type StreamQuery struct {
	Contributor string  `query:"contributor" json:"contributor" mod:"trim" validate:"omitempty,contributor"`
	StartedAt   *string `query:"started_at" json:"started_at,omitempty"`
}
