package joblogs

type ListJobLogsQuery struct {
	AfterID  *int     `query:"after_id" json:"after_id,omitempty" validate:"omitempty,min=0"`
	Level    []string `query:"level" json:"level,omitempty" validate:"dive,oneof=info warn error fatal"`
	MinLevel *string  `query:"min_level" json:"min_level,omitempty" validate:"omitempty,oneof=info warn error fatal"`
	Filename *string  `query:"filename" json:"filename,omitempty" mod:"trim"`
	Limit    int      `query:"limit" json:"limit,omitempty" default:"500" validate:"min=1,max=5000"`
}
