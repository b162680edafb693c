package review

type ListItemsQuery struct {
	Limit       int      `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=200"`
	Offset      int      `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Status      []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending_review file_missing processing_failed approving"`
	Contributor *string  `query:"contributor" json:"contributor,omitempty"`
}

type ApprovePayload struct {
	Title       *string  `json:"title,omitempty" mod:"trim" validate:"omitempty,max=500"`
	Author      *string  `json:"author,omitempty" mod:"trim" validate:"omitempty,max=500"`
	Year        *int     `json:"year,omitempty" validate:"omitempty,min=0,max=9999"`
	ISBN        *string  `json:"isbn,omitempty" mod:"trim" validate:"omitempty,isbn"`
	Publisher   *string  `json:"publisher,omitempty" mod:"trim"`
	MediaType   *string  `json:"media_type,omitempty" validate:"omitempty,oneof=book web"`
	Notes       *string  `json:"notes,omitempty"`
	Tags        []string `json:"tags,omitempty" validate:"dive,max=100"`
	Contributor string   `json:"contributor" mod:"trim" validate:"contributor"`
	CopyAction  string   `json:"copy_action" validate:"omitempty,oneof=separate_copy add_to_existing auto"`
	BookID      *int     `json:"book_id,omitempty" validate:"omitempty,min=1"`
}

type RejectPayload struct {
	Reason string `json:"reason" mod:"trim" validate:"max=1000"`
}
