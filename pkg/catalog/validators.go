package catalog

type ListBooksQuery struct {
	Limit       int     `query:"limit" json:"limit,omitempty" default:"24" validate:"min=1,max=100"`
	Offset      int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Contributor *string `query:"contributor" json:"contributor,omitempty"`
	Search      *string `query:"search" json:"search,omitempty" validate:"omitempty,max=200"`
	Sort        string  `query:"sort" json:"sort,omitempty" default:"added" validate:"oneof=added recent title author"`
}
