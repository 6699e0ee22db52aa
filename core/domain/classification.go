package domain

// LLMClassification is the model's judgment of a single message, validated
// against a strict schema. Unparseable model output degrades to the
// ParseFailure default instead of failing the pipeline.
type LLMClassification struct {
	IsLead bool      `json:"isLead"`
	Score  int       `json:"score"` // 0-100 confidence
	Reason string    `json:"reason"`
	Fields LLMFields `json:"fields"`
}

// LLMFields mirrors LeadFields but carries raw model strings before enum
// normalization.
type LLMFields struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	MLSID      string `json:"mlsId,omitempty"`
	Price      string `json:"price,omitempty"`
	Bedrooms   string `json:"bedrooms,omitempty"`
	Baths      string `json:"baths,omitempty"`
	Timeline   string `json:"timeline,omitempty"`
	SourceType string `json:"sourceType,omitempty"`
}

// ParseFailure is the fail-closed classification returned when model output
// cannot be parsed or fails schema validation.
func ParseFailure() LLMClassification {
	return LLMClassification{
		IsLead: false,
		Score:  0,
		Reason: "parse_error",
		Fields: LLMFields{},
	}
}

// Valid reports whether the classification satisfies the output schema: the
// score in range and a non-empty reason. An object of zero values (all schema
// fields missing) fails.
func (c *LLMClassification) Valid() bool {
	return c.Score >= 0 && c.Score <= 100 && c.Reason != ""
}

// ToLeadFields converts raw model fields into the persisted representation.
func (f LLMFields) ToLeadFields() LeadFields {
	return LeadFields{
		Name:       f.Name,
		Email:      f.Email,
		Phone:      f.Phone,
		Address:    f.Address,
		MLSID:      f.MLSID,
		Price:      f.Price,
		Bedrooms:   f.Bedrooms,
		Baths:      f.Baths,
		Timeline:   f.Timeline,
		SourceType: ParseSourceType(f.SourceType),
	}
}
