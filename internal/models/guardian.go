package models

// Account is one bank account of a ward, reported under NameBankN/KtoNrN.
type Account struct {
	ID               string `json:"id"`
	IBAN             string `json:"iban" validate:"required,ibanshape"`
	BankName         string `json:"bankName" validate:"required"`
	BIC              string `json:"bic,omitempty"`
	DefaultMappingID string `json:"defaultMappingId,omitempty"`
}

// Guardian is the subject of a report ("Betreuter" record). JSON keys match
// the stored guardian files.
type Guardian struct {
	ID         string    `json:"id"`
	LastName   string    `json:"nachname" validate:"required"`
	FirstName  string    `json:"vorname" validate:"required"`
	BirthDate  string    `json:"geburtsdatum" validate:"omitempty,dedate"`
	CaseNumber string    `json:"aktenzeichen" validate:"required"`
	City       string    `json:"wohnort"`
	Initials   string    `json:"kuerzel,omitempty"`
	Accounts   []Account `json:"accounts" validate:"dive"`
}

// Account returns the account with the given id.
func (g Guardian) Account(id string) (Account, bool) {
	for _, a := range g.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// MappingProfile is a saved column mapping, reusable across imports. Cents
// marks exports whose amount columns hold integer cents; it is never
// inferred.
type MappingProfile struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Columns ColumnMapping `json:"columnMapping"`
	Cents   bool          `json:"cents,omitempty"`
}
