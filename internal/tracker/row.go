// Package tracker provides the row data model and in-memory row store for
// the portal migration tracker.
package tracker

import (
	"fmt"

	"github.com/google/uuid"
)

// Workflow statuses a case moves through. These match the values the
// operators see in the tracker table, so they are stored verbatim.
const (
	StatusOffen         = "Offen"
	StatusAngelegt      = "Angelegt"
	StatusEmailRaus     = "E-Mail raus"
	StatusWartenUpload  = "Warten auf Upload"
	StatusDokumenteDa   = "Dokumente da"
	StatusReminderRaus  = "Reminder raus"
	StatusTelNachfass   = "Tel. Nachfass"
	StatusAbgeschlossen = "Abgeschlossen"
)

// StatusValues lists the closed set of workflow statuses in order.
var StatusValues = []string{
	StatusOffen,
	StatusAngelegt,
	StatusEmailRaus,
	StatusWartenUpload,
	StatusDokumenteDa,
	StatusReminderRaus,
	StatusTelNachfass,
	StatusAbgeschlossen,
}

// Row is one tracked migration case.
//
// All editable fields are plain strings; dates are ISO strings and the
// yes/no flags hold "Ja"/"Nein"/"" as entered by the operator. JSON tags
// match the remote table columns so the same struct is used on the wire
// and in the local cache.
type Row struct {
	// ID is assigned at creation and never changes or gets reused.
	ID string `json:"id"`

	// Position is the row's index in the store sequence. It is recomputed
	// on every mutation and resent with every remote upsert so server-side
	// ordering matches client ordering after reload.
	Position int `json:"position"`

	// CaseRef is the Aktenzeichen used to look up the contact directory.
	CaseRef string `json:"az"`

	// ContactURL is populated only by a successful lookup.
	ContactURL string `json:"zendesk_url"`

	// Name is operator-editable but overwritten by successful lookups.
	Name string `json:"name"`

	Typ           string `json:"typ"`
	Batch         string `json:"batch"`
	Monat         string `json:"monat"`
	Rate          string `json:"rate"`
	Portal        string `json:"portal"`
	DatumPortal   string `json:"datum_portal"`
	Email         string `json:"email"`
	DatumEmail    string `json:"datum_email"`
	Docs          string `json:"docs"`
	Reminder      string `json:"reminder"`
	DatumReminder string `json:"datum_reminder"`
	Tel           string `json:"tel"`
	Status        string `json:"status"`
	Bemerkung     string `json:"bemerkung"`
}

// NewRow returns an empty row with a fresh id and the initial workflow status.
func NewRow() Row {
	return Row{
		ID:     uuid.NewString(),
		Status: StatusOffen,
	}
}

// Field names accepted by SetField and Store.UpdateField.
// They match the JSON/column names of the editable row fields.
const (
	FieldCaseRef       = "az"
	FieldContactURL    = "zendesk_url"
	FieldName          = "name"
	FieldTyp           = "typ"
	FieldBatch         = "batch"
	FieldMonat         = "monat"
	FieldRate          = "rate"
	FieldPortal        = "portal"
	FieldDatumPortal   = "datum_portal"
	FieldEmail         = "email"
	FieldDatumEmail    = "datum_email"
	FieldDocs          = "docs"
	FieldReminder      = "reminder"
	FieldDatumReminder = "datum_reminder"
	FieldTel           = "tel"
	FieldStatus        = "status"
	FieldBemerkung     = "bemerkung"
)

// SetField sets one editable field by name. The id and position cannot be
// changed through this path.
func (r *Row) SetField(field, value string) error {
	switch field {
	case FieldCaseRef:
		r.CaseRef = value
	case FieldContactURL:
		r.ContactURL = value
	case FieldName:
		r.Name = value
	case FieldTyp:
		r.Typ = value
	case FieldBatch:
		r.Batch = value
	case FieldMonat:
		r.Monat = value
	case FieldRate:
		r.Rate = value
	case FieldPortal:
		r.Portal = value
	case FieldDatumPortal:
		r.DatumPortal = value
	case FieldEmail:
		r.Email = value
	case FieldDatumEmail:
		r.DatumEmail = value
	case FieldDocs:
		r.Docs = value
	case FieldReminder:
		r.Reminder = value
	case FieldDatumReminder:
		r.DatumReminder = value
	case FieldTel:
		r.Tel = value
	case FieldStatus:
		r.Status = value
	case FieldBemerkung:
		r.Bemerkung = value
	default:
		return fmt.Errorf("unknown row field: %q", field)
	}
	return nil
}

// Stats summarizes progress across the tracked cases.
type Stats struct {
	Total         int `json:"total"`
	PortalCreated int `json:"portal_created"`
	EmailSent     int `json:"email_sent"`
	DocsUploaded  int `json:"docs_uploaded"`
	Done          int `json:"done"`
}
