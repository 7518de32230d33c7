package models

// Context is the per-thread business configuration needed to build LPT
// payloads. It is reconstructed by joining the client record, the mandate
// matching the company, and the ERP record under that mandate, and cached
// per thread with a TTL.
type Context struct {
	ClientUUID           string `bson:"client_uuid" json:"client_uuid"`
	MandatePath          string `bson:"mandate_path" json:"mandate_path"`
	DMSSystem            string `bson:"dms_system" json:"dms_system"`
	CommunicationMode    string `bson:"communication_mode" json:"communication_mode"`
	LogCommunicationMode string `bson:"log_communication_mode" json:"log_communication_mode"`
	BankERP              string `bson:"bank_erp" json:"bank_erp"`
	DriveSpaceParentID   string `bson:"drive_space_parent_id" json:"drive_space_parent_id"`
	CompanyName          string `bson:"company_name" json:"company_name"`
}

// IsEmpty reports whether the context lacks the minimum fields required for
// LPT dispatch. A context must be non-empty before any LPT is sent.
func (c *Context) IsEmpty() bool {
	return c == nil || (c.ClientUUID == "" && c.MandatePath == "")
}

// Defaults applied by the context loader when the source records omit fields.
const (
	DefaultDMSSystem            = "google_drive"
	DefaultCommunicationMode    = "webhook"
	DefaultLogCommunicationMode = "firebase"
)
