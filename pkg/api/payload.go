package api

// Messages carried by the standard success and warning envelopes.
const (
	MessageNotFound      = "The record is not found!"
	MessageSaveSuccess   = "Record is saved successfully."
	MessageUpdateSuccess = "Record is updated successfully."
	MessageDeleteSuccess = "Record is deleted successfully."
	MessageRecordExists  = "Record already exists"
)

// Payload is the envelope handlers use for structured bodies. Code mirrors
// the HTTP status the payload is meant to be sent with.
type Payload struct {
	Code             int    `json:"code"`
	Message          string `json:"message"`
	Success          bool   `json:"success"`
	ShowNotification bool   `json:"show_notification"`
	Data             any    `json:"data,omitempty"`
}

// OK wraps data in a successful envelope without a user notification.
func OK(data any) Payload {
	return Payload{Code: 200, Message: "OK", Success: true, Data: data}
}

// Saved wraps data in a successful "saved" envelope.
func Saved(data any) Payload {
	return Payload{Code: 200, Message: MessageSaveSuccess, Success: true, ShowNotification: true, Data: data}
}

// Updated wraps data in a successful "updated" envelope.
func Updated(data any) Payload {
	return Payload{Code: 200, Message: MessageUpdateSuccess, Success: true, ShowNotification: true, Data: data}
}

// Deleted returns a successful "deleted" envelope.
func Deleted() Payload {
	return Payload{Code: 200, Message: MessageDeleteSuccess, Success: true, ShowNotification: true}
}

// RecordExists returns a warning envelope for duplicate records.
func RecordExists() Payload {
	return Payload{Code: 409, Message: MessageRecordExists, ShowNotification: true}
}

// NotFound returns a failed "not found" envelope.
func NotFound() Payload {
	return Payload{Code: 404, Message: MessageNotFound, ShowNotification: true}
}
