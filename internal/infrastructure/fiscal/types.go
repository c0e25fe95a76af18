package fiscal

// emitRequestBody is the batch emission payload
type emitRequestBody struct {
	Environment    string        `json:"environment"`
	ForceNewNumber bool          `json:"force_new_number"`
	ForceNewRef    bool          `json:"force_new_ref"`
	Documents      []emitDocBody `json:"documents"`
}

type emitDocBody struct {
	OrderID string `json:"order_id"`
	Ref     string `json:"ref"`
}

// emitResponseBody lists the outcome of each document of the batch
type emitResponseBody struct {
	Results []struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"` // accepted or rejected
		Message string `json:"mensagem"`
	} `json:"results"`
}

// statusResponseBody is the status lookup response
type statusResponseBody struct {
	Documents []statusDocBody `json:"documents"`
}

type statusDocBody struct {
	OrderID          string `json:"order_id"`
	Ref              string `json:"ref"`
	Environment      string `json:"environment"`
	Status           string `json:"status"`
	XMLAvailable     bool   `json:"xml_available"`
	SubmissionStatus string `json:"submission_status"`
	SefazMessage     string `json:"mensagem_sefaz"`
}

// errorBody is the error payload of the service. Older endpoints use
// "message", newer ones "mensagem".
type errorBody struct {
	Code     string `json:"codigo"`
	Mensagem string `json:"mensagem"`
	Message  string `json:"message"`
}

func (e errorBody) text() string {
	if e.Mensagem != "" {
		return e.Mensagem
	}
	return e.Message
}
