package record

import "fmt"

// Rejection reports one record the relay refused.
type Rejection struct {
	ID      RecordID `json:"id"`
	Code    Code     `json:"code"`
	Message string   `json:"message"`
}

// Err converts the rejection back into an error matching the sentinel for
// its code.
func (r Rejection) Err() error {
	if sentinel := r.Code.Err(); sentinel != nil {
		return fmt.Errorf("record %s: %w: %s", r.ID, sentinel, r.Message)
	}
	return fmt.Errorf("record %s: %s: %s", r.ID, r.Code, r.Message)
}

// PushResult is the relay's answer to an upload. Records are processed one
// by one, so a batch may be partly accepted.
type PushResult struct {
	Accepted int         `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}
