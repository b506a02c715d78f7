// Package exposureevent provides types for gdexposure EventBridge event payloads.
// These types can be used in Lambda functions to unmarshal gdexposure events.
//
//	func handler(ctx context.Context, event exposureevent.Event) error {
//	    fmt.Println(event.DetailType)
//	    fmt.Println(event.Detail.Subject)
//	}
package exposureevent

import "time"

// Event represents the full EventBridge event from gdexposure.
type Event struct {
	Version    string    `json:"version"`
	ID         string    `json:"id"`
	DetailType string    `json:"detail-type"`
	Source     string    `json:"source"`
	AccountID  string    `json:"account"`
	Time       time.Time `json:"time"`
	Region     string    `json:"region"`
	Resources  []string  `json:"resources"`
	Detail     Detail    `json:"detail"`
}

// Detail is the event detail payload. For an owner report it carries the
// owner address and the exposures confirmed for that owner in one scan run.
// For an audit fetch failure it carries the error message instead.
type Detail struct {
	Subject   string      `json:"subject"`
	Owner     string      `json:"owner,omitempty"`
	Exposures []*Exposure `json:"exposures,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Exposure is one publicly shared Drive item confirmed against live state.
type Exposure struct {
	DocID    string `json:"docId"`
	Title    string `json:"title"`
	Owner    string `json:"owner"`
	URL      string `json:"url,omitempty"`
	Level    string `json:"level"`
	ItemKind string `json:"itemKind,omitempty"`
}
