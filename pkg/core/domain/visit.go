package domain

import "time"

// Visit represents one redirect through a short link
type Visit struct {
	Identifier string    `json:"identifier"` // code or alias
	ClientID   string    `json:"client_id"`  // requester IP
	At         time.Time `json:"at"`
}
