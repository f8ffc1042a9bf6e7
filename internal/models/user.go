package models

import "time"

// User is one row per address ever observed in a trade, either as the
// trader or as the traded subject. Supply is the outstanding share count
// for the address as a subject; the twitter fields are filled in
// asynchronously by the profile enricher.
type User struct {
	Address         string    `json:"address"`
	Supply          int64     `json:"supply"`
	TwitterUsername *string   `json:"twitterUsername"`
	TwitterPfpURL   *string   `json:"twitterPfpUrl"`
	ProfileChecked  bool      `json:"profileChecked"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// UserSupply is the (address, supply) pair the keeper commits for every
// user touched by a sync batch.
type UserSupply struct {
	Address string
	Supply  int64
}
