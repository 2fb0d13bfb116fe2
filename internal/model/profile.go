package model

import "time"

type (
	// Profile mirrors a row of the profiles collection. Profiles are fetched,
	// never mutated locally.
	Profile struct {
		ID            string    `json:"id" bson:"_id"`
		Username      string    `json:"username" bson:"username"`
		AvatarURL     string    `json:"avatar_url" bson:"avatar_url"`
		StatusMessage string    `json:"status_message" bson:"status_message"`
		LastSeen      time.Time `json:"last_seen" bson:"last_seen"`
		PublicKey     string    `json:"public_key" bson:"public_key"`
	}
)
