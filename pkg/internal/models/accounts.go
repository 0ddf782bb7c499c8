package models

// Account is the caller principal resolved from the bearer token issued
// by the platform auth service. The calling service never persists it.
type Account struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Nick     string `json:"nick"`
	DeviceID string `json:"device_id,omitempty"`
}
