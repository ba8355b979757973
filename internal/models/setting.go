package models

// Setting is a key/value row for global state: referral bonus sizes and the
// daily-reset cursor.
type Setting struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"size:255"`
}
