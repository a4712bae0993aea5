// Package schema defines the devotional records that move between the local
// offline queue and the remote store.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LocalIDPrefix marks identifiers generated on this device that the remote
// store has never seen.
const LocalIDPrefix = "offline-"

// DateLayout is the calendar date format used for devotional dates.
const DateLayout = "2006-01-02"

// MaxTitleLength bounds devotional titles accepted by Validate.
const MaxTitleLength = 200

// Draft holds the content fields a caller submits for a devotional.
// Field names follow the client-side model; ToRow maps them onto the
// remote schema.
type Draft struct {
	Title            string `json:"title"`
	Text             string `json:"text"`
	Date             string `json:"date,omitempty"`
	Scripture        string `json:"scripture,omitempty"`
	ImageSrc         string `json:"imageSrc,omitempty"`
	TransmissionLink string `json:"transmissionLink,omitempty"`
	UserID           string `json:"userId,omitempty"`
}

// Validate checks the draft before it is handed to the sync layer.
func (d *Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(d.Title) > MaxTitleLength {
		return fmt.Errorf("title must be %d characters or less (got %d)", MaxTitleLength, len(d.Title))
	}
	if strings.TrimSpace(d.Text) == "" {
		return fmt.Errorf("text is required")
	}
	if d.Date != "" {
		if _, err := time.Parse(DateLayout, d.Date); err != nil {
			return fmt.Errorf("date must be formatted as YYYY-MM-DD (got %q)", d.Date)
		}
	}
	return nil
}

// ToRow translates the draft into the remote devotionals schema, stamping
// server-side timestamps with now. An empty date becomes now's calendar date.
func (d Draft) ToRow(now time.Time) Row {
	date := d.Date
	if date == "" {
		date = now.Format(DateLayout)
	}
	stamp := now.UTC()
	return Row{
		Title:            d.Title,
		Content:          d.Text,
		Date:             date,
		Scripture:        d.Scripture,
		ImageSrc:         d.ImageSrc,
		TransmissionLink: d.TransmissionLink,
		UserID:           d.UserID,
		CreatedAt:        stamp,
		UpdatedAt:        stamp,
	}
}

// PendingDevotional is a devotional persisted locally but not yet confirmed
// by the remote store. Items are removed once synced, never flipped to
// IsPending=false in place.
type PendingDevotional struct {
	ID string `json:"id"`
	Draft
	IsPending bool      `json:"isPending"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewPending wraps a draft as a queue record with the given local id.
func NewPending(id string, d Draft, now time.Time) PendingDevotional {
	stamp := now.UTC()
	return PendingDevotional{
		ID:        id,
		Draft:     d,
		IsPending: true,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
}

// Content returns the content fields with every local-only field stripped.
func (p PendingDevotional) Content() Draft {
	return p.Draft
}

// IsLocalID reports whether id was generated by the offline queue.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Row is the flat field map inserted into the remote devotionals table.
type Row struct {
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	Date             string    `json:"date"`
	Scripture        string    `json:"scripture"`
	ImageSrc         string    `json:"image_src,omitempty"`
	TransmissionLink string    `json:"transmission_link"`
	UserID           string    `json:"user_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Record is a devotional row as stored remotely, including the identifier
// the remote store assigned on insert.
type Record struct {
	ID string `json:"id"`
	Row
}

// UnmarshalJSON accepts both numeric and string identifiers, since the
// REST gateway renders bigint keys as JSON numbers.
func (r *Record) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &r.Row); err != nil {
		return err
	}
	r.ID = string(bytes.Trim(aux.ID, `"`))
	if r.ID == "null" {
		r.ID = ""
	}
	return nil
}
