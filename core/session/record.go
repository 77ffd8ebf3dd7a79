package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// State identifies the conversation step a user is in.
type State string

const (
	// StateNone is the implicit state of a missing, expired or reset record.
	StateNone               State = ""
	StateWaitIntent         State = "wait_intent"
	StateWaitImage          State = "wait_image"
	StateWaitLocation       State = "wait_location"
	StateWaitLocationDetail State = "wait_location_detail"
	StateWaitDesc           State = "wait_desc"
	StateWaitTags           State = "wait_tags"
	StateDisabled           State = "disabled"
)

// States lists every known state, StateNone first.
func States() []State {
	return []State{
		StateNone,
		StateWaitIntent,
		StateWaitImage,
		StateWaitLocation,
		StateWaitLocationDetail,
		StateWaitDesc,
		StateWaitTags,
		StateDisabled,
	}
}

func (s State) String() string {
	if s == StateNone {
		return "none"
	}
	return string(s)
}

// ErrDecode marks a stored value that could not be parsed back into a Record.
var ErrDecode = errors.New("session: decode record")

// Profile is the display data fetched from the chat platform when a session starts.
type Profile struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

// Location is a [latitude, longitude] pair.
type Location [2]float64

// Lat returns the latitude.
func (l Location) Lat() float64 { return l[0] }

// Long returns the longitude.
func (l Location) Long() float64 { return l[1] }

// Record is the persisted per-user conversation state plus the report collected so far.
type Record struct {
	State          State     `json:"state,omitempty"`
	FirstReceived  int64     `json:"firstReceived,omitempty"`
	LastReceived   int64     `json:"lastReceived,omitempty"`
	LastSent       int64     `json:"lastSent,omitempty"`
	LocaleOverride string    `json:"url,omitempty"`
	Profile        *Profile  `json:"profile,omitempty"`
	Photos         []string  `json:"photos,omitempty"`
	Videos         []string  `json:"videos,omitempty"`
	Desc           []string  `json:"desc,omitempty"`
	DescLength     int       `json:"descLength,omitempty"`
	Hashtags       []string  `json:"hashtags,omitempty"`
	Categories     []string  `json:"categories,omitempty"`
	Location       *Location `json:"location,omitempty"`
	LocationTitle  string    `json:"locationTitle,omitempty"`
	LocationDesc   string    `json:"locationDesc,omitempty"`
}

// Fresh returns an empty record that only remembers the locale path.
func Fresh(localeOverride string) Record {
	return Record{LocaleOverride: localeOverride}
}

// IsEmpty reports whether nothing but the locale path is set.
func (r Record) IsEmpty() bool {
	return r.State == StateNone &&
		r.FirstReceived == 0 && r.LastReceived == 0 && r.LastSent == 0 &&
		r.Profile == nil && r.Location == nil &&
		len(r.Photos) == 0 && len(r.Videos) == 0 &&
		len(r.Desc) == 0 && r.DescLength == 0 &&
		len(r.Hashtags) == 0 && len(r.Categories) == 0 &&
		r.LocationTitle == "" && r.LocationDesc == ""
}

// Encode serializes the record for storage.
func Encode(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("session: encode record: %w", err)
	}
	return data, nil
}

// Decode parses a stored record.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return r, nil
}
