// Package settings holds the operator-editable runtime settings of the service.
package settings

import (
	"encoding/base64"
	"net/url"
	"sync"
)

// Settings is a snapshot of the runtime settings.
type Settings struct {
	FaceAPILink string `json:"face_api_link"`
	Category    string `json:"category"`
	DatabaseURL string `json:"database_url,omitempty"`
}

// Query parameter names accepted by ApplyQuery. Values are base64 encoded.
const (
	ParamFaceAPILink = "faceAPILink"
	ParamCategory    = "category"
	ParamDatabaseURL = "databaseUrl"
)

// Store is safe for concurrent use. Consumers receive the store explicitly
// and read the fields they need on each operation.
type Store struct {
	mu sync.RWMutex
	s  Settings
}

func NewStore(initial Settings) *Store {
	return &Store{s: initial}
}

func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

func (st *Store) FaceAPILink() string {
	return st.Get().FaceAPILink
}

func (st *Store) Category() string {
	return st.Get().Category
}

// Patch changes the fields that are set; a field set to "" clears it.
type Patch struct {
	FaceAPILink *string `json:"face_api_link"`
	Category    *string `json:"category"`
	DatabaseURL *string `json:"database_url"`
}

// Update applies p and returns the previous and the new settings.
func (st *Store) Update(p Patch) (prev, next Settings) {
	st.mu.Lock()
	defer st.mu.Unlock()

	prev = st.s
	if p.FaceAPILink != nil {
		st.s.FaceAPILink = *p.FaceAPILink
	}
	if p.Category != nil {
		st.s.Category = *p.Category
	}
	if p.DatabaseURL != nil {
		st.s.DatabaseURL = *p.DatabaseURL
	}

	return prev, st.s
}

// Restore replaces the settings wholesale, e.g. to roll back a failed update.
func (st *Store) Restore(s Settings) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s = s
}

// ApplyQuery decodes base64 query parameters and applies them. A value that is
// not valid base64 is used as is; a parameter present with an empty value
// clears the field.
func (st *Store) ApplyQuery(q url.Values) (prev, next Settings) {
	param := func(name string) *string {
		if !q.Has(name) {
			return nil
		}
		v := decodeParam(q.Get(name))
		return &v
	}

	return st.Update(Patch{
		FaceAPILink: param(ParamFaceAPILink),
		Category:    param(ParamCategory),
		DatabaseURL: param(ParamDatabaseURL),
	})
}

func decodeParam(v string) string {
	if v == "" {
		return ""
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		if b, err := enc.DecodeString(v); err == nil {
			return string(b)
		}
	}

	return v
}
