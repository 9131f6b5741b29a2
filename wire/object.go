package wire

import "encoding/json"

// SystemConfigID is the identifier of the system configuration object
const SystemConfigID = "system.config"

// Object is a document of the object store.
//
// Common and Native are kept as decoded JSON because their shape depends on
// the object type.
type Object struct {
	ID     string          `json:"_id"`
	Type   string          `json:"type"`
	Common map[string]any  `json:"common,omitempty"`
	Native map[string]any  `json:"native,omitempty"`
	ACL    json.RawMessage `json:"acl,omitempty"`
	From   string          `json:"from,omitempty"`
	User   string          `json:"user,omitempty"`
	TS     int64           `json:"ts,omitempty"`
	Rev    string          `json:"_rev,omitempty"`
}

// Clone returns a shallow copy of the object: the maps are shared
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	res := *o
	return &res
}

// CommonString returns a string property of the common section
func (o *Object) CommonString(key string) string {
	if o == nil {
		return ""
	}
	s, _ := o.Common[key].(string)
	return s
}

// ObjectSummary identifies the previous version of a changed object
type ObjectSummary struct {
	ID   string `json:"_id"`
	Type string `json:"type"`
}

// Permissions are the access rights of the current user
type Permissions struct {
	User     string          `json:"user"`
	Groups   []string        `json:"groups,omitempty"`
	Object   json.RawMessage `json:"object,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`
	File     json.RawMessage `json:"file,omitempty"`
	Users    json.RawMessage `json:"users,omitempty"`
	Other    json.RawMessage `json:"other,omitempty"`
	Language string          `json:"language,omitempty"`
}

// VersionInfo is the reply of the getVersion call
type VersionInfo struct {
	Version    string `json:"version"`
	ServerName string `json:"serverName"`
}

// ViewParams selects a key range of an object view
type ViewParams struct {
	StartKey string `json:"startkey,omitempty"`
	EndKey   string `json:"endkey,omitempty"`
}

// ViewRow is an element of an object view reply
type ViewRow struct {
	ID    string  `json:"id"`
	Value *Object `json:"value"`
}
