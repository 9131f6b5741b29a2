package wire

import "encoding/json"

// DirEntry is an element of a readDir reply
type DirEntry struct {
	File       string          `json:"file"`
	IsDir      bool            `json:"isDir"`
	Stats      json.RawMessage `json:"stats,omitempty"`
	Modified   int64           `json:"modifiedAt,omitempty"`
	ACL        json.RawMessage `json:"acl,omitempty"`
	MimeType   string          `json:"mimeType,omitempty"`
	CreatedAt  int64           `json:"createdAt,omitempty"`
	Executable bool            `json:"executable,omitempty"`
}

// HistoryOptions selects a range of history values
type HistoryOptions struct {
	Instance  string `json:"instance,omitempty"`
	Start     int64  `json:"start,omitempty"`
	End       int64  `json:"end,omitempty"`
	Step      int64  `json:"step,omitempty"`
	Count     int    `json:"count,omitempty"`
	Aggregate string `json:"aggregate,omitempty"`
	From      bool   `json:"from,omitempty"`
	Ack       bool   `json:"ack,omitempty"`
	Q         bool   `json:"q,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// HistoryValue is one value of a history reply
type HistoryValue struct {
	Val  any    `json:"val"`
	TS   int64  `json:"ts"`
	Ack  bool   `json:"ack,omitempty"`
	From string `json:"from,omitempty"`
	Q    int    `json:"q,omitempty"`
}

// LogMessage is a backend log line delivered by log streaming
type LogMessage struct {
	Severity string `json:"severity"`
	TS       int64  `json:"ts"`
	Message  string `json:"message"`
	From     string `json:"from"`
}
